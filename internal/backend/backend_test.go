package backend

import (
	"errors"
	"strings"
	"testing"

	"github.com/audiolibrelab/isdrec/internal/bus"
	"github.com/audiolibrelab/isdrec/internal/config"
	"github.com/audiolibrelab/isdrec/internal/isdsim"
)

func TestOpen_Sim(t *testing.T) {
	cfg := config.Default()
	cfg.Bus.Backend = "sim"

	tr, kind, err := Open(cfg)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if kind != BackendTypeSim {
		t.Errorf("Expected sim backend, got %s", kind)
	}
	if _, ok := tr.(*isdsim.Chip); !ok {
		t.Errorf("Expected *isdsim.Chip, got %T", tr)
	}
}

func TestOpen_AutoWithoutHardware(t *testing.T) {
	saved := openSPI
	defer func() { openSPI = saved }()

	var got bus.SPIConfig
	openSPI = func(cfg bus.SPIConfig) (Transport, error) {
		got = cfg
		return nil, errors.New("no spi port")
	}

	cfg := config.Default()
	_, kind, err := Open(cfg)
	if err == nil {
		t.Fatal("Expected error without hardware")
	}
	if kind != BackendTypeAuto || !strings.Contains(err.Error(), "bus.backend: sim") {
		t.Errorf("Expected a hint about the sim backend, got %s: %v", kind, err)
	}
	if got.InterruptPin != "GPIO25" || got.Mode != 3 {
		t.Errorf("Expected SPI wiring from config, got %+v", got)
	}
}

func TestDetermineBackend(t *testing.T) {
	cases := map[string]BackendType{
		"periph": BackendTypePeriph,
		"SIM":    BackendTypeSim,
		"auto":   BackendTypeAuto,
		"":       BackendTypeAuto,
	}
	for in, want := range cases {
		cfg := &config.Config{Bus: config.BusConfig{Backend: in}}
		if got := determineBackend(cfg); got != want {
			t.Errorf("determineBackend(%q) = %s, want %s", in, got, want)
		}
	}
}
