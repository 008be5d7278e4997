// Package backend opens the bus transport a configuration asks for.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/audiolibrelab/isdrec/internal/bus"
	"github.com/audiolibrelab/isdrec/internal/config"
	"github.com/audiolibrelab/isdrec/internal/isdsim"
)

// BackendType represents the kind of bus transport
type BackendType string

const (
	BackendTypePeriph BackendType = "periph"
	BackendTypeSim    BackendType = "sim"
	BackendTypeAuto   BackendType = "auto"
)

// Transport is a bus transport that may also wait for an external start
// signal before recording.
type Transport interface {
	bus.Transport
	WaitTrigger(ctx context.Context) error
}

// openSPI is swapped in tests.
var openSPI = func(cfg bus.SPIConfig) (Transport, error) {
	s, err := bus.OpenSPI(cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Open returns the transport selected by cfg.Bus.Backend.
func Open(cfg *config.Config) (Transport, BackendType, error) {
	switch determineBackend(cfg) {
	case BackendTypeSim:
		return openSim(cfg), BackendTypeSim, nil
	case BackendTypePeriph:
		t, err := openSPI(cfg.SPI())
		if err != nil {
			return nil, BackendTypePeriph, err
		}
		return t, BackendTypePeriph, nil
	default:
		t, err := openSPI(cfg.SPI())
		if err != nil {
			return nil, BackendTypeAuto, fmt.Errorf("no SPI hardware available (set bus.backend: sim for a dry run): %w", err)
		}
		return t, BackendTypePeriph, nil
	}
}

func openSim(cfg *config.Config) *isdsim.Chip {
	geo, _ := cfg.Geometry()
	slog.Debug("Using simulated ISD chip", "max_addr", fmt.Sprintf("%#03x", geo.MaxAddr),
		"rows_per_second", cfg.Bus.SimRowsPerSecond)
	return isdsim.New(isdsim.Options{
		MaxAddr:       geo.MaxAddr,
		RowsPerSecond: cfg.Bus.SimRowsPerSecond,
		EraseTime:     cfg.Bus.SimEraseTime,
	})
}

// determineBackend determines which backend to use based on configuration
func determineBackend(cfg *config.Config) BackendType {
	switch strings.ToLower(cfg.Bus.Backend) {
	case "periph":
		return BackendTypePeriph
	case "sim":
		return BackendTypeSim
	}
	return BackendTypeAuto
}

// GetAvailableBackends returns the backend names a config may select
func GetAvailableBackends() []BackendType {
	return []BackendType{BackendTypePeriph, BackendTypeSim, BackendTypeAuto}
}
