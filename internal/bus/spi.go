package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// LevelTrace is the log level of per-frame bus tracing, below debug.
const LevelTrace = slog.LevelDebug - 4

// SPIConfig describes how the chip is wired to the host.
type SPIConfig struct {
	Port               string // spireg name, empty for the first registered port
	ClockHz            int64
	Mode               int  // 0-3, CPOL is the high bit
	LSBFirst           bool // ask the controller for LSB-first framing
	ChipSelectPin      string
	InterruptPin       string
	InterruptActiveLow bool
	TriggerPin         string
}

// SPI is a Transport over a Linux SPI port opened through periph.
//
// When ChipSelectPin is set the kernel chip-select is disabled and the pin
// is driven around every Transfer, the way periph's spics wrapper does.
type SPI struct {
	mu        sync.Mutex
	port      spi.PortCloser
	conn      spi.Conn
	cs        gpio.PinOut
	irq       gpio.PinIn
	irqActive gpio.Level
	trigger   gpio.PinIn
	swapBits  bool
}

var hostOnce struct {
	sync.Once
	err error
}

func initHost() error {
	hostOnce.Do(func() {
		_, hostOnce.err = host.Init()
	})
	return hostOnce.err
}

// OpenSPI initializes the host drivers and opens the configured port.
func OpenSPI(cfg SPIConfig) (*SPI, error) {
	if err := initHost(); err != nil {
		return nil, fmt.Errorf("failed to initialize host drivers: %w", err)
	}

	port, err := spireg.Open(cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %q: %w", cfg.Port, err)
	}

	s := &SPI{port: port}
	ok := false
	defer func() {
		if !ok {
			port.Close()
		}
	}()

	mode := spi.Mode(cfg.Mode & 3)
	if cfg.ChipSelectPin != "" {
		mode |= spi.NoCS
	}
	if cfg.LSBFirst {
		mode |= spi.LSBFirst
	} else {
		// Controller shifts MSB first; reverse each byte so the chip
		// still sees LSB-first words.
		s.swapBits = true
	}

	freq := physic.Frequency(cfg.ClockHz) * physic.Hertz
	s.conn, err = port.Connect(freq, mode, 8)
	if err != nil {
		return nil, fmt.Errorf("failed to configure SPI port %q: %w", cfg.Port, err)
	}

	if cfg.ChipSelectPin != "" {
		pin := gpioreg.ByName(cfg.ChipSelectPin)
		if pin == nil {
			return nil, fmt.Errorf("chip-select pin %q not found", cfg.ChipSelectPin)
		}
		if err := pin.Out(gpio.High); err != nil {
			return nil, fmt.Errorf("failed to drive chip-select pin %q: %w", cfg.ChipSelectPin, err)
		}
		s.cs = pin
	}

	if cfg.InterruptPin == "" {
		return nil, errors.New("interrupt pin is required")
	}
	irq := gpioreg.ByName(cfg.InterruptPin)
	if irq == nil {
		return nil, fmt.Errorf("interrupt pin %q not found", cfg.InterruptPin)
	}
	pull := gpio.Float
	s.irqActive = gpio.High
	if cfg.InterruptActiveLow {
		// INT is open-drain on the ISD1700 family
		pull = gpio.PullUp
		s.irqActive = gpio.Low
	}
	if err := irq.In(pull, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("failed to configure interrupt pin %q: %w", cfg.InterruptPin, err)
	}
	s.irq = irq

	if cfg.TriggerPin != "" {
		trig := gpioreg.ByName(cfg.TriggerPin)
		if trig == nil {
			return nil, fmt.Errorf("trigger pin %q not found", cfg.TriggerPin)
		}
		if err := trig.In(gpio.PullDown, gpio.RisingEdge); err != nil {
			return nil, fmt.Errorf("failed to configure trigger pin %q: %w", cfg.TriggerPin, err)
		}
		s.trigger = trig
	}

	slog.Debug("SPI transport opened", "port", cfg.Port, "clock_hz", cfg.ClockHz, "mode", cfg.Mode,
		"lsb_first", cfg.LSBFirst, "interrupt_pin", cfg.InterruptPin)

	ok = true
	return s, nil
}

// Transfer implements Transport.
func (s *SPI) Transfer(f Frame) (Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := f.Bytes()
	if s.swapBits {
		reverseBits(w)
	}
	r := make([]byte, len(w))

	if s.cs != nil {
		if err := s.cs.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("assert chip-select: %w", err)
		}
		defer s.cs.Out(gpio.High)
	}
	if err := s.conn.Tx(w, r); err != nil {
		return nil, fmt.Errorf("spi transfer: %w", err)
	}
	if s.swapBits {
		reverseBits(r)
	}
	slog.Log(context.Background(), LevelTrace, "spi frame", "out", fmt.Sprintf("% x", f.Bytes()), "in", fmt.Sprintf("% x", r))
	return Reply(r), nil
}

// Interrupt implements Transport.
func (s *SPI) Interrupt() (bool, error) {
	return s.irq.Read() == s.irqActive, nil
}

// WaitTrigger blocks until a rising edge on the trigger pin or ctx is done.
// Without a configured trigger pin it returns immediately.
func (s *SPI) WaitTrigger(ctx context.Context) error {
	if s.trigger == nil {
		return nil
	}
	for {
		if s.trigger.WaitForEdge(50 * time.Millisecond) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// Close implements Transport.
func (s *SPI) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.irq != nil {
		s.irq.Halt()
	}
	if s.trigger != nil {
		s.trigger.Halt()
	}
	return s.port.Close()
}

func reverseBits(b []byte) {
	for i := range b {
		b[i] = bits.Reverse8(b[i])
	}
}

// Ports lists the SPI ports registered with periph.
func Ports() ([]string, error) {
	if err := initHost(); err != nil {
		return nil, fmt.Errorf("failed to initialize host drivers: %w", err)
	}
	var names []string
	for _, ref := range spireg.All() {
		names = append(names, ref.Name)
	}
	return names, nil
}

// Pins lists the GPIO pins registered with periph.
func Pins() ([]string, error) {
	if err := initHost(); err != nil {
		return nil, fmt.Errorf("failed to initialize host drivers: %w", err)
	}
	var names []string
	for _, p := range gpioreg.All() {
		names = append(names, p.Name())
	}
	return names, nil
}

var _ Transport = (*SPI)(nil)
