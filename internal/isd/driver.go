// Package isd drives an ISD1700-family record/playback chip over SPI.
//
// The driver encodes commands, keeps a mirror of the chip state and decodes
// the returned status. It does not reject command sequences: the caller is
// responsible for ordering (initialize before recording, stop between
// operations, polling the interrupt line for end of memory). Contract
// violations are logged at warn level.
//
// Most operations return the SR0 status as it was before the command took
// effect. See Status.
package isd

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/isdrec/internal/bus"
)

// Config holds the chip-specific parameters of a Driver.
type Config struct {
	Geometry Geometry
	Timing   Timing
	Logger   *slog.Logger
}

// Driver owns one chip session. Each exported method is atomic with
// respect to the others: a multi-word command is never interleaved.
type Driver struct {
	mu     sync.Mutex
	bus    bus.Transport
	geo    Geometry
	timing Timing
	log    *slog.Logger
	state  State
}

// New returns a driver for a chip on t. The chip is assumed powered down.
func New(t bus.Transport, cfg Config) *Driver {
	if cfg.Geometry.MaxAddr == 0 {
		cfg.Geometry, _ = GeometryFor(DefaultModel, 0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Driver{
		bus:    t,
		geo:    cfg.Geometry,
		timing: cfg.Timing,
		log:    cfg.Logger,
		state:  State{Power: PowerDown, Feedthrough: true, Volume: DefaultVolume},
	}
}

// Geometry returns the address range the driver was configured with.
func (d *Driver) Geometry() Geometry { return d.geo }

// State returns a copy of the state mirror.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Initialize brings the chip from power-on into SPI mode: power up, reset,
// power up again, then route the analogue input with the speaker quiet.
func (d *Driver) Initialize(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	steps := []struct {
		cmd  Command
		wait time.Duration
	}{
		{CmdPowerUp, d.timing.PowerUp},
		{CmdReset, d.timing.PowerUp},
		{CmdPowerUp, d.timing.Settle},
	}
	for _, step := range steps {
		if _, err := d.command(step.cmd); err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
		if err := sleep(ctx, step.wait); err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
	}
	d.state.Power = PowerUp
	d.state.Activity = Idle
	d.state.Interrupt = false

	if _, err := d.configure(true, DisableSpeaker); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	d.log.Info("ISD chip initialized", "min_addr", fmt.Sprintf("%#03x", d.geo.MinAddr),
		"max_addr", fmt.Sprintf("%#03x", d.geo.MaxAddr))
	return nil
}

// PowerUp puts the chip in SPI-active mode.
func (d *Driver) PowerUp() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.command(CmdPowerUp); err != nil {
		return err
	}
	d.state.Power = PowerUp
	return nil
}

// PowerDown puts the chip in low-power mode.
func (d *Driver) PowerDown() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.command(CmdPowerDown); err != nil {
		return err
	}
	d.state.Power = PowerDown
	d.state.Activity = Idle
	return nil
}

// Reset issues the device reset command.
func (d *Driver) Reset() (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.command(CmdReset)
}

// Stop ends any running operation, clears the interrupt the chip raises
// when stopped while busy, and restores the default analogue path
// (feedthrough on, quietest volume). The returned status is from the STOP
// command.
func (d *Driver) Stop() (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prior, err := d.command(CmdStop)
	if err != nil {
		return prior, err
	}
	// A chip left running by another process answers with PU set.
	if prior.PoweredUp() {
		d.state.Power = PowerUp
	}
	if d.state.Activity != Idle {
		d.state.Interrupt = true
	}
	d.state.Activity = Idle

	if _, err := d.clearInterrupt(); err != nil {
		return prior, fmt.Errorf("stop: %w", err)
	}
	if _, err := d.configure(true, DefaultVolume); err != nil {
		return prior, fmt.Errorf("stop: %w", err)
	}
	return prior, nil
}

// Configure writes the APC2 register. A volume outside 0-7 selects the
// quietest level.
func (d *Driver) Configure(feedthrough bool, volume uint8) (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.configure(feedthrough, volume)
}

func (d *Driver) configure(feedthrough bool, volume uint8) (Status, error) {
	word := APCWord(feedthrough, volume)
	r, err := d.transfer(CmdWriteAPC2, bus.Frame{bus.W8(uint8(CmdWriteAPC2)), bus.W16(word)})
	if err != nil {
		return 0, err
	}
	d.state.Feedthrough = feedthrough
	d.state.Volume = uint8(word & APCVolumeMask)
	d.log.Debug("APC2 written", "apc", fmt.Sprintf("%#04x", word), "feedthrough", feedthrough, "volume", d.state.Volume)
	d.checkState()
	return Status(r.Uint16(0)), nil
}

// EraseAll starts a global erase. The erase runs for a long time on real
// hardware; wait for the interrupt before issuing anything else.
func (d *Driver) EraseAll() (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state.Power != PowerUp || d.state.Activity != Idle {
		d.log.Warn("global erase issued outside powered idle state",
			"power", d.state.Power, "activity", d.state.Activity)
	}
	return d.command(CmdGlobalErase)
}

// BeginRecording records from addr until stopped or end of memory. The
// analogue input (feedthrough) must already be enabled. addr is not
// clamped; an address outside the geometry has undefined results.
func (d *Driver) BeginRecording(addr uint16) (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.geo.Valid(addr) {
		d.log.Warn("recording address outside message range", "addr", fmt.Sprintf("%#03x", addr))
	}
	prior, err := d.rangeCommand(CmdSetRecord, addr)
	if err != nil {
		return prior, err
	}
	d.state.Activity = Recording
	d.checkState()
	return prior, nil
}

// BeginPlayback enables the speaker at volume and plays from addr until
// stopped or end of memory. An address outside the geometry plays from the
// first message row.
func (d *Driver) BeginPlayback(addr uint16, volume uint8) (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.geo.Valid(addr) {
		d.log.Debug("playback address clamped", "addr", fmt.Sprintf("%#03x", addr))
		addr = d.geo.MinAddr
	}
	if _, err := d.configure(false, volume); err != nil {
		return 0, err
	}
	prior, err := d.rangeCommand(CmdSetPlay, addr)
	if err != nil {
		return prior, err
	}
	d.state.Activity = Playing
	d.checkState()
	return prior, nil
}

// Interrupted reads the interrupt line. No bus transaction is issued.
func (d *Driver) Interrupted() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	asserted, err := d.bus.Interrupt()
	if err != nil {
		return false, fmt.Errorf("read interrupt: %w", err)
	}
	if asserted {
		d.state.Interrupt = true
	}
	return asserted, nil
}

// ClearInterrupt clears the chip interrupt flag.
func (d *Driver) ClearInterrupt() (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clearInterrupt()
}

func (d *Driver) clearInterrupt() (Status, error) {
	s, err := d.command(CmdClearInterrupt)
	if err != nil {
		return s, err
	}
	d.state.Interrupt = false
	return s, nil
}

// RecordPointer reads the address the next recording would start at.
func (d *Driver) RecordPointer() (Status, uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, err := d.transfer(CmdReadRecordPtr, bus.Frame{bus.W16(uint16(CmdReadRecordPtr)), bus.W16(0)})
	if err != nil {
		return 0, 0, err
	}
	return Status(r.Uint16(0)), r.Uint16(2), nil
}

// ReadStatus returns SR0 and SR1.
func (d *Driver) ReadStatus() (Status, SR1, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, err := d.transfer(CmdReadStatus, bus.Frame{bus.W16(uint16(CmdReadStatus)), bus.W8(0)})
	if err != nil {
		return 0, 0, err
	}
	return Status(r.Uint16(0)), SR1(r.Byte(2)), nil
}

// command sends a single-byte command followed by its null byte.
func (d *Driver) command(cmd Command) (Status, error) {
	in, err := bus.Exchange16(d.bus, uint16(cmd))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", cmd, err)
	}
	s := Status(in)
	d.logCommand(cmd, s)
	return s, nil
}

// rangeCommand sends SET_PLAY/SET_REC with a start address and the
// end-of-memory bound.
func (d *Driver) rangeCommand(cmd Command, start uint16) (Status, error) {
	f := bus.Frame{bus.W16(uint16(cmd)), bus.W16(start), bus.W16(d.geo.MaxAddr), bus.W8(0)}
	r, err := d.transfer(cmd, f)
	if err != nil {
		return 0, err
	}
	return Status(r.Uint16(0)), nil
}

func (d *Driver) transfer(cmd Command, f bus.Frame) (bus.Reply, error) {
	r, err := d.bus.Transfer(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd, err)
	}
	d.logCommand(cmd, Status(r.Uint16(0)))
	return r, nil
}

func (d *Driver) logCommand(cmd Command, s Status) {
	d.log.Debug("ISD command", "cmd", cmd.String(), "sr0", fmt.Sprintf("%#04x", uint16(s)), "pointer", s.Pointer())
}

// checkState warns when the analogue path does not match the activity.
// The command has already been issued.
func (d *Driver) checkState() {
	if !d.state.Consistent() {
		d.log.Warn("analogue path does not match activity",
			"activity", d.state.Activity, "feedthrough", d.state.Feedthrough)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
