// Package script runs Lua command sequences against a chip. Scripts load
// the "isd" module:
//
//	local isd = require("isd")
//	isd.init()
//	isd.record(0x010)
//	isd.sleep(2000)
//	print(isd.stop())
package script

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/audiolibrelab/isdrec/internal/isd"
)

// Chip is the driver surface exposed to scripts.
type Chip interface {
	Initialize(ctx context.Context) error
	PowerUp() error
	PowerDown() error
	Reset() (isd.Status, error)
	Stop() (isd.Status, error)
	Configure(feedthrough bool, volume uint8) (isd.Status, error)
	EraseAll() (isd.Status, error)
	BeginRecording(addr uint16) (isd.Status, error)
	BeginPlayback(addr uint16, volume uint8) (isd.Status, error)
	Interrupted() (bool, error)
	ClearInterrupt() (isd.Status, error)
	RecordPointer() (isd.Status, uint16, error)
	ReadStatus() (isd.Status, isd.SR1, error)
	State() isd.State
	Geometry() isd.Geometry
}

// Runner executes scripts.
type Runner struct {
	chip Chip
	poll time.Duration
	out  io.Writer
}

// New returns a runner. poll is the interrupt polling interval used by
// isd.wait_interrupt; out receives print output.
func New(chip Chip, poll time.Duration, out io.Writer) *Runner {
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}
	if out == nil {
		out = os.Stdout
	}
	return &Runner{chip: chip, poll: poll, out: out}
}

// RunFile runs the script at path.
func (r *Runner) RunFile(ctx context.Context, path string) error {
	L := r.newState(ctx)
	defer L.Close()
	if err := L.DoFile(path); err != nil {
		return fmt.Errorf("script %s: %w", path, err)
	}
	return nil
}

// RunString runs src.
func (r *Runner) RunString(ctx context.Context, src string) error {
	L := r.newState(ctx)
	defer L.Close()
	if err := L.DoString(src); err != nil {
		return fmt.Errorf("script: %w", err)
	}
	return nil
}

func (r *Runner) newState(ctx context.Context) *lua.LState {
	L := lua.NewState()
	L.SetContext(ctx)
	L.PreloadModule("isd", r.loader)
	L.SetGlobal("print", L.NewFunction(r.print))
	return L
}

func (r *Runner) loader(L *lua.LState) int {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"init":            r.initialize,
		"power_up":        r.powerUp,
		"power_down":      r.powerDown,
		"reset":           r.statusCmd(r.chip.Reset),
		"stop":            r.statusCmd(r.chip.Stop),
		"erase":           r.statusCmd(r.chip.EraseAll),
		"clear_interrupt": r.statusCmd(r.chip.ClearInterrupt),
		"configure":       r.configure,
		"record":          r.record,
		"play":            r.play,
		"interrupted":     r.interrupted,
		"wait_interrupt":  r.waitInterrupt,
		"pointer":         r.pointer,
		"status":          r.status,
		"state":           r.state,
		"sleep":           r.sleep,
	})
	geo := r.chip.Geometry()
	L.SetField(mod, "min_addr", lua.LNumber(geo.MinAddr))
	L.SetField(mod, "max_addr", lua.LNumber(geo.MaxAddr))
	L.Push(mod)
	return 1
}

func (r *Runner) print(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	fmt.Fprintln(r.out, strings.Join(parts, "\t"))
	return 0
}

func (r *Runner) initialize(L *lua.LState) int {
	if err := r.chip.Initialize(L.Context()); err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

func (r *Runner) powerUp(L *lua.LState) int {
	if err := r.chip.PowerUp(); err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

func (r *Runner) powerDown(L *lua.LState) int {
	if err := r.chip.PowerDown(); err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

// statusCmd wraps a driver call that returns SR0; the script gets the
// memory pointer from it.
func (r *Runner) statusCmd(fn func() (isd.Status, error)) lua.LGFunction {
	return func(L *lua.LState) int {
		s, err := fn()
		if err != nil {
			L.RaiseError("%v", err)
		}
		L.Push(lua.LNumber(s.Pointer()))
		return 1
	}
}

func (r *Runner) configure(L *lua.LState) int {
	ft := L.CheckBool(1)
	vol := checkVolume(L, 2)
	if _, err := r.chip.Configure(ft, vol); err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

func (r *Runner) record(L *lua.LState) int {
	addr := checkAddress(L, 1)
	s, err := r.chip.BeginRecording(addr)
	if err != nil {
		L.RaiseError("%v", err)
	}
	L.Push(lua.LNumber(s.Pointer()))
	return 1
}

func (r *Runner) play(L *lua.LState) int {
	addr := checkAddress(L, 1)
	vol := checkVolume(L, 2)
	s, err := r.chip.BeginPlayback(addr, vol)
	if err != nil {
		L.RaiseError("%v", err)
	}
	L.Push(lua.LNumber(s.Pointer()))
	return 1
}

func (r *Runner) interrupted(L *lua.LState) int {
	irq, err := r.chip.Interrupted()
	if err != nil {
		L.RaiseError("%v", err)
	}
	L.Push(lua.LBool(irq))
	return 1
}

// waitInterrupt polls the interrupt line for up to timeout ms and returns
// whether it fired.
func (r *Runner) waitInterrupt(L *lua.LState) int {
	timeout := time.Duration(L.CheckInt(1)) * time.Millisecond
	ctx, cancel := context.WithTimeout(L.Context(), timeout)
	defer cancel()

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		irq, err := r.chip.Interrupted()
		if err != nil {
			L.RaiseError("%v", err)
		}
		if irq {
			L.Push(lua.LTrue)
			return 1
		}
		select {
		case <-ctx.Done():
			L.Push(lua.LFalse)
			return 1
		case <-ticker.C:
		}
	}
}

func (r *Runner) pointer(L *lua.LState) int {
	_, ptr, err := r.chip.RecordPointer()
	if err != nil {
		L.RaiseError("%v", err)
	}
	L.Push(lua.LNumber(ptr))
	return 1
}

func (r *Runner) status(L *lua.LState) int {
	sr0, sr1, err := r.chip.ReadStatus()
	if err != nil {
		L.RaiseError("%v", err)
	}
	t := L.NewTable()
	L.SetField(t, "pointer", lua.LNumber(sr0.Pointer()))
	L.SetField(t, "cmd_err", lua.LBool(sr0.CmdErr()))
	L.SetField(t, "full", lua.LBool(sr0.Full()))
	L.SetField(t, "powered", lua.LBool(sr0.PoweredUp()))
	L.SetField(t, "eom", lua.LBool(sr0.EOM()))
	L.SetField(t, "interrupt", lua.LBool(sr0.Interrupted()))
	L.SetField(t, "ready", lua.LBool(sr1.Ready()))
	L.SetField(t, "erasing", lua.LBool(sr1.Erasing()))
	L.SetField(t, "playing", lua.LBool(sr1.Playing()))
	L.SetField(t, "recording", lua.LBool(sr1.Recording()))
	L.Push(t)
	return 1
}

func (r *Runner) state(L *lua.LState) int {
	st := r.chip.State()
	t := L.NewTable()
	L.SetField(t, "power", lua.LString(st.Power.String()))
	L.SetField(t, "activity", lua.LString(st.Activity.String()))
	L.SetField(t, "feedthrough", lua.LBool(st.Feedthrough))
	L.SetField(t, "volume", lua.LNumber(st.Volume))
	L.SetField(t, "interrupt", lua.LBool(st.Interrupt))
	L.Push(t)
	return 1
}

func (r *Runner) sleep(L *lua.LState) int {
	d := time.Duration(L.CheckInt(1)) * time.Millisecond
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-L.Context().Done():
		L.RaiseError("%v", L.Context().Err())
	case <-t.C:
	}
	return 0
}

func checkAddress(L *lua.LState, n int) uint16 {
	v := L.CheckInt(n)
	if v < 0 || v > 0xFFFF {
		L.ArgError(n, "address out of range")
	}
	return uint16(v)
}

// checkVolume defaults to the quietest level. Values above 7 are passed
// through; the driver selects the quietest level for them.
func checkVolume(L *lua.LState, n int) uint8 {
	v := L.OptInt(n, int(isd.DefaultVolume))
	if v < 0 || v > 0xFF {
		L.ArgError(n, "volume out of range")
	}
	return uint8(v)
}
