// Package isdsim emulates an ISD1700 chip behind the bus.Transport
// interface. It is used for dry runs without hardware and by tests.
package isdsim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/isdrec/internal/bus"
	"github.com/audiolibrelab/isdrec/internal/isd"
)

// Options tune the simulated part.
type Options struct {
	MaxAddr       uint16
	RowsPerSecond float64 // 8 at the nominal 8kHz sample rate
	EraseTime     time.Duration
	Now           func() time.Time
}

type op int

const (
	opIdle op = iota
	opRecord
	opPlay
	opErase
)

// Chip is a simulated ISD1700 part.
type Chip struct {
	mu   sync.Mutex
	opts Options

	powered bool
	apc     uint16
	pointer uint16
	recPtr  uint16

	op      op
	opStart time.Time
	opFrom  uint16
	opEnd   uint16

	interrupt bool
	eom       bool
	cmdErr    bool

	frames [][]byte
	closed bool
}

// New returns a powered-down chip with an empty record pointer.
func New(opts Options) *Chip {
	if opts.MaxAddr == 0 {
		opts.MaxAddr = 0x14F
	}
	if opts.RowsPerSecond <= 0 {
		opts.RowsPerSecond = 8
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Chip{opts: opts, pointer: isd.MinAddr, recPtr: isd.MinAddr}
}

// Transfer implements bus.Transport. The reply carries SR0 as it was before
// the command was applied.
func (c *Chip) Transfer(f bus.Frame) (bus.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := f.Bytes()
	c.frames = append(c.frames, w)
	c.advance()

	r := make([]byte, len(w))
	sr0 := c.sr0()
	put16(r, 0, sr0)
	if len(w) == 0 {
		return r, nil
	}

	switch isd.Command(w[0]) {
	case isd.CmdPowerUp:
		c.powered = true
	case isd.CmdPowerDown:
		c.powered = false
		c.op = opIdle
	case isd.CmdReset:
		c.powered = false
		c.op = opIdle
		c.apc = 0
		c.interrupt = false
		c.eom = false
		c.cmdErr = false
	case isd.CmdStop:
		if c.op != opIdle {
			c.finish(false)
		}
	case isd.CmdClearInterrupt:
		c.interrupt = false
		c.eom = false
		c.cmdErr = false
	case isd.CmdReadStatus:
		if len(r) > 2 {
			r[2] = byte(c.sr1())
		}
	case isd.CmdReadRecordPtr:
		put16(r, 2, c.recPtr)
	case isd.CmdGlobalErase:
		if !c.ready() {
			break
		}
		c.start(opErase, isd.MinAddr, c.opts.MaxAddr)
	case isd.CmdWriteAPC2:
		if len(w) >= 3 {
			c.apc = uint16(w[1]) | uint16(w[2])<<8
		}
	case isd.CmdSetPlay, isd.CmdSetRecord:
		if len(w) < 6 || !c.ready() {
			c.cmdErr = true
			break
		}
		from := uint16(w[2]) | uint16(w[3])<<8
		end := uint16(w[4]) | uint16(w[5])<<8
		if end > c.opts.MaxAddr {
			end = c.opts.MaxAddr
		}
		if isd.Command(w[0]) == isd.CmdSetRecord {
			c.start(opRecord, from, end)
		} else {
			c.start(opPlay, from, end)
		}
	default:
		c.cmdErr = true
	}
	slog.Log(context.Background(), bus.LevelTrace, "sim frame", "out", fmt.Sprintf("% x", w), "in", fmt.Sprintf("% x", r))
	return r, nil
}

// Interrupt implements bus.Transport.
func (c *Chip) Interrupt() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advance()
	return c.interrupt, nil
}

// WaitTrigger returns at once; the simulator has no audio input.
func (c *Chip) WaitTrigger(ctx context.Context) error {
	return ctx.Err()
}

// Close implements bus.Transport.
func (c *Chip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Frames returns a copy of every frame received so far.
func (c *Chip) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

// APC returns the last APC2 word written.
func (c *Chip) APC() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apc
}

// Powered reports whether the chip is in SPI-active mode.
func (c *Chip) Powered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.powered
}

// Closed reports whether Close was called.
func (c *Chip) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Chip) ready() bool {
	if !c.powered || c.op != opIdle {
		c.cmdErr = true
		return false
	}
	return true
}

func (c *Chip) start(o op, from, end uint16) {
	c.op = o
	c.opStart = c.opts.Now()
	c.opFrom = from
	c.opEnd = end
	c.pointer = from
}

// advance moves the running operation forward to the current time.
func (c *Chip) advance() {
	if c.op == opIdle {
		return
	}
	elapsed := c.opts.Now().Sub(c.opStart)
	if c.op == opErase {
		if elapsed >= c.opts.EraseTime {
			c.op = opIdle
			c.interrupt = true
			c.recPtr = isd.MinAddr
			c.pointer = isd.MinAddr
		}
		return
	}
	rows := int(elapsed.Seconds() * c.opts.RowsPerSecond)
	ptr := int(c.opFrom) + rows
	if ptr > int(c.opEnd) {
		c.pointer = c.opEnd
		c.finish(true)
		return
	}
	c.pointer = uint16(ptr)
}

// finish ends a record/play operation. A stop while busy raises the
// interrupt just like reaching the end of memory does.
func (c *Chip) finish(eom bool) {
	if c.op == opRecord {
		next := c.pointer + 1
		if next > c.opts.MaxAddr {
			next = c.opts.MaxAddr
		}
		c.recPtr = next
	}
	c.op = opIdle
	c.interrupt = true
	c.eom = eom
}

func (c *Chip) sr0() uint16 {
	s := c.pointer << isd.PointerShift
	if c.cmdErr {
		s |= uint16(isd.StatusCmdErr)
	}
	if c.powered {
		s |= uint16(isd.StatusPowerUp)
	}
	if c.eom {
		s |= uint16(isd.StatusEOM)
	}
	if c.interrupt {
		s |= uint16(isd.StatusInterrupt)
	}
	return s
}

func (c *Chip) sr1() isd.SR1 {
	var s isd.SR1
	switch c.op {
	case opIdle:
		s |= isd.SR1Ready
	case opErase:
		s |= isd.SR1Erasing
	case opPlay:
		s |= isd.SR1Playing
	case opRecord:
		s |= isd.SR1Recording
	}
	return s
}

func put16(b []byte, off int, v uint16) {
	if off < len(b) {
		b[off] = byte(v)
	}
	if off+1 < len(b) {
		b[off+1] = byte(v >> 8)
	}
}

var _ bus.Transport = (*Chip)(nil)
