package bus

import (
	"encoding/binary"
	"fmt"
)

// Word is one unit clocked onto the bus. Only 8- and 16-bit words exist.
type Word struct {
	Value uint16
	Bits  int
}

// W8 returns an 8-bit word.
func W8(v uint8) Word { return Word{Value: uint16(v), Bits: 8} }

// W16 returns a 16-bit word.
func W16(v uint16) Word { return Word{Value: v, Bits: 16} }

// Frame is the sequence of words sent during a single chip-select pulse.
type Frame []Word

// Bytes encodes the frame in wire order. 16-bit words go out low byte
// first, matching an LSB-first bus.
func (f Frame) Bytes() []byte {
	out := make([]byte, 0, f.Len())
	for _, w := range f {
		switch w.Bits {
		case 8:
			out = append(out, byte(w.Value))
		default:
			out = binary.LittleEndian.AppendUint16(out, w.Value)
		}
	}
	return out
}

// Len returns the number of bytes the frame occupies on the wire.
func (f Frame) Len() int {
	n := 0
	for _, w := range f {
		if w.Bits == 8 {
			n++
		} else {
			n += 2
		}
	}
	return n
}

// Reply holds the bytes clocked in while a Frame was clocked out.
type Reply []byte

// Uint16 decodes the 16-bit word starting at byte offset off.
// Missing bytes read as zero.
func (r Reply) Uint16(off int) uint16 {
	var lo, hi byte
	if off < len(r) {
		lo = r[off]
	}
	if off+1 < len(r) {
		hi = r[off+1]
	}
	return uint16(lo) | uint16(hi)<<8
}

// Byte returns the byte at off, or zero when the reply is shorter.
func (r Reply) Byte(off int) byte {
	if off < len(r) {
		return r[off]
	}
	return 0
}

// Transport performs framed exchanges with the chip and exposes its
// interrupt line. Implementations do not retry; a garbled exchange is
// indistinguishable from a valid one.
type Transport interface {
	// Transfer asserts chip-select, clocks f out while capturing the same
	// number of bytes in, then deasserts chip-select.
	Transfer(f Frame) (Reply, error)

	// Interrupt reports whether the interrupt line is asserted.
	Interrupt() (bool, error)

	Close() error
}

// Exchange16 clocks one 16-bit word out and returns the 16-bit word
// clocked in, in a single chip-select pulse.
func Exchange16(t Transport, out uint16) (uint16, error) {
	r, err := t.Transfer(Frame{W16(out)})
	if err != nil {
		return 0, fmt.Errorf("exchange16 %#04x: %w", out, err)
	}
	return r.Uint16(0), nil
}

// Exchange8 clocks one 8-bit word out in a single chip-select pulse.
func Exchange8(t Transport, out uint8) error {
	if _, err := t.Transfer(Frame{W8(out)}); err != nil {
		return fmt.Errorf("exchange8 %#02x: %w", out, err)
	}
	return nil
}
