package bus

import (
	"bytes"
	"errors"
	"testing"
)

type loopback struct {
	frames [][]byte
	reply  []byte
	err    error
}

func (l *loopback) Transfer(f Frame) (Reply, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.frames = append(l.frames, f.Bytes())
	r := make([]byte, f.Len())
	copy(r, l.reply)
	return r, nil
}

func (l *loopback) Interrupt() (bool, error) { return false, nil }
func (l *loopback) Close() error             { return nil }

func TestFrameBytes_LowByteFirst(t *testing.T) {
	f := Frame{W16(0x0081), W16(0x0010), W16(0x014F), W8(0x00)}
	want := []byte{0x81, 0x00, 0x10, 0x00, 0x4F, 0x01, 0x00}

	got := f.Bytes()
	if !bytes.Equal(got, want) {
		t.Errorf("Expected % x, got % x", want, got)
	}
	if f.Len() != len(want) {
		t.Errorf("Expected length %d, got %d", len(want), f.Len())
	}
}

func TestReplyDecoding(t *testing.T) {
	r := Reply{0xA4, 0x01, 0x7F}

	if got := r.Uint16(0); got != 0x01A4 {
		t.Errorf("Expected 0x01A4, got %#04x", got)
	}
	if got := r.Uint16(2); got != 0x007F {
		t.Errorf("Expected short read to zero-fill, got %#04x", got)
	}
	if got := r.Byte(5); got != 0 {
		t.Errorf("Expected out of range byte to be zero, got %#02x", got)
	}
}

func TestExchange16_SinglePulse(t *testing.T) {
	l := &loopback{reply: []byte{0x34, 0x12}}

	got, err := Exchange16(l, 0x0002)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got != 0x1234 {
		t.Errorf("Expected 0x1234, got %#04x", got)
	}
	if len(l.frames) != 1 {
		t.Fatalf("Expected exactly one chip-select pulse, got %d", len(l.frames))
	}
	if !bytes.Equal(l.frames[0], []byte{0x02, 0x00}) {
		t.Errorf("Unexpected frame % x", l.frames[0])
	}
}

func TestExchange8_WrapsError(t *testing.T) {
	cause := errors.New("ioctl failed")
	l := &loopback{err: cause}

	err := Exchange8(l, 0x00)
	if !errors.Is(err, cause) {
		t.Errorf("Expected wrapped transfer error, got: %v", err)
	}
}

func TestReverseBits(t *testing.T) {
	b := []byte{0x01, 0x80, 0x65}
	reverseBits(b)
	want := []byte{0x80, 0x01, 0xA6}
	if !bytes.Equal(b, want) {
		t.Errorf("Expected % x, got % x", want, b)
	}
}
