package isd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/audiolibrelab/isdrec/internal/bus"
)

// recorder captures every frame and answers with a fixed SR0.
type recorder struct {
	frames    [][]byte
	sr0       uint16
	irq       bool
	failAfter int
}

func (r *recorder) Transfer(f bus.Frame) (bus.Reply, error) {
	if r.failAfter > 0 && len(r.frames) >= r.failAfter {
		return nil, errors.New("bus gone")
	}
	r.frames = append(r.frames, f.Bytes())
	reply := make([]byte, f.Len())
	reply[0] = byte(r.sr0)
	if len(reply) > 1 {
		reply[1] = byte(r.sr0 >> 8)
	}
	return reply, nil
}

func (r *recorder) Interrupt() (bool, error) { return r.irq, nil }
func (r *recorder) Close() error             { return nil }

func (r *recorder) commands() []byte {
	var cmds []byte
	for _, f := range r.frames {
		cmds = append(cmds, f[0])
	}
	return cmds
}

func newTestDriver(t *testing.T) (*Driver, *recorder) {
	t.Helper()
	geo, err := GeometryFor("isd1740", 0)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	rec := &recorder{}
	d := New(rec, Config{
		Geometry: geo,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return d, rec
}

func apcFrom(frame []byte) uint16 {
	return uint16(frame[1]) | uint16(frame[2])<<8
}

func TestAPCWord_VolumeBits(t *testing.T) {
	for v := 0; v <= 255; v++ {
		want := uint16(v)
		if v > 7 {
			want = 7
		}
		for _, ft := range []bool{true, false} {
			w := APCWord(ft, uint8(v))
			if w&APCVolumeMask != want {
				t.Errorf("APCWord(%t, %d): expected volume bits %d, got %d", ft, v, want, w&APCVolumeMask)
			}
			if (w&APCFeedthroughN != 0) == ft {
				t.Errorf("APCWord(%t, %d): feedthrough-disable bit wrong in %#04x", ft, v, w)
			}
			if w&^(APCVolumeMask|APCFeedthroughN) != APCDefault {
				t.Errorf("APCWord(%t, %d): default bits changed: %#04x", ft, v, w)
			}
		}
	}
}

func TestConfigure_FeedthroughOnVolumeOutOfRange(t *testing.T) {
	d, rec := newTestDriver(t)

	if _, err := d.Configure(true, 9); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(rec.frames) != 1 {
		t.Fatalf("Expected one frame, got %d", len(rec.frames))
	}
	f := rec.frames[0]
	if len(f) != 3 || f[0] != byte(CmdWriteAPC2) {
		t.Fatalf("Expected WR_APC2 frame of 3 bytes, got % x", f)
	}
	apc := apcFrom(f)
	if apc&APCVolumeMask != 0b111 {
		t.Errorf("Expected volume bits 111, got %03b", apc&APCVolumeMask)
	}
	if apc&APCFeedthroughN != 0 {
		t.Errorf("Expected feedthrough bit clear, got %#04x", apc)
	}
	st := d.State()
	if !st.Feedthrough || st.Volume != 7 {
		t.Errorf("State mirror not updated: %+v", st)
	}
}

func TestInitialize_Sequence(t *testing.T) {
	d, rec := newTestDriver(t)

	if err := d.Initialize(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []byte{byte(CmdPowerUp), byte(CmdReset), byte(CmdPowerUp), byte(CmdWriteAPC2)}
	if !bytes.Equal(rec.commands(), want) {
		t.Errorf("Expected command sequence % x, got % x", want, rec.commands())
	}
	for i, f := range rec.frames[:3] {
		if len(f) != 2 || f[1] != 0x00 {
			t.Errorf("frame %d: expected command byte plus null byte, got % x", i, f)
		}
	}

	st := d.State()
	if st.Power != PowerUp || st.Activity != Idle || !st.Feedthrough {
		t.Errorf("Unexpected state after initialize: %+v", st)
	}
}

func TestInitialize_CancelledDuringSettle(t *testing.T) {
	d, _ := newTestDriver(t)
	d.timing = DefaultTiming

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Initialize(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
	if d.State().Power != PowerDown {
		t.Error("Expected power to stay down after cancelled initialize")
	}
}

func TestBeginRecording_Frame(t *testing.T) {
	d, rec := newTestDriver(t)

	if _, err := d.BeginRecording(0x010); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []byte{0x81, 0x00, 0x10, 0x00, 0x4F, 0x01, 0x00}
	if !bytes.Equal(rec.frames[0], want) {
		t.Errorf("Expected % x, got % x", want, rec.frames[0])
	}
	if d.State().Activity != Recording {
		t.Errorf("Expected RECORDING, got %s", d.State().Activity)
	}
}

func TestBeginRecording_AddressNotClamped(t *testing.T) {
	d, rec := newTestDriver(t)

	if _, err := d.BeginRecording(0x200); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got := uint16(rec.frames[0][2]) | uint16(rec.frames[0][3])<<8; got != 0x200 {
		t.Errorf("Expected recording address to pass through unchanged, got %#03x", got)
	}
}

func TestBeginPlayback_ClampsAndConfigures(t *testing.T) {
	d, rec := newTestDriver(t)

	if _, err := d.BeginPlayback(0x200, 3); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(rec.frames) != 2 {
		t.Fatalf("Expected configure then play, got %d frames", len(rec.frames))
	}
	apc := apcFrom(rec.frames[0])
	if apc&APCVolumeMask != 3 {
		t.Errorf("Expected volume bits 3, got %d", apc&APCVolumeMask)
	}
	if apc&APCFeedthroughN == 0 {
		t.Errorf("Expected feedthrough-disable bit set, got %#04x", apc)
	}

	want := []byte{0x80, 0x00, 0x10, 0x00, 0x4F, 0x01, 0x00}
	if !bytes.Equal(rec.frames[1], want) {
		t.Errorf("Expected % x, got % x", want, rec.frames[1])
	}
	st := d.State()
	if st.Activity != Playing || st.Feedthrough {
		t.Errorf("Unexpected state: %+v", st)
	}
}

func TestBeginPlayback_OutOfRangeAlwaysMinAddr(t *testing.T) {
	for _, addr := range []uint16{0x000, 0x00F, 0x150, 0x7FF, 0xFFFF} {
		d, rec := newTestDriver(t)
		if _, err := d.BeginPlayback(addr, 0); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		f := rec.frames[1]
		if got := uint16(f[2]) | uint16(f[3])<<8; got != MinAddr {
			t.Errorf("addr %#03x: expected play from %#03x, got %#03x", addr, MinAddr, got)
		}
	}
}

func TestBeginPlayback_ValidAddressKept(t *testing.T) {
	d, rec := newTestDriver(t)
	if _, err := d.BeginPlayback(0x14F, 0); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	f := rec.frames[1]
	if got := uint16(f[2]) | uint16(f[3])<<8; got != 0x14F {
		t.Errorf("Expected %#03x, got %#03x", 0x14F, got)
	}
}

func TestStop_RestoresDefaults(t *testing.T) {
	setups := map[string]func(d *Driver){
		"idle":      func(d *Driver) {},
		"recording": func(d *Driver) { d.BeginRecording(0x020) },
		"playing":   func(d *Driver) { d.BeginPlayback(0x020, 0) },
		"loud":      func(d *Driver) { d.Configure(false, 2) },
	}
	for name, setup := range setups {
		t.Run(name, func(t *testing.T) {
			d, rec := newTestDriver(t)
			setup(d)
			rec.frames = nil

			if _, err := d.Stop(); err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}

			want := []byte{byte(CmdStop), byte(CmdClearInterrupt), byte(CmdWriteAPC2)}
			if !bytes.Equal(rec.commands(), want) {
				t.Errorf("Expected % x, got % x", want, rec.commands())
			}
			st := d.State()
			if !st.Feedthrough || st.Volume != DefaultVolume || st.Activity != Idle || st.Interrupt {
				t.Errorf("Unexpected state after stop: %+v", st)
			}
		})
	}
}

func TestStop_ReturnsStatusOfStopCommand(t *testing.T) {
	d, rec := newTestDriver(t)
	rec.sr0 = 0x1234

	s, err := d.Stop()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if s != Status(0x1234) {
		t.Errorf("Expected %#04x, got %#04x", 0x1234, uint16(s))
	}
}

func TestRecordScenario_InterruptThenStop(t *testing.T) {
	d, rec := newTestDriver(t)

	if err := d.Initialize(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if st := d.State(); st.Power != PowerUp || st.Activity != Idle {
		t.Fatalf("Unexpected state: %+v", st)
	}

	if _, err := d.BeginRecording(0x010); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if d.State().Activity != Recording {
		t.Fatalf("Expected RECORDING, got %s", d.State().Activity)
	}

	rec.irq = true
	irq, err := d.Interrupted()
	if err != nil || !irq {
		t.Fatalf("Expected interrupt asserted, got %t, %v", irq, err)
	}
	if !d.State().Interrupt {
		t.Error("Expected interrupt mirrored in state")
	}

	rec.frames = nil
	if _, err := d.Stop(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if d.State().Activity != Idle {
		t.Errorf("Expected IDLE, got %s", d.State().Activity)
	}
	if rec.commands()[1] != byte(CmdClearInterrupt) {
		t.Errorf("Expected CLR_INT as part of stop, got % x", rec.commands())
	}
}

func TestRecordPointerAndReadStatus(t *testing.T) {
	d, rec := newTestDriver(t)
	rec.sr0 = 0x0A24

	s, _, err := d.RecordPointer()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if s.Pointer() != 0x0A24>>5 {
		t.Errorf("Unexpected pointer %#03x", s.Pointer())
	}
	if !bytes.Equal(rec.frames[0], []byte{0x08, 0x00, 0x00, 0x00}) {
		t.Errorf("Unexpected RD_REC_PTR frame % x", rec.frames[0])
	}

	if _, _, err := d.ReadStatus(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !bytes.Equal(rec.frames[1], []byte{0x05, 0x00, 0x00}) {
		t.Errorf("Unexpected RD_STATUS frame % x", rec.frames[1])
	}
}

func TestEraseAndPower(t *testing.T) {
	d, rec := newTestDriver(t)

	if err := d.PowerUp(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, err := d.EraseAll(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := d.PowerDown(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []byte{byte(CmdPowerUp), byte(CmdGlobalErase), byte(CmdPowerDown)}
	if !bytes.Equal(rec.commands(), want) {
		t.Errorf("Expected % x, got % x", want, rec.commands())
	}
	if d.State().Power != PowerDown {
		t.Error("Expected power down")
	}
}

func TestBusErrorIsWrapped(t *testing.T) {
	d, rec := newTestDriver(t)
	rec.failAfter = 1

	_, err := d.BeginPlayback(0x020, 1)
	if err == nil {
		t.Fatal("Expected error when the play frame fails")
	}
	if d.State().Activity == Playing {
		t.Error("Activity must not change when the command was not sent")
	}
}

func TestBeginRecording_AfterPlaybackWarns(t *testing.T) {
	d, rec := newTestDriver(t)
	var logs bytes.Buffer
	d.log = slog.New(slog.NewTextHandler(&logs, nil))

	if _, err := d.BeginPlayback(0x020, 3); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if bytes.Contains(logs.Bytes(), []byte("level=WARN")) {
		t.Errorf("Expected no warning for playback, got %q", logs.String())
	}
	rec.frames = nil

	if _, err := d.BeginRecording(0x030); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !bytes.Equal(rec.commands(), []byte{byte(CmdSetRecord)}) {
		t.Errorf("Expected the record command to be issued, got % x", rec.commands())
	}
	if d.State().Consistent() {
		t.Errorf("Expected inconsistent state, got %+v", d.State())
	}
	if !bytes.Contains(logs.Bytes(), []byte("analogue path does not match activity")) {
		t.Errorf("Expected a warning, got %q", logs.String())
	}
}

func TestStop_TracksPowerFromStatus(t *testing.T) {
	d, rec := newTestDriver(t)
	rec.sr0 = uint16(StatusPowerUp)

	if d.State().Power != PowerDown {
		t.Fatalf("Expected fresh driver powered down, got %s", d.State().Power)
	}
	if _, err := d.Stop(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if d.State().Power != PowerUp {
		t.Errorf("Expected %s after stop on a powered chip, got %s", PowerUp, d.State().Power)
	}
}

func TestCommand_SingleExchange(t *testing.T) {
	d, rec := newTestDriver(t)
	rec.sr0 = 0x0A64

	s, err := d.Reset()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if s != Status(0x0A64) {
		t.Errorf("Expected %#04x, got %#04x", 0x0A64, uint16(s))
	}
	if len(rec.frames) != 1 || !bytes.Equal(rec.frames[0], []byte{byte(CmdReset), 0x00}) {
		t.Errorf("Expected one two-byte frame, got % x", rec.frames)
	}

	rec.failAfter = 1
	if err := d.PowerUp(); err == nil || !bytes.Contains([]byte(err.Error()), []byte("exchange16")) {
		t.Errorf("Expected wrapped exchange error, got: %v", err)
	}
}
