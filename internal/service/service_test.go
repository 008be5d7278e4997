package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/audiolibrelab/isdrec/internal/config"
	"github.com/audiolibrelab/isdrec/internal/isd"
	"github.com/audiolibrelab/isdrec/internal/isdsim"
)

func newTestService(t *testing.T, opts isdsim.Options, svcOpts ...Option) (*RecorderService, *isdsim.Chip) {
	t.Helper()
	cfg := config.Default()
	cfg.Bus.Backend = "sim"
	cfg.Timing.PowerUpDelay = 0
	cfg.Timing.SettleDelay = 0
	cfg.Timing.PollInterval = time.Millisecond

	chip := isdsim.New(opts)
	d := isd.New(chip, isd.Config{
		Geometry: isd.Geometry{MinAddr: isd.MinAddr, MaxAddr: 0x14F},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	svc := New(cfg, d, svcOpts...)
	t.Cleanup(func() { svc.Close() })
	return svc, chip
}

func countCommand(frames [][]byte, cmd isd.Command) int {
	n := 0
	for _, f := range frames {
		if len(f) > 0 && isd.Command(f[0]) == cmd {
			n++
		}
	}
	return n
}

func TestRecord_StopsAfterDuration(t *testing.T) {
	svc, chip := newTestService(t, isdsim.Options{RowsPerSecond: 400})

	res, err := svc.Record(context.Background(), RecordRequest{Address: 0x020, Duration: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !chip.Powered() {
		t.Error("Expected record to initialize the chip")
	}
	if res.Start != 0x020 {
		t.Errorf("Expected start 0x020, got %#03x", res.Start)
	}
	if res.End <= res.Start {
		t.Errorf("Expected end after start, got %#03x", res.End)
	}
	if res.Next != res.End+1 {
		t.Errorf("Expected next pointer %#03x, got %#03x", res.End+1, res.Next)
	}
	if res.EndOfMemory {
		t.Error("Expected recording to stop before end of memory")
	}
	if res.SampleRate <= 0 {
		t.Errorf("Expected positive sample rate, got %d", res.SampleRate)
	}
	if svc.LastRecord() != res {
		t.Error("Expected last record to be kept")
	}

	rep, err := svc.Status()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if rep.Session != StatusStandby {
		t.Errorf("Expected STANDBY, got %s", rep.Session)
	}
	if rep.Chip.Activity != isd.Idle || !rep.Chip.Feedthrough {
		t.Errorf("Expected idle chip with feedthrough, got %+v", rep.Chip)
	}
}

func TestRecord_EndOfMemory(t *testing.T) {
	svc, _ := newTestService(t, isdsim.Options{RowsPerSecond: 800})

	res, err := svc.Record(context.Background(), RecordRequest{Address: 0x140, Duration: 5 * time.Second})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !res.EndOfMemory {
		t.Error("Expected end of memory")
	}
	if res.End != 0x14F {
		t.Errorf("Expected end 0x14f, got %#03x", res.End)
	}
	if res.Elapsed >= 5*time.Second {
		t.Errorf("Expected recording cut short, took %s", res.Elapsed)
	}
}

func TestRecord_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		req  RecordRequest
		want error
	}{
		{"address below range", RecordRequest{Address: 0x005, Duration: time.Second}, ErrInvalidAddress},
		{"address above range", RecordRequest{Address: 0x150, Duration: time.Second}, ErrInvalidAddress},
		{"zero duration", RecordRequest{Address: 0x010}, ErrInvalidDuration},
		{"duration too long", RecordRequest{Address: 0x010, Duration: 100 * time.Second}, ErrInvalidDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, chip := newTestService(t, isdsim.Options{})
			_, err := svc.Record(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Expected %v, got: %v", tt.want, err)
			}
			if n := len(chip.Frames()); n != 0 {
				t.Errorf("Expected nothing sent to the chip, got %d frames", n)
			}
			if svc.GetLastError() != "" {
				t.Errorf("Expected rejected input to leave no session error, got %q", svc.GetLastError())
			}
		})
	}
}

func TestRecord_ReenablesFeedthrough(t *testing.T) {
	svc, chip := newTestService(t, isdsim.Options{RowsPerSecond: 400})
	d := svc.chip.(*isd.Driver)
	if err := d.Initialize(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	d.Configure(false, 3)

	if _, err := svc.Record(context.Background(), RecordRequest{Address: 0x010, Duration: 10 * time.Millisecond}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	frames := chip.Frames()
	for i, f := range frames {
		if isd.Command(f[0]) != isd.CmdSetRecord {
			continue
		}
		prev := frames[i-1]
		if isd.Command(prev[0]) != isd.CmdWriteAPC2 {
			t.Fatalf("Expected APC2 write before SET_REC, got %#02x", prev[0])
		}
		apc := uint16(prev[1]) | uint16(prev[2])<<8
		if apc&isd.APCFeedthroughN != 0 {
			t.Errorf("Expected feedthrough enabled before recording, apc %#04x", apc)
		}
		return
	}
	t.Fatal("Expected a SET_REC frame")
}

type fakeTrigger struct {
	calls int
	err   error
}

func (f *fakeTrigger) WaitTrigger(ctx context.Context) error {
	f.calls++
	return f.err
}

func TestRecord_WaitsForTrigger(t *testing.T) {
	trig := &fakeTrigger{}
	svc, _ := newTestService(t, isdsim.Options{RowsPerSecond: 400}, WithTrigger(trig))

	if _, err := svc.Record(context.Background(), RecordRequest{Address: 0x010, Duration: 10 * time.Millisecond}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if trig.calls != 1 {
		t.Errorf("Expected 1 trigger wait, got %d", trig.calls)
	}
}

func TestRecord_TriggerFailure(t *testing.T) {
	trig := &fakeTrigger{err: errors.New("pin gone")}
	svc, chip := newTestService(t, isdsim.Options{}, WithTrigger(trig))

	_, err := svc.Record(context.Background(), RecordRequest{Address: 0x010, Duration: time.Second})
	if err == nil || !strings.Contains(err.Error(), "pin gone") {
		t.Fatalf("Expected trigger error, got: %v", err)
	}
	if n := countCommand(chip.Frames(), isd.CmdSetRecord); n != 0 {
		t.Errorf("Expected no recording started, got %d SET_REC frames", n)
	}
	rep, _ := svc.Status()
	if rep.Session != StatusError {
		t.Errorf("Expected ERROR, got %s", rep.Session)
	}
	if !strings.Contains(svc.GetLastError(), "pin gone") {
		t.Errorf("Expected last error kept, got %q", svc.GetLastError())
	}
}

func TestPlay_UntilEndOfMemory(t *testing.T) {
	svc, chip := newTestService(t, isdsim.Options{RowsPerSecond: 800})

	res, err := svc.Play(context.Background(), PlayRequest{Address: 0x148, Volume: 2})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !res.EndOfMemory || res.End != 0x14F {
		t.Errorf("Expected playback to reach 0x14f, got %+v", res)
	}
	if chip.APC()&isd.APCFeedthroughN != 0 {
		t.Error("Expected feedthrough restored after playback")
	}
}

func TestPlay_ClampsStartAddress(t *testing.T) {
	svc, _ := newTestService(t, isdsim.Options{RowsPerSecond: 400})

	res, err := svc.Play(context.Background(), PlayRequest{Address: 0x200, Volume: 3, Duration: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if res.Start != isd.MinAddr {
		t.Errorf("Expected start clamped to %#03x, got %#03x", isd.MinAddr, res.Start)
	}
}

func TestPlay_RejectsInvalidInput(t *testing.T) {
	svc, _ := newTestService(t, isdsim.Options{})

	if _, err := svc.Play(context.Background(), PlayRequest{Address: 0x010, Volume: 8}); !errors.Is(err, ErrInvalidVolume) {
		t.Errorf("Expected ErrInvalidVolume, got: %v", err)
	}
	if _, err := svc.Play(context.Background(), PlayRequest{Address: 0x010, Duration: -time.Second}); !errors.Is(err, ErrInvalidDuration) {
		t.Errorf("Expected ErrInvalidDuration, got: %v", err)
	}
	if err := svc.StartPlay(PlayRequest{Address: 0x010, Volume: 9}); !errors.Is(err, ErrInvalidVolume) {
		t.Errorf("Expected ErrInvalidVolume, got: %v", err)
	}
}

func TestErase(t *testing.T) {
	svc, chip := newTestService(t, isdsim.Options{EraseTime: 20 * time.Millisecond})

	if err := svc.Erase(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if n := countCommand(chip.Frames(), isd.CmdGlobalErase); n != 1 {
		t.Errorf("Expected 1 erase command, got %d", n)
	}
	if svc.chip.State().Interrupt {
		t.Error("Expected interrupt cleared after erase")
	}
}

func TestErase_Timeout(t *testing.T) {
	svc, _ := newTestService(t, isdsim.Options{EraseTime: time.Minute})
	svc.cfg.Timing.EraseTimeout = 20 * time.Millisecond

	err := svc.Erase(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got: %v", err)
	}
	rep, _ := svc.Status()
	if rep.Session != StatusError {
		t.Errorf("Expected ERROR, got %s", rep.Session)
	}
	if svc.GetLastError() == "" {
		t.Error("Expected last error to be set")
	}
}

func TestStartRecord_BusyAndCancel(t *testing.T) {
	svc, chip := newTestService(t, isdsim.Options{})

	if err := svc.StartRecord(RecordRequest{Address: 0x010, Duration: 30 * time.Second}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := svc.StartRecord(RecordRequest{Address: 0x010, Duration: time.Second}); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy, got: %v", err)
	}
	if err := svc.Erase(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy, got: %v", err)
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	rep, _ := svc.Status()
	if rep.Session != StatusStandby {
		t.Errorf("Expected STANDBY after stop, got %s", rep.Session)
	}
	last := svc.LastRecord()
	if last == nil {
		t.Fatal("Expected a recording result after stop")
	}
	if last.EndOfMemory {
		t.Error("Expected a user stop, not end of memory")
	}
	if n := countCommand(chip.Frames(), isd.CmdStop); n != 1 {
		t.Errorf("Expected 1 STOP command, got %d", n)
	}
}

func TestStop_WhenIdleStopsChip(t *testing.T) {
	svc, chip := newTestService(t, isdsim.Options{})

	if err := svc.Stop(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if n := countCommand(chip.Frames(), isd.CmdStop); n != 1 {
		t.Errorf("Expected 1 STOP command, got %d", n)
	}
}

func TestStartPlay_Completes(t *testing.T) {
	svc, _ := newTestService(t, isdsim.Options{RowsPerSecond: 800})

	if err := svc.StartPlay(PlayRequest{Address: 0x14A, Volume: 0}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	svc.Wait()
	rep, _ := svc.Status()
	if rep.Session != StatusStandby {
		t.Errorf("Expected STANDBY, got %s (%s)", rep.Session, rep.LastError)
	}
}

func TestRunPipeline(t *testing.T) {
	svc, chip := newTestService(t, isdsim.Options{RowsPerSecond: 400})

	err := svc.RunPipeline(context.Background(), "erp", RecordRequest{Address: 0x020, Duration: 20 * time.Millisecond}, 4)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	frames := chip.Frames()
	for _, cmd := range []isd.Command{isd.CmdGlobalErase, isd.CmdSetRecord, isd.CmdSetPlay} {
		if n := countCommand(frames, cmd); n != 1 {
			t.Errorf("Expected 1 %s, got %d", cmd, n)
		}
	}

	err = svc.RunPipeline(context.Background(), "x", RecordRequest{}, 4)
	if err == nil || !strings.Contains(err.Error(), "unknown pipeline step") {
		t.Errorf("Expected unknown step error, got: %v", err)
	}
}

func TestSampleRate(t *testing.T) {
	tests := []struct {
		start, end uint16
		elapsed    time.Duration
		want       int
	}{
		{0x020, 0x030, 2 * time.Second, 8000},
		{0x010, 0x011, 125 * time.Millisecond, 8000},
		{0x030, 0x030, time.Second, 0},
		{0x030, 0x020, time.Second, 0},
		{0x010, 0x020, 0, 0},
	}

	for _, tt := range tests {
		if got := SampleRate(tt.start, tt.end, 1000, tt.elapsed); got != tt.want {
			t.Errorf("SampleRate(%#03x, %#03x, %s): expected %d, got %d", tt.start, tt.end, tt.elapsed, tt.want, got)
		}
	}
}

func TestClose_PowersDown(t *testing.T) {
	closed := false
	svc, chip := newTestService(t, isdsim.Options{RowsPerSecond: 400}, WithCloser(func() error {
		closed = true
		return nil
	}))
	svc.Record(context.Background(), RecordRequest{Address: 0x010, Duration: 5 * time.Millisecond})

	if err := svc.Close(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if chip.Powered() {
		t.Error("Expected chip powered down")
	}
	if !closed {
		t.Error("Expected closer to run")
	}
}

func TestRunPipeline_RecordAtMaxDurationThenPlay(t *testing.T) {
	svc, chip := newTestService(t, isdsim.Options{RowsPerSecond: 400})
	svc.cfg.Session.MaxDuration = 50 * time.Millisecond

	err := svc.RunPipeline(context.Background(), "rp", RecordRequest{Address: 0x020, Duration: 50 * time.Millisecond}, 4)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	last := svc.LastRecord()
	if last.Duration != 50*time.Millisecond {
		t.Errorf("Expected requested duration 50ms, got %s", last.Duration)
	}
	if last.Elapsed < last.Duration {
		t.Errorf("Expected elapsed of at least %s, got %s", last.Duration, last.Elapsed)
	}
	if n := countCommand(chip.Frames(), isd.CmdSetPlay); n != 1 {
		t.Errorf("Expected 1 %s, got %d", isd.CmdSetPlay, n)
	}
	if svc.GetLastError() != "" {
		t.Errorf("Expected no error, got %q", svc.GetLastError())
	}
}

func TestStop_PowersDownChipLeftRunning(t *testing.T) {
	svc, chip := newTestService(t, isdsim.Options{RowsPerSecond: 400})

	// Power up through another driver, as an earlier run would have.
	other := isd.New(chip, isd.Config{
		Geometry: isd.Geometry{MinAddr: isd.MinAddr, MaxAddr: 0x14F},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err := other.PowerUp(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, err := other.BeginRecording(0x020); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if chip.Powered() {
		t.Error("Expected chip powered down after stop and close")
	}
}
