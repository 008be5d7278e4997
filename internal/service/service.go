package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/isdrec/internal/config"
	"github.com/audiolibrelab/isdrec/internal/isd"
)

var (
	ErrInvalidAddress  = errors.New("invalid memory pointer")
	ErrInvalidDuration = errors.New("invalid duration")
	ErrInvalidVolume   = errors.New("invalid volume")
	ErrBusy            = errors.New("an operation is already running")
	ErrNotInitialized  = errors.New("chip not initialized")
)

// Service represents the recorder session interface
type Service interface {
	// Session operations
	Erase(ctx context.Context) error
	Record(ctx context.Context, req RecordRequest) (*RecordResult, error)
	Play(ctx context.Context, req PlayRequest) (*PlayResult, error)
	Stop() error

	// Background operations for remote control
	StartErase() error
	StartRecord(req RecordRequest) error
	StartPlay(req PlayRequest) error
	Cancel() error

	// Pipeline operations
	RunPipeline(ctx context.Context, steps string, req RecordRequest, volume uint8) error

	// Information operations
	Status() (*StatusReport, error)
	GetConfig() *config.Config
	GetLastError() string
	LastRecord() *RecordResult

	Close() error
}

// Chip is the subset of the protocol driver the session needs.
type Chip interface {
	Initialize(ctx context.Context) error
	PowerDown() error
	Configure(feedthrough bool, volume uint8) (isd.Status, error)
	EraseAll() (isd.Status, error)
	BeginRecording(addr uint16) (isd.Status, error)
	BeginPlayback(addr uint16, volume uint8) (isd.Status, error)
	Stop() (isd.Status, error)
	Interrupted() (bool, error)
	ClearInterrupt() (isd.Status, error)
	RecordPointer() (isd.Status, uint16, error)
	ReadStatus() (isd.Status, isd.SR1, error)
	State() isd.State
	Geometry() isd.Geometry
}

// Trigger blocks until the audio input should start recording.
type Trigger interface {
	WaitTrigger(ctx context.Context) error
}

// SessionStatus represents the current session state
type SessionStatus string

const (
	StatusStandby   SessionStatus = "STANDBY"
	StatusErasing   SessionStatus = "ERASING"
	StatusRecording SessionStatus = "RECORDING"
	StatusPlaying   SessionStatus = "PLAYING"
	StatusError     SessionStatus = "ERROR"
)

// RecordRequest describes one recording.
type RecordRequest struct {
	Address  uint16        `json:"address"`
	Duration time.Duration `json:"duration"`
}

// RecordResult reports where a recording ended.
type RecordResult struct {
	Start uint16 `json:"start"`
	End   uint16 `json:"end"`
	Next  uint16 `json:"next"`
	// Duration is the requested length. Elapsed overshoots it by up to
	// one poll interval.
	Duration    time.Duration `json:"duration"`
	Elapsed     time.Duration `json:"elapsed"`
	EndOfMemory bool          `json:"end_of_memory"`
	SampleRate  int           `json:"sample_rate"`
}

// Replay returns the request that plays the recording back at volume for
// the requested duration.
func (r *RecordResult) Replay(volume uint8) PlayRequest {
	return PlayRequest{Address: r.Start, Volume: volume, Duration: r.Duration}
}

// PlayRequest describes one playback. A zero Duration plays until the chip
// raises the interrupt.
type PlayRequest struct {
	Address  uint16        `json:"address"`
	Volume   uint8         `json:"volume"`
	Duration time.Duration `json:"duration"`
}

// PlayResult reports where a playback ended.
type PlayResult struct {
	Start       uint16        `json:"start"`
	End         uint16        `json:"end"`
	Elapsed     time.Duration `json:"elapsed"`
	EndOfMemory bool          `json:"end_of_memory"`
}

// StatusReport is a snapshot of the session and the chip.
type StatusReport struct {
	Session   SessionStatus `json:"session"`
	Chip      isd.State     `json:"chip"`
	SR0       string        `json:"sr0"`
	Pointer   uint16        `json:"pointer"`
	Ready     bool          `json:"ready"`
	LastError string        `json:"last_error,omitempty"`
	MinAddr   uint16        `json:"min_addr"`
	MaxAddr   uint16        `json:"max_addr"`
}

// RecorderService is the main service implementation
type RecorderService struct {
	cfg     *config.Config
	chip    Chip
	trigger Trigger
	closer  func() error
	now     func() time.Time

	mu         sync.RWMutex
	status     SessionStatus
	cancel     context.CancelFunc
	done       chan struct{}
	lastRecord *RecordResult

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// Option customizes a RecorderService.
type Option func(*RecorderService)

// WithTrigger makes Record wait on t before starting.
func WithTrigger(t Trigger) Option {
	return func(s *RecorderService) { s.trigger = t }
}

// WithCloser runs fn on Close, after the chip is powered down.
func WithCloser(fn func() error) Option {
	return func(s *RecorderService) { s.closer = fn }
}

// New creates a new recorder service instance
func New(cfg *config.Config, chip Chip, opts ...Option) *RecorderService {
	s := &RecorderService{
		cfg:    cfg,
		chip:   chip,
		now:    time.Now,
		status: StatusStandby,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Erase erases the whole chip and waits for the interrupt that marks the end
// of the erase.
func (s *RecorderService) Erase(ctx context.Context) error {
	ctx, err := s.begin(ctx, StatusErasing)
	if err != nil {
		return err
	}
	err = s.erase(ctx)
	s.end(err)
	return err
}

func (s *RecorderService) erase(ctx context.Context) error {
	if err := s.ensureInitialized(ctx); err != nil {
		return err
	}
	slog.Info("Erasing all memory")
	if _, err := s.chip.EraseAll(); err != nil {
		return fmt.Errorf("erase: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timing.EraseTimeout)
	defer cancel()
	if _, err := s.waitInterrupt(ctx, 0); err != nil {
		return fmt.Errorf("erase: %w", err)
	}
	if _, err := s.chip.ClearInterrupt(); err != nil {
		return fmt.Errorf("erase: %w", err)
	}
	slog.Info("Erase complete")
	return nil
}

// Record records from req.Address for req.Duration, or until the chip
// reaches the end of memory.
func (s *RecorderService) Record(ctx context.Context, req RecordRequest) (*RecordResult, error) {
	if err := s.validateRecord(req); err != nil {
		return nil, err
	}
	ctx, err := s.begin(ctx, StatusRecording)
	if err != nil {
		return nil, err
	}
	res, err := s.record(ctx, req)
	s.end(err)
	return res, err
}

func (s *RecorderService) validateRecord(req RecordRequest) error {
	if !s.chip.Geometry().Valid(req.Address) {
		return fmt.Errorf("%w: %#03x", ErrInvalidAddress, req.Address)
	}
	if req.Duration <= 0 || req.Duration > s.cfg.Session.MaxDuration {
		return fmt.Errorf("%w: %s", ErrInvalidDuration, req.Duration)
	}
	return nil
}

func (s *RecorderService) record(ctx context.Context, req RecordRequest) (*RecordResult, error) {
	if err := s.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	if st := s.chip.State(); !st.Feedthrough {
		if _, err := s.chip.Configure(true, st.Volume); err != nil {
			return nil, fmt.Errorf("record: %w", err)
		}
	}

	if s.trigger != nil {
		slog.Info("Waiting for audio signal")
		if err := s.trigger.WaitTrigger(ctx); err != nil {
			return nil, fmt.Errorf("record: waiting for trigger: %w", err)
		}
	}

	if _, err := s.chip.BeginRecording(req.Address); err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}
	start := s.now()
	slog.Info("Recording started", "address", fmt.Sprintf("%#03x", req.Address), "duration", req.Duration)

	interrupted, waitErr := s.waitInterrupt(ctx, req.Duration)
	elapsed := s.now().Sub(start)

	// Always stop, even when the wait was cancelled.
	prior, err := s.chip.Stop()
	if err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}
	_, next, err := s.chip.RecordPointer()
	if err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}

	res := &RecordResult{
		Start:       req.Address,
		End:         prior.Pointer(),
		Next:        next,
		Duration:    req.Duration,
		Elapsed:     elapsed,
		EndOfMemory: interrupted || prior.EOM(),
	}
	res.SampleRate = SampleRate(res.Start, res.End, s.cfg.Session.SamplesPerRow, elapsed)

	s.mu.Lock()
	s.lastRecord = res
	s.mu.Unlock()

	slog.Info("Recording complete", "end", fmt.Sprintf("%#03x", res.End), "elapsed", elapsed,
		"end_of_memory", res.EndOfMemory, "sample_rate", res.SampleRate)
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return res, fmt.Errorf("record: %w", waitErr)
	}
	return res, nil
}

// Play plays from req.Address at req.Volume.
func (s *RecorderService) Play(ctx context.Context, req PlayRequest) (*PlayResult, error) {
	if req.Volume > isd.MinVolume {
		return nil, fmt.Errorf("%w: %d", ErrInvalidVolume, req.Volume)
	}
	if req.Duration < 0 || req.Duration > s.cfg.Session.MaxDuration {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDuration, req.Duration)
	}
	ctx, err := s.begin(ctx, StatusPlaying)
	if err != nil {
		return nil, err
	}
	res, err := s.play(ctx, req)
	s.end(err)
	return res, err
}

func (s *RecorderService) play(ctx context.Context, req PlayRequest) (*PlayResult, error) {
	if err := s.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	if _, err := s.chip.BeginPlayback(req.Address, req.Volume); err != nil {
		return nil, fmt.Errorf("play: %w", err)
	}
	start := s.now()
	slog.Info("Playing back audio", "address", fmt.Sprintf("%#03x", req.Address), "volume", req.Volume)

	interrupted, waitErr := s.waitInterrupt(ctx, req.Duration)
	elapsed := s.now().Sub(start)

	prior, err := s.chip.Stop()
	if err != nil {
		return nil, fmt.Errorf("play: %w", err)
	}
	res := &PlayResult{
		Start:       s.chip.Geometry().Clamp(req.Address),
		End:         prior.Pointer(),
		Elapsed:     elapsed,
		EndOfMemory: interrupted || prior.EOM(),
	}
	slog.Info("Playback complete", "end", fmt.Sprintf("%#03x", res.End), "elapsed", elapsed)
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return res, fmt.Errorf("play: %w", waitErr)
	}
	return res, nil
}

// Stop ends the running operation. With nothing running it sends STOP to the
// chip directly.
func (s *RecorderService) Stop() error {
	s.mu.RLock()
	running := s.cancel != nil
	s.mu.RUnlock()
	if running {
		return s.Cancel()
	}
	if _, err := s.chip.Stop(); err != nil {
		s.setLastError(fmt.Sprintf("Failed to stop: %v", err))
		return err
	}
	return nil
}

// StartErase runs Erase in the background.
func (s *RecorderService) StartErase() error {
	return s.startBackground(StatusErasing, s.erase)
}

// StartRecord runs Record in the background.
func (s *RecorderService) StartRecord(req RecordRequest) error {
	if err := s.validateRecord(req); err != nil {
		return err
	}
	return s.startBackground(StatusRecording, func(ctx context.Context) error {
		_, err := s.record(ctx, req)
		return err
	})
}

// StartPlay runs Play in the background.
func (s *RecorderService) StartPlay(req PlayRequest) error {
	if req.Volume > isd.MinVolume {
		return fmt.Errorf("%w: %d", ErrInvalidVolume, req.Volume)
	}
	if req.Duration < 0 || req.Duration > s.cfg.Session.MaxDuration {
		return fmt.Errorf("%w: %s", ErrInvalidDuration, req.Duration)
	}
	return s.startBackground(StatusPlaying, func(ctx context.Context) error {
		_, err := s.play(ctx, req)
		return err
	})
}

func (s *RecorderService) startBackground(st SessionStatus, run func(ctx context.Context) error) error {
	ctx, err := s.begin(context.Background(), st)
	if err != nil {
		return err
	}
	go func() {
		s.end(run(ctx))
	}()
	return nil
}

// Cancel stops the running operation and waits for it to finish.
func (s *RecorderService) Cancel() error {
	s.mu.RLock()
	cancel, done := s.cancel, s.done
	s.mu.RUnlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Wait blocks until the running operation, if any, finishes.
func (s *RecorderService) Wait() {
	s.mu.RLock()
	done := s.done
	s.mu.RUnlock()
	if done != nil {
		<-done
	}
}

// RunPipeline executes a sequence of operations (e=erase, r=record, p=play).
// Playback starts at the recorded address and lasts the requested duration.
func (s *RecorderService) RunPipeline(ctx context.Context, steps string, req RecordRequest, volume uint8) error {
	for _, step := range steps {
		switch step {
		case 'e':
			if err := s.Erase(ctx); err != nil {
				return fmt.Errorf("pipeline erase failed: %w", err)
			}
		case 'r':
			if _, err := s.Record(ctx, req); err != nil {
				return fmt.Errorf("pipeline record failed: %w", err)
			}
		case 'p':
			play := PlayRequest{Address: req.Address, Volume: volume, Duration: req.Duration}
			if last := s.LastRecord(); last != nil {
				play = last.Replay(volume)
			}
			if _, err := s.Play(ctx, play); err != nil {
				return fmt.Errorf("pipeline play failed: %w", err)
			}
		default:
			return fmt.Errorf("unknown pipeline step: '%c' (valid: e=erase, r=record, p=play)", step)
		}
	}
	return nil
}

// Status returns the session state with a fresh status register read.
func (s *RecorderService) Status() (*StatusReport, error) {
	geo := s.chip.Geometry()
	rep := &StatusReport{
		Session:   s.sessionStatus(),
		Chip:      s.chip.State(),
		LastError: s.GetLastError(),
		MinAddr:   geo.MinAddr,
		MaxAddr:   geo.MaxAddr,
	}
	sr0, sr1, err := s.chip.ReadStatus()
	if err != nil {
		return rep, fmt.Errorf("status: %w", err)
	}
	rep.SR0 = sr0.String()
	rep.Pointer = sr0.Pointer()
	rep.Ready = sr1.Ready()
	return rep, nil
}

func (s *RecorderService) sessionStatus() SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// GetConfig returns the current configuration
func (s *RecorderService) GetConfig() *config.Config {
	return s.cfg
}

// LastRecord returns the result of the most recent recording, or nil.
func (s *RecorderService) LastRecord() *RecordResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRecord
}

// Close cancels any background operation and powers the chip down.
func (s *RecorderService) Close() error {
	s.Cancel()
	var errs []error
	if s.chip.State().Power == isd.PowerUp {
		if err := s.chip.PowerDown(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.closer != nil {
		if err := s.closer(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SampleRate estimates the sample rate from the rows a recording filled.
func SampleRate(start, end uint16, samplesPerRow int, elapsed time.Duration) int {
	if end <= start || elapsed <= 0 {
		return 0
	}
	rows := float64(end - start)
	return int(rows * float64(samplesPerRow) / elapsed.Seconds())
}

// begin moves the session out of standby. The returned context is
// cancelled by Cancel.
func (s *RecorderService) begin(ctx context.Context, st SessionStatus) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil, fmt.Errorf("%w (%s)", ErrBusy, s.status)
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.status = st
	s.clearLastError()
	return ctx, nil
}

func (s *RecorderService) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()
	s.cancel = nil
	close(s.done)
	if err != nil {
		slog.Error("Session operation failed", "status", s.status, "error", err)
		s.status = StatusError
		s.setLastError(err.Error())
		return
	}
	s.status = StatusStandby
}

func (s *RecorderService) ensureInitialized(ctx context.Context) error {
	if s.chip.State().Power == isd.PowerUp {
		return nil
	}
	if err := s.chip.Initialize(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	}
	return nil
}

// waitInterrupt polls the interrupt line until it is asserted, limit
// elapses (when non-zero) or ctx is done. It reports whether the interrupt
// fired.
func (s *RecorderService) waitInterrupt(ctx context.Context, limit time.Duration) (bool, error) {
	ticker := time.NewTicker(s.cfg.Timing.PollInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if limit > 0 {
		timer := time.NewTimer(limit)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		irq, err := s.chip.Interrupted()
		if err != nil {
			return false, err
		}
		if irq {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline:
			return false, nil
		case <-ticker.C:
		}
	}
}

// GetLastError returns the last error message
func (s *RecorderService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

func (s *RecorderService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err
}

func (s *RecorderService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

var _ Service = (*RecorderService)(nil)
