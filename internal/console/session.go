package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/audiolibrelab/isdrec/internal/isd"
	"github.com/audiolibrelab/isdrec/internal/service"
)

// Session is what the interactive loop drives.
type Session interface {
	Erase(ctx context.Context) error
	Record(ctx context.Context, req service.RecordRequest) (*service.RecordResult, error)
	Play(ctx context.Context, req service.PlayRequest) (*service.PlayResult, error)
}

// SessionOptions configure RunSession.
type SessionOptions struct {
	Geometry    isd.Geometry
	MaxDuration time.Duration
	// Trigger announces that recording waits for the audio input.
	Trigger bool
	// Once stops after the first recording and its playback loop.
	Once bool
}

// RunSession runs the interactive record and playback loop until the
// operator closes input or ctx is done.
func RunSession(ctx context.Context, c *Console, s Session, opts SessionOptions) error {
	err := runSession(ctx, c, s, opts)
	if errors.Is(err, ErrQuit) {
		c.Println("")
		return nil
	}
	return err
}

func runSession(ctx context.Context, c *Console, s Session, opts SessionOptions) error {
	erase, err := c.Confirm("Reset (erase) all memory for writing? (Y/N) ")
	if err != nil {
		return err
	}
	if erase {
		c.Println("Note that some memory locations may not be writable.")
		c.Println("Erasing all memory...")
		if err := s.Erase(ctx); err != nil {
			return err
		}
	}

	for ctx.Err() == nil {
		addr, err := c.StartAddress(opts.Geometry)
		if err != nil {
			return err
		}
		dur, err := c.Duration(opts.MaxDuration)
		if err != nil {
			return err
		}

		if opts.Trigger {
			c.Println("Waiting for audio signal... ")
		}
		c.Println("Recording...")
		res, err := s.Record(ctx, service.RecordRequest{Address: addr, Duration: dur})
		if errors.Is(err, service.ErrInvalidAddress) {
			c.Println("Invalid memory pointer!")
			continue
		}
		if err != nil {
			return err
		}
		Report(c.out, res)

		if err := playbackLoop(ctx, c, s, res); err != nil {
			return err
		}
		if opts.Once {
			return nil
		}
	}
	return ctx.Err()
}

// Report prints the outcome of a recording.
func Report(w io.Writer, res *service.RecordResult) {
	if res.EndOfMemory {
		fmt.Fprintf(w, "End of memory reached. Audio was still recorded for %d milliseconds.\n", res.Elapsed.Milliseconds())
	}
	fmt.Fprintf(w, "Completed at address 0x%03X\n", res.End)
	fmt.Fprintf(w, "The sample rate is approximately %d Hz.\n", res.SampleRate)
}

func playbackLoop(ctx context.Context, c *Console, s Session, res *service.RecordResult) error {
	for ctx.Err() == nil {
		vol, ok, err := c.Volume()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		c.Println("Playing back audio...")
		if _, err := s.Play(ctx, res.Replay(vol)); err != nil {
			slog.Error("Playback failed", "error", err)
			return fmt.Errorf("playback: %w", err)
		}
	}
	return ctx.Err()
}
