package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/audiolibrelab/isdrec/internal/backend"
	"github.com/audiolibrelab/isdrec/internal/console"
	"github.com/audiolibrelab/isdrec/internal/isd"
	"github.com/audiolibrelab/isdrec/internal/service"

	"github.com/spf13/cobra"
)

// openService opens the configured bus backend and returns a session
// service over a fresh driver. Close the service to power the chip down
// and release the bus.
func openService() (*service.RecorderService, *isd.Driver, error) {
	geo, err := cfg.Geometry()
	if err != nil {
		return nil, nil, err
	}

	t, kind, err := backend.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	slog.Debug("Bus backend opened", "backend", kind, "model", cfg.Chip.Model)

	d := isd.New(t, isd.Config{
		Geometry: geo,
		Timing:   cfg.DriverTiming(),
		Logger:   slog.Default().With("component", "isd"),
	})

	opts := []service.Option{service.WithCloser(t.Close)}
	if cfg.Bus.TriggerPin != "" {
		opts = append(opts, service.WithTrigger(t))
	}
	return service.New(cfg, d, opts...), d, nil
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("address", "a", "", "start address in hex (e.g. 0x010)")
	cmd.Flags().IntP("duration", "d", 0, "duration in milliseconds")
	cmd.Flags().IntP("volume", "V", -1, "playback volume 0 (loudest) to 7 (quietest), overrides config")
}

type sessionArgs struct {
	address  uint16
	duration time.Duration
	volume   uint8
}

// readSessionFlags reads --address, --duration and --volume. The address
// defaults to the first message row.
func readSessionFlags(cmd *cobra.Command) (sessionArgs, error) {
	args := sessionArgs{address: isd.MinAddr, volume: cfg.Volume()}

	if v, _ := cmd.Flags().GetString("address"); v != "" {
		n, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(v), "0x"), 16, 16)
		if err != nil {
			return args, fmt.Errorf("invalid address '%s': %w", v, err)
		}
		args.address = uint16(n)
	}

	ms, _ := cmd.Flags().GetInt("duration")
	if ms < 0 {
		return args, fmt.Errorf("%w: %dms", service.ErrInvalidDuration, ms)
	}
	args.duration = time.Duration(ms) * time.Millisecond

	if vol, _ := cmd.Flags().GetInt("volume"); vol >= 0 {
		if vol > int(isd.MinVolume) {
			return args, fmt.Errorf("%w: %d", service.ErrInvalidVolume, vol)
		}
		args.volume = uint8(vol)
	}
	return args, nil
}

func printRecordResult(res *service.RecordResult) {
	console.Report(os.Stdout, res)
	fmt.Printf("Next free address: 0x%03X\n", res.Next)
}
