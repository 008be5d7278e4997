package cmd

import (
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/isdrec/internal/service"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record from the analogue input",
	Long: `Record from the chip's analogue input starting at --address for --duration
milliseconds. Recording stops early at the end of memory or on Ctrl+C.
When a trigger pin is configured, recording starts on its rising edge.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sa, err := readSessionFlags(cmd)
		if err != nil {
			return err
		}
		if sa.duration == 0 {
			sa.duration = cfg.Session.MaxDuration
		}

		svc, _, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, stop := signalContext()
		defer stop()

		req := service.RecordRequest{Address: sa.address, Duration: sa.duration}
		slog.Info("Record command started", "address", fmt.Sprintf("%#03x", req.Address), "duration", req.Duration)
		if cfg.Bus.TriggerPin != "" {
			fmt.Println("Waiting for audio signal... ")
		}
		fmt.Println("Recording... Press Ctrl+C to stop")

		res, err := svc.Record(ctx, req)
		if err != nil {
			return fmt.Errorf("recording failed: %w", err)
		}
		printRecordResult(res)

		return executePipeline(ctx, svc, 'r', req, sa.volume)
	},
}

func init() {
	addSessionFlags(recordCmd)
}
