package cmd

import (
	"github.com/audiolibrelab/isdrec/internal/console"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Interactive record and playback session",
	Long: `Prompt for a start address and duration, record, report where the message
ended with the estimated sample rate, then play it back at volumes chosen
from the keyboard. Enter any other volume to record again, Ctrl+D to quit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		once, _ := cmd.Flags().GetBool("once")

		geo, err := cfg.Geometry()
		if err != nil {
			return err
		}

		svc, _, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		c, err := console.Open()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, stop := signalContext()
		defer stop()

		return console.RunSession(ctx, c, svc, console.SessionOptions{
			Geometry:    geo,
			MaxDuration: cfg.Session.MaxDuration,
			Trigger:     cfg.Bus.TriggerPin != "",
			Once:        once,
		})
	},
}

func init() {
	sessionCmd.Flags().Bool("once", false, "stop after the first recording")
}
