package cmd

import (
	"fmt"

	"github.com/audiolibrelab/isdrec/internal/service"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play back a message",
	Long: `Play back from --address at --volume through the speaker output.
Playback runs until the end of the message memory, --duration milliseconds
when given, or Ctrl+C. Addresses outside the chip range play from the first row.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sa, err := readSessionFlags(cmd)
		if err != nil {
			return err
		}

		svc, _, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, stop := signalContext()
		defer stop()

		fmt.Println("Playing back audio...")
		res, err := svc.Play(ctx, service.PlayRequest{Address: sa.address, Volume: sa.volume, Duration: sa.duration})
		if err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		fmt.Printf("Stopped at address 0x%03X after %d milliseconds\n", res.End, res.Elapsed.Milliseconds())
		return nil
	},
}

func init() {
	addSessionFlags(playCmd)
}
