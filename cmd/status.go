package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Read the chip status registers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, d, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		if wake, _ := cmd.Flags().GetBool("init"); wake {
			ctx, stop := signalContext()
			defer stop()
			if err := d.Initialize(ctx); err != nil {
				return err
			}
		}

		rep, err := svc.Status()
		if err != nil {
			return err
		}
		sr0, sr1, err := d.ReadStatus()
		if err != nil {
			return err
		}
		_, next, err := d.RecordPointer()
		if err != nil {
			return err
		}

		fmt.Printf("=== CHIP STATUS ===\n")
		fmt.Printf("model: %s (0x%03X-0x%03X)\n", cfg.Chip.Model, rep.MinAddr, rep.MaxAddr)
		fmt.Printf("sr0: %s\n", sr0)
		fmt.Printf("pointer: 0x%03X\n", sr0.Pointer())
		fmt.Printf("record_pointer: 0x%03X\n", next)
		fmt.Printf("ready: %t erasing: %t playing: %t recording: %t\n",
			sr1.Ready(), sr1.Erasing(), sr1.Playing(), sr1.Recording())
		fmt.Printf("driver: power=%s activity=%s feedthrough=%t volume=%d\n",
			rep.Chip.Power, rep.Chip.Activity, rep.Chip.Feedthrough, rep.Chip.Volume)
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("init", false, "power up and initialize the chip before reading")
}
