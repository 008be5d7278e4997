package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the chip and restore the default analogue path",
	Long: `Send STOP to the chip, clear its interrupt and restore feedthrough at the
quietest volume. Use it to recover a chip left recording or playing.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, d, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		if err := svc.Stop(); err != nil {
			return fmt.Errorf("stop failed: %w", err)
		}
		s, _, err := d.ReadStatus()
		if err != nil {
			return err
		}
		fmt.Printf("Stopped at address 0x%03X\n", s.Pointer())
		return nil
	},
}
