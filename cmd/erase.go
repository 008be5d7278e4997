package cmd

import (
	"fmt"

	"github.com/audiolibrelab/isdrec/internal/console"

	"github.com/spf13/cobra"
)

var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Erase all message memory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			c, err := console.Open()
			if err != nil {
				return err
			}
			ok, err := c.Confirm("Reset (erase) all memory for writing? (Y/N) ")
			c.Close()
			if err != nil || !ok {
				return err
			}
		}

		svc, _, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, stop := signalContext()
		defer stop()

		fmt.Println("Note that some memory locations may not be writable.")
		fmt.Println("Erasing all memory...")
		if err := svc.Erase(ctx); err != nil {
			return fmt.Errorf("erase failed: %w", err)
		}
		fmt.Println("Erase complete")
		return nil
	},
}

func init() {
	eraseCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
}
