package cmd

import (
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/isdrec/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the isdrec web server to record, play and erase from a browser.
This allows you to drive the chip from your smartphone or any device on the same network.

The server will display the local network URL for easy access from mobile devices.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")

		svc, _, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		srv := server.New(svc, cfgFile, activeProfile, port)
		slog.Info("isdrec web server starting", "port", port, "config", cfgFile, "profile", activeProfile)

		// Start server (this blocks)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "8080", "port for the web server")
}
