package cmd

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/audiolibrelab/isdrec/internal/backend"
	"github.com/audiolibrelab/isdrec/internal/bus"
	"github.com/audiolibrelab/isdrec/internal/isd"

	"github.com/spf13/cobra"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List SPI ports, GPIO pins and backends",
	Long:  `List the SPI ports and GPIO pins periph finds on this host, the bus backends a config can select and the known chip models.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("SPI host (%s/%s)\n", runtime.GOOS, runtime.GOARCH)
		fmt.Printf("═══════════════════════════════════════\n\n")

		ports, err := bus.Ports()
		if err != nil {
			slog.Warn("Could not enumerate SPI ports", "error", err)
		}
		fmt.Printf("SPI PORTS (%d found):\n", len(ports))
		for i, name := range ports {
			fmt.Printf("  %d. %s\n", i+1, name)
		}

		pins, err := bus.Pins()
		if err != nil {
			slog.Warn("Could not enumerate GPIO pins", "error", err)
		}
		fmt.Printf("\nGPIO PINS (%d found):\n", len(pins))
		for i, name := range pins {
			fmt.Printf("  %d. %s\n", i+1, name)
		}

		fmt.Printf("\nBACKENDS:\n")
		for _, b := range backend.GetAvailableBackends() {
			fmt.Printf("  - %s\n", b)
		}

		fmt.Printf("\nCHIP MODELS:\n")
		for _, m := range isd.Models() {
			geo, _ := isd.GeometryFor(m, 0)
			fmt.Printf("  - %s (0x%03X-0x%03X)\n", m, geo.MinAddr, geo.MaxAddr)
		}

		if cfg != nil {
			fmt.Printf("\nConfigured: backend=%s port=%q interrupt=%s\n", cfg.Bus.Backend, cfg.Bus.Port, cfg.Bus.InterruptPin)
		}
		return nil
	},
}
