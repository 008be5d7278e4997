package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// rowsPerSecond is the nominal row rate at the 8 kHz sample rate.
const rowsPerSecond = 8

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show resolved configuration and chip geometry",
	Long:  `Display the resolved configuration with inheritance indicators and the message memory geometry of the selected chip. Shows which values are built in, inherited from default or profile-specific.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		geo, err := cfg.Geometry()
		if err != nil {
			return err
		}

		fmt.Printf("=== CHIP GEOMETRY ===\n")
		fmt.Printf("model: %s\n", cfg.Chip.Model)
		fmt.Printf("message rows: 0x%03X-0x%03X (%d rows)\n", geo.MinAddr, geo.MaxAddr, geo.Rows())
		fmt.Printf("capacity: ~%ds at 8 kHz\n", geo.Rows()/rowsPerSecond)

		fmt.Printf("\n=== RESOLVED CONFIGURATION (%s) ===\n", activeProfile)

		fmt.Printf("\n[Chip]\n")
		show("model", cfg.Chip.Model, "chip.model")
		show("max_addr", fmt.Sprintf("0x%03X", cfg.Chip.MaxAddr), "chip.max_addr")

		fmt.Printf("\n[Bus]\n")
		show("backend", cfg.Bus.Backend, "bus.backend")
		show("port", cfg.Bus.Port, "bus.port")
		show("clock_hz", cfg.Bus.ClockHz, "bus.clock_hz")
		show("interrupt_pin", cfg.Bus.InterruptPin, "bus.interrupt_pin")
		show("trigger_pin", cfg.Bus.TriggerPin, "bus.trigger_pin")

		fmt.Printf("\n[Timing]\n")
		show("power_up_delay", cfg.Timing.PowerUpDelay, "timing.power_up_delay")
		show("settle_delay", cfg.Timing.SettleDelay, "timing.settle_delay")
		show("poll_interval", cfg.Timing.PollInterval, "timing.poll_interval")
		show("erase_timeout", cfg.Timing.EraseTimeout, "timing.erase_timeout")

		fmt.Printf("\n[Session]\n")
		show("samples_per_row", cfg.Session.SamplesPerRow, "session.samples_per_row")
		show("max_duration", cfg.Session.MaxDuration, "session.max_duration")
		show("playback_volume", cfg.Volume(), "session.playback_volume")

		return nil
	},
}

func show(name string, value any, key string) {
	fmt.Printf("%s: %v %s\n", name, value, getInheritanceIndicator(cfg.Inheritance[key]))
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "builtin":
		return "[builtin]"
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	default:
		return "[unknown]"
	}
}
