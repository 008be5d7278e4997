package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/audiolibrelab/isdrec/internal/bus"
	"github.com/audiolibrelab/isdrec/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfg           *config.Config
	cfgFile       string
	pipeline      string
	profile       string
	activeProfile string
	verboseLevel  int
)

var rootCmd = &cobra.Command{
	Use:   "isdrec",
	Short: "Record and play back messages on an ISD1700 voice chip",
	Long: `isdrec drives an ISD1700-series record/playback chip over SPI.

It records audio from the chip's analogue input into a chosen memory
address for a chosen duration, reports where the message ended and the
estimated sample rate, and plays messages back at a chosen volume.

Without a subcommand, 'isdrec -p erp' acts as 'isdrec run -p erp'.`,
	Args: cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verboseLevel)

		// Listing ports needs no config unless one is given explicitly
		if cmd.Name() == "ports" && cfgFile == "" {
			return nil
		}

		explicit := cfgFile != ""
		if !explicit {
			cfgFile = config.DefaultPath()
		}

		if _, err := os.Stat(cfgFile); errors.Is(err, os.ErrNotExist) && !explicit {
			if profile != "" {
				return fmt.Errorf("profile '%s' requested but no config file at %s", profile, cfgFile)
			}
			slog.Debug("No config file, using built-in configuration", "path", cfgFile)
			cfg = config.Default()
			activeProfile = config.ActiveProfileName("", "")
			cfgFile = ""
		} else {
			var err error
			cfg, err = config.LoadWithProfile(cfgFile, profile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			activeProfile = config.ActiveProfileName(cfgFile, profile)
		}

		return validatePipeline()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if pipeline != "" {
			return runCmd.RunE(cmd, args)
		}
		return cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/isdrec.yaml)")
	rootCmd.PersistentFlags().StringVarP(&pipeline, "pipeline", "p", "", "pipeline steps: e=erase, r=record, p=play (e.g., 'erp', 'rp', 'p')")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=bus frame tracing")

	addSessionFlags(rootCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(eraseCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(scriptCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(infoCmd)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	var slogLevel slog.Level
	switch {
	case level <= 0:
		slogLevel = slog.LevelInfo
	case level == 1:
		slogLevel = slog.LevelDebug
	default:
		// Level 2 and above also logs every bus frame
		slogLevel = bus.LevelTrace
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)
}
