package cmd

import (
	"fmt"
	"os"

	"github.com/audiolibrelab/isdrec/internal/script"

	"github.com/spf13/cobra"
)

var scriptCmd = &cobra.Command{
	Use:   "script [file.lua]",
	Short: "Run a Lua script against the chip",
	Long: `Run a Lua script with the 'isd' module preloaded. The module exposes the
raw driver operations (init, record, play, stop, erase, wait_interrupt,
status, ...) for bench testing and custom sequences.

  isdrec script -e 'local isd = require("isd") isd.init() print(isd.status().pointer)'`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inline, _ := cmd.Flags().GetString("eval")
		if inline == "" && len(args) == 0 {
			return fmt.Errorf("no script given, pass a file or use -e")
		}

		svc, d, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, stop := signalContext()
		defer stop()

		r := script.New(d, cfg.Timing.PollInterval, os.Stdout)
		if inline != "" {
			return r.RunString(ctx, inline)
		}
		return r.RunFile(ctx, args[0])
	},
}

func init() {
	scriptCmd.Flags().StringP("eval", "e", "", "inline Lua source to run")
}
