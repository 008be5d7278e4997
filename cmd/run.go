package cmd

import (
	"fmt"
	"strings"

	"github.com/audiolibrelab/isdrec/internal/service"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute pipeline steps",
	Long: `Execute the specified pipeline steps in order. Use -p to specify which steps to run:
e erases the whole chip, r records from --address for --duration, p plays back
the last recording (or --address when nothing was recorded) at --volume.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if pipeline == "" {
			return fmt.Errorf("no pipeline specified, use -p flag (e.g., -p erp)")
		}
		sa, err := readSessionFlags(cmd)
		if err != nil {
			return err
		}
		if strings.ContainsRune(strings.ToLower(pipeline), 'r') && sa.duration == 0 {
			return fmt.Errorf("record step needs --duration")
		}

		svc, _, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, stop := signalContext()
		defer stop()

		steps := strings.ToLower(pipeline)
		req := service.RecordRequest{Address: sa.address, Duration: sa.duration}
		for i, step := range steps {
			fmt.Printf("Pipeline: executing step %d/%d: '%c'...\n", i+1, len(steps), step)
			if err := svc.RunPipeline(ctx, string(step), req, sa.volume); err != nil {
				return err
			}
			if step == 'r' {
				printRecordResult(svc.LastRecord())
			}
		}
		fmt.Println("Pipeline: completed")
		return nil
	},
}

func init() {
	addSessionFlags(runCmd)
}
