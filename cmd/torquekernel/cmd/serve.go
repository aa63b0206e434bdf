package cmd

import (
	"github.com/spf13/cobra"

	"github.com/armadaproject/torquekernel/internal/common"
	"github.com/armadaproject/torquekernel/internal/kernelctl"
)

func serveCmd(a *kernelctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Execute requests read from stdin, writing events to stdout",
		Long: `Read execution requests from stdin, one JSON object per line ({"id": "...", "code": "...", "silent": false}),
and write the events of each execution to stdout as JSON lines. Requests are executed concurrently.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			common.ConfigureLogging()
			if err := initParams(cmd, a.Params); err != nil {
				return err
			}
			maxConcurrent, err := cmd.Flags().GetInt("max-concurrent")
			if err != nil {
				return err
			}
			a.Params.MaxConcurrentExecutions = maxConcurrent
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			return a.Serve(ctx)
		},
	}
	cmd.Flags().Int("max-concurrent", 8, "Maximum number of executions in flight; 0 means no limit")
	return cmd
}
