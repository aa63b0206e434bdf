package cmd

import (
	"github.com/spf13/cobra"

	"github.com/armadaproject/torquekernel/internal/common"
	"github.com/armadaproject/torquekernel/internal/kernelctl"
)

func statusCmd(a *kernelctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <jobId>",
		Short: "Print the status the resource manager reports for a job",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := common.ContextWithDefaultTimeout()
			defer cancel()
			return a.Status(ctx, args[0])
		},
	}
	return cmd
}
