package cmd

import (
	"github.com/spf13/cobra"

	"github.com/armadaproject/torquekernel/internal/common"
	"github.com/armadaproject/torquekernel/internal/kernelctl"
)

func cancelCmd(a *kernelctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <jobId|all>",
		Short: "Cancel a job, or all of your jobs",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := common.ContextWithDefaultTimeout()
			defer cancel()
			return a.Cancel(ctx, args[0])
		},
	}
	return cmd
}
