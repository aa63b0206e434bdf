package cmd

import (
	"github.com/spf13/cobra"

	"github.com/armadaproject/torquekernel/internal/common"
	"github.com/armadaproject/torquekernel/internal/kernelctl"
)

func historyCmd(a *kernelctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent executions",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := cmd.Flags().GetInt("limit")
			if err != nil {
				return err
			}
			ctx, cancel := common.ContextWithDefaultTimeout()
			defer cancel()
			return a.History(ctx, limit)
		},
	}
	cmd.Flags().Int("limit", 20, "Number of executions to list; 0 lists all of them")
	return cmd
}
