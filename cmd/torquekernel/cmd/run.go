package cmd

import (
	"github.com/spf13/cobra"

	"github.com/armadaproject/torquekernel/internal/kernelctl"
)

func runCmd(a *kernelctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Run a program as a batch job and print its output",
		Long:  `Run a program as a batch job, wait for it to finish and print its output. Use - to read the program from stdin.`,
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			code, err := a.Run(ctx, args[0])
			if err != nil {
				return err
			}
			exit(code)
			return nil
		},
	}
	return cmd
}
