package cmd

import (
	"github.com/spf13/cobra"

	"github.com/armadaproject/torquekernel/internal/kernelctl"
)

func launchCmd(a *kernelctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launch -- <program> [args...]",
		Short: "Run a program on every node of the current Torque job",
		Long: `Run a program on every node of the current Torque job. Used inside job scripts: counts the hosts
in $PBS_NODEFILE and points GASNet's spawner at them before running the program.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			code, err := a.Launch(ctx, args)
			if err != nil {
				return err
			}
			exit(code)
			return nil
		},
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}
