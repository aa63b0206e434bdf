package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/armadaproject/torquekernel/internal/common"
	"github.com/armadaproject/torquekernel/internal/kernel/configuration"
	"github.com/armadaproject/torquekernel/internal/kernelctl"
)

const defaultConfigPath = "./config/torquekernel"

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "torquekernel",
		Short:        "torquekernel runs Regent programs as Torque batch jobs.",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringSlice("config", []string{}, "Fully qualified path to application configuration files (for multiple config files repeat this arg or separate paths with commas)")
	cmd.PersistentFlags().String("mode", "", "torque to submit batch jobs, local to run the interpreter directly")
	cmd.PersistentFlags().String("scratchRoot", "", "Parent directory of per-execution workspaces")

	cmd.AddCommand(
		runCmd(kernelctl.New()),
		serveCmd(kernelctl.New()),
		statusCmd(kernelctl.New()),
		cancelCmd(kernelctl.New()),
		historyCmd(kernelctl.New()),
		launchCmd(kernelctl.New()),
		versionCmd(kernelctl.New()),
	)

	return cmd
}

// initParams loads and validates the configuration shared by every command that talks to the resource manager.
func initParams(cmd *cobra.Command, params *kernelctl.Params) error {
	configFiles, err := cmd.Flags().GetStringSlice("config")
	if err != nil {
		return errors.Wrap(err, "error reading command line arguments")
	}
	common.LoadConfig(&params.Config, defaultConfigPath, configFiles, cmd.Flags())
	if err := configuration.ValidateKernelConfiguration(params.Config); err != nil {
		return err
	}
	return nil
}

// signalContext is cancelled on SIGINT and SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// exit ends the process with code once a command has reported its own outcome.
func exit(code int) {
	if code != 0 {
		os.Exit(code)
	}
}
