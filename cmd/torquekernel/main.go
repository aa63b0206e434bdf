package main

import (
	"os"

	"github.com/armadaproject/torquekernel/cmd/torquekernel/cmd"
	"github.com/armadaproject/torquekernel/internal/common"
)

func main() {
	common.ConfigureCommandLineLogging()
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
