package configuration

import (
	"fmt"

	commonconfig "github.com/armadaproject/torquekernel/internal/common/config"
)

func ValidateKernelConfiguration(config KernelConfiguration) error {
	if err := commonconfig.Validate(config); err != nil {
		return err
	}
	if config.Polling.BaseDelay <= 0 {
		return fmt.Errorf("polling.baseDelay must be positive, got %s", config.Polling.BaseDelay)
	}
	if config.Polling.MaxDelay < config.Polling.BaseDelay {
		return fmt.Errorf("polling.maxDelay (%s) must not be less than polling.baseDelay (%s)", config.Polling.MaxDelay, config.Polling.BaseDelay)
	}
	if config.Polling.MaxWait < 0 {
		return fmt.Errorf("polling.maxWait must not be negative, got %s", config.Polling.MaxWait)
	}
	if config.Collection.MaxOutputSize.Sign() <= 0 {
		return fmt.Errorf("collection.maxOutputSize must be positive, got %s", config.Collection.MaxOutputSize.String())
	}
	if config.Profiling.Enabled && (config.Profiling.Tool == "" || config.Profiling.OutputRoot == "") {
		return fmt.Errorf("profiling.tool and profiling.outputRoot are required when profiling is enabled")
	}
	if config.Repository.Type == RepositorySQLite && config.Repository.DatabasePath == "" {
		return fmt.Errorf("repository.databasePath is required for the sqlite repository")
	}
	return nil
}
