package kernelctl

import (
	"context"
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/torquekernel/internal/kernel/configuration"
	"github.com/armadaproject/torquekernel/internal/kernel/repository"
	"github.com/armadaproject/torquekernel/internal/pbs"
)

// App is the torquekernel command line. Commands write their results to Out and progress to Err.
type App struct {
	Params *Params
	In     io.Reader
	Out    io.Writer
	Err    io.Writer
}

// Params are the settings shared by every command.
type Params struct {
	Config configuration.KernelConfiguration
	// Used instead of the qsub/qstat/qdel client when set.
	ResourceManager pbs.ResourceManager
	// Maximum number of executions serve runs at once. Zero means no limit.
	MaxConcurrentExecutions int
}

func New() *App {
	return &App{
		Params: &Params{},
		In:     os.Stdin,
		Out:    os.Stdout,
		Err:    os.Stderr,
	}
}

func (a *App) resourceManager() pbs.ResourceManager {
	if a.Params.ResourceManager != nil {
		return a.Params.ResourceManager
	}
	return pbs.NewCommandClient(a.Params.Config.ResourceManager, log.WithField("component", "resourceManager"))
}

func (a *App) repository(ctx context.Context) (repository.ExecutionRepository, func(), error) {
	return repository.NewExecutionRepository(ctx, a.Params.Config.Repository, log.WithField("component", "repository"))
}
