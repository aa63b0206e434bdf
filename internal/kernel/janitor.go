package kernel

import (
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/armadaproject/torquekernel/internal/common/logging"
	"github.com/armadaproject/torquekernel/internal/common/task"
	"github.com/armadaproject/torquekernel/internal/common/util"
	"github.com/armadaproject/torquekernel/internal/kernel/configuration"
)

// Janitor removes retained workspaces, and the profiles rendered from them, once they are older than the
// retention period. Age is read from the ULID in the directory name; other directories are left alone, as
// are workspaces the active check reports as in use.
type Janitor struct {
	roots  []string
	config configuration.WorkspaceConfiguration
	active func(name string) bool
	clock  clock.Clock
	log    *log.Entry
}

// NewJanitor returns a Janitor. active may be nil when no executions run alongside it.
func NewJanitor(config configuration.KernelConfiguration, active func(name string) bool, clk clock.Clock, logger *log.Entry) *Janitor {
	if active == nil {
		active = func(string) bool { return false }
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	roots := []string{config.ScratchRoot}
	if config.Profiling.Enabled && config.Profiling.OutputRoot != "" {
		roots = append(roots, config.Profiling.OutputRoot)
	}
	return &Janitor{
		roots:  roots,
		config: config.Workspace,
		active: active,
		clock:  clk,
		log:    logging.EntryOrNull(logger),
	}
}

// Start registers a periodic sweep with taskManager. It does nothing when no retention period is configured.
func (j *Janitor) Start(taskManager *task.BackgroundTaskManager) {
	if j.config.RetentionPeriod <= 0 || j.config.JanitorInterval <= 0 {
		return
	}
	taskManager.Register(func() {
		if _, err := j.Sweep(); err != nil {
			j.log.WithError(err).Warn("workspace sweep incomplete")
		}
	}, j.config.JanitorInterval, "workspace_janitor")
}

// Sweep removes expired directories and returns how many it removed.
func (j *Janitor) Sweep() (int, error) {
	var result *multierror.Error
	removed := 0
	cutoff := j.clock.Now().Add(-j.config.RetentionPeriod)
	for _, root := range j.roots {
		root, err := homedir.Expand(root)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		entries, err := os.ReadDir(root)
		if os.IsNotExist(err) {
			continue
		} else if err != nil {
			result = multierror.Append(result, errors.WithStack(err))
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			created, err := util.ULIDTime(entry.Name())
			if err != nil || !created.Before(cutoff) {
				continue
			}
			if j.active(entry.Name()) {
				j.log.Debugf("workspace %s is older than the retention period but still in use", entry.Name())
				continue
			}
			dir := filepath.Join(root, entry.Name())
			if err := os.RemoveAll(dir); err != nil {
				result = multierror.Append(result, errors.WithStack(err))
				continue
			}
			j.log.Infof("removed expired workspace %s", dir)
			workspacesRemovedCounter.Inc()
			removed++
		}
	}
	return removed, result.ErrorOrNil()
}
