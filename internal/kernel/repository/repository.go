package repository

import (
	"context"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/torquekernel/internal/kernel/configuration"
)

type ExecutionState string

const (
	StateSubmitted        ExecutionState = "SUBMITTED"
	StateRunning          ExecutionState = "RUNNING"
	StateSucceeded        ExecutionState = "SUCCEEDED"
	StateFailed           ExecutionState = "FAILED"
	StateTimedOut         ExecutionState = "TIMED_OUT"
	StateSubmissionFailed ExecutionState = "SUBMISSION_FAILED"
)

func (s ExecutionState) Terminal() bool {
	return s != StateSubmitted && s != StateRunning
}

// Execution is the ledger entry for one executed program.
type Execution struct {
	ExecutionId string
	// Name of the scratch workspace, empty for silent requests.
	Workspace string
	// Empty until the resource manager has accepted the job, and for local executions.
	JobId    string
	State    ExecutionState
	ExitCode int
	Error    string
	Created  time.Time
	Updated  time.Time
}

// ExecutionRepository records executions so that they can be inspected after the fact. Implementations are
// safe for concurrent use.
type ExecutionRepository interface {
	Setup(ctx context.Context) error
	// Upsert inserts execution, or replaces the entry with the same ExecutionId.
	Upsert(ctx context.Context, execution *Execution) error
	// Get returns the execution with the given id, or nil if there is none.
	Get(ctx context.Context, executionId string) (*Execution, error)
	// List returns up to limit executions, most recently created first. A limit <= 0 means no limit.
	List(ctx context.Context, limit int) ([]*Execution, error)
	HealthCheck(ctx context.Context) (bool, error)
}

// NewExecutionRepository opens the repository described by config and sets it up. The returned function
// releases it.
func NewExecutionRepository(ctx context.Context, config configuration.RepositoryConfiguration, logger *log.Entry) (ExecutionRepository, func(), error) {
	var repo ExecutionRepository
	cleanup := func() {}
	switch config.Type {
	case configuration.RepositoryMemory, "":
		repo = NewInMemoryExecutionRepository()
	case configuration.RepositorySQLite:
		path, err := homedir.Expand(config.DatabasePath)
		if err != nil {
			return nil, cleanup, errors.WithStack(err)
		}
		sqliteRepo, closeDb, err := NewSQLiteExecutionRepository(path, logger)
		if err != nil {
			return nil, cleanup, err
		}
		repo, cleanup = sqliteRepo, closeDb
	default:
		return nil, cleanup, errors.Errorf("unknown repository type %q", config.Type)
	}
	if err := repo.Setup(ctx); err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return repo, cleanup, nil
}
