package repository

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/armadaproject/torquekernel/internal/common/logging"
	"github.com/armadaproject/torquekernel/internal/common/util"
)

// SQLiteExecutionRepository persists executions in a single SQLite table.
type SQLiteExecutionRepository struct {
	db *sql.DB
	// SQLite only allows one writer at a time; serialising writes here avoids SQLITE_BUSY.
	writeLock sync.Mutex
}

func NewSQLiteExecutionRepository(databasePath string, logger *log.Entry) (*SQLiteExecutionRepository, func(), error) {
	logger = logging.EntryOrNull(logger)
	if err := os.MkdirAll(filepath.Dir(databasePath), 0o755); err != nil {
		return nil, func() {}, errors.Wrapf(err, "creating directory for sqlite database %s", databasePath)
	}
	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		return nil, func() {}, errors.Wrapf(err, "opening sqlite database %s", databasePath)
	}
	logger.Debugf("opened sqlite database %s", databasePath)
	return &SQLiteExecutionRepository{db: db}, func() {
		util.CloseResource(logger, "sqlite database "+databasePath, db)
	}, nil
}

// Setup creates the executions table if it does not exist yet. Existing entries are kept.
func (r *SQLiteExecutionRepository) Setup(ctx context.Context) error {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	if _, err := r.db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return errors.WithStack(err)
	}
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS executions (
		ExecutionId TEXT,
		Workspace TEXT,
		JobId TEXT,
		State TEXT,
		ExitCode INT,
		Error TEXT,
		Created INT,
		Updated INT,
		PRIMARY KEY(ExecutionId))`)
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = r.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_executions_created ON executions (Created)")
	return errors.WithStack(err)
}

func (r *SQLiteExecutionRepository) Upsert(ctx context.Context, execution *Execution) error {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	_, err := r.db.ExecContext(ctx, "INSERT OR REPLACE INTO executions VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		execution.ExecutionId, execution.Workspace, execution.JobId, string(execution.State),
		execution.ExitCode, execution.Error, execution.Created.UnixNano(), execution.Updated.UnixNano())
	return errors.WithStack(err)
}

func (r *SQLiteExecutionRepository) Get(ctx context.Context, executionId string) (*Execution, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT ExecutionId, Workspace, JobId, State, ExitCode, Error, Created, Updated FROM executions WHERE ExecutionId = ?",
		executionId)
	execution, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, errors.WithStack(err)
	}
	return execution, nil
}

func (r *SQLiteExecutionRepository) List(ctx context.Context, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT ExecutionId, Workspace, JobId, State, ExitCode, Error, Created, Updated FROM executions "+
			"ORDER BY Created DESC, ExecutionId DESC LIMIT ?", limit)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return executions, errors.WithStack(err)
		}
		executions = append(executions, execution)
	}
	return executions, errors.WithStack(rows.Err())
}

func (r *SQLiteExecutionRepository) HealthCheck(ctx context.Context) (bool, error) {
	var col int
	if err := r.db.QueryRowContext(ctx, "SELECT 1").Scan(&col); err != nil {
		return false, errors.Wrap(err, "SQL health check failed")
	}
	return true, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row scanner) (*Execution, error) {
	var execution Execution
	var state string
	var created, updated int64
	err := row.Scan(&execution.ExecutionId, &execution.Workspace, &execution.JobId, &state,
		&execution.ExitCode, &execution.Error, &created, &updated)
	if err != nil {
		return nil, err
	}
	execution.State = ExecutionState(state)
	execution.Created = time.Unix(0, created)
	execution.Updated = time.Unix(0, updated)
	return &execution, nil
}
