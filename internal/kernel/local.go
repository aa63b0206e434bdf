package kernel

import (
	"context"
	"os"
	"os/exec"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/torquekernel/internal/common/logging"
	"github.com/armadaproject/torquekernel/internal/common/util"
	"github.com/armadaproject/torquekernel/internal/pbs"
)

// DefaultLocalArgs size the runtime for a single workstation core.
var DefaultLocalArgs = []string{"-ll:cpu", "1", "-ll:csize", "100"}

// LocalRunner runs the interpreter directly, without the resource manager, writing output where a batch
// job would.
type LocalRunner struct {
	interpreter string
	args        []string
	log         *log.Entry
}

func NewLocalRunner(interpreter string, args []string, logger *log.Entry) *LocalRunner {
	if len(args) == 0 {
		args = DefaultLocalArgs
	}
	return &LocalRunner{
		interpreter: interpreter,
		args:        args,
		log:         logging.EntryOrNull(logger),
	}
}

// Run executes the payload in files and returns its exit code. An error means the program could not be
// run to completion at all.
func (r *LocalRunner) Run(ctx context.Context, files pbs.JobFiles) (int, error) {
	stdout, err := os.Create(files.Stdout)
	if err != nil {
		return -1, errors.WithStack(err)
	}
	defer util.CloseResource(r.log, files.Stdout, stdout)
	stderr, err := os.Create(files.Stderr)
	if err != nil {
		return -1, errors.WithStack(err)
	}
	defer util.CloseResource(r.log, files.Stderr, stderr)

	cmd := exec.CommandContext(ctx, r.interpreter, append([]string{files.Payload}, r.args...)...)
	cmd.Dir = files.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	r.log.Debugf("running %s %s locally", r.interpreter, files.Payload)
	err = cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return -1, errors.Wrapf(ctxErr, "running %s", r.interpreter)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, errors.Wrapf(err, "running %s", r.interpreter)
	}
	return 0, nil
}
