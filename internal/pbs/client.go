package pbs

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/torquekernel/internal/common/logging"
	"github.com/armadaproject/torquekernel/internal/kernel/configuration"
)

// AllJobs is the wildcard accepted by Cancel.
const AllJobs = "all"

type SubmitRequest struct {
	ScriptPath string
	// Directory the job starts in on the compute node. Empty leaves the scheduler default.
	WorkingDir string
	StdoutPath string
	StderrPath string
}

// CommandResult is the outcome of a resource manager command that ran to completion.
type CommandResult struct {
	ExitCode int
	// Output is what the command wrote to stdout, Diagnostics what it wrote to stderr.
	Output      string
	Diagnostics string
}

// ResourceManager is the client side of a PBS style batch system.
type ResourceManager interface {
	// Submit queues a job script. A non-nil error means the command could not be run at all;
	// rejections by the scheduler are reported through a non-zero CommandResult.ExitCode.
	Submit(ctx context.Context, request SubmitRequest) (*CommandResult, error)
	// Status returns the raw full status report for jobId.
	Status(ctx context.Context, jobId string) (string, error)
	// Cancel deletes jobId, or every job of the user for AllJobs.
	Cancel(ctx context.Context, jobId string) error
}

// CommandClient talks to the resource manager by running qsub, qstat and qdel.
type CommandClient struct {
	config configuration.ResourceManagerConfiguration
	log    *log.Entry
}

func NewCommandClient(config configuration.ResourceManagerConfiguration, logger *log.Entry) *CommandClient {
	return &CommandClient{
		config: config,
		log:    logging.EntryOrNull(logger),
	}
}

func (c *CommandClient) Submit(ctx context.Context, request SubmitRequest) (*CommandResult, error) {
	args := []string{request.ScriptPath}
	if request.WorkingDir != "" {
		args = append(args, "-d", request.WorkingDir)
	}
	if request.StdoutPath != "" {
		args = append(args, "-o", request.StdoutPath)
	}
	if request.StderrPath != "" {
		args = append(args, "-e", request.StderrPath)
	}
	return c.run(ctx, c.config.SubmitCommand, args...)
}

func (c *CommandClient) Status(ctx context.Context, jobId string) (string, error) {
	result, err := c.run(ctx, c.config.StatusCommand, "-f", jobId)
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", errors.Errorf("%s -f %s exited with code %d: %s",
			c.config.StatusCommand, jobId, result.ExitCode, strings.TrimSpace(result.Diagnostics))
	}
	return result.Output, nil
}

func (c *CommandClient) Cancel(ctx context.Context, jobId string) error {
	result, err := c.run(ctx, c.config.CancelCommand, jobId)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return errors.Errorf("%s %s exited with code %d: %s",
			c.config.CancelCommand, jobId, result.ExitCode, strings.TrimSpace(result.Diagnostics))
	}
	return nil
}

func (c *CommandClient) run(ctx context.Context, command string, args ...string) (*CommandResult, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("resource manager command is not configured")
	}
	argv := append(fields[1:len(fields):len(fields)], args...)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, fields[0], argv...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.log.Debugf("running %s %s", fields[0], strings.Join(argv, " "))
	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, errors.Wrapf(ctxErr, "running %s", fields[0])
	}
	result := &CommandResult{
		Output:      stdout.String(),
		Diagnostics: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, errors.Wrapf(err, "running %s", fields[0])
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return result, nil
}
