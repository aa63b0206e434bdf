package pbs

import (
	"context"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/torquekernel/internal/common/logging"
	"github.com/armadaproject/torquekernel/internal/kernel/configuration"
)

// JobFiles are the paths one job reads and writes. All of them live in the job's scratch workspace.
type JobFiles struct {
	Dir     string
	Payload string
	Script  string
	Stdout  string
	Stderr  string
	// Empty when the job is not profiled.
	ProfileLog string
}

// Submitter turns a payload into a queued job.
type Submitter struct {
	resourceManager ResourceManager
	config          configuration.KernelConfiguration
	launcher        string
	log             *log.Entry
}

func NewSubmitter(resourceManager ResourceManager, config configuration.KernelConfiguration, logger *log.Entry) *Submitter {
	return &Submitter{
		resourceManager: resourceManager,
		config:          config,
		launcher:        ResolveLauncher(config.Launcher),
		log:             logging.EntryOrNull(logger),
	}
}

// ResolveLauncher returns launcher, or "<this executable> launch --" when launcher is empty.
func ResolveLauncher(launcher string) string {
	if launcher != "" {
		return launcher
	}
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return exe + " launch --"
}

// Submit writes the job script for files and queues it, returning the job id assigned by the resource manager.
// Failures are reported as *ErrSubmissionFailed.
func (s *Submitter) Submit(ctx context.Context, files JobFiles) (string, error) {
	script := JobScript{
		Name:           s.config.Resources.JobName,
		Launcher:       s.launcher,
		Interpreter:    s.config.Interpreter,
		PayloadPath:    files.Payload,
		Resources:      s.config.Resources,
		ProfileNodes:   s.config.Profiling.Nodes,
		ProfileLogPath: files.ProfileLog,
	}
	text, err := script.Render()
	if err != nil {
		return "", &ErrSubmissionFailed{ExitCode: -1, Diagnostics: err.Error()}
	}
	if err := os.WriteFile(files.Script, []byte(text), 0o755); err != nil {
		return "", &ErrSubmissionFailed{ExitCode: -1, Diagnostics: errors.Wrap(err, "writing job script").Error()}
	}

	workingDir, err := homedir.Expand(s.config.ResourceManager.WorkingDir)
	if err != nil {
		return "", &ErrSubmissionFailed{ExitCode: -1, Diagnostics: errors.Wrap(err, "expanding working directory").Error()}
	}

	result, err := s.resourceManager.Submit(ctx, SubmitRequest{
		ScriptPath: files.Script,
		WorkingDir: workingDir,
		StdoutPath: files.Stdout,
		StderrPath: files.Stderr,
	})
	if err != nil {
		return "", &ErrSubmissionFailed{ExitCode: -1, Diagnostics: err.Error()}
	}

	jobId := strings.TrimSpace(result.Output)
	if result.ExitCode == 0 && jobId != "" {
		s.log.WithField("jobId", jobId).Infof("submitted %s", files.Script)
		return jobId, nil
	}

	submitErr := &ErrSubmissionFailed{
		ExitCode:    result.ExitCode,
		Output:      result.Output,
		Diagnostics: result.Diagnostics,
	}
	if result.ExitCode != 0 && s.config.CancelAllOnSubmitFailure {
		s.cancelAll(ctx)
	}
	return "", submitErr
}

// cancelAll is best effort: the submission error is what the caller needs to see.
func (s *Submitter) cancelAll(ctx context.Context) {
	if err := s.resourceManager.Cancel(ctx, AllJobs); err != nil {
		logging.WithStacktrace(s.log, err).Warn("failed to cancel jobs after rejected submission")
	}
}
