package pbs

import (
	"fmt"
	"strings"
	"time"
)

// ErrSubmissionFailed is returned when the resource manager rejects a job script or accepts it without
// reporting a job id.
type ErrSubmissionFailed struct {
	ExitCode int
	// Whatever the submit command printed on stdout and stderr respectively.
	Output      string
	Diagnostics string
}

func (err *ErrSubmissionFailed) Error() string {
	msg := fmt.Sprintf("job submission failed with exit code %d", err.ExitCode)
	if err.ExitCode == 0 {
		msg = "job submission returned no job id"
	}
	if diagnostics := strings.TrimSpace(err.Diagnostics); diagnostics != "" {
		msg += ": " + diagnostics
	}
	return msg
}

// ErrQueryFailed is returned once status queries for a job have failed more times in a row than allowed.
type ErrQueryFailed struct {
	JobId    string
	Attempts int
	Err      error
}

func (err *ErrQueryFailed) Error() string {
	return fmt.Sprintf("status query for job %s failed %d times in a row: %s", err.JobId, err.Attempts, err.Err)
}

func (err *ErrQueryFailed) Unwrap() error {
	return err.Err
}

// ErrJobFailed reports a job that completed with a non-zero exit status. JobId is empty for programs run locally.
type ErrJobFailed struct {
	JobId    string
	ExitCode int
}

func (err *ErrJobFailed) Error() string {
	if err.JobId == "" {
		return fmt.Sprintf("program exited with return code %d", err.ExitCode)
	}
	return fmt.Sprintf("job %s exited with return code %d", err.JobId, err.ExitCode)
}

// ErrTimedOut is returned when a job is still queued or running once the maximum wait has elapsed.
type ErrTimedOut struct {
	JobId  string
	Waited time.Duration
	// Cancelled is true if the remote job was cancelled as a consequence.
	Cancelled bool
}

func (err *ErrTimedOut) Error() string {
	msg := fmt.Sprintf("job %s did not complete within %s", err.JobId, err.Waited.Round(time.Millisecond))
	if err.Cancelled {
		msg += "; the job has been cancelled"
	}
	return msg
}

// ErrPostProcessingFailed is never fatal: the program's output exists, only the rendered artifact is missing.
type ErrPostProcessingFailed struct {
	Step string
	Err  error
}

func (err *ErrPostProcessingFailed) Error() string {
	return fmt.Sprintf("post-processing step %s failed: %s", err.Step, err.Err)
}

func (err *ErrPostProcessingFailed) Unwrap() error {
	return err.Err
}

// ErrMalformedStatusReport is returned when a status report does not follow the qstat -f layout, or lacks
// attributes every known job must have.
type ErrMalformedStatusReport struct {
	Reason string
	// The offending line, if the problem can be pinned to one.
	Line string
}

func (err *ErrMalformedStatusReport) Error() string {
	if err.Line != "" {
		return fmt.Sprintf("malformed status report: %s: %q", err.Reason, err.Line)
	}
	return fmt.Sprintf("malformed status report: %s", err.Reason)
}

// ErrAmbiguousCompletion is returned for a job reported complete without an exit status. Such a job may
// have been deleted before it ran, so it is not assumed to have succeeded.
type ErrAmbiguousCompletion struct {
	JobId string
}

func (err *ErrAmbiguousCompletion) Error() string {
	return fmt.Sprintf("job %s completed without reporting an exit status", err.JobId)
}
