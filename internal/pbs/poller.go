package pbs

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/armadaproject/torquekernel/internal/common/logging"
	"github.com/armadaproject/torquekernel/internal/kernel/configuration"
)

// cancelTimeout bounds the cancellation sent after a timeout, when the caller's context may already be done.
const cancelTimeout = 30 * time.Second

// Completion describes a job the resource manager reported as complete.
type Completion struct {
	JobId    string
	ExitCode int
	// The final status report for the job.
	Status JobStatus
	Polls  int
	Waited time.Duration
}

// Poller waits for jobs to complete by querying their status with exponential backoff.
type Poller struct {
	resourceManager ResourceManager
	config          configuration.PollingConfiguration
	clock           clock.Clock
	log             *log.Entry
}

func NewPoller(resourceManager ResourceManager, config configuration.PollingConfiguration, clk clock.Clock, logger *log.Entry) *Poller {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Poller{
		resourceManager: resourceManager,
		config:          config,
		clock:           clk,
		log:             logging.EntryOrNull(logger),
	}
}

// Poll blocks until jobId completes, MaxWait elapses or ctx is done. onPoll, if not nil, is called with the
// job's state after every successful status query.
//
// A completed job is returned as a Completion whatever its exit code. Failures are reported as
// *ErrTimedOut, *ErrQueryFailed, *ErrMalformedStatusReport or *ErrAmbiguousCompletion; cancellation of
// ctx is returned as the context's error.
func (p *Poller) Poll(ctx context.Context, jobId string, onPoll func(PollState)) (*Completion, error) {
	logger := p.log.WithField("jobId", jobId)
	start := p.clock.Now()
	var deadline time.Time
	if p.config.MaxWait > 0 {
		deadline = start.Add(p.config.MaxWait)
	}

	backoff := NewBackoff(p.config.BaseDelay, p.config.MaxDelay)
	polls := 0
	failures := 0
	for {
		if !deadline.IsZero() && !p.clock.Now().Before(deadline) {
			return nil, p.timedOut(jobId, start)
		}
		queryCtx, cancelQuery := p.queryContext(ctx, deadline)
		status, err := p.query(queryCtx, jobId)
		queryExpired := queryCtx.Err() != nil
		cancelQuery()
		polls++
		if err != nil {
			if ctx.Err() != nil {
				return nil, p.interrupted(ctx, jobId, start)
			}
			if queryExpired {
				logging.WithStacktrace(logger, err).Warn("status query still running at the maximum wait")
				return nil, p.timedOut(jobId, start)
			}
			var malformed *ErrMalformedStatusReport
			if errors.As(err, &malformed) {
				return nil, err
			}
			failures++
			if failures > p.config.MaxQueryRetries {
				return nil, &ErrQueryFailed{JobId: jobId, Attempts: failures, Err: err}
			}
			logging.WithStacktrace(logger, err).Warnf("status query failed (%d of %d tolerated)", failures, p.config.MaxQueryRetries)
		} else {
			failures = 0
			state, _ := status.State()
			pollState := PollStateFromJobState(state)
			if onPoll != nil {
				onPoll(pollState)
			}
			if pollState == Completed {
				return p.complete(jobId, status, polls, p.clock.Since(start))
			}
			logger.Debugf("job_state is %s after %d polls", state, polls)
		}

		wait := backoff.Next()
		if !deadline.IsZero() {
			remaining := deadline.Sub(p.clock.Now())
			if remaining <= 0 {
				return nil, p.timedOut(jobId, start)
			}
			if wait > remaining {
				wait = remaining
			}
		}
		select {
		case <-ctx.Done():
			return nil, p.interrupted(ctx, jobId, start)
		case <-p.clock.After(wait):
		}
	}
}

// queryContext bounds a status query by the poll deadline, so a hanging status command cannot outlast MaxWait.
func (p *Poller) queryContext(ctx context.Context, deadline time.Time) (context.Context, context.CancelFunc) {
	if deadline.IsZero() {
		return context.WithCancel(ctx)
	}
	// Measured on the poller's clock, enforced in real time.
	return context.WithTimeout(ctx, deadline.Sub(p.clock.Now()))
}

// query fetches and parses the status of jobId. Malformed reports are returned as *ErrMalformedStatusReport;
// every other error is worth retrying.
func (p *Poller) query(ctx context.Context, jobId string) (JobStatus, error) {
	report, err := p.resourceManager.Status(ctx, jobId)
	if err != nil {
		return nil, errors.WithMessagef(err, "querying status of job %s", jobId)
	}
	jobs, err := ParseStatusReport(report)
	if err != nil {
		return nil, err
	}
	status := selectJob(jobs, jobId)
	if status == nil {
		return nil, errors.Errorf("job %s is missing from its status report", jobId)
	}
	if _, ok := status.State(); !ok {
		return nil, &ErrMalformedStatusReport{Reason: "job " + jobId + " has no job_state"}
	}
	return status, nil
}

func (p *Poller) complete(jobId string, status JobStatus, polls int, waited time.Duration) (*Completion, error) {
	exitCode, ok, err := status.ExitStatus()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &ErrAmbiguousCompletion{JobId: jobId}
	}
	return &Completion{
		JobId:    jobId,
		ExitCode: exitCode,
		Status:   status,
		Polls:    polls,
		Waited:   waited,
	}, nil
}

// interrupted reports why ctx ended the wait. An expired deadline is a timeout like MaxWait; anything else is
// passed back to the caller as is.
func (p *Poller) interrupted(ctx context.Context, jobId string, start time.Time) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return p.timedOut(jobId, start)
	}
	return errors.Wrapf(ctx.Err(), "polling job %s", jobId)
}

func (p *Poller) timedOut(jobId string, start time.Time) error {
	timeoutErr := &ErrTimedOut{JobId: jobId, Waited: p.clock.Since(start)}
	if !p.config.CancelOnTimeout {
		return timeoutErr
	}
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if err := p.resourceManager.Cancel(ctx, jobId); err != nil {
		logging.WithStacktrace(p.log.WithField("jobId", jobId), err).Warn("failed to cancel job after timeout")
	} else {
		timeoutErr.Cancelled = true
	}
	return timeoutErr
}

// selectJob finds jobId among jobs. The server part of a job id may be reported differently from how qsub
// printed it (short or fully qualified host name), so a matching sequence number is accepted too.
func selectJob(jobs []JobStatus, jobId string) JobStatus {
	for _, job := range jobs {
		if job.JobId() == jobId {
			return job
		}
	}
	sequence := sequenceNumber(jobId)
	for _, job := range jobs {
		if sequenceNumber(job.JobId()) == sequence {
			return job
		}
	}
	if len(jobs) == 1 {
		if _, hasId := jobs[0][JobIdKey]; !hasId {
			return jobs[0]
		}
	}
	return nil
}

func sequenceNumber(jobId string) string {
	if idx := strings.Index(jobId, "."); idx >= 0 {
		return jobId[:idx]
	}
	return jobId
}
