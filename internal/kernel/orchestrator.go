package kernel

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/armadaproject/torquekernel/internal/common"
	"github.com/armadaproject/torquekernel/internal/common/logging"
	"github.com/armadaproject/torquekernel/internal/common/util"
	"github.com/armadaproject/torquekernel/internal/kernel/configuration"
	"github.com/armadaproject/torquekernel/internal/kernel/repository"
	"github.com/armadaproject/torquekernel/internal/pbs"
)

// Orchestrator runs execution requests end to end: workspace, submission, polling and collection in torque
// mode, or a direct run of the interpreter in local mode. It is safe for concurrent use; executions share
// nothing but the resource manager and the repository.
type Orchestrator struct {
	config         configuration.KernelConfiguration
	submitter      *pbs.Submitter
	poller         *pbs.Poller
	collector      *Collector
	localRunner    *LocalRunner
	localCollector *Collector
	repository     repository.ExecutionRepository
	clock          clock.Clock
	log            *log.Entry

	activeMu sync.Mutex
	// Names of the workspaces of executions still in progress.
	active map[string]struct{}
}

// NewOrchestrator wires an Orchestrator from config. repo may be nil, in which case executions are not
// recorded; clk may be nil for the real clock.
func NewOrchestrator(
	config configuration.KernelConfiguration,
	resourceManager pbs.ResourceManager,
	repo repository.ExecutionRepository,
	clk clock.Clock,
	logger *log.Entry,
) *Orchestrator {
	if clk == nil {
		clk = clock.RealClock{}
	}
	logger = logging.EntryOrNull(logger)

	var postProcessor PostProcessor
	if config.Profiling.Enabled {
		postProcessor = NewProfileRenderer(config.Profiling, logger)
	}
	return &Orchestrator{
		config:         config,
		submitter:      pbs.NewSubmitter(resourceManager, config, logger),
		poller:         pbs.NewPoller(resourceManager, config.Polling, clk, logger),
		collector:      NewCollector(config.Collection, postProcessor, logger),
		localRunner:    NewLocalRunner(config.Interpreter, config.LocalArgs, logger),
		localCollector: NewCollector(configuration.CollectionConfiguration{MaxOutputSize: config.Collection.MaxOutputSize}, nil, logger),
		repository:     repo,
		clock:          clk,
		log:            logger,
		active:         map[string]struct{}{},
	}
}

// Active reports whether the workspace called name belongs to an execution still in progress.
func (o *Orchestrator) Active(name string) bool {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()
	_, ok := o.active[name]
	return ok
}

func (o *Orchestrator) setActive(name string, active bool) {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()
	if active {
		o.active[name] = struct{}{}
	} else {
		delete(o.active, name)
	}
}

// execution tracks one request through its phases.
type execution struct {
	record    *repository.Execution
	workspace *Workspace
	sink      Sink
	log       *log.Entry
	// Set once a job may be running remotely beyond our control.
	jobOrphaned bool
}

// Execute runs request, streaming progress to sink, and always returns a result. sink may be nil.
func (o *Orchestrator) Execute(ctx context.Context, request ExecutionRequest, sink Sink) *ExecutionResult {
	if request.Silent {
		return &ExecutionResult{Status: StatusOk, State: repository.StateSucceeded}
	}
	if sink == nil {
		sink = discardSink{}
	}

	inflightExecutionsGauge.Inc()
	defer inflightExecutionsGauge.Dec()
	start := o.clock.Now()

	run := &execution{
		record: &repository.Execution{
			ExecutionId: util.NewUUID(),
			Created:     start,
		},
		sink: sink,
	}
	run.log = o.log.WithField("executionId", run.record.ExecutionId)

	var result *ExecutionResult
	if o.config.Mode == configuration.ModeLocal {
		result = o.executeLocally(ctx, request, run)
	} else {
		result = o.executeJob(ctx, request, run)
	}
	result.ExecutionId = run.record.ExecutionId

	o.finish(run, result)
	executionsCounter.WithLabelValues(o.mode(), string(result.State)).Inc()
	executionDurationHistogram.WithLabelValues(o.mode()).Observe(o.clock.Since(start).Seconds())
	return result
}

func (o *Orchestrator) executeJob(ctx context.Context, request ExecutionRequest, run *execution) *ExecutionResult {
	files, err := o.prepare(request, run, o.config.Profiling.Enabled)
	if err != nil {
		return o.fail(run, &ExecutionResult{}, repository.StateFailed, err)
	}

	jobId, err := o.submitter.Submit(ctx, files)
	if err != nil {
		result := &ExecutionResult{}
		var submitErr *pbs.ErrSubmissionFailed
		if errors.As(err, &submitErr) {
			result.Stdout, result.Stderr = submitErr.Output, submitErr.Diagnostics
			result.ExitCode = submitErr.ExitCode
			run.stream(Stdout, submitErr.Output)
		}
		return o.fail(run, result, repository.StateSubmissionFailed, err)
	}

	run.log = run.log.WithField("jobId", jobId)
	run.record.JobId = jobId
	o.record(run, repository.StateSubmitted)
	run.stream(Stdout, fmt.Sprintf("Submitted job %s\n", jobId))

	completion, err := o.poller.Poll(ctx, jobId, func(state pbs.PollState) {
		statusQueriesCounter.Inc()
		run.stream(Stdout, ".")
		if state == pbs.Running && run.record.State != repository.StateRunning {
			o.record(run, repository.StateRunning)
		}
	})
	var ambiguous *pbs.ErrAmbiguousCompletion
	if errors.As(err, &ambiguous) {
		// The job did end; its output is still worth showing even though its outcome is unknown.
		run.stream(Stdout, " finished.\n")
		result := o.collector.CollectOutput(ctx, run.workspace, jobId)
		o.streamOutput(run, result)
		return o.fail(run, result, repository.StateFailed, err)
	}
	if err != nil {
		run.stream(Stdout, "\n")
		state := repository.StateFailed
		var timedOut *pbs.ErrTimedOut
		if errors.As(err, &timedOut) {
			state = repository.StateTimedOut
			run.jobOrphaned = !timedOut.Cancelled
		} else if ctx.Err() != nil {
			run.jobOrphaned = true
		}
		return o.fail(run, &ExecutionResult{JobId: jobId}, state, err)
	}
	run.stream(Stdout, " finished.\n")

	return o.complete(run, o.collector.Collect(ctx, run.workspace, completion))
}

func (o *Orchestrator) executeLocally(ctx context.Context, request ExecutionRequest, run *execution) *ExecutionResult {
	files, err := o.prepare(request, run, false)
	if err != nil {
		return o.fail(run, &ExecutionResult{}, repository.StateFailed, err)
	}
	o.record(run, repository.StateRunning)

	exitCode, err := o.localRunner.Run(ctx, files)
	if err != nil {
		return o.fail(run, &ExecutionResult{}, repository.StateFailed, err)
	}
	return o.complete(run, o.localCollector.Collect(ctx, run.workspace, &pbs.Completion{ExitCode: exitCode}))
}

// prepare creates the workspace and writes the payload into it.
func (o *Orchestrator) prepare(request ExecutionRequest, run *execution, profile bool) (pbs.JobFiles, error) {
	workspace, err := NewWorkspace(o.config.ScratchRoot)
	if err != nil {
		return pbs.JobFiles{}, err
	}
	run.workspace = workspace
	o.setActive(workspace.Name, true)
	run.record.Workspace = workspace.Name
	run.log = run.log.WithField("workspace", workspace.Name)
	if _, err := workspace.WritePayload(request.Code); err != nil {
		return pbs.JobFiles{}, err
	}
	return workspace.JobFiles(profile), nil
}

// complete streams a collected result to the sink.
func (o *Orchestrator) complete(run *execution, result *ExecutionResult) *ExecutionResult {
	o.streamOutput(run, result)
	if !result.Ok() {
		run.stream(Stdout, fmt.Sprintf("Exited with return code %d.\n", result.ExitCode))
		result.State = repository.StateFailed
		run.record.ExitCode = result.ExitCode
		run.record.Error = errorText(result.Err)
		return result
	}
	if result.Artifact != nil {
		run.sink.Display(result.Artifact)
	}
	result.State = repository.StateSucceeded
	return result
}

func (o *Orchestrator) streamOutput(run *execution, result *ExecutionResult) {
	run.stream(Stdout, result.Stdout)
	run.stream(Stderr, result.Stderr)
	for _, warning := range result.Warnings {
		run.stream(Stderr, "Warning: "+warning+"\n")
	}
}

// fail turns err into an error result. Exit codes that would read as success are replaced by -1.
func (o *Orchestrator) fail(run *execution, result *ExecutionResult, state repository.ExecutionState, err error) *ExecutionResult {
	logging.WithStacktrace(run.log, err).Warn("execution failed")
	run.stream(Stderr, err.Error()+"\n")
	result.Status = StatusError
	result.Err = err
	result.State = state
	if result.ExitCode == 0 {
		result.ExitCode = -1
	}
	run.record.ExitCode = result.ExitCode
	run.record.Error = err.Error()
	return result
}

// finish applies the retention policy and records the final state. Neither may change the result.
func (o *Orchestrator) finish(run *execution, result *ExecutionResult) {
	var cleanupErr *multierror.Error
	if run.workspace != nil {
		defer o.setActive(run.workspace.Name, false)
		retain := Retain(o.config.Workspace.Retention, result.Ok()) || run.jobOrphaned
		if !retain {
			if err := run.workspace.Remove(); err != nil {
				cleanupErr = multierror.Append(cleanupErr, err)
			} else {
				workspacesRemovedCounter.Inc()
			}
		} else if !result.Ok() {
			run.log.Infof("workspace kept at %s", run.workspace.Dir)
		}
	}
	if err := o.upsert(run, result.State); err != nil {
		cleanupErr = multierror.Append(cleanupErr, errors.WithMessage(err, "recording execution"))
	}
	if err := cleanupErr.ErrorOrNil(); err != nil {
		run.log.WithError(err).Warn("cleanup after execution incomplete")
	}
}

// record is a best-effort progress update of the ledger.
func (o *Orchestrator) record(run *execution, state repository.ExecutionState) {
	if err := o.upsert(run, state); err != nil {
		logging.WithStacktrace(run.log, err).Warnf("failed to record execution state %s", state)
	}
}

func (o *Orchestrator) upsert(run *execution, state repository.ExecutionState) error {
	run.record.State = state
	run.record.Updated = o.clock.Now()
	if o.repository == nil {
		return nil
	}
	// The execution's context may be cancelled already; the ledger still needs the update.
	ctx, cancel := common.ContextWithDefaultTimeout()
	defer cancel()
	return o.repository.Upsert(ctx, run.record)
}

func (o *Orchestrator) mode() string {
	if o.config.Mode == configuration.ModeLocal {
		return configuration.ModeLocal
	}
	return configuration.ModeTorque
}

func (run *execution) stream(channel Channel, text string) {
	if text != "" {
		run.sink.Stream(channel, text)
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}
