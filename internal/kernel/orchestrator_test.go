package kernel

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/armadaproject/torquekernel/internal/kernel/configuration"
	"github.com/armadaproject/torquekernel/internal/kernel/repository"
	"github.com/armadaproject/torquekernel/internal/pbs"
	"github.com/armadaproject/torquekernel/internal/pbs/fake"
)

type recordingSink struct {
	mu        sync.Mutex
	stdout    strings.Builder
	stderr    strings.Builder
	events    int
	artifacts []*DisplayArtifact
}

func (s *recordingSink) Stream(channel Channel, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events++
	if channel == Stdout {
		s.stdout.WriteString(text)
	} else {
		s.stderr.WriteString(text)
	}
}

func (s *recordingSink) Display(artifact *DisplayArtifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events++
	s.artifacts = append(s.artifacts, artifact)
}

func testConfig(t *testing.T) configuration.KernelConfiguration {
	return configuration.KernelConfiguration{
		Mode:                     configuration.ModeTorque,
		Interpreter:              "regent",
		Launcher:                 "launch",
		ScratchRoot:              filepath.Join(t.TempDir(), "scratch"),
		CancelAllOnSubmitFailure: true,
		Resources: configuration.ResourceConfiguration{
			NodeCount:   1,
			CpuCount:    1,
			CacheSizeMB: 100,
		},
		Polling: configuration.PollingConfiguration{
			BaseDelay: time.Millisecond,
			MaxDelay:  2 * time.Millisecond,
		},
		Collection: configuration.CollectionConfiguration{MaxOutputSize: resource.MustParse("1Mi")},
		Workspace:  configuration.WorkspaceConfiguration{Retention: configuration.RetainOnFailure},
	}
}

// jobWritingOutput makes the fake resource manager behave like a job that printed stdout and stderr.
func jobWritingOutput(rm *fake.FakeResourceManager, stdout, stderr string) {
	rm.OnSubmit = func(request pbs.SubmitRequest, _ string) {
		_ = os.WriteFile(request.StdoutPath, []byte(stdout), 0o644)
		_ = os.WriteFile(request.StderrPath, []byte(stderr), 0o644)
	}
}

func workspaceCount(t *testing.T, root string) int {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	return len(entries)
}

func TestExecute_SucceededJob(t *testing.T) {
	config := testConfig(t)
	rm := fake.NewFakeResourceManager().
		QueueStatus(fake.StateReport("1.fake", "R")).
		QueueStatus(fake.StateReport("1.fake", "R")).
		QueueStatus(fake.CompletedReport("1.fake", 0))
	jobWritingOutput(rm, "hello\n", "")
	repo := repository.NewInMemoryExecutionRepository()
	sink := &recordingSink{}

	result := NewOrchestrator(config, rm, repo, nil, nil).
		Execute(context.Background(), ExecutionRequest{Code: "task main() end"}, sink)

	require.NoError(t, result.Err)
	assert.Equal(t, StatusOk, result.Status)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "1.fake", result.JobId)
	assert.Equal(t, "hello\n", result.Stdout)
	assert.Equal(t, repository.StateSucceeded, result.State)
	assert.Equal(t, "Submitted job 1.fake\n... finished.\nhello\n", sink.stdout.String())
	assert.Empty(t, sink.stderr.String())
	assert.Zero(t, workspaceCount(t, config.ScratchRoot))

	record, err := repo.Get(context.Background(), result.ExecutionId)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, repository.StateSucceeded, record.State)
	assert.Equal(t, "1.fake", record.JobId)
	assert.NotEmpty(t, record.Workspace)
}

func TestExecute_PayloadAndScriptReachTheJob(t *testing.T) {
	config := testConfig(t)
	rm := fake.NewFakeResourceManager().QueueStatus(fake.CompletedReport("1.fake", 0))
	var payload, script []byte
	rm.OnSubmit = func(request pbs.SubmitRequest, _ string) {
		script, _ = os.ReadFile(request.ScriptPath)
		payload, _ = os.ReadFile(filepath.Join(filepath.Dir(request.ScriptPath), PayloadFileName))
	}

	result := NewOrchestrator(config, rm, nil, nil, nil).
		Execute(context.Background(), ExecutionRequest{Code: "task main() end"}, nil)

	assert.Equal(t, StatusOk, result.Status)
	assert.Equal(t, "task main() end", string(payload))
	assert.Contains(t, string(script), "#PBS -l nodes=1:ppn=1\nlaunch regent ")
}

func TestExecute_SubmissionRejected(t *testing.T) {
	config := testConfig(t)
	rm := fake.NewFakeResourceManager()
	rm.SubmitResult = &pbs.CommandResult{ExitCode: 1}
	sink := &recordingSink{}

	result := NewOrchestrator(config, rm, nil, nil, nil).
		Execute(context.Background(), ExecutionRequest{Code: "task main() end"}, sink)

	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, 1, result.ExitCode)
	assert.Equal(t, repository.StateSubmissionFailed, result.State)
	var submitErr *pbs.ErrSubmissionFailed
	assert.ErrorAs(t, result.Err, &submitErr)
	assert.Zero(t, rm.StatusQueryCount())
	assert.Equal(t, []string{pbs.AllJobs}, rm.CancelledJobs())
	assert.Contains(t, sink.stderr.String(), "job submission failed with exit code 1")
	assert.Equal(t, 1, workspaceCount(t, config.ScratchRoot))
}

func TestExecute_FailedJobSkipsPostProcessing(t *testing.T) {
	config := testConfig(t)
	rm := fake.NewFakeResourceManager().QueueStatus(fake.CompletedReport("1.fake", 1))
	jobWritingOutput(rm, "partial\n", "error: bad region\n")
	postProcessor := &stubPostProcessor{artifact: &DisplayArtifact{}}
	orchestrator := NewOrchestrator(config, rm, nil, nil, nil)
	orchestrator.collector.postProcessor = postProcessor
	sink := &recordingSink{}

	result := orchestrator.Execute(context.Background(), ExecutionRequest{Code: "task main() end"}, sink)

	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, 1, result.ExitCode)
	assert.Equal(t, repository.StateFailed, result.State)
	var jobFailed *pbs.ErrJobFailed
	assert.ErrorAs(t, result.Err, &jobFailed)
	assert.Zero(t, postProcessor.calls)
	assert.Empty(t, sink.artifacts)
	assert.Equal(t, "Submitted job 1.fake\n. finished.\npartial\nExited with return code 1.\n", sink.stdout.String())
	assert.Equal(t, "error: bad region\n", sink.stderr.String())
	assert.Equal(t, 1, workspaceCount(t, config.ScratchRoot))
}

func TestExecute_ArtifactIsDisplayed(t *testing.T) {
	config := testConfig(t)
	rm := fake.NewFakeResourceManager().QueueStatus(fake.CompletedReport("1.fake", 0))
	jobWritingOutput(rm, "", "")
	artifact := &DisplayArtifact{MimeType: "text/html", Source: "LegionProf"}
	orchestrator := NewOrchestrator(config, rm, nil, nil, nil)
	orchestrator.collector.postProcessor = &stubPostProcessor{artifact: artifact}
	sink := &recordingSink{}

	result := orchestrator.Execute(context.Background(), ExecutionRequest{Code: "task main() end"}, sink)

	assert.Equal(t, StatusOk, result.Status)
	assert.Same(t, artifact, result.Artifact)
	assert.Equal(t, []*DisplayArtifact{artifact}, sink.artifacts)
}

func TestExecute_Silent(t *testing.T) {
	config := testConfig(t)
	rm := fake.NewFakeResourceManager()
	sink := &recordingSink{}

	result := NewOrchestrator(config, rm, nil, nil, nil).
		Execute(context.Background(), ExecutionRequest{Code: "task main() end", Silent: true}, sink)

	assert.Equal(t, &ExecutionResult{Status: StatusOk, State: repository.StateSucceeded}, result)
	assert.NoDirExists(t, config.ScratchRoot)
	assert.Empty(t, rm.Submitted)
	assert.Zero(t, sink.events)
}

func TestExecute_TimedOutJobKeepsWorkspace(t *testing.T) {
	config := testConfig(t)
	config.Polling.MaxWait = 20 * time.Millisecond
	config.Workspace.Retention = configuration.RetainNever
	rm := fake.NewFakeResourceManager().QueueStatus(fake.StateReport("1.fake", "R"))

	result := NewOrchestrator(config, rm, nil, nil, nil).
		Execute(context.Background(), ExecutionRequest{Code: "task main() end"}, nil)

	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, -1, result.ExitCode)
	assert.Equal(t, repository.StateTimedOut, result.State)
	var timedOut *pbs.ErrTimedOut
	assert.ErrorAs(t, result.Err, &timedOut)
	// The job is still running and will write into its workspace.
	assert.Equal(t, 1, workspaceCount(t, config.ScratchRoot))
}

func TestExecute_CancelledTimedOutJobFollowsRetention(t *testing.T) {
	config := testConfig(t)
	config.Polling.MaxWait = 20 * time.Millisecond
	config.Polling.CancelOnTimeout = true
	config.Workspace.Retention = configuration.RetainNever
	rm := fake.NewFakeResourceManager().QueueStatus(fake.StateReport("1.fake", "Q"))

	result := NewOrchestrator(config, rm, nil, nil, nil).
		Execute(context.Background(), ExecutionRequest{Code: "task main() end"}, nil)

	assert.Equal(t, repository.StateTimedOut, result.State)
	assert.Equal(t, []string{"1.fake"}, rm.CancelledJobs())
	assert.Zero(t, workspaceCount(t, config.ScratchRoot))
}

func TestExecute_AmbiguousCompletion(t *testing.T) {
	config := testConfig(t)
	rm := fake.NewFakeResourceManager().QueueStatus(fake.StateReport("1.fake", "C"))
	jobWritingOutput(rm, "program printed this\n", "and this\n")
	sink := &recordingSink{}

	result := NewOrchestrator(config, rm, nil, nil, nil).
		Execute(context.Background(), ExecutionRequest{Code: "task main() end"}, sink)

	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, -1, result.ExitCode)
	assert.Equal(t, repository.StateFailed, result.State)
	var ambiguous *pbs.ErrAmbiguousCompletion
	assert.ErrorAs(t, result.Err, &ambiguous)

	assert.Equal(t, "program printed this\n", result.Stdout)
	assert.Equal(t, "and this\n", result.Stderr)
	assert.Contains(t, sink.stdout.String(), " finished.\nprogram printed this\n")
	assert.Contains(t, sink.stderr.String(), "and this\n")
	assert.Contains(t, sink.stderr.String(), result.Err.Error())
	assert.Empty(t, sink.artifacts)
}

func TestExecute_WorkspaceIsActiveOnlyWhileRunning(t *testing.T) {
	config := testConfig(t)
	config.Workspace.Retention = configuration.RetainAlways
	rm := fake.NewFakeResourceManager().QueueStatus(fake.CompletedReport("1.fake", 0))
	orchestrator := NewOrchestrator(config, rm, nil, nil, nil)

	var workspace string
	var activeWhileRunning bool
	rm.OnSubmit = func(request pbs.SubmitRequest, _ string) {
		workspace = filepath.Base(filepath.Dir(request.StdoutPath))
		activeWhileRunning = orchestrator.Active(workspace)
	}

	result := orchestrator.Execute(context.Background(), ExecutionRequest{Code: "task main() end"}, nil)

	require.True(t, result.Ok())
	assert.True(t, activeWhileRunning)
	assert.False(t, orchestrator.Active(workspace))
	assert.DirExists(t, filepath.Join(config.ScratchRoot, workspace))
}

func TestExecute_ConcurrentExecutionsAreIsolated(t *testing.T) {
	config := testConfig(t)
	config.Workspace.Retention = configuration.RetainAlways
	rm := fake.NewFakeResourceManager().QueueStatus(fake.CompletedReport("1.fake", 0))
	orchestrator := NewOrchestrator(config, rm, nil, nil, nil)

	results := make([]*ExecutionResult, 8)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = orchestrator.Execute(context.Background(), ExecutionRequest{Code: "task main() end"}, nil)
		}(i)
	}
	wg.Wait()

	executionIds := map[string]bool{}
	for _, result := range results {
		executionIds[result.ExecutionId] = true
	}
	assert.Len(t, executionIds, 8)
	assert.Len(t, rm.Submitted, 8)
	assert.Equal(t, 8, workspaceCount(t, config.ScratchRoot))
}

func localInterpreter(t *testing.T, body string) string {
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "regent")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestExecute_LocalMode(t *testing.T) {
	config := testConfig(t)
	config.Mode = configuration.ModeLocal
	config.Interpreter = localInterpreter(t, `echo "ran $(basename "$1") $2 $3 $4 $5"`)
	rm := fake.NewFakeResourceManager()
	sink := &recordingSink{}

	result := NewOrchestrator(config, rm, nil, nil, nil).
		Execute(context.Background(), ExecutionRequest{Code: "task main() end"}, sink)

	require.NoError(t, result.Err)
	assert.Equal(t, StatusOk, result.Status)
	assert.Empty(t, result.JobId)
	assert.Equal(t, "ran program.rg -ll:cpu 1 -ll:csize 100\n", result.Stdout)
	assert.Equal(t, result.Stdout, sink.stdout.String())
	assert.Empty(t, rm.Submitted)
}

func TestExecute_LocalModeFailure(t *testing.T) {
	config := testConfig(t)
	config.Mode = configuration.ModeLocal
	config.Interpreter = localInterpreter(t, "echo 'syntax error' >&2; exit 3")
	sink := &recordingSink{}

	result := NewOrchestrator(config, nil, nil, nil, nil).
		Execute(context.Background(), ExecutionRequest{Code: "task main("}, sink)

	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "syntax error\n", result.Stderr)
	assert.Equal(t, "Exited with return code 3.\n", sink.stdout.String())
}

func TestExecute_LocalInterpreterMissing(t *testing.T) {
	config := testConfig(t)
	config.Mode = configuration.ModeLocal
	config.Interpreter = filepath.Join(t.TempDir(), "missing")

	result := NewOrchestrator(config, nil, nil, nil, nil).
		Execute(context.Background(), ExecutionRequest{Code: "task main() end"}, nil)

	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, -1, result.ExitCode)
	assert.Error(t, result.Err)
}
