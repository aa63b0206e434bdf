package kernelctl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/armadaproject/torquekernel/internal/kernel"
	"github.com/armadaproject/torquekernel/internal/kernel/configuration"
	"github.com/armadaproject/torquekernel/internal/pbs"
	"github.com/armadaproject/torquekernel/internal/pbs/fake"
)

type testApp struct {
	*App
	rm     *fake.FakeResourceManager
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newTestApp(t *testing.T) *testApp {
	rm := fake.NewFakeResourceManager()
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	app := &App{
		Params: &Params{
			ResourceManager: rm,
			Config: configuration.KernelConfiguration{
				Mode:        configuration.ModeTorque,
				Interpreter: "regent",
				Launcher:    "launch",
				ScratchRoot: filepath.Join(t.TempDir(), "scratch"),
				Resources:   configuration.ResourceConfiguration{NodeCount: 1, CpuCount: 1, CacheSizeMB: 100},
				Polling:     configuration.PollingConfiguration{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
				Collection:  configuration.CollectionConfiguration{MaxOutputSize: resource.MustParse("1Mi")},
				Workspace:   configuration.WorkspaceConfiguration{Retention: configuration.RetainOnFailure},
				Repository:  configuration.RepositoryConfiguration{Type: configuration.RepositoryMemory},
			},
		},
		In:  strings.NewReader(""),
		Out: stdout,
		Err: stderr,
	}
	return &testApp{App: app, rm: rm, stdout: stdout, stderr: stderr}
}

// printing makes every submitted job write stdout.
func (a *testApp) printing(stdout string) *testApp {
	a.rm.OnSubmit = func(request pbs.SubmitRequest, _ string) {
		_ = os.WriteFile(request.StdoutPath, []byte(stdout), 0o644)
		_ = os.WriteFile(request.StderrPath, nil, 0o644)
	}
	return a
}

func writeProgram(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "hello.rg")
	require.NoError(t, os.WriteFile(path, []byte("task main() end\n"), 0o644))
	return path
}

func TestVersion(t *testing.T) {
	app := newTestApp(t)

	require.NoError(t, app.Version())

	for _, s := range []string{"Version:", "Commit:", "Go version:", "Built:"} {
		assert.Contains(t, app.stdout.String(), s)
	}
}

func TestRun_File(t *testing.T) {
	app := newTestApp(t).printing("hello\n")
	app.rm.QueueStatus(fake.CompletedReport("1.fake", 0))

	code, err := app.Run(context.Background(), writeProgram(t))
	require.NoError(t, err)
	assert.Zero(t, code)
	assert.Equal(t, "Submitted job 1.fake\n. finished.\nhello\n", app.stdout.String())
	assert.Empty(t, app.stderr.String())
}

func TestRun_StdinWithFailingJob(t *testing.T) {
	app := newTestApp(t).printing("")
	app.In = strings.NewReader("task main() end\n")
	app.rm.QueueStatus(fake.CompletedReport("1.fake", 2))

	code, err := app.Run(context.Background(), "-")
	require.NoError(t, err)
	assert.Equal(t, 2, code)
	assert.Contains(t, app.stdout.String(), "Exited with return code 2.\n")
	require.Len(t, app.rm.Submitted, 1)
}

func TestRun_RejectedSubmission(t *testing.T) {
	app := newTestApp(t)
	app.rm.SubmitResult = &pbs.CommandResult{ExitCode: 1, Diagnostics: "qsub: Unknown queue"}

	code, err := app.Run(context.Background(), writeProgram(t))
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.Contains(t, app.stderr.String(), "qsub: Unknown queue")
}

func TestRun_MissingFile(t *testing.T) {
	app := newTestApp(t)

	code, err := app.Run(context.Background(), filepath.Join(t.TempDir(), "missing.rg"))
	assert.Error(t, err)
	assert.Equal(t, 1, code)
	assert.Empty(t, app.rm.Submitted)
}

func readEvents(t *testing.T, output string) []Event {
	var events []Event
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		var event Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event), scanner.Text())
		events = append(events, event)
	}
	return events
}

func TestServe(t *testing.T) {
	app := newTestApp(t).printing("hello\n")
	app.rm.QueueStatus(fake.CompletedReport("1.fake", 0))
	app.In = strings.NewReader(strings.Join([]string{
		`{"id": "cell-1", "code": "task main() end"}`,
		`not json`,
		``,
		`{"id": "cell-2", "code": "task main() end", "silent": true}`,
	}, "\n"))

	require.NoError(t, app.Serve(context.Background()))

	var stdout strings.Builder
	results := map[string]Event{}
	errorEvents := 0
	for _, event := range readEvents(t, app.stdout.String()) {
		switch event.Type {
		case EventStream:
			require.Equal(t, "cell-1", event.Id)
			if event.Channel == kernel.Stdout {
				stdout.WriteString(event.Text)
			}
		case EventResult:
			results[event.Id] = event
		case EventError:
			errorEvents++
			assert.Contains(t, event.Error, "malformed request")
		}
	}

	assert.Equal(t, 1, errorEvents)
	assert.Equal(t, "Submitted job 1.fake\n. finished.\nhello\n", stdout.String())
	require.Contains(t, results, "cell-1")
	assert.Equal(t, kernel.StatusOk, results["cell-1"].Status)
	assert.Equal(t, "1.fake", results["cell-1"].JobId)
	assert.NotEmpty(t, results["cell-1"].ExecutionId)
	require.Contains(t, results, "cell-2")
	assert.Equal(t, kernel.StatusOk, results["cell-2"].Status)
	assert.Empty(t, results["cell-2"].ExecutionId)
	assert.Len(t, app.rm.Submitted, 1)
}

func TestServe_AssignsRequestIds(t *testing.T) {
	app := newTestApp(t)
	app.In = strings.NewReader(`{"code": "task main() end", "silent": true}` + "\n")

	require.NoError(t, app.Serve(context.Background()))

	events := readEvents(t, app.stdout.String())
	require.Len(t, events, 1)
	assert.Equal(t, EventResult, events[0].Type)
	assert.Len(t, events[0].Id, 36)
}

func TestStatus(t *testing.T) {
	app := newTestApp(t)
	app.rm.QueueStatus(fake.Report("1.head", "queue", "batch", "job_state", "R", "exit_status", "0"))

	require.NoError(t, app.Status(context.Background(), "1.head"))

	out := app.stdout.String()
	assert.Regexp(t, regexp.MustCompile(`Job Id:\s+1\.head\n`), out)
	assert.Regexp(t, regexp.MustCompile(`State:\s+Running\n`), out)
	exitStatus := strings.Index(out, "exit_status:")
	jobState := strings.Index(out, "job_state:")
	queue := strings.Index(out, "queue:")
	assert.True(t, exitStatus > 0 && exitStatus < jobState && jobState < queue, out)
	assert.NotContains(t, out, "job_id:")
}

func TestStatus_Errors(t *testing.T) {
	app := newTestApp(t)
	assert.Error(t, app.Status(context.Background(), "1.head"))

	app.rm.QueueStatus("    job_state = R\n")
	err := app.Status(context.Background(), "1.head")
	var malformed *pbs.ErrMalformedStatusReport
	assert.ErrorAs(t, err, &malformed)
}

func TestCancel(t *testing.T) {
	app := newTestApp(t)

	require.NoError(t, app.Cancel(context.Background(), "7.head"))
	assert.Equal(t, []string{"7.head"}, app.rm.CancelledJobs())
	assert.Contains(t, app.stdout.String(), "Requested cancellation for job 7.head")

	app.rm.CancelErr = errors.New("qdel: Unknown Job Id")
	err := app.Cancel(context.Background(), "8.head")
	assert.ErrorContains(t, err, "qdel: Unknown Job Id")
}

func TestHistory(t *testing.T) {
	app := newTestApp(t).printing("")
	app.Params.Config.Repository = configuration.RepositoryConfiguration{
		Type:         configuration.RepositorySQLite,
		DatabasePath: filepath.Join(t.TempDir(), "executions.db"),
	}
	app.rm.QueueStatus(fake.CompletedReport("1.fake", 0))
	_, err := app.Run(context.Background(), writeProgram(t))
	require.NoError(t, err)
	app.stdout.Reset()

	require.NoError(t, app.History(context.Background(), 10))

	lines := strings.Split(strings.TrimSpace(app.stdout.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "EXECUTION"))
	assert.Contains(t, lines[1], "SUCCEEDED")
	assert.Contains(t, lines[1], "1.fake")
}

func TestLaunch(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	nodeFile := filepath.Join(t.TempDir(), "nodes")
	require.NoError(t, os.WriteFile(nodeFile, []byte("n1\nn1\nn2\nn3\n"), 0o644))
	t.Setenv("PBS_NODEFILE", nodeFile)
	app := newTestApp(t)

	code, err := app.Launch(context.Background(), []string{"/bin/sh", "-c", `echo "$LAUNCHER"; exit 4`})
	require.NoError(t, err)
	assert.Equal(t, 4, code)
	assert.Equal(t, "amudprun -np 3 -spawn C\n", app.stdout.String())
}
