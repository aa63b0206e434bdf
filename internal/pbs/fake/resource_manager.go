package fake

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/armadaproject/torquekernel/internal/pbs"
)

type statusResponse struct {
	report string
	err    error
}

// FakeResourceManager is an in-memory pbs.ResourceManager. Status responses are served in the order they were
// queued; the last one is repeated once the queue is down to it.
type FakeResourceManager struct {
	// Returned by Submit when set. Otherwise Submit accepts the job and assigns it the next id.
	SubmitResult *pbs.CommandResult
	SubmitErr    error
	// Called for every accepted submission, e.g. to write the files a real job would produce.
	OnSubmit  func(request pbs.SubmitRequest, jobId string)
	CancelErr error

	mu            sync.Mutex
	nextId        int
	responses     []statusResponse
	Submitted     []pbs.SubmitRequest
	StatusQueries []string
	Cancelled     []string
}

func NewFakeResourceManager() *FakeResourceManager {
	return &FakeResourceManager{}
}

func (f *FakeResourceManager) QueueStatus(report string) *FakeResourceManager {
	return f.queue(statusResponse{report: report})
}

func (f *FakeResourceManager) QueueStatusError(err error) *FakeResourceManager {
	return f.queue(statusResponse{err: err})
}

func (f *FakeResourceManager) queue(response statusResponse) *FakeResourceManager {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, response)
	return f
}

func (f *FakeResourceManager) Submit(_ context.Context, request pbs.SubmitRequest) (*pbs.CommandResult, error) {
	f.mu.Lock()
	f.Submitted = append(f.Submitted, request)
	if f.SubmitErr != nil || f.SubmitResult != nil {
		f.mu.Unlock()
		return f.SubmitResult, f.SubmitErr
	}
	f.nextId++
	jobId := fmt.Sprintf("%d.fake", f.nextId)
	onSubmit := f.OnSubmit
	f.mu.Unlock()

	if onSubmit != nil {
		onSubmit(request, jobId)
	}
	return &pbs.CommandResult{Output: jobId + "\n"}, nil
}

func (f *FakeResourceManager) Status(ctx context.Context, jobId string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StatusQueries = append(f.StatusQueries, jobId)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(f.responses) == 0 {
		return "", fmt.Errorf("unknown job %s", jobId)
	}
	response := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return response.report, response.err
}

func (f *FakeResourceManager) Cancel(_ context.Context, jobId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Cancelled = append(f.Cancelled, jobId)
	return f.CancelErr
}

func (f *FakeResourceManager) StatusQueryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.StatusQueries)
}

func (f *FakeResourceManager) CancelledJobs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Cancelled...)
}

// Report renders a qstat -f style block for jobId with the given attributes, in order.
func Report(jobId string, attributes ...string) string {
	var sb strings.Builder
	sb.WriteString("Job Id: " + jobId + "\n")
	for i := 0; i+1 < len(attributes); i += 2 {
		sb.WriteString(fmt.Sprintf("    %s = %s\n", attributes[i], attributes[i+1]))
	}
	return sb.String()
}

func StateReport(jobId string, state string) string {
	return Report(jobId, "Job_Name", "job.sh", "job_state", state)
}

func CompletedReport(jobId string, exitStatus int) string {
	return Report(jobId, "Job_Name", "job.sh", "job_state", "C", "exit_status", fmt.Sprint(exitStatus))
}
