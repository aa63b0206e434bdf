package kernel

import "github.com/armadaproject/torquekernel/internal/kernel/repository"

const (
	StatusOk    = "ok"
	StatusError = "error"
)

type Channel string

const (
	Stdout Channel = "stdout"
	Stderr Channel = "stderr"
)

// DisplayArtifact is rich output shown alongside the program's text output.
type DisplayArtifact struct {
	MimeType string `json:"mimeType"`
	Source   string `json:"source"`
	Url      string `json:"url"`
	Html     string `json:"html"`
}

// Sink receives the progress events of one execution, in order. Calls are made from the executing goroutine.
type Sink interface {
	Stream(channel Channel, text string)
	Display(artifact *DisplayArtifact)
}

type ExecutionRequest struct {
	Code string
	// Silent requests are acknowledged without running anything.
	Silent bool
}

// ExecutionResult is the outcome of one execution. Status is StatusError whenever Err is set.
type ExecutionResult struct {
	ExecutionId string
	Status      string
	ExitCode    int
	Stdout      string
	Stderr      string
	// Empty for local and silent executions.
	JobId    string
	Artifact *DisplayArtifact
	// Problems that did not make the execution fail, such as a profile that could not be rendered.
	Warnings []string
	Err      error
	// Ledger state the execution ended in.
	State repository.ExecutionState
}

func (r *ExecutionResult) Ok() bool {
	return r.Status == StatusOk
}

type discardSink struct{}

func (discardSink) Stream(Channel, string)   {}
func (discardSink) Display(*DisplayArtifact) {}
