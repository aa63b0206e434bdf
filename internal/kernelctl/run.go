package kernelctl

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/torquekernel/internal/kernel"
)

// Run executes the program in path, or read from In when path is "-", and returns the code the command
// should exit with.
func (a *App) Run(ctx context.Context, path string) (int, error) {
	code, err := a.readProgram(path)
	if err != nil {
		return 1, err
	}

	repo, cleanup, err := a.repository(ctx)
	if err != nil {
		return 1, err
	}
	defer cleanup()

	orchestrator := kernel.NewOrchestrator(a.Params.Config, a.resourceManager(), repo, nil, log.WithField("component", "orchestrator"))
	result := orchestrator.Execute(ctx, kernel.ExecutionRequest{Code: code}, &writerSink{stdout: a.Out, stderr: a.Err})
	if result.Ok() {
		return 0, nil
	}
	if result.ExitCode > 0 {
		return result.ExitCode, nil
	}
	return 1, nil
}

func (a *App) readProgram(path string) (string, error) {
	if path == "-" {
		code, err := io.ReadAll(a.In)
		return string(code), errors.Wrap(err, "reading program from stdin")
	}
	code, err := os.ReadFile(path)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return string(code), nil
}

// writerSink prints execution events for a person at a terminal.
type writerSink struct {
	stdout io.Writer
	stderr io.Writer
}

func (s *writerSink) Stream(channel kernel.Channel, text string) {
	if channel == kernel.Stderr {
		fmt.Fprint(s.stderr, text)
	} else {
		fmt.Fprint(s.stdout, text)
	}
}

func (s *writerSink) Display(artifact *kernel.DisplayArtifact) {
	if artifact.Url != "" {
		fmt.Fprintf(s.stdout, "%s: %s\n", artifact.Source, artifact.Url)
	}
}
