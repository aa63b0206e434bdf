package kernel

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/torquekernel/internal/common/logging"
	"github.com/armadaproject/torquekernel/internal/kernel/configuration"
	"github.com/armadaproject/torquekernel/internal/pbs"
)

const truncationMarker = "\n[output truncated: %d bytes omitted]\n"

// PostProcessor turns the files a successful job left in its workspace into a display artifact.
// A nil artifact with a nil error means there was nothing to show.
type PostProcessor interface {
	Render(ctx context.Context, workspace *Workspace) (*DisplayArtifact, error)
}

// Collector gathers the output of a completed job into an ExecutionResult.
type Collector struct {
	config        configuration.CollectionConfiguration
	postProcessor PostProcessor
	log           *log.Entry
}

// NewCollector returns a Collector. postProcessor may be nil.
func NewCollector(config configuration.CollectionConfiguration, postProcessor PostProcessor, logger *log.Entry) *Collector {
	return &Collector{
		config:        config,
		postProcessor: postProcessor,
		log:           logging.EntryOrNull(logger),
	}
}

// Collect reads the job's stdout and stderr from workspace. A zero exit code gives an ok result, decorated
// by the post-processor when there is one; anything else gives an error result carrying *pbs.ErrJobFailed.
func (c *Collector) Collect(ctx context.Context, workspace *Workspace, completion *pbs.Completion) *ExecutionResult {
	result := c.CollectOutput(ctx, workspace, completion.JobId)
	result.ExitCode = completion.ExitCode

	if completion.ExitCode != 0 {
		result.Status = StatusError
		result.Err = &pbs.ErrJobFailed{JobId: completion.JobId, ExitCode: completion.ExitCode}
		return result
	}
	result.Status = StatusOk

	if c.postProcessor != nil {
		artifact, err := c.postProcessor.Render(ctx, workspace)
		if err != nil {
			var postErr *pbs.ErrPostProcessingFailed
			if !errors.As(err, &postErr) {
				err = &pbs.ErrPostProcessingFailed{Step: "render", Err: err}
			}
			logging.WithStacktrace(c.log.WithField("jobId", completion.JobId), err).Warn("post-processing failed")
			result.Warnings = append(result.Warnings, err.Error())
		} else {
			result.Artifact = artifact
		}
	}
	return result
}

// CollectOutput reads whatever stdout and stderr jobId left in workspace, without judging the outcome.
func (c *Collector) CollectOutput(ctx context.Context, workspace *Workspace, jobId string) *ExecutionResult {
	result := &ExecutionResult{JobId: jobId}
	stdoutPath, stderrPath := workspace.Path(StdoutFileName), workspace.Path(StderrFileName)
	if err := c.waitForFiles(ctx, stdoutPath, stderrPath); err != nil {
		c.log.WithField("jobId", jobId).Warnf("job output incomplete: %v", err)
		result.Warnings = append(result.Warnings, err.Error())
	}
	result.Stdout = c.readOutput(stdoutPath, result)
	result.Stderr = c.readOutput(stderrPath, result)
	return result
}

// waitForFiles waits up to OutputWait for the scheduler to stage paths back, which may happen some time
// after the job is reported complete.
func (c *Collector) waitForFiles(ctx context.Context, paths ...string) error {
	attempts := uint(1)
	if c.config.OutputWaitInterval > 0 && c.config.OutputWait > 0 {
		attempts += uint(c.config.OutputWait / c.config.OutputWaitInterval)
	}
	return retry.Do(
		func() error {
			for _, path := range paths {
				if _, err := os.Stat(path); err != nil {
					return errors.Wrap(err, "output not staged")
				}
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(c.config.OutputWaitInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

// readOutput returns at most MaxOutputSize bytes of path. A missing file reads as empty.
func (c *Collector) readOutput(path string, result *ExecutionResult) string {
	output, omitted, err := readBounded(path, c.config.MaxOutputSize.Value())
	if err != nil {
		if !os.IsNotExist(errors.Cause(err)) {
			result.Warnings = append(result.Warnings, err.Error())
		}
		return ""
	}
	if omitted > 0 {
		output += fmt.Sprintf(truncationMarker, omitted)
	}
	return output
}

func readBounded(path string, limit int64) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, errors.WithStack(err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return "", 0, errors.Wrapf(err, "reading %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		return string(data), 0, nil
	}
	omitted := info.Size() - int64(len(data))
	if omitted < 0 {
		omitted = 0
	}
	return string(data), omitted, nil
}
