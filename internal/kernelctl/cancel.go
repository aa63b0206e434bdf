package kernelctl

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Cancel deletes jobId, or every job of the current user when jobId is "all".
func (a *App) Cancel(ctx context.Context, jobId string) error {
	fmt.Fprintf(a.Out, "Requesting cancellation of job %s\n", jobId)
	if err := a.resourceManager().Cancel(ctx, jobId); err != nil {
		return errors.WithMessagef(err, "error cancelling job %s", jobId)
	}
	fmt.Fprintf(a.Out, "Requested cancellation for job %s\n", jobId)
	return nil
}
