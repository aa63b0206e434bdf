package kernelctl

import (
	"context"
	"fmt"
	"text/tabwriter"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/torquekernel/internal/pbs"
)

// Status prints the attributes the resource manager reports for jobId, sorted by key.
func (a *App) Status(ctx context.Context, jobId string) error {
	report, err := a.resourceManager().Status(ctx, jobId)
	if err != nil {
		return err
	}
	statuses, err := pbs.ParseStatusReport(report)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		return fmt.Errorf("no status reported for job %s", jobId)
	}

	w := tabwriter.NewWriter(a.Out, 1, 1, 1, ' ', 0)
	for i, status := range statuses {
		if i > 0 {
			fmt.Fprintln(w)
		}
		state, _ := status.State()
		fmt.Fprintf(w, "Job Id:\t%s\n", status.JobId())
		fmt.Fprintf(w, "State:\t%s\n", pbs.PollStateFromJobState(state))
		keys := maps.Keys(status)
		slices.Sort(keys)
		for _, key := range keys {
			if key == pbs.JobIdKey {
				continue
			}
			fmt.Fprintf(w, "%s:\t%s\n", key, status[key])
		}
	}
	return w.Flush()
}
