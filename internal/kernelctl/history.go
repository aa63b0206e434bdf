package kernelctl

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"
)

// History prints the most recent executions, newest first. A limit below one prints all of them.
func (a *App) History(ctx context.Context, limit int) error {
	repo, cleanup, err := a.repository(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if limit < 1 {
		limit = -1
	}
	executions, err := repo.List(ctx, limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.Out, 1, 1, 2, ' ', 0)
	fmt.Fprintln(w, "EXECUTION\tSTATE\tEXIT\tJOB\tWORKSPACE\tUPDATED\tERROR")
	for _, execution := range executions {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			execution.ExecutionId,
			execution.State,
			execution.ExitCode,
			orDash(execution.JobId),
			orDash(execution.Workspace),
			execution.Updated.Local().Format(time.RFC3339),
			orDash(execution.Error))
	}
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
