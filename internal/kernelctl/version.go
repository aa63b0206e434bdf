package kernelctl

import (
	"fmt"
	"runtime"
	"text/tabwriter"
)

// Set at link time with -ldflags "-X".
var (
	ReleaseVersion = "dev"
	GitCommit      = "unknown"
	BuildTime      = "unknown"
)

// Version prints build information (e.g., current git commit) to the app output.
func (a *App) Version() error {
	w := tabwriter.NewWriter(a.Out, 1, 1, 1, ' ', 0)
	fmt.Fprintf(w, "Version:\t%s\n", ReleaseVersion)
	fmt.Fprintf(w, "Commit:\t%s\n", GitCommit)
	fmt.Fprintf(w, "Go version:\t%s\n", runtime.Version())
	fmt.Fprintf(w, "Built:\t%s\n", BuildTime)
	return w.Flush()
}
