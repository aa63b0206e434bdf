package kernelctl

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/torquekernel/internal/launcher"
)

// Launch runs argv across the nodes of the current Torque job and returns its exit code.
func (a *App) Launch(ctx context.Context, argv []string) (int, error) {
	l := launcher.NewLauncher(log.WithField("component", "launcher"))
	l.Stdin = a.In
	l.Stdout = a.Out
	l.Stderr = a.Err
	return l.Launch(ctx, argv)
}
