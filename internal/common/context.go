package common

import (
	"context"
	"time"
)

const defaultCommandTimeout = 30 * time.Second

// ContextWithDefaultTimeout bounds one-off calls to the resource manager made from the command line.
func ContextWithDefaultTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), defaultCommandTimeout)
}
