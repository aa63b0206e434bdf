package util

import (
	"io"

	log "github.com/sirupsen/logrus"
)

// CloseResource closes c from a deferred cleanup, where a failure can only be logged.
func CloseResource(logger *log.Entry, name string, c io.Closer) {
	if err := c.Close(); err != nil {
		logger.WithError(err).Warnf("failed to close %s cleanly", name)
	}
}
