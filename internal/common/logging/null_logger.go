package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// NullLogger discards everything; handy for tests and for components constructed without a logger.
var NullLogger = &logrus.Logger{
	Out:       io.Discard,
	Formatter: new(logrus.TextFormatter),
	Hooks:     make(logrus.LevelHooks),
	Level:     logrus.PanicLevel,
}

// EntryOrNull returns entry, or an entry on NullLogger when entry is nil.
func EntryOrNull(entry *logrus.Entry) *logrus.Entry {
	if entry == nil {
		return logrus.NewEntry(NullLogger)
	}
	return entry
}
