// Package rlog is riftnet's package-level logger, a thin wrapper over
// logrus that every internal package logs through.
package rlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var std = newDefault()

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// SetLevel sets the minimum level the default logger emits.
func SetLevel(level logrus.Level) {
	std.SetLevel(level)
}

// SetOutput redirects where the default logger writes.
func SetOutput(w interface{ Write([]byte) (int, error) }) {
	std.SetOutput(w)
}

// For returns a field-scoped entry tagged with a connection correlation id.
// Every half-connection logs through an entry from this call so every line
// it emits carries "conn" without repeating it at each call site.
func For(connID string) *logrus.Entry {
	return std.WithField("conn", connID)
}

// L returns the unscoped default logger, for call sites with no connection
// context (config loading, demux-level routing).
func L() *logrus.Logger {
	return std
}
