// Package kfmt provides the logging facilities used by the simulated kernel
// and the user-mode library.
package kfmt

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopherjos/kernel"
)

var (
	// logger is shared by every module. Output goes to stderr until
	// SetOutputSink redirects it.
	logger = newLogger()

	errUnknownFormat = &kernel.Error{Module: "kfmt", Message: "unknown log format"}
)

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return l
}

// SetOutputSink sets the target for all log output. Passing nil restores the
// default (stderr).
func SetOutputSink(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	logger.SetOutput(w)
}

// Configure selects the log level (any level name understood by logrus) and
// the output format ("text" or "json").
func Configure(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}

	switch format {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{DisableTimestamp: true})
	default:
		return errUnknownFormat
	}

	logger.SetLevel(lvl)
	return nil
}

// ForModule returns a log entry tagged with the given module name.
func ForModule(module string) *logrus.Entry {
	return logger.WithField("module", module)
}

