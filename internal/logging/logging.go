// Package logging provides the shared logrus logger used across nsrun's
// components.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Log is the package-level logger every component logs through.
var Log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if os.Getenv("NSRUN_DEBUG") != "" {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}
