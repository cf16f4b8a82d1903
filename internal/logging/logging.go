// Package logging configures the process-wide logrus logger: JSON in
// production-like environments, a human-readable text formatter
// otherwise, with the level parsed from the configured string and a
// safe fallback to Info on a bad value.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Configure sets logrus.StandardLogger()'s output, formatter, and
// level from the resolved config values. Every package-level
// `logrus.WithField("component", ...)` logger in the engine shares
// this one underlying logger.
func Configure(appEnv string, level logrus.Level) {
	logrus.SetOutput(os.Stdout)
	if appEnv == "production" || appEnv == "staging" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	logrus.SetLevel(level)
}
