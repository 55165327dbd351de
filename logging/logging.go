// Package logging constructs the process-wide structured logger.
package logging

import (
	"github.com/sirupsen/logrus"
)

// New builds a logrus logger at the given level ("debug", "info", "warn",
// "error"); unknown levels fall back to info. JSON output keeps log lines
// machine-parseable in aggregation.
func New(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)

	return log
}
