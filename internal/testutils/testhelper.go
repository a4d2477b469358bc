package testutils

import (
	"io"

	"github.com/sirupsen/logrus"
)

// NewSilentLogger returns a logger that discards everything.
func NewSilentLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
