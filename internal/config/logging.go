package config

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// NewLogger builds a logrus logger from level, format and output settings.
// Unknown levels fall back to info. Output is "stdout" or "stderr"; MCP stdio
// servers must keep stdout free for the protocol.
func NewLogger(level, format, output string) *logrus.Logger {
	logger := logrus.New()

	if strings.EqualFold(format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	var w io.Writer = os.Stderr
	if strings.EqualFold(output, "stdout") {
		w = os.Stdout
	}
	logger.SetOutput(w)

	return logger
}

// Logger builds the logger described by the loaded configuration.
func (m *Manager) Logger() *logrus.Logger {
	l := m.config.Logging
	return NewLogger(l.Level, l.Format, l.Output)
}

// Logger builds a stderr logger for the lite configuration.
func (c *LiteConfig) Logger() *logrus.Logger {
	return NewLogger(c.LogLevel, c.LogFormat, "stderr")
}
