// ABOUTME: Structured logger implementation backed by sirupsen/logrus
// ABOUTME: Adapts the core Logger interface to logrus levels, fields and formatters

package standard

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Format selects the logrus formatter
type Format string

const (
	// FormatText renders human readable key=value lines
	FormatText Format = "text"

	// FormatJSON renders one JSON object per line
	FormatJSON Format = "json"
)

// StandardLogger implements the Logger interface using logrus
type StandardLogger struct {
	entry *logrus.Entry
}

// NewStandardLogger creates a logger writing text at info level to stdout
func NewStandardLogger() *StandardLogger {
	return NewLogger(os.Stdout, "info", FormatText)
}

// NewLogger creates a logger with the given output, level and format.
// Unknown levels fall back to info.
func NewLogger(out io.Writer, level string, format Format) *StandardLogger {
	l := logrus.New()
	l.SetOutput(out)

	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if format == FormatJSON {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return &StandardLogger{entry: logrus.NewEntry(l)}
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() *StandardLogger {
	return NewLogger(io.Discard, "panic", FormatText)
}

// With returns a child logger that always carries fields
func (l *StandardLogger) With(fields map[string]interface{}) *StandardLogger {
	return &StandardLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// Debug logs a debug message
func (l *StandardLogger) Debug(msg string, fields map[string]interface{}) {
	l.entry.WithFields(logrus.Fields(fields)).Debug(msg)
}

// Info logs an info message
func (l *StandardLogger) Info(msg string, fields map[string]interface{}) {
	l.entry.WithFields(logrus.Fields(fields)).Info(msg)
}

// Warn logs a warning message
func (l *StandardLogger) Warn(msg string, fields map[string]interface{}) {
	l.entry.WithFields(logrus.Fields(fields)).Warn(msg)
}

// Error logs an error message
func (l *StandardLogger) Error(msg string, fields map[string]interface{}) {
	l.entry.WithFields(logrus.Fields(fields)).Error(msg)
}
