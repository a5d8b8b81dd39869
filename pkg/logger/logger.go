// Package logger provides the process-wide run log. Until Init is called
// every message is discarded.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	base    = newLogrus(io.Discard)
	logFile *os.File
	mu      sync.Mutex
)

func newLogrus(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000000",
	})
	return l
}

// Init initializes the global logger with the specified log file path.
func Init(logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //#nosec G304 -- run output dir
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	logFile = f
	base.SetOutput(f)
	return nil
}

// SetVerbose switches debug messages on or off. Off by default.
func SetVerbose(on bool) {
	mu.Lock()
	defer mu.Unlock()
	if on {
		base.SetLevel(logrus.DebugLevel)
	} else {
		base.SetLevel(logrus.InfoLevel)
	}
}

// SetOutput redirects the log to w. Used by tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	base.SetOutput(w)
}

// Close closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	base.SetOutput(io.Discard)
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	base.Infof(format, v...)
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	base.Debugf(format, v...)
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	base.Errorf(format, v...)
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	base.Warnf(format, v...)
}

// WithFields returns an entry that annotates every message with fields
// such as unit, attempt or snapshot.
func WithFields(fields map[string]interface{}) *logrus.Entry {
	return base.WithFields(logrus.Fields(fields))
}

// GetWriter returns the underlying writer for use by the browser engine.
func GetWriter() io.Writer {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		return logFile
	}
	return io.Discard
}
