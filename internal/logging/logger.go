// Package logging provides structured logging for the FieldSync engine.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// global logger instance
	global *logrus.Logger
	once   sync.Once
)

// Init initializes the global logger. Only the first call takes effect.
func Init(out io.Writer, level string) {
	once.Do(func() {
		global = logrus.New()
		global.SetOutput(out)
		global.SetFormatter(&logrus.JSONFormatter{})

		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			lvl = logrus.InfoLevel
		}
		global.SetLevel(lvl)
	})
}

// Get returns the global logger instance.
func Get() *logrus.Logger {
	if global == nil {
		Init(os.Stdout, "info")
	}
	return global
}

// withContext merges context maps into a logrus entry.
func withContext(context ...map[string]interface{}) *logrus.Entry {
	entry := logrus.NewEntry(Get())
	for _, c := range context {
		entry = entry.WithFields(logrus.Fields(c))
	}
	return entry
}

// Debug logs a debug message.
func Debug(message string, context ...map[string]interface{}) {
	withContext(context...).Debug(message)
}

// Info logs an info message.
func Info(message string, context ...map[string]interface{}) {
	withContext(context...).Info(message)
}

// Warn logs a warning message.
func Warn(message string, context ...map[string]interface{}) {
	withContext(context...).Warn(message)
}

// Error logs an error message.
func Error(message string, err error, context ...map[string]interface{}) {
	entry := withContext(context...)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(message)
}
