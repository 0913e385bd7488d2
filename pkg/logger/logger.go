package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var defaultLogger *logrus.Logger

func init() {
	defaultLogger = logrus.New()

	defaultLogger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	defaultLogger.SetOutput(os.Stderr)

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		if isTestEnv() {
			logLevel = "silent"
		} else {
			logLevel = "info"
		}
	}
	applyLevel(logLevel)
}

func isTestEnv() bool {
	return os.Getenv("GO_ENV") == "test"
}

// applyLevel sets the level, treating "silent" as discarding all output.
// Unknown levels fall back to info.
func applyLevel(levelStr string) {
	if levelStr == "silent" {
		defaultLogger.SetOutput(io.Discard)
		return
	}
	level, err := logrus.ParseLevel(strings.ToLower(levelStr))
	if err != nil {
		level = logrus.InfoLevel
	}
	defaultLogger.SetLevel(level)
}

// GetLogger returns the default logger instance
func GetLogger() *logrus.Logger {
	return defaultLogger
}

// WithName creates a child logger with a name field
func WithName(name string) *logrus.Entry {
	return defaultLogger.WithField("name", name)
}

// WithFields creates a logger with additional fields
func WithFields(fields logrus.Fields) *logrus.Entry {
	return defaultLogger.WithFields(fields)
}

// SetLevel sets the logging level
func SetLevel(level logrus.Level) {
	defaultLogger.SetLevel(level)
}

// SetOutput redirects log output, e.g. to a log file under the library home
func SetOutput(w io.Writer) {
	defaultLogger.SetOutput(w)
}

// IsLevelEnabled checks if a log level is enabled
func IsLevelEnabled(level logrus.Level) bool {
	return defaultLogger.IsLevelEnabled(level)
}

// ConfigureFromString applies a level read from config.yaml.
// GO_ENV=test keeps the logger silent regardless of the configured level.
func ConfigureFromString(levelStr string) error {
	if isTestEnv() || levelStr == "silent" {
		defaultLogger.SetOutput(io.Discard)
		return nil
	}

	level, err := logrus.ParseLevel(strings.ToLower(levelStr))
	if err != nil {
		return err
	}
	defaultLogger.SetLevel(level)
	return nil
}
