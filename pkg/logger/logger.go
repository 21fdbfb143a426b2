// Package logger wraps a process-wide logrus logger. Plain calls are prefixed
// with the caller's file:line; WithFields entries are not.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

var log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
		ForceColors:     true,
		DisableQuote:    true,
		PadLevelText:    true,
	})
	return l
}

// Options are the knobs main reads from config.
type Options struct {
	Level string
	JSON  bool
}

// Configure applies level and formatter. An empty level keeps the current one.
func Configure(opts Options) error {
	if err := SetLevel(opts.Level); err != nil {
		return err
	}
	if opts.JSON {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	}
	return nil
}

// caller skips logf and the exported wrapper.
func caller() string {
	_, file, line, ok := runtime.Caller(3)
	if !ok {
		return "unknown:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

func logf(level logrus.Level, err error, format string, args ...interface{}) {
	if !log.IsLevelEnabled(level) {
		return
	}
	entry := logrus.NewEntry(log)
	if err != nil {
		entry = entry.WithField("error", err.Error())
	}
	entry.Logf(level, caller()+" "+format, args...)
}

func Debug(format string, args ...interface{}) { logf(logrus.DebugLevel, nil, format, args...) }

func Info(format string, args ...interface{}) { logf(logrus.InfoLevel, nil, format, args...) }

func Warn(format string, args ...interface{}) { logf(logrus.WarnLevel, nil, format, args...) }

func Error(err error, format string, args ...interface{}) {
	logf(logrus.ErrorLevel, err, format, args...)
}

// Fatal logs and exits with status 1.
func Fatal(err error, format string, args ...interface{}) {
	logf(logrus.FatalLevel, err, format, args...)
	log.Exit(1)
}

func WithField(key string, value interface{}) *logrus.Entry {
	return log.WithField(key, value)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return log.WithFields(fields)
}

// SetLevel parses a level name (debug, info, warn, ...). Empty keeps the current level.
func SetLevel(name string) error {
	if name == "" {
		return nil
	}
	level, err := logrus.ParseLevel(name)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(level)
	return nil
}

// SetOutput redirects log output; tests use it to silence or capture logs.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

func GetLogger() *logrus.Logger {
	return log
}
