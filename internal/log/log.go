// Package log provides the process-wide structured logger backed by logrus.
package log

import (
	"os"

	"github.com/sirupsen/logrus"
)

type Logger interface {
	Print(args ...interface{})
	Printf(format string, args ...interface{})

	Trace(args ...interface{})
	Tracef(format string, args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	Panic(args ...interface{})
	Panicf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsTraceEnabled() bool
	IsDebugEnabled() bool
	IsInfoEnabled() bool
}

// base is reconfigured in place by Init so loggers derived before a reload
// pick up the new level, format and outputs.
var (
	base   = newBase()
	logger Logger = &logrusAdapter{entry: logrus.NewEntry(base)}
)

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&formatter{
		pattern: defaultPattern,
		time:    defaultTimeFormat,
	})
	l.SetLevel(logrus.InfoLevel)
	l.SetOutput(NewMultiWriter().Add(os.Stdout))
	return l
}

// GetLogger returns the process logger. It is usable before Init.
func GetLogger() Logger {
	return logger
}
