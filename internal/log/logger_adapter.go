package log

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"firestige.xyz/netcore/internal/config"
)

const (
	defaultPattern    = "%time [%level] %field %msg\n"
	defaultTimeFormat = "2006-01-02 15:04:05.000"
)

var (
	outputMu sync.Mutex
	output   *MultiWriter // installed by the last Init
)

type logrusAdapter struct {
	entry *logrus.Entry
}

// Init applies cfg to the process logger. It may be called again to reload.
func Init(cfg config.LogConfig) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}
	f, err := buildFormatter(cfg)
	if err != nil {
		return err
	}

	out := NewMultiWriter().Add(os.Stdout)
	if cfg.Outputs.File.Enabled {
		if cfg.Outputs.File.Path == "" {
			return fmt.Errorf("log file output enabled but path is empty")
		}
		out.AddFileAppender(cfg.Outputs.File)
	}

	base.SetFormatter(f)
	base.SetOutput(out)
	base.SetLevel(level)

	// a reload reopens the log file; the previous handle is released
	outputMu.Lock()
	prev := output
	output = out
	outputMu.Unlock()
	if prev != nil {
		return prev.Close()
	}
	return nil
}

// SetLevel changes the level without touching format or outputs.
func SetLevel(level string) error {
	lv, err := parseLevel(level)
	if err != nil {
		return err
	}
	base.SetLevel(lv)
	return nil
}

func parseLevel(level string) (logrus.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel, nil
	case "info", "":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("invalid log level: %q", level)
	}
}

func buildFormatter(cfg config.LogConfig) (logrus.Formatter, error) {
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = defaultTimeFormat
	}
	switch strings.ToLower(cfg.Format) {
	case "json":
		return &logrus.JSONFormatter{TimestampFormat: timeFormat}, nil
	case "text", "":
		pattern := cfg.Pattern
		if pattern == "" {
			pattern = defaultPattern
		}
		return &formatter{pattern: pattern, time: timeFormat}, nil
	default:
		return nil, fmt.Errorf("unsupported log format: %q", cfg.Format)
	}
}

func (l *logrusAdapter) Print(args ...interface{})                 { l.entry.Print(args...) }
func (l *logrusAdapter) Printf(format string, args ...interface{}) { l.entry.Printf(format, args...) }

func (l *logrusAdapter) Trace(args ...interface{})                 { l.entry.Trace(args...) }
func (l *logrusAdapter) Tracef(format string, args ...interface{}) { l.entry.Tracef(format, args...) }

func (l *logrusAdapter) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *logrusAdapter) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }

func (l *logrusAdapter) Info(args ...interface{})                 { l.entry.Info(args...) }
func (l *logrusAdapter) Infof(format string, args ...interface{}) { l.entry.Infof(format, args...) }

func (l *logrusAdapter) Warn(args ...interface{})                 { l.entry.Warn(args...) }
func (l *logrusAdapter) Warnf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }

func (l *logrusAdapter) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *logrusAdapter) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusAdapter) Fatal(args ...interface{})                 { l.entry.Fatal(args...) }
func (l *logrusAdapter) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

func (l *logrusAdapter) Panic(args ...interface{})                 { l.entry.Panic(args...) }
func (l *logrusAdapter) Panicf(format string, args ...interface{}) { l.entry.Panicf(format, args...) }

func (l *logrusAdapter) WithField(field string, value interface{}) Logger {
	return &logrusAdapter{entry: l.entry.WithField(field, value)}
}
func (l *logrusAdapter) WithFields(fields map[string]interface{}) Logger {
	return &logrusAdapter{entry: l.entry.WithFields(fields)}
}
func (l *logrusAdapter) WithError(err error) Logger {
	return &logrusAdapter{entry: l.entry.WithError(err)}
}

func (l *logrusAdapter) IsTraceEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.TraceLevel)
}
func (l *logrusAdapter) IsDebugEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel)
}
func (l *logrusAdapter) IsInfoEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.InfoLevel)
}
