package log

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netcore/internal/config"
)

// capture redirects the process logger into a buffer for the duration of t.
func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevOut, prevFmt, prevLevel := base.Out, base.Formatter, base.GetLevel()
	base.SetOutput(&buf)
	t.Cleanup(func() {
		base.SetOutput(prevOut)
		base.SetFormatter(prevFmt)
		base.SetLevel(prevLevel)
	})
	return &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"DEBUG", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"warning", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := parseLevel(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}

	_, err := parseLevel("verbose")
	assert.Error(t, err)
}

func TestGetLoggerBeforeInit(t *testing.T) {
	assert.NotNil(t, GetLogger())
	assert.True(t, GetLogger().IsInfoEnabled())
}

func TestInitTextPattern(t *testing.T) {
	buf := capture(t)
	require.NoError(t, Init(config.LogConfig{
		Level:      "debug",
		Format:     "text",
		Pattern:    "[%level] %field %msg\n",
		TimeFormat: time.RFC3339,
	}))
	base.SetOutput(buf)

	GetLogger().WithField("sd", 3).WithError(errors.New("boom")).Debug("option rejected")

	assert.Equal(t, "[debug] error=boom,sd=3 option rejected\n", buf.String())
}

func TestInitJSON(t *testing.T) {
	buf := capture(t)
	require.NoError(t, Init(config.LogConfig{Level: "info", Format: "json"}))
	base.SetOutput(buf)

	GetLogger().WithFields(map[string]interface{}{"prefix": "10.0.0.0/8"}).Info("route added")
	GetLogger().Debug("filtered")

	out := buf.String()
	assert.Contains(t, out, `"msg":"route added"`)
	assert.Contains(t, out, `"prefix":"10.0.0.0/8"`)
	assert.NotContains(t, out, "filtered")
}

func TestInitWithFileOutput(t *testing.T) {
	_ = capture(t)
	logPath := filepath.Join(t.TempDir(), "netcore.log")

	require.NoError(t, Init(config.LogConfig{
		Level:  "info",
		Format: "text",
		Outputs: config.LogOutputsConfig{
			File: config.FileOutputConfig{
				Enabled:  true,
				Path:     logPath,
				Rotation: config.RotationConfig{MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 7},
			},
		},
	}))

	GetLogger().Info("written to file")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestInitErrors(t *testing.T) {
	_ = capture(t)

	err := Init(config.LogConfig{Level: "invalid", Format: "json"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "invalid log level"))

	err = Init(config.LogConfig{Level: "info", Format: "xml"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported log format")

	err = Init(config.LogConfig{
		Level:   "info",
		Format:  "json",
		Outputs: config.LogOutputsConfig{File: config.FileOutputConfig{Enabled: true}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path")
}

func TestSetLevel(t *testing.T) {
	_ = capture(t)
	require.NoError(t, SetLevel("error"))
	assert.False(t, GetLogger().IsInfoEnabled())
	require.NoError(t, SetLevel("debug"))
	assert.True(t, GetLogger().IsDebugEnabled())
	assert.Error(t, SetLevel("loud"))
}

func TestMultiWriter(t *testing.T) {
	var a, b bytes.Buffer
	w := NewMultiWriter().Add(&a).Add(&b)
	n, err := w.Write([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "x", a.String())
	assert.Equal(t, "x", b.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestMultiWriterKeepsWritingPastFailure(t *testing.T) {
	var a, b bytes.Buffer
	w := NewMultiWriter().Add(&a).Add(failingWriter{}).Add(&b)
	n, err := w.Write([]byte("line\n"))
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, 5, n)
	assert.Equal(t, "line\n", a.String())
	assert.Equal(t, "line\n", b.String())
}

type closeCounter struct {
	bytes.Buffer
	closed int
}

func (c *closeCounter) Close() error { c.closed++; return nil }

func TestMultiWriterClosesOwnedOutputsOnly(t *testing.T) {
	var added closeCounter
	owned := &closeCounter{}
	w := NewMultiWriter().Add(&added)
	w.writers = append(w.writers, owned)
	w.closers = append(w.closers, owned)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Equal(t, 0, added.closed)
	assert.Equal(t, 1, owned.closed)
}

func TestInitSwitchesLogFile(t *testing.T) {
	_ = capture(t)
	dir := t.TempDir()
	fileConfig := func(path string) config.LogConfig {
		return config.LogConfig{
			Level:  "info",
			Format: "text",
			Outputs: config.LogOutputsConfig{
				File: config.FileOutputConfig{Enabled: true, Path: path, Rotation: config.RotationConfig{MaxSizeMB: 1}},
			},
		}
	}
	first, second := filepath.Join(dir, "first.log"), filepath.Join(dir, "second.log")

	require.NoError(t, Init(fileConfig(first)))
	GetLogger().Info("before reload")
	require.NoError(t, Init(fileConfig(second)))
	GetLogger().Info("after reload")

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Contains(t, string(data), "before reload")
	assert.NotContains(t, string(data), "after reload")
	data, err = os.ReadFile(second)
	require.NoError(t, err)
	assert.Contains(t, string(data), "after reload")
}
