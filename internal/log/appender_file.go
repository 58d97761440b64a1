package log

import (
	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/netcore/internal/config"
)

// AddFileAppender adds a rotated log file. The file is closed by Close.
func (m *MultiWriter) AddFileAppender(fc config.FileOutputConfig) *MultiWriter {
	writer := &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.Rotation.MaxSizeMB,  // megabytes
		MaxBackups: fc.Rotation.MaxBackups, // number of backups
		MaxAge:     fc.Rotation.MaxAgeDays, // days
		Compress:   fc.Rotation.Compress,
	}
	m.writers = append(m.writers, writer)
	m.closers = append(m.closers, writer)
	return m
}
