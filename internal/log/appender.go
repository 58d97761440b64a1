package log

import (
	"errors"
	"io"
)

// MultiWriter fans every log line out to all of its outputs. A failing
// output does not stop the others; their errors are joined.
type MultiWriter struct {
	writers []io.Writer
	closers []io.Closer // outputs opened by the writer itself
}

func NewMultiWriter() *MultiWriter {
	return &MultiWriter{}
}

func (m *MultiWriter) Write(p []byte) (int, error) {
	var errs []error
	for _, w := range m.writers {
		if _, err := w.Write(p); err != nil {
			errs = append(errs, err)
		}
	}
	return len(p), errors.Join(errs...)
}

// Add appends an output the caller keeps ownership of.
func (m *MultiWriter) Add(w io.Writer) *MultiWriter {
	m.writers = append(m.writers, w)
	return m
}

// Close closes the outputs the writer opened, such as rotated log files.
// Writers given to Add are left open.
func (m *MultiWriter) Close() error {
	var errs []error
	for _, c := range m.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.closers = nil
	return errors.Join(errs...)
}
