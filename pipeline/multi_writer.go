package pipeline

import (
	"errors"
	"fmt"
	"sync"
)

// MultiWriter fans every table out to several export writers.
type MultiWriter struct {
	writers []OutputWriter
	mu      sync.Mutex
}

// NewMultiWriter combines writers.
func NewMultiWriter(writers ...OutputWriter) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write writes the table to every writer, stopping at the first failure.
func (mw *MultiWriter) Write(header []string, rows [][]string) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	for i, w := range mw.writers {
		if err := w.Write(header, rows); err != nil {
			return fmt.Errorf("export %d write failed: %w", i, err)
		}
	}
	return nil
}

// Close closes every writer.
func (mw *MultiWriter) Close() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	var errs []error
	for i, w := range mw.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("export %d close failed: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Validate validates every output file.
func (mw *MultiWriter) Validate() error {
	var errs []error
	for i, w := range mw.writers {
		if err := w.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("export %d validation failed: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
