package file

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/crimson-sun/plantpulse/internal/model"
	"github.com/crimson-sun/plantpulse/internal/output"
)

// Option configures a file Output.
type Option func(*lumberjack.Logger)

// WithMaxSizeMB sets the file size in megabytes at which rotation
// triggers. Default: 100.
func WithMaxSizeMB(mb int) Option {
	return func(l *lumberjack.Logger) { l.MaxSize = mb }
}

// WithMaxBackups caps how many rotated files are kept. 0 keeps all.
func WithMaxBackups(n int) Option {
	return func(l *lumberjack.Logger) { l.MaxBackups = n }
}

// WithCompress gzips rotated files.
func WithCompress() Option {
	return func(l *lumberjack.Logger) { l.Compress = true }
}

// Output appends NDJSON assessments to a file with size-based rotation.
// Each assessment is written as a single line so rotation never splits a
// record.
type Output struct {
	mu        sync.Mutex
	w         *lumberjack.Logger
	verbosity output.Verbosity
}

// New creates a file output that writes NDJSON to the given path. The file
// is created on first write.
func New(path string, verbosity output.Verbosity, opts ...Option) *Output {
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100,
		MaxBackups: 10,
	}
	for _, opt := range opts {
		opt(w)
	}
	return &Output{w: w, verbosity: verbosity}
}

// Write JSON-encodes the assessment and appends it as a line to the file.
func (o *Output) Write(_ context.Context, a model.Assessment) error {
	data, err := json.Marshal(output.Format(a, o.verbosity))
	if err != nil {
		return fmt.Errorf("file output: marshal: %w", err)
	}
	data = append(data, '\n')

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, err := o.w.Write(data); err != nil {
		return fmt.Errorf("file output: write: %w", err)
	}
	return nil
}

// Rotate closes the current file, renames it with a timestamp suffix and
// starts a new one.
func (o *Output) Rotate() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.w.Rotate(); err != nil {
		return fmt.Errorf("file output: rotate: %w", err)
	}
	return nil
}

// Close closes the file.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.w.Close()
}
