package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/crimson-sun/plantpulse/internal/model"
	"github.com/crimson-sun/plantpulse/internal/output"
)

const (
	defaultBufferSize   = 1024
	defaultDrainTimeout = 5 * time.Second
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("async output: closed")

// Option configures an Async wrapper.
type Option func(*Async)

// WithBufferSize sets the channel buffer capacity. Default: 1024.
func WithBufferSize(n int) Option {
	return func(a *Async) { a.bufSize = n }
}

// WithOnError sets the callback invoked when the inner output's Write fails.
// Default: logs a warning via slog.
func WithOnError(f func(error)) Option {
	return func(a *Async) { a.errFunc = f }
}

// WithDropOnFull makes Write return immediately (dropping the assessment)
// when the buffer is full, instead of blocking.
func WithDropOnFull() Option {
	return func(a *Async) { a.dropOnFull = true }
}

// Async decouples request handling from slow destinations via a buffered
// channel. A background goroutine drains it to the wrapped output. Errors
// from the inner output go to errFunc rather than back to the caller.
type Async struct {
	inner      output.Output
	ch         chan model.Assessment
	done       chan struct{}
	errFunc    func(error)
	bufSize    int
	dropOnFull bool

	mu     sync.RWMutex // guards closed against sends on a closed channel
	closed bool
}

// New wraps an output.Output in an async channel-based writer.
// The background drain goroutine starts immediately.
func New(inner output.Output, opts ...Option) *Async {
	a := &Async{
		inner:   inner,
		bufSize: defaultBufferSize,
		errFunc: func(err error) { slog.Warn("async output write error", "error", err) },
	}
	for _, opt := range opts {
		opt(a)
	}
	a.ch = make(chan model.Assessment, a.bufSize)
	a.done = make(chan struct{})
	go a.drain()
	return a
}

// Write sends the assessment into the channel. By default, blocks while the
// channel is full (backpressure) unless ctx ends first. With
// WithDropOnFull, returns nil immediately and the assessment is lost.
func (a *Async) Write(ctx context.Context, as model.Assessment) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}

	if a.dropOnFull {
		select {
		case a.ch <- as:
		default:
			slog.Warn("async output buffer full, dropping assessment",
				"plant_id", as.PlantID, "label", as.Label)
		}
		return nil
	}
	select {
	case a.ch <- as:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the channel, waits for the drain goroutine to finish
// (with a timeout), then closes the inner output. Safe to call twice.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.ch)
	a.mu.Unlock()

	select {
	case <-a.done:
	case <-time.After(defaultDrainTimeout):
		slog.Warn("async output drain timed out")
	}
	return a.inner.Close()
}

// drain reads assessments from the channel and writes them to the inner output.
func (a *Async) drain() {
	defer close(a.done)
	for as := range a.ch {
		if err := a.inner.Write(context.Background(), as); err != nil {
			a.errFunc(err)
		}
	}
}
