package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/crimson-sun/plantpulse/internal/engine/dedup"
	"github.com/crimson-sun/plantpulse/internal/model"
	"github.com/crimson-sun/plantpulse/internal/output"
)

// streamBuffer accumulates assessments and flushes deduplicated batches on a timer.
type streamBuffer struct {
	dedup   *dedup.Deduplicator
	out     output.Output
	window  time.Duration
	maxSize int // 0 means unlimited

	mu      sync.Mutex
	pending []model.Assessment
	timer   *time.Timer
}

func newStreamBuffer(d *dedup.Deduplicator, out output.Output, window time.Duration, maxSize int) *streamBuffer {
	return &streamBuffer{
		dedup:   d,
		out:     out,
		window:  window,
		maxSize: maxSize,
	}
}

// add appends an assessment to the buffer, starting the flush timer on the
// first one. Returns true if the buffer is full and needs flushing.
func (b *streamBuffer) add(a model.Assessment) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, a)
	if len(b.pending) == 1 {
		b.timer = time.NewTimer(b.window)
	}
	return b.maxSize > 0 && len(b.pending) >= b.maxSize
}

// flushCh returns the timer's channel, or nil if no timer is active.
func (b *streamBuffer) flushCh() <-chan time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer == nil {
		return nil
	}
	return b.timer.C
}

// flush deduplicates and writes all pending assessments.
func (b *streamBuffer) flush(ctx context.Context) error {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	for _, a := range b.dedup.DeduplicateBatch(pending) {
		if err := b.out.Write(ctx, a); err != nil {
			return err
		}
	}
	return nil
}
