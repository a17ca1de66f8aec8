package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/crimson-sun/plantpulse/internal/connector"
	"github.com/crimson-sun/plantpulse/internal/engine/dedup"
	"github.com/crimson-sun/plantpulse/internal/model"
	"github.com/crimson-sun/plantpulse/internal/output"
)

// Processor classifies observations. *engine.Engine satisfies it.
type Processor interface {
	Process(ctx context.Context, obs model.Observation) (model.Assessment, error)
	ProcessBatch(ctx context.Context, batch []model.Observation) ([]model.Assessment, error)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDedup enables stream deduplication: assessments are buffered for
// window and repeated labels per plant are collapsed before writing.
func WithDedup(d *dedup.Deduplicator, window time.Duration) Option {
	return func(p *Pipeline) {
		p.dedup = d
		p.window = window
	}
}

// WithMaxBuffer caps the dedup buffer; reaching it forces a flush.
// 0 means unlimited.
func WithMaxBuffer(n int) Option {
	return func(p *Pipeline) { p.maxBuffer = n }
}

// Pipeline connects a connector, processor, and output.
type Pipeline struct {
	connector connector.Connector
	processor Processor
	output    output.Output

	dedup     *dedup.Deduplicator
	window    time.Duration
	maxBuffer int

	skipped atomic.Int64
}

// New creates a Pipeline from the given components.
func New(conn connector.Connector, proc Processor, out output.Output, opts ...Option) *Pipeline {
	p := &Pipeline{
		connector: conn,
		processor: proc,
		output:    out,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Skipped returns how many observations failed classification and were
// dropped so far.
func (p *Pipeline) Skipped() int64 {
	return p.skipped.Load()
}

// Stream runs the pipeline in streaming mode, classifying observations as
// they arrive. An observation that fails classification is logged and
// skipped. Blocks until the context is cancelled or the connector closes
// its channel.
func (p *Pipeline) Stream(ctx context.Context, cfg connector.ConnectorConfig) error {
	ch, err := p.connector.Stream(ctx, cfg)
	if err != nil {
		return fmt.Errorf("pipeline stream: %w", err)
	}
	if p.dedup != nil {
		return p.streamDeduped(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case obs, ok := <-ch:
			if !ok {
				return nil
			}
			a, ok := p.process(ctx, obs)
			if !ok {
				continue
			}
			if err := p.output.Write(ctx, a); err != nil {
				return fmt.Errorf("pipeline output: %w", err)
			}
		}
	}
}

func (p *Pipeline) streamDeduped(ctx context.Context, ch <-chan model.Observation) error {
	buf := newStreamBuffer(p.dedup, p.output, p.window, p.maxBuffer)
	for {
		select {
		case <-ctx.Done():
			// Flush what we have with a fresh context so the last window is not lost.
			if err := buf.flush(context.Background()); err != nil {
				return fmt.Errorf("pipeline output: %w", err)
			}
			return ctx.Err()
		case <-buf.flushCh():
			if err := buf.flush(ctx); err != nil {
				return fmt.Errorf("pipeline output: %w", err)
			}
		case obs, ok := <-ch:
			if !ok {
				if err := buf.flush(context.Background()); err != nil {
					return fmt.Errorf("pipeline output: %w", err)
				}
				return nil
			}
			a, ok := p.process(ctx, obs)
			if !ok {
				continue
			}
			if buf.add(a) {
				if err := buf.flush(ctx); err != nil {
					return fmt.Errorf("pipeline output: %w", err)
				}
			}
		}
	}
}

// process classifies one observation, counting and logging failures.
func (p *Pipeline) process(ctx context.Context, obs model.Observation) (model.Assessment, bool) {
	a, err := p.processor.Process(ctx, obs)
	if err != nil {
		p.skipped.Add(1)
		slog.Warn("observation skipped",
			"plant_id", obs.PlantID,
			"source", obs.Source,
			"kind", model.KindOf(err),
			"error", err,
		)
		return model.Assessment{}, false
	}
	return a, true
}

// Query runs the pipeline in one-shot mode. When the batch fails as a
// whole, observations are retried one by one and failures skipped.
func (p *Pipeline) Query(ctx context.Context, cfg connector.ConnectorConfig, params connector.QueryParams) error {
	batch, err := p.connector.Query(ctx, cfg, params)
	if err != nil {
		return fmt.Errorf("pipeline query: %w", err)
	}

	assessments, err := p.processor.ProcessBatch(ctx, batch)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("pipeline process batch: %w", err)
		}
		slog.Debug("batch classification failed, falling back to per-observation", "error", err)
		assessments = nil
		for _, obs := range batch {
			if a, ok := p.process(ctx, obs); ok {
				assessments = append(assessments, a)
			}
		}
	}

	for _, a := range assessments {
		if err := p.output.Write(ctx, a); err != nil {
			return fmt.Errorf("pipeline output: %w", err)
		}
	}
	return nil
}

// Close shuts down the output and reports how many observations were skipped.
func (p *Pipeline) Close() error {
	if n := p.skipped.Load(); n > 0 {
		slog.Info("pipeline closed", "skipped_observations", n)
	}
	return p.output.Close()
}
