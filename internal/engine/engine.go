package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/crimson-sun/plantpulse/internal/engine/cache"
	"github.com/crimson-sun/plantpulse/internal/engine/classifier"
	"github.com/crimson-sun/plantpulse/internal/engine/encoder"
	"github.com/crimson-sun/plantpulse/internal/engine/inference"
	"github.com/crimson-sun/plantpulse/internal/model"
)

const defaultBatchConcurrency = 4

// Engine orchestrates the encode → classify pipeline.
type Engine struct {
	encoder     *encoder.Encoder
	service     *inference.Service
	cache       *cache.Cache
	concurrency int
}

// New creates an Engine with the provided components. c may be nil.
func New(enc *encoder.Encoder, svc *inference.Service, c *cache.Cache) *Engine {
	return &Engine{
		encoder:     enc,
		service:     svc,
		cache:       c,
		concurrency: defaultBatchConcurrency,
	}
}

// SetBatchConcurrency bounds how many observations ProcessBatch classifies
// at once.
func (e *Engine) SetBatchConcurrency(n int) {
	if n > 0 {
		e.concurrency = n
	}
}

// Slots returns the ordered feature slot names.
func (e *Engine) Slots() []string {
	return e.encoder.Slots()
}

// Labels returns the label vocabulary in class-index order.
func (e *Engine) Labels() []string {
	return e.service.Labels()
}

// Ready reports whether the model handle is loaded.
func (e *Engine) Ready() bool {
	return e.service.State() == inference.Ready
}

// Load eagerly acquires the model handle.
func (e *Engine) Load(ctx context.Context) error {
	return e.service.Load(ctx)
}

// Process encodes and classifies a single observation.
func (e *Engine) Process(ctx context.Context, obs model.Observation) (model.Assessment, error) {
	features, err := e.encoder.EncodeObservation(obs)
	if err != nil {
		return model.Assessment{}, err
	}

	// Cached results are only served while the model is loaded.
	var (
		res classifier.Result
		ok  bool
	)
	if e.Ready() {
		res, ok = e.cache.Get(features)
	}
	if !ok {
		res, err = e.service.Classify(ctx, features)
		if err != nil {
			return model.Assessment{}, err
		}
		e.cache.Add(features, res)
	}

	ts := obs.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	slots := e.encoder.Slots()
	named := make(map[string]float64, len(slots))
	for i, s := range slots {
		named[s] = float64(features[i])
	}

	return model.Assessment{
		ID:            uuid.NewString(),
		PlantID:       obs.PlantID,
		Source:        obs.Source,
		Timestamp:     ts,
		Label:         res.Label,
		ClassIndex:    res.Index,
		Confidence:    res.Confidence,
		Probabilities: res.Probabilities,
		Features:      named,
	}, nil
}

// ProcessBatch classifies observations concurrently and returns results in
// input order. The first failure cancels the rest.
func (e *Engine) ProcessBatch(ctx context.Context, batch []model.Observation) ([]model.Assessment, error) {
	out := make([]model.Assessment, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, obs := range batch {
		g.Go(func() error {
			a, err := e.Process(gctx, obs)
			if err != nil {
				return fmt.Errorf("observation %d: %w", i, err)
			}
			out[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the model handle and drops cached results.
func (e *Engine) Close() error {
	err := e.service.Close()
	e.cache.Purge()
	return err
}
