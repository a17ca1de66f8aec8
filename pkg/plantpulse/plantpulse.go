package plantpulse

import (
	"context"
	"fmt"

	"github.com/crimson-sun/plantpulse/internal/engine"
	"github.com/crimson-sun/plantpulse/internal/engine/encoder"
	"github.com/crimson-sun/plantpulse/internal/model"
)

// Pulse is a plant stress classifier. Safe for concurrent use.
type Pulse struct {
	engine *engine.Engine
}

// New creates a Pulse and loads the model unless WithLazyLoad is given.
// A missing or incompatible model fails here with an error whose
// ErrorKind is "load".
func New(opts ...Option) (*Pulse, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	var schema encoder.Schema
	if o.schemaPath != "" {
		s, err := encoder.LoadSchema(o.schemaPath)
		if err != nil {
			return nil, fmt.Errorf("plantpulse: %w", err)
		}
		schema = s
	}

	eng, err := engine.Build(engine.Config{
		ModelPath:    o.modelPath,
		LibraryPath:  o.libraryPath,
		Schema:       schema,
		LoadTimeout:  o.loadTimeout,
		InferTimeout: o.inferTimeout,
		CacheSize:    o.cacheSize,
		Threads:      o.threads,
		Loader:       o.loader,
	})
	if err != nil {
		return nil, fmt.Errorf("plantpulse: %w", err)
	}

	if !o.lazy {
		if err := eng.Load(context.Background()); err != nil {
			eng.Close()
			return nil, fmt.Errorf("plantpulse: %w", err)
		}
	}
	return &Pulse{engine: eng}, nil
}

// Classify classifies named sensor values. Every name in Features() must be
// present; extra names are ignored.
func (p *Pulse) Classify(ctx context.Context, values map[string]any) (Assessment, error) {
	return p.ClassifyReading(ctx, Reading{Values: values})
}

// ClassifyVector classifies values already in Features() order.
func (p *Pulse) ClassifyVector(ctx context.Context, values []float64) (Assessment, error) {
	return p.ClassifyReading(ctx, Reading{Vector: values})
}

// ClassifyReading classifies a reading with plant id and timestamp.
func (p *Pulse) ClassifyReading(ctx context.Context, r Reading) (Assessment, error) {
	a, err := p.engine.Process(ctx, toObservation(r))
	if err != nil {
		return Assessment{}, err
	}
	return fromModel(a), nil
}

// ClassifyBatch classifies readings concurrently, returning results in
// input order. The first failure aborts the batch.
func (p *Pulse) ClassifyBatch(ctx context.Context, readings []Reading) ([]Assessment, error) {
	obs := make([]model.Observation, len(readings))
	for i, r := range readings {
		obs[i] = toObservation(r)
	}
	as, err := p.engine.ProcessBatch(ctx, obs)
	if err != nil {
		return nil, err
	}
	out := make([]Assessment, len(as))
	for i, a := range as {
		out[i] = fromModel(a)
	}
	return out, nil
}

// Features returns the feature names in model input order.
func (p *Pulse) Features() []string {
	return p.engine.Slots()
}

// Labels returns the stress labels in class-index order.
func (p *Pulse) Labels() []string {
	return p.engine.Labels()
}

// Ready reports whether the model is loaded.
func (p *Pulse) Ready() bool {
	return p.engine.Ready()
}

// Close releases the model. Must be called when the Pulse is no longer needed.
func (p *Pulse) Close() error {
	return p.engine.Close()
}

// ErrorKind classifies an error returned by this package: "load",
// "shape_mismatch", "inference", "invalid_value" or "internal". nil yields "".
func ErrorKind(err error) string {
	return string(model.KindOf(err))
}

func toObservation(r Reading) model.Observation {
	obs := model.Observation{
		Timestamp: r.Timestamp,
		PlantID:   r.PlantID,
		Source:    "library",
		Values:    r.Values,
	}
	if r.Values == nil && r.Vector != nil {
		obs.Vector = make([]any, len(r.Vector))
		for i, v := range r.Vector {
			obs.Vector[i] = v
		}
	}
	return obs
}

func fromModel(a model.Assessment) Assessment {
	return Assessment{
		ID:            a.ID,
		PlantID:       a.PlantID,
		Timestamp:     a.Timestamp,
		Label:         a.Label,
		ClassIndex:    a.ClassIndex,
		Confidence:    a.Confidence,
		Probabilities: a.Probabilities,
	}
}
