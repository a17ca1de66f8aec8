package engine

import (
	"fmt"
	"time"

	"github.com/crimson-sun/plantpulse/internal/engine/cache"
	"github.com/crimson-sun/plantpulse/internal/engine/classifier"
	"github.com/crimson-sun/plantpulse/internal/engine/encoder"
	"github.com/crimson-sun/plantpulse/internal/engine/inference"
)

// Config assembles an Engine from settings.
type Config struct {
	ModelPath    string
	LibraryPath  string
	Schema       encoder.Schema // zero value means encoder.DefaultSchema()
	LoadTimeout  time.Duration
	InferTimeout time.Duration
	CacheSize    int
	Threads      int

	// Loader overrides the ONNX loader, mainly for tests.
	Loader inference.Loader
}

// Build wires encoder, classifier, inference service and cache. The model
// is not loaded; call Load or let the first Process load it.
func Build(cfg Config) (*Engine, error) {
	schema := cfg.Schema
	if len(schema.Features) == 0 {
		schema = encoder.DefaultSchema()
	}
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("engine: schema: %w", err)
	}

	loader := cfg.Loader
	if loader == nil {
		loader = inference.NewONNXLoader(inference.ONNXConfig{
			ModelPath:   cfg.ModelPath,
			LibraryPath: cfg.LibraryPath,
			InputName:   schema.InputName,
			OutputName:  schema.OutputName,
			Threads:     cfg.Threads,
		})
	}

	var opts []inference.Option
	if cfg.LoadTimeout > 0 {
		opts = append(opts, inference.WithLoadTimeout(cfg.LoadTimeout))
	}
	if cfg.InferTimeout > 0 {
		opts = append(opts, inference.WithInferTimeout(cfg.InferTimeout))
	}
	enc := encoder.New(schema.Features)
	svc := inference.NewService(cfg.ModelPath, loader, classifier.New(schema.Labels), enc.Dim(), opts...)

	c, err := cache.New(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("engine: cache: %w", err)
	}
	return New(enc, svc, c), nil
}
