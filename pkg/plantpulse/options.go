package plantpulse

import (
	"time"

	"github.com/crimson-sun/plantpulse/internal/engine/inference"
)

type options struct {
	modelPath    string
	libraryPath  string
	schemaPath   string
	loadTimeout  time.Duration
	inferTimeout time.Duration
	cacheSize    int
	threads      int
	lazy         bool
	loader       inference.Loader // tests only
}

// Option configures a Pulse instance.
type Option func(*options)

// WithModelPath sets the ONNX model file. Default: models/stress_model.onnx.
func WithModelPath(path string) Option {
	return func(o *options) { o.modelPath = path }
}

// WithLibraryPath sets the ONNX Runtime shared library. Default:
// libonnxruntime.so next to the model.
func WithLibraryPath(path string) Option {
	return func(o *options) { o.libraryPath = path }
}

// WithSchema loads feature order, tensor names and labels from a YAML file.
func WithSchema(path string) Option {
	return func(o *options) { o.schemaPath = path }
}

// WithTimeouts bounds model loading and each inference call. Zero keeps
// the default (30s load, 5s inference).
func WithTimeouts(load, infer time.Duration) Option {
	return func(o *options) {
		o.loadTimeout = load
		o.inferTimeout = infer
	}
}

// WithCacheSize sets how many distinct readings are memoised. 0 disables
// the cache. Default: 1024.
func WithCacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

// WithThreads sets ONNX Runtime intra-op threads. Default: 1.
func WithThreads(n int) Option {
	return func(o *options) { o.threads = n }
}

// WithLazyLoad defers loading the model until the first classification.
func WithLazyLoad() Option {
	return func(o *options) { o.lazy = true }
}

func defaultOptions() options {
	return options{
		modelPath: "models/stress_model.onnx",
		cacheSize: 1024,
		threads:   1,
	}
}
