package plantpulse

import "github.com/crimson-sun/plantpulse/internal/engine/inference"

// withLoader swaps the ONNX loader for a stub model.
func withLoader(l inference.Loader) Option {
	return func(o *options) { o.loader = l }
}
