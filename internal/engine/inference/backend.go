package inference

// Backend is a loaded, read-only model handle. Implementations must allow
// concurrent Run calls.
type Backend interface {
	// InputDim is the number of features the model's first layer expects.
	InputDim() int
	// NumClasses is the length of the distribution Run returns.
	NumClasses() int
	// Run executes one forward pass on a batch of size 1.
	Run(features []float32) ([]float32, error)
	Close() error
}

// Loader acquires a Backend. It is called at most once per successful load.
type Loader func() (Backend, error)
