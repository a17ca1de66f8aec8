package inference

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ortEnv manages global ONNX Runtime initialization (process-wide singleton).
var ortEnv struct {
	once sync.Once
	err  error
}

// initORT initializes the ONNX Runtime environment. Safe to call multiple
// times; only the first call has any effect.
func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// ONNXConfig locates the model artifact and names its tensors.
type ONNXConfig struct {
	ModelPath   string
	LibraryPath string // defaults to libonnxruntime.so next to the model
	InputName   string
	OutputName  string
	Threads     int
}

// onnxBackend wraps a DynamicAdvancedSession for a tabular classifier with
// one float input [batch, features] and one probability output
// [batch, classes].
type onnxBackend struct {
	session    *ort.DynamicAdvancedSession
	inputDim   int64
	numClasses int64
}

// NewONNXLoader returns a Loader that opens the artifact described by cfg.
func NewONNXLoader(cfg ONNXConfig) Loader {
	return func() (Backend, error) {
		return newONNXBackend(cfg)
	}
}

func newONNXBackend(cfg ONNXConfig) (*onnxBackend, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("onnx: %w", err)
	}

	libPath := cfg.LibraryPath
	if libPath == "" {
		libPath = filepath.Join(filepath.Dir(cfg.ModelPath), "libonnxruntime.so")
	}
	if err := initORT(libPath); err != nil {
		return nil, fmt.Errorf("onnx: failed to initialize runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to read model info: %w", err)
	}

	in, err := findTensor(inputs, cfg.InputName)
	if err != nil {
		return nil, fmt.Errorf("onnx: input: %w", err)
	}
	out, err := findTensor(outputs, cfg.OutputName)
	if err != nil {
		return nil, fmt.Errorf("onnx: output: %w", err)
	}
	inputDim, err := featureDim(in)
	if err != nil {
		return nil, fmt.Errorf("onnx: input %q: %w", in.Name, err)
	}
	numClasses, err := featureDim(out)
	if err != nil {
		return nil, fmt.Errorf("onnx: output %q: %w", out.Name, err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session options: %w", err)
	}
	defer opts.Destroy()
	threads := cfg.Threads
	if threads <= 0 {
		threads = 1
	}
	opts.SetIntraOpNumThreads(threads)
	opts.SetInterOpNumThreads(1)

	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{in.Name},
		[]string{out.Name},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session: %w", err)
	}

	return &onnxBackend{
		session:    session,
		inputDim:   inputDim,
		numClasses: numClasses,
	}, nil
}

func findTensor(infos []ort.InputOutputInfo, name string) (ort.InputOutputInfo, error) {
	for _, info := range infos {
		if info.Name == name {
			if info.OrtValueType != ort.ONNXTypeTensor {
				return info, fmt.Errorf("%q is not a tensor (%v)", name, info.OrtValueType)
			}
			if info.DataType != ort.TensorElementDataTypeFloat {
				return info, fmt.Errorf("%q has element type %v, want float", name, info.DataType)
			}
			return info, nil
		}
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return ort.InputOutputInfo{}, fmt.Errorf("model has no tensor %q (have %v)", name, names)
}

// featureDim checks a [batch, n] shape where batch is 1 or dynamic, and
// returns n.
func featureDim(info ort.InputOutputInfo) (int64, error) {
	dims := info.Dimensions
	if len(dims) != 2 {
		return 0, fmt.Errorf("expected 2D tensor, got %v", dims)
	}
	if dims[0] != 1 && dims[0] != -1 {
		return 0, fmt.Errorf("batch dimension must be 1 or dynamic, got %d", dims[0])
	}
	if dims[1] <= 0 {
		return 0, fmt.Errorf("feature dimension must be fixed, got %d", dims[1])
	}
	return dims[1], nil
}

func (b *onnxBackend) InputDim() int   { return int(b.inputDim) }
func (b *onnxBackend) NumClasses() int { return int(b.numClasses) }

// Run creates per-call tensors so concurrent calls share only the session.
func (b *onnxBackend) Run(features []float32) ([]float32, error) {
	in, err := ort.NewTensor(ort.NewShape(1, b.inputDim), features)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create input tensor: %w", err)
	}
	defer in.Destroy()

	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, b.numClasses))
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create output tensor: %w", err)
	}
	defer out.Destroy()

	if err := b.session.Run([]ort.Value{in}, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("onnx: inference failed: %w", err)
	}

	// Copy data out before tensor is destroyed.
	src := out.GetData()
	result := make([]float32, len(src))
	copy(result, src)
	return result, nil
}

func (b *onnxBackend) Close() error {
	return b.session.Destroy()
}
