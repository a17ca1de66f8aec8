package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crimson-sun/plantpulse/internal/engine/classifier"
	"github.com/crimson-sun/plantpulse/internal/model"
)

// ErrClosed is returned by Load and Classify after Close.
var ErrClosed = errors.New("inference: service closed")

// State is the lifecycle state of a Service.
type State int

const (
	Unloaded State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "unloaded"
}

const (
	defaultLoadTimeout  = 30 * time.Second
	defaultInferTimeout = 5 * time.Second
)

// Option configures a Service.
type Option func(*Service)

// WithLoadTimeout bounds Load. Default: 30s.
func WithLoadTimeout(d time.Duration) Option {
	return func(s *Service) { s.loadTimeout = d }
}

// WithInferTimeout bounds each forward pass. Default: 5s.
func WithInferTimeout(d time.Duration) Option {
	return func(s *Service) { s.inferTimeout = d }
}

// Service owns the model handle and turns feature vectors into labels.
// It starts Unloaded, becomes Ready after the first successful Load and
// stays Ready until Close. Safe for concurrent use.
type Service struct {
	path         string
	loader       Loader
	cls          *classifier.Classifier
	inputDim     int
	loadTimeout  time.Duration
	inferTimeout time.Duration

	loadMu sync.Mutex // serializes Load

	mu       sync.Mutex // guards backend, closed; never held during inference
	backend  Backend
	closed   bool
	inflight sync.WaitGroup
}

// NewService creates an Unloaded service. path is reported in LoadErrors.
// inputDim is the feature count the encoder produces; a model declaring a
// different input width fails Load.
func NewService(path string, loader Loader, cls *classifier.Classifier, inputDim int, opts ...Option) *Service {
	s := &Service{
		path:         path,
		loader:       loader,
		cls:          cls,
		inputDim:     inputDim,
		loadTimeout:  defaultLoadTimeout,
		inferTimeout: defaultInferTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State reports whether the model handle is loaded.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend != nil {
		return Ready
	}
	return Unloaded
}

// Labels returns the label vocabulary in class-index order.
func (s *Service) Labels() []string {
	return s.cls.Labels()
}

// InputDim returns the model's input dimensionality, or 0 while Unloaded.
func (s *Service) InputDim() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend == nil {
		return 0
	}
	return s.backend.InputDim()
}

type loadResult struct {
	backend Backend
	err     error
}

// Load acquires the model handle. It is a no-op when already Ready. On
// failure, including timeout, the service stays Unloaded and a
// *model.LoadError is returned.
func (s *Service) Load(ctx context.Context) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	s.mu.Lock()
	ready, closed := s.backend != nil, s.closed
	s.mu.Unlock()
	if closed {
		return &model.LoadError{Path: s.path, Err: ErrClosed}
	}
	if ready {
		return nil
	}

	if s.loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.loadTimeout)
		defer cancel()
	}

	start := time.Now()
	ch := make(chan loadResult, 1)
	go func() {
		b, err := s.loader()
		ch <- loadResult{backend: b, err: err}
	}()

	var res loadResult
	select {
	case <-ctx.Done():
		// Release the handle if the loader finishes after we gave up.
		go func() {
			if late := <-ch; late.backend != nil {
				late.backend.Close()
			}
		}()
		return &model.LoadError{Path: s.path, Err: ctx.Err()}
	case res = <-ch:
	}
	if res.err != nil {
		return &model.LoadError{Path: s.path, Err: res.err}
	}
	if res.backend.InputDim() != s.inputDim {
		res.backend.Close()
		return &model.LoadError{
			Path: s.path,
			Err: fmt.Errorf("model expects %d input features, schema has %d",
				res.backend.InputDim(), s.inputDim),
		}
	}
	if res.backend.NumClasses() != s.cls.NumClasses() {
		res.backend.Close()
		return &model.LoadError{
			Path: s.path,
			Err: fmt.Errorf("model has %d classes, label vocabulary has %d",
				res.backend.NumClasses(), s.cls.NumClasses()),
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		res.backend.Close()
		return &model.LoadError{Path: s.path, Err: ErrClosed}
	}
	s.backend = res.backend
	s.mu.Unlock()

	slog.Info("model loaded",
		"path", s.path,
		"input_dim", res.backend.InputDim(),
		"classes", res.backend.NumClasses(),
		"elapsed", time.Since(start))
	return nil
}

// acquire returns the backend and registers an in-flight call.
func (s *Service) acquire() (Backend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.backend == nil {
		return nil, nil
	}
	s.inflight.Add(1)
	return s.backend, nil
}

type runResult struct {
	dist []float32
	err  error
}

// Classify runs one forward pass and applies the decision rule. An
// Unloaded service loads first. Errors are *model.LoadError,
// *model.ShapeMismatchError or *model.InferenceError.
func (s *Service) Classify(ctx context.Context, features []float32) (classifier.Result, error) {
	b, err := s.acquire()
	if err != nil {
		return classifier.Result{}, &model.LoadError{Path: s.path, Err: err}
	}
	if b == nil {
		if err := s.Load(ctx); err != nil {
			return classifier.Result{}, err
		}
		if b, err = s.acquire(); err != nil || b == nil {
			return classifier.Result{}, &model.LoadError{Path: s.path, Err: ErrClosed}
		}
	}

	if len(features) != b.InputDim() {
		s.inflight.Done()
		return classifier.Result{}, &model.ShapeMismatchError{Want: b.InputDim(), Got: len(features)}
	}

	if s.inferTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.inferTimeout)
		defer cancel()
	}

	input := append([]float32(nil), features...)
	ch := make(chan runResult, 1)
	go func() {
		defer s.inflight.Done()
		dist, err := b.Run(input)
		ch <- runResult{dist: dist, err: err}
	}()

	var res runResult
	select {
	case <-ctx.Done():
		return classifier.Result{}, &model.InferenceError{Err: ctx.Err()}
	case res = <-ch:
	}
	if res.err != nil {
		return classifier.Result{}, &model.InferenceError{Err: res.err}
	}
	out, err := s.cls.Decide(res.dist)
	if err != nil {
		return classifier.Result{}, &model.InferenceError{Err: err}
	}
	return out, nil
}

// Close releases the model handle after in-flight calls finish. The
// service cannot be used afterwards.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	b := s.backend
	s.backend = nil
	s.mu.Unlock()

	s.inflight.Wait()
	if b != nil {
		return b.Close()
	}
	return nil
}
