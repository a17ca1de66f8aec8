package model

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for reporting at the service boundary.
type Kind string

const (
	KindLoad          Kind = "load"
	KindShapeMismatch Kind = "shape_mismatch"
	KindInference     Kind = "inference"
	KindInvalidValue  Kind = "invalid_value"
	KindInternal      Kind = "internal"
)

// LoadError reports a model artifact that is missing, unreadable or has
// incompatible tensor shapes.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load model %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ShapeMismatchError reports a feature vector whose length differs from the
// model's input dimensionality. Missing lists absent named slots, if any.
type ShapeMismatchError struct {
	Want    int
	Got     int
	Missing []string
}

func (e *ShapeMismatchError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("shape mismatch: missing features %s", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("shape mismatch: expected %d features, got %d", e.Want, e.Got)
}

// InferenceError reports a failed forward pass, including timeouts.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed: %v", e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// InvalidValueError reports a reading that is not a finite number.
type InvalidValueError struct {
	Feature  string
	Position int
	Value    any
	Err      error
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value for %s (position %d): %v", e.Feature, e.Position, e.Err)
}

func (e *InvalidValueError) Unwrap() error { return e.Err }

// KindOf returns the Kind of a typed error in err's chain. When several
// are present (errors.Join), the precedence is shape mismatch, invalid
// value, load, inference.
func KindOf(err error) Kind {
	var (
		loadErr  *LoadError
		shapeErr *ShapeMismatchError
		infErr   *InferenceError
		valErr   *InvalidValueError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &shapeErr):
		return KindShapeMismatch
	case errors.As(err, &valErr):
		return KindInvalidValue
	case errors.As(err, &loadErr):
		return KindLoad
	case errors.As(err, &infErr):
		return KindInference
	default:
		return KindInternal
	}
}
