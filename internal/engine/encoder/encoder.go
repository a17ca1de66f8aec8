package encoder

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/crimson-sun/plantpulse/internal/model"
)

var (
	errNotFinite   = errors.New("not a finite number")
	errUnsupported = errors.New("unsupported value type")
	errDuplicate   = errors.New("supplied more than once")
)

// Encoder turns observation sets into fixed-order feature vectors.
// Safe for concurrent use.
type Encoder struct {
	slots []string
	index map[string]int // normalized name -> slot position
}

// New creates an Encoder for the given ordered slot names.
func New(slots []string) *Encoder {
	e := &Encoder{
		slots: append([]string(nil), slots...),
		index: make(map[string]int, len(slots)),
	}
	for i, s := range slots {
		e.index[normalizeKey(s)] = i
	}
	return e
}

// Slots returns the ordered feature slot names.
func (e *Encoder) Slots() []string {
	return append([]string(nil), e.slots...)
}

// Dim returns the feature vector length.
func (e *Encoder) Dim() int {
	return len(e.slots)
}

// Encode looks up every slot by name. Missing slots yield a
// ShapeMismatchError listing all of them; unknown keys are ignored.
func (e *Encoder) Encode(values map[string]any) ([]float32, error) {
	byPos := make([]any, len(e.slots))
	found := make([]bool, len(e.slots))
	for k, v := range values {
		i, ok := e.index[normalizeKey(k)]
		if !ok {
			slog.Debug("ignoring unknown feature", "key", k)
			continue
		}
		if found[i] {
			return nil, &model.InvalidValueError{Feature: e.slots[i], Position: i, Value: v, Err: errDuplicate}
		}
		byPos[i] = v
		found[i] = true
	}

	var missing []string
	for i, ok := range found {
		if !ok {
			missing = append(missing, e.slots[i])
		}
	}
	if len(missing) > 0 {
		return nil, &model.ShapeMismatchError{
			Want:    len(e.slots),
			Got:     len(e.slots) - len(missing),
			Missing: missing,
		}
	}
	return e.convert(byPos)
}

// EncodeVector converts positional values already in slot order. The length
// must match exactly; nothing is truncated or padded.
func (e *Encoder) EncodeVector(values []any) ([]float32, error) {
	if len(values) != len(e.slots) {
		return nil, &model.ShapeMismatchError{Want: len(e.slots), Got: len(values)}
	}
	return e.convert(values)
}

// EncodeObservation dispatches on the observation's form.
func (e *Encoder) EncodeObservation(obs model.Observation) ([]float32, error) {
	if obs.Positional() {
		return e.EncodeVector(obs.Vector)
	}
	return e.Encode(obs.Values)
}

func (e *Encoder) convert(values []any) ([]float32, error) {
	out := make([]float32, len(values))
	for i, v := range values {
		f, err := toFloat(v)
		if err != nil {
			return nil, &model.InvalidValueError{
				Feature:  e.slots[i],
				Position: i,
				Value:    v,
				Err:      err,
			}
		}
		out[i] = float32(f)
	}
	return out, nil
}

// toFloat accepts Go numbers, json.Number and numeric strings. NaN and
// infinities are rejected, including ones produced by float32 overflow.
func toFloat(v any) (float64, error) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		return parseNumber(string(x))
	case string:
		return parseNumber(x)
	default:
		return 0, fmt.Errorf("%w %T", errUnsupported, v)
	}
	return checkFinite(f)
}

func parseNumber(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return checkFinite(f)
}

func checkFinite(f float64) (float64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.IsInf(float64(float32(f)), 0) {
		return 0, errNotFinite
	}
	return f, nil
}
