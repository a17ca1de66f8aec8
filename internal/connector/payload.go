package connector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/crimson-sun/plantpulse/internal/model"
)

// Reserved payload keys. Every other top-level key is a named reading.
const (
	KeyPlantID   = "plant_id"
	KeyTimestamp = "timestamp"
	KeyFeatures  = "features"
	KeyValues    = "values"
)

// DecodeObservation parses a JSON object into an Observation. The object is
// either a flat map of named readings, a map with a "values" object, or a
// map with a positional "features" array. "plant_id" and "timestamp" are
// lifted out when present. Numbers are kept as json.Number.
func DecodeObservation(data []byte, source string) (model.Observation, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return model.Observation{}, fmt.Errorf("decode observation: %w", err)
	}
	if m == nil {
		return model.Observation{}, fmt.Errorf("decode observation: payload is not a JSON object")
	}
	return ObservationFromMap(m, source)
}

// ObservationFromMap is DecodeObservation for an already-decoded object.
func ObservationFromMap(m map[string]any, source string) (model.Observation, error) {
	obs := model.Observation{Source: source}

	if v, ok := m[KeyPlantID]; ok {
		obs.PlantID = fmt.Sprint(v)
	}
	if v, ok := m[KeyTimestamp]; ok {
		ts, err := parseTimestamp(v)
		if err != nil {
			return model.Observation{}, err
		}
		obs.Timestamp = ts
	}

	if v, ok := m[KeyFeatures]; ok {
		arr, ok := v.([]any)
		if !ok {
			return model.Observation{}, fmt.Errorf("decode observation: %q must be an array, got %T", KeyFeatures, v)
		}
		obs.Vector = arr
		return obs, nil
	}

	if v, ok := m[KeyValues]; ok {
		values, ok := v.(map[string]any)
		if !ok {
			return model.Observation{}, fmt.Errorf("decode observation: %q must be an object, got %T", KeyValues, v)
		}
		obs.Values = values
		return obs, nil
	}

	obs.Values = make(map[string]any, len(m))
	for k, v := range m {
		if k == KeyPlantID || k == KeyTimestamp {
			continue
		}
		obs.Values[k] = v
	}
	return obs, nil
}

// parseTimestamp accepts RFC 3339 strings and unix seconds.
func parseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case string:
		ts, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("decode observation: timestamp: %w", err)
		}
		return ts, nil
	case json.Number:
		f, err := strconv.ParseFloat(t.String(), 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("decode observation: timestamp: %w", err)
		}
		return time.UnixMilli(int64(f * 1000)).UTC(), nil
	case float64:
		return time.UnixMilli(int64(t * 1000)).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("decode observation: unsupported timestamp type %T", v)
	}
}
