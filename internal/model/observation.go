package model

import "time"

// Observation is the intermediate type produced by connectors and the HTTP
// layer and consumed by the engine. Exactly one of Values or Vector is set.
type Observation struct {
	Timestamp time.Time
	PlantID   string         // subject identifier, empty when unknown
	Source    string         // origin of the reading (e.g. "http", "mqtt", "gateway")
	Values    map[string]any // named readings, looked up by feature slot
	Vector    []any          // positional readings, already in slot order
}

// Positional reports whether the observation carries positional values.
func (o Observation) Positional() bool {
	return o.Values == nil && o.Vector != nil
}
