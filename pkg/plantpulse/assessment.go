package plantpulse

import "time"

// Reading is one set of sensor values for a plant. Set either Values
// (looked up by feature name) or Vector (already in Features() order).
type Reading struct {
	PlantID   string
	Timestamp time.Time // zero = time.Now()
	Values    map[string]any
	Vector    []float64
}

// Assessment is a classified reading.
// This is the stable public type; internal representations may evolve
// independently without breaking consumers.
type Assessment struct {
	ID            string    `json:"id"`
	PlantID       string    `json:"plant_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Label         string    `json:"label"`         // Low Stress, Medium Stress or High Stress
	ClassIndex    int       `json:"class_index"`   // index into Labels()
	Confidence    float64   `json:"confidence"`    // winning class score
	Probabilities []float32 `json:"probabilities"` // full distribution
}
