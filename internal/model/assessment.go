package model

import "time"

// Assessment is plantpulse's output type: one classified observation.
type Assessment struct {
	ID            string             `json:"id"`
	PlantID       string             `json:"plant_id,omitempty"`
	Source        string             `json:"source,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
	Label         string             `json:"label"`
	ClassIndex    int                `json:"class_index"`
	Confidence    float64            `json:"confidence,omitempty"`     // winning class score
	Probabilities []float32          `json:"probabilities,omitempty"` // full distribution, full verbosity only
	Features      map[string]float64 `json:"features,omitempty"`      // encoded inputs by slot name
	Count         int                `json:"count,omitempty"`         // >1 when dedup merged repeats
}
