package classifier

import (
	"fmt"
	"math"
)

// Result holds the outcome of reducing one class distribution to a label.
type Result struct {
	Label         string
	Index         int
	Confidence    float64
	Probabilities []float32
}

// Classifier maps a class-probability distribution to a label.
type Classifier struct {
	labels []string
}

// New creates a Classifier over the given ordered label vocabulary.
func New(labels []string) *Classifier {
	return &Classifier{labels: append([]string(nil), labels...)}
}

// Labels returns the label vocabulary in class-index order.
func (c *Classifier) Labels() []string {
	return append([]string(nil), c.labels...)
}

// NumClasses returns the number of labels.
func (c *Classifier) NumClasses() int {
	return len(c.labels)
}

// Decide picks the class with the strictly greatest score, scanning from
// index 0, so equal maxima resolve to the lowest index. A distribution of
// the wrong length or with non-finite scores is rejected.
func (c *Classifier) Decide(dist []float32) (Result, error) {
	if len(dist) != len(c.labels) {
		return Result{}, fmt.Errorf("classifier: expected %d class scores, got %d", len(c.labels), len(dist))
	}
	best := 0
	for i, v := range dist {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return Result{}, fmt.Errorf("classifier: non-finite score %v at class %d", v, i)
		}
		if v > dist[best] {
			best = i
		}
	}
	return Result{
		Label:         c.labels[best],
		Index:         best,
		Confidence:    float64(dist[best]),
		Probabilities: append([]float32(nil), dist...),
	}, nil
}
