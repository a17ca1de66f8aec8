package dedup

import (
	"time"

	"github.com/crimson-sun/plantpulse/internal/model"
)

// Config controls deduplication behavior.
type Config struct {
	Window time.Duration // grouping window (default 5s)
}

// Deduplicator collapses repeated labels for the same plant within a time
// window, so a sensor reporting every second does not flood outputs.
type Deduplicator struct {
	cfg Config
}

// New creates a Deduplicator with the given config.
func New(cfg Config) *Deduplicator {
	return &Deduplicator{cfg: cfg}
}

// group accumulates assessments with the same dedup key.
type group struct {
	latest  model.Assessment
	count   int
	firstTS time.Time
}

// DeduplicateBatch collapses assessments with identical PlantID+Label whose
// timestamps fall within Window of the group's first one. Groups are
// returned in first-occurrence order, each represented by its most recent
// assessment with Count set. Assessments without a PlantID are never merged.
func (d *Deduplicator) DeduplicateBatch(batch []model.Assessment) []model.Assessment {
	if len(batch) == 0 {
		return nil
	}

	var order []*group
	open := make(map[string]*group)

	for _, a := range batch {
		if a.PlantID == "" {
			order = append(order, &group{latest: a, count: 1, firstTS: a.Timestamp})
			continue
		}
		key := a.PlantID + "\x00" + a.Label

		g, exists := open[key]
		if exists && a.Timestamp.Sub(g.firstTS) <= d.cfg.Window {
			g.count++
			if !a.Timestamp.Before(g.latest.Timestamp) {
				g.latest = a
			}
			continue
		}

		// New group: either new key or outside window.
		g = &group{latest: a, count: 1, firstTS: a.Timestamp}
		open[key] = g
		order = append(order, g)
	}

	result := make([]model.Assessment, 0, len(order))
	for _, g := range order {
		a := g.latest
		if g.count > 1 {
			a.Count = g.count
		}
		result = append(result, a)
	}
	return result
}
