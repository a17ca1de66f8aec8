package output

import (
	"fmt"

	"github.com/crimson-sun/plantpulse/internal/model"
)

// Verbosity controls which assessment fields outputs keep.
type Verbosity int

const (
	Minimal Verbosity = iota
	Standard
	Full
)

// ParseVerbosity maps "minimal", "standard" or "full" to a Verbosity.
func ParseVerbosity(s string) (Verbosity, error) {
	switch s {
	case "minimal":
		return Minimal, nil
	case "standard", "":
		return Standard, nil
	case "full":
		return Full, nil
	default:
		return Standard, fmt.Errorf("output: unknown verbosity %q", s)
	}
}

func (v Verbosity) String() string {
	switch v {
	case Minimal:
		return "minimal"
	case Full:
		return "full"
	default:
		return "standard"
	}
}

// Format returns a copy of the assessment with fields stripped according
// to verbosity. Minimal keeps identity, time and label. Standard adds
// confidence and the encoded features. Full adds the class distribution.
func Format(a model.Assessment, v Verbosity) model.Assessment {
	switch v {
	case Minimal:
		a.Confidence = 0
		a.Features = nil
		a.Probabilities = nil
	case Standard:
		a.Probabilities = nil
	}
	return a
}
