package output

import (
	"context"

	"github.com/crimson-sun/plantpulse/internal/model"
)

// Output defines the interface for assessment destinations.
type Output interface {
	Write(ctx context.Context, a model.Assessment) error
	Close() error
}
