package connector

import (
	"context"
	"time"

	"github.com/crimson-sun/plantpulse/internal/model"
)

// Connector defines the interface all observation sources must implement.
type Connector interface {
	// Stream opens a long-lived subscription and sends observations as they arrive.
	Stream(ctx context.Context, cfg ConnectorConfig) (<-chan model.Observation, error)

	// Query fetches a batch of recent observations matching the given parameters.
	Query(ctx context.Context, cfg ConnectorConfig, params QueryParams) ([]model.Observation, error)
}

// ConnectorConfig holds provider-specific connection settings.
type ConnectorConfig struct {
	Provider string
	APIKey   string // bearer token (gateway) or password (mqtt)
	Endpoint string // gateway base URL or broker address
	Extra    map[string]string
}

// QueryParams defines filters for historical queries.
type QueryParams struct {
	Start   time.Time
	End     time.Time
	Limit   int
	PlantID string
}
