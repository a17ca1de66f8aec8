// Package gateway polls a sensor gateway's REST API for plant readings.
//
// The gateway serves GET {endpoint}/api/readings returning
//
//	{"readings": [{"plant_id": "...", "timestamp": "...", "values": {...}}], "next_cursor": "..."}
//
// Each reading uses the same object shapes the mqtt connector accepts.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/crimson-sun/plantpulse/internal/connector"
	"github.com/crimson-sun/plantpulse/internal/connector/httpclient"
	"github.com/crimson-sun/plantpulse/internal/model"
)

const (
	readingsPath        = "/api/readings"
	defaultPollInterval = 30 * time.Second
)

func init() {
	connector.Register("gateway", func() connector.Connector {
		return &Connector{}
	})
}

// Connector implements the connector.Connector interface for the sensor gateway.
type Connector struct{}

type readingsResponse struct {
	Readings   []map[string]any `json:"readings"`
	NextCursor string           `json:"next_cursor"`
}

func newClient(cfg connector.ConnectorConfig) (*httpclient.Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("gateway connector: endpoint is required")
	}
	return httpclient.New(cfg.Endpoint, cfg.APIKey), nil
}

func toObservations(resp readingsResponse) []model.Observation {
	out := make([]model.Observation, 0, len(resp.Readings))
	for i, r := range resp.Readings {
		obs, err := connector.ObservationFromMap(r, "gateway")
		if err != nil {
			slog.Warn("gateway reading rejected", "index", i, "error", err)
			continue
		}
		out = append(out, obs)
	}
	return out
}

func (c *Connector) Query(ctx context.Context, cfg connector.ConnectorConfig, params connector.QueryParams) ([]model.Observation, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	base := url.Values{}
	if !params.Start.IsZero() {
		base.Set("since", params.Start.UTC().Format(time.RFC3339Nano))
	}
	if !params.End.IsZero() {
		base.Set("until", params.End.UTC().Format(time.RFC3339Nano))
	}
	if params.PlantID != "" {
		base.Set("plant_id", params.PlantID)
	}
	if params.Limit > 0 {
		base.Set("limit", strconv.Itoa(params.Limit))
	}

	var results []model.Observation
	cursor := ""
	for {
		q := url.Values{}
		for k, v := range base {
			q[k] = v
		}
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var resp readingsResponse
		if err := client.GetJSON(ctx, readingsPath, q, &resp); err != nil {
			return nil, fmt.Errorf("gateway connector: %w", err)
		}
		results = append(results, toObservations(resp)...)
		if params.Limit > 0 && len(results) >= params.Limit {
			return results[:params.Limit], nil
		}

		cursor = resp.NextCursor
		if cursor == "" || len(resp.Readings) == 0 {
			break
		}
	}
	return results, nil
}

func (c *Connector) Stream(ctx context.Context, cfg connector.ConnectorConfig) (<-chan model.Observation, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	pollInterval := defaultPollInterval
	if raw := cfg.Extra["poll_interval"]; raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			pollInterval = d
		}
	}

	ch := make(chan model.Observation, 64)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		cursor := poll(ctx, client, "", ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cursor = poll(ctx, client, cursor, ch)
			}
		}
	}()
	return ch, nil
}

// poll fetches one page after cursor and returns the cursor to resume from.
func poll(ctx context.Context, client *httpclient.Client, cursor string, ch chan<- model.Observation) string {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var resp readingsResponse
	if err := client.GetJSON(ctx, readingsPath, q, &resp); err != nil {
		if ctx.Err() == nil {
			slog.Warn("poll error", "connector", "gateway", "error", err)
		}
		return cursor
	}

	for _, obs := range toObservations(resp) {
		select {
		case ch <- obs:
		case <-ctx.Done():
			return cursor
		}
	}

	if resp.NextCursor != "" {
		return resp.NextCursor
	}
	return cursor
}
