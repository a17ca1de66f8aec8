package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/plantpulse/internal/config"
	"github.com/crimson-sun/plantpulse/internal/connector"
	"github.com/crimson-sun/plantpulse/internal/engine/dedup"
	"github.com/crimson-sun/plantpulse/internal/pipeline"

	// Register connector implementations.
	_ "github.com/crimson-sun/plantpulse/internal/connector/gateway"
	_ "github.com/crimson-sun/plantpulse/internal/connector/mqtt"
)

func newStreamCmd(a *app) *cobra.Command {
	var (
		provider string
		since    time.Duration
		plantID  string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Classify readings from a connector (mqtt or gateway) continuously",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if provider != "" {
				a.cfg.Connector.Provider = provider
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var params *connector.QueryParams
			if since > 0 {
				params = &connector.QueryParams{
					Start:   time.Now().Add(-since),
					End:     time.Now(),
					PlantID: plantID,
					Limit:   limit,
				}
			}
			return runStream(ctx, a.cfg, params)
		},
	}
	cmd.Flags().StringVar(&provider, "connector", "", "connector name; overrides PLANTPULSE_CONNECTOR")
	cmd.Flags().DurationVar(&since, "since", 0, "classify history from this far back once and exit instead of streaming")
	cmd.Flags().StringVar(&plantID, "plant", "", "restrict --since queries to one plant")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum readings for --since queries")
	return cmd
}

// runStream wires connector, engine and output. A non-nil params runs one
// historical query instead of a live stream.
func runStream(ctx context.Context, cfg config.Config, params *connector.QueryParams) error {
	ctor, err := connector.Get(cfg.Connector.Provider)
	if err != nil {
		return err
	}

	eng, err := buildEngine(ctx, cfg.Engine)
	if err != nil {
		return err
	}
	defer eng.Close()

	out, err := buildOutput(ctx, cfg)
	if err != nil {
		return err
	}

	var opts []pipeline.Option
	if w := cfg.Output.DedupWindow; w > 0 {
		opts = append(opts, pipeline.WithDedup(dedup.New(dedup.Config{Window: w}), w))
	}
	p := pipeline.New(ctor(), eng, out, opts...)
	defer p.Close()

	connCfg := connectorConfig(cfg.Connector)
	if params != nil {
		slog.Info("plantpulse: querying", "connector", connCfg.Provider, "since", params.Start)
		return p.Query(ctx, connCfg, *params)
	}

	slog.Info("plantpulse: streaming", "connector", connCfg.Provider)
	if err := p.Stream(ctx, connCfg); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// connectorConfig maps environment settings onto the generic connector
// config. For mqtt the broker is the endpoint and the password the key.
func connectorConfig(c config.ConnectorConfig) connector.ConnectorConfig {
	switch c.Provider {
	case "mqtt":
		return connector.ConnectorConfig{
			Provider: c.Provider,
			Endpoint: c.Broker,
			APIKey:   c.Password,
			Extra: map[string]string{
				"topic":     c.Topic,
				"client_id": c.ClientID,
				"username":  c.Username,
			},
		}
	default:
		return connector.ConnectorConfig{
			Provider: c.Provider,
			Endpoint: c.Endpoint,
			APIKey:   c.APIKey,
			Extra: map[string]string{
				"poll_interval": c.PollInterval.String(),
			},
		}
	}
}
