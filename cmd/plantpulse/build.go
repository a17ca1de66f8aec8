package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/crimson-sun/plantpulse/internal/broker"
	"github.com/crimson-sun/plantpulse/internal/config"
	"github.com/crimson-sun/plantpulse/internal/engine"
	"github.com/crimson-sun/plantpulse/internal/engine/encoder"
	"github.com/crimson-sun/plantpulse/internal/output"
	"github.com/crimson-sun/plantpulse/internal/output/async"
	"github.com/crimson-sun/plantpulse/internal/output/file"
	mqttout "github.com/crimson-sun/plantpulse/internal/output/mqtt"
	"github.com/crimson-sun/plantpulse/internal/output/multi"
	"github.com/crimson-sun/plantpulse/internal/output/sqlite"
	"github.com/crimson-sun/plantpulse/internal/output/stdout"
	"github.com/crimson-sun/plantpulse/internal/output/webhook"
)

func loadSchema(cfg config.EngineConfig) (encoder.Schema, error) {
	if cfg.SchemaPath == "" {
		return encoder.DefaultSchema(), nil
	}
	return encoder.LoadSchema(cfg.SchemaPath)
}

// buildEngine constructs the engine and loads the model eagerly so a bad
// artifact fails at startup rather than on the first request.
func buildEngine(ctx context.Context, cfg config.EngineConfig) (*engine.Engine, error) {
	schema, err := loadSchema(cfg)
	if err != nil {
		return nil, err
	}
	return startEngine(ctx, engine.Config{
		ModelPath:    cfg.ModelPath,
		LibraryPath:  cfg.LibraryPath,
		Schema:       schema,
		LoadTimeout:  cfg.LoadTimeout,
		InferTimeout: cfg.InferTimeout,
		CacheSize:    cfg.CacheSize,
		Threads:      cfg.Threads,
	})
}

func startEngine(ctx context.Context, cfg engine.Config) (*engine.Engine, error) {
	eng, err := engine.Build(cfg)
	if err != nil {
		return nil, err
	}
	if err := eng.Load(ctx); err != nil {
		eng.Close()
		return nil, err
	}
	slog.Debug("schema active", "features", eng.Slots(), "labels", eng.Labels())
	return eng, nil
}

// buildOutput assembles the configured targets into one output. More than
// one target is fanned out with multi; Async wraps the result.
func buildOutput(ctx context.Context, cfg config.Config) (output.Output, error) {
	verbosity, err := output.ParseVerbosity(cfg.Output.Verbosity)
	if err != nil {
		return nil, err
	}

	var outs []output.Output
	closeAll := func() {
		for _, o := range outs {
			o.Close()
		}
	}

	for _, target := range cfg.Output.Targets {
		var o output.Output
		switch target {
		case "stdout":
			o = stdout.New(verbosity, cfg.Output.Pretty)
		case "file":
			o = file.New(cfg.Output.FilePath, verbosity, file.WithMaxSizeMB(cfg.Output.FileMaxMB))
		case "webhook":
			o = webhook.New(cfg.Output.WebhookURL,
				webhook.WithVerbosity(verbosity),
				webhook.WithOnError(func(err error) {
					slog.Warn("webhook delivery failed", "error", err)
				}),
			)
		case "sqlite":
			db, err := sqlite.Open(ctx, cfg.Output.SQLitePath, verbosity)
			if err != nil {
				closeAll()
				return nil, err
			}
			o = db
		case "mqtt":
			pub, err := mqttout.Dial(broker.Config{
				Broker:   cfg.Connector.Broker,
				ClientID: cfg.Connector.ClientID + "-out",
				Username: cfg.Connector.Username,
				Password: cfg.Connector.Password,
			}, cfg.Output.ResultTopic, verbosity)
			if err != nil {
				closeAll()
				return nil, err
			}
			o = pub
		default:
			closeAll()
			return nil, fmt.Errorf("unknown output target %q", target)
		}
		outs = append(outs, o)
		slog.Debug("output enabled", "target", target)
	}

	var out output.Output
	switch len(outs) {
	case 0:
		out = stdout.New(verbosity, cfg.Output.Pretty)
	case 1:
		out = outs[0]
	default:
		out = multi.New(outs...)
	}

	if cfg.Output.Async {
		out = async.New(out, async.WithOnError(func(err error) {
			slog.Warn("output write failed", "error", err)
		}))
	}
	return out, nil
}
