package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/plantpulse/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the stress classification HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address; overrides PLANTPULSE_ADDR")
	return cmd
}

func runServe(ctx context.Context, a *app) error {
	eng, err := buildEngine(ctx, a.cfg.Engine)
	if err != nil {
		return err
	}
	defer eng.Close()

	out, err := buildOutput(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer out.Close()

	srv := server.New(server.Config{
		Addr:           a.cfg.Server.Addr,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		MaxBodyBytes:   a.cfg.Server.MaxBodyBytes,
		ReadTimeout:    a.cfg.Server.ReadTimeout,
		WriteTimeout:   a.cfg.Server.WriteTimeout,
	}, eng, out)

	slog.Info("plantpulse: serving", "addr", a.cfg.Server.Addr)
	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
