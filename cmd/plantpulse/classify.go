package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/plantpulse/internal/connector"
	"github.com/crimson-sun/plantpulse/internal/engine"
	"github.com/crimson-sun/plantpulse/internal/model"
	"github.com/crimson-sun/plantpulse/internal/output"
)

const maxLineBytes = 1 << 20

func newClassifyCmd(a *app) *cobra.Command {
	var (
		path string
		sets []string
	)
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify readings from --set flags, a file, or stdin (one JSON object per line)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
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

			if len(sets) > 0 {
				obs, err := observationFromSets(sets)
				if err != nil {
					return err
				}
				return classifyOne(ctx, eng, out, obs)
			}

			var in io.Reader = cmd.InOrStdin()
			if path != "" && path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("classify: %w", err)
				}
				defer f.Close()
				in = f
			}
			return classifyLines(ctx, eng, out, in)
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "NDJSON file of readings (default stdin)")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "feature value as Name=value (repeatable)")
	return cmd
}

func classifyOne(ctx context.Context, eng *engine.Engine, out output.Output, obs model.Observation) error {
	a, err := eng.Process(ctx, obs)
	if err != nil {
		return err
	}
	return out.Write(ctx, a)
}

// classifyLines processes every line; bad lines are logged and counted so
// one malformed reading does not abort a whole file.
func classifyLines(ctx context.Context, eng *engine.Engine, out output.Output, in io.Reader) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var lineNo, processed, failed int
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		processed++
		obs, err := connector.DecodeObservation([]byte(line), "cli")
		if err == nil {
			err = classifyOne(ctx, eng, out, obs)
		}
		if err != nil {
			failed++
			slog.Warn("reading skipped", "line", lineNo, "kind", model.KindOf(err), "error", err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("classify: read input: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("classify: %d of %d readings failed", failed, processed)
	}
	return nil
}

// observationFromSets turns Name=value pairs into named readings. Values
// stay strings; the encoder parses them.
func observationFromSets(sets []string) (model.Observation, error) {
	values := make(map[string]any, len(sets))
	for _, s := range sets {
		name, val, ok := strings.Cut(s, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return model.Observation{}, fmt.Errorf("classify: --set %q: want Name=value", s)
		}
		values[name] = val
	}
	return model.Observation{Source: "cli", Values: values}, nil
}
