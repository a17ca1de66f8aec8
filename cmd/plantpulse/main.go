package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/plantpulse/internal/config"
	"github.com/crimson-sun/plantpulse/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "plantpulse: %v\n", err)
		os.Exit(1)
	}
}

// app carries state shared by every subcommand.
type app struct {
	cfg      config.Config
	logLevel string
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "plantpulse",
		Short:         "Classify plant stress from sensor readings",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.cfg = config.Load()
			if a.logLevel != "" {
				a.cfg.LogLevel = a.logLevel
			}
			logging.Init(contains(a.cfg.Output.Targets, "stdout"), logging.ParseLevel(a.cfg.LogLevel))
			switch cmd.Name() {
			case "serve", "classify", "stream":
				return a.cfg.Validate(cmd.Name())
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides PLANTPULSE_LOG_LEVEL")

	root.AddCommand(
		newServeCmd(a),
		newClassifyCmd(a),
		newStreamCmd(a),
		newSchemaCmd(a),
	)
	return root
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
