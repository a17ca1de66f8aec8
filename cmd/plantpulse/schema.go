package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSchemaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the active feature order and labels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSchema(a.cfg.Engine)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "input:  %s\noutput: %s\n\nfeatures:\n", s.InputName, s.OutputName)
			for i, f := range s.Features {
				fmt.Fprintf(w, "  %2d  %s\n", i, f)
			}
			fmt.Fprintln(w, "\nlabels:")
			for i, l := range s.Labels {
				fmt.Fprintf(w, "  %2d  %s\n", i, l)
			}
			return nil
		},
	}
}
