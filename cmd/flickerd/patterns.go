package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dokzlo13/flickerd/internal/flicker"
)

func createPatternsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "patterns",
		Short: "List the built-in flicker patterns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTEPS\tBINARY\tJITTER")
			for i, p := range flicker.Patterns() {
				fmt.Fprintf(w, "%d\t%s\t%s\t%v\t%v\n", i, p.Name, p.Steps, p.Binary(), p.Jitter)
			}
			fmt.Fprintf(w, "%d\tambient (strips only)\t-\tfalse\tfalse\n", flicker.Count())
			return w.Flush()
		},
	}
}
