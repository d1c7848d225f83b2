package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"impactloop/internal/components"
)

func newComponentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "components",
		Short: "List the components a pipeline stage may select",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for _, name := range components.Default().Names() {
				fmt.Fprintln(out, name)
			}
			return nil
		},
	}
}
