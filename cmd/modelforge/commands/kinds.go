package commands

import (
	"github.com/spf13/cobra"

	"github.com/ekisa-team/modelforge/internal/catalog"
)

func newKindsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the model kinds that can be fetched and compiled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := o.catalog
			if c == nil {
				c = catalog.Default
			}
			cmd.Print(prettyPrintKinds(c))
			return nil
		},
	}
}
