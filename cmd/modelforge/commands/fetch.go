package commands

import (
	"github.com/spf13/cobra"

	"github.com/ekisa-team/modelforge/internal/catalog"
	"github.com/ekisa-team/modelforge/internal/service"
)

func newFetchCmd(o *options) *cobra.Command {
	var (
		root      string
		overwrite bool
	)
	c := &cobra.Command{
		Use:   "fetch KIND",
		Short: "Download a pretrained model into the local cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := catalog.ParseKind(args[0])
			if err != nil {
				return err
			}

			cfg, err := o.loadConfig(cmd, nil)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("models-root") {
				root = cfg.ModelsRoot()
			}

			m := o.metrics()
			forge := service.New(nil, service.NewLoaders(cfg.Fetch, m, o.cacheOptions()...), m)

			path, err := forge.Fetch(cmd.Context(), kind, root, overwrite)
			if err != nil {
				return err
			}

			cmd.Println(path)
			return nil
		},
	}
	c.Flags().StringVar(&root, "models-root", "", "Directory models are cached under")
	c.Flags().BoolVar(&overwrite, "overwrite", false, "Download again even when cached")
	return c
}
