package commands

import (
	"github.com/spf13/cobra"
)

func newCompileCmd(o *options) *cobra.Command {
	var (
		flags compileFlags
		reuse bool
	)
	c := &cobra.Command{
		Use:   "compile",
		Short: "Compile a model into a deployable bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.loadConfig(cmd, &flags)
			if err != nil {
				return err
			}

			forge, backends, err := o.newForge(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer backends.Close()

			res, err := forge.Compile(cmd.Context(), cfg, reuse)
			if err != nil {
				return err
			}

			if res.Reused {
				cmd.Printf("Reused bundle %s\n", res.Manifest.Fingerprint)
			} else {
				cmd.Printf("Compiled %s for %s\n", cfg.Model.Kind, cfg.Target)
			}
			cmd.Print(prettyPrintManifest(res.Paths, res.Manifest))
			return nil
		},
	}
	flags.register(c)
	c.Flags().BoolVar(&reuse, "reuse", false, "Adopt an existing bundle built from the same options")
	return c
}
