package commands

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/ekisa-team/modelforge/internal/backend/tvmc"
	"github.com/ekisa-team/modelforge/internal/config"
	"github.com/ekisa-team/modelforge/internal/tensor"
)

func newRunCmd(o *options) *cobra.Command {
	var (
		flags     compileFlags
		reuse     bool
		inputPath string
		outPath   string
		seed      uint64
		top       int
	)
	c := &cobra.Command{
		Use:   "run",
		Short: "Compile a model if needed and execute it once",
		Long: "Compile a model if needed and execute it once. Without --input the model is fed a " +
			"uniformly random tensor of the configured input shape.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.loadConfig(cmd, &flags)
			if err != nil {
				return err
			}

			var input *tensor.Tensor
			if inputPath != "" {
				if input, err = readInput(inputPath, cfg); err != nil {
					return err
				}
			}

			forge, backends, err := o.newForge(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer backends.Close()

			res, err := forge.Run(cmd.Context(), cfg, input, seed, reuse)
			if err != nil {
				return err
			}

			slog.Info("Model executed", "kind", cfg.Model.Kind, "handle", res.HandleID, "output", res.Output)

			if outPath != "" {
				if err := tensor.SaveNPZ(outPath, map[string]*tensor.Tensor{tvmc.OutputName(0): res.Output}); err != nil {
					return fmt.Errorf("failed to save output: %w", err)
				}
			}

			cmd.Printf("Output %s\n", res.Output)
			if top > 0 {
				cmd.Print(prettyPrintScores(topK(res.Output, top)))
			}
			return nil
		},
	}
	flags.register(c)
	c.Flags().BoolVar(&reuse, "reuse", false, "Adopt an existing bundle built from the same options")
	c.Flags().StringVar(&inputPath, "input", "", "NPZ file holding the input tensor")
	c.Flags().StringVar(&outPath, "output", "", "Write the output tensor to this NPZ file")
	c.Flags().Uint64Var(&seed, "seed", 0, "Seed of the random input")
	c.Flags().IntVar(&top, "top", 5, "Print the top N output scores (0 disables)")
	return c
}

// readInput loads the input tensor from an NPZ archive. An archive with several arrays must
// name one after a configured input.
func readInput(path string, cfg *config.CompileConfig) (*tensor.Tensor, error) {
	arrays, err := tensor.LoadNPZ(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	if len(arrays) == 1 {
		for _, t := range arrays {
			return t, nil
		}
	}

	names := make([]string, 0, len(cfg.Inputs.Shapes))
	for name := range cfg.Inputs.Shapes {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		if t, ok := arrays[name]; ok {
			return t, nil
		}
	}

	return nil, fmt.Errorf("%s holds %d arrays and none is named after a configured input", path, len(arrays))
}
