package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ekisa-team/modelforge/internal/backend"
	"github.com/ekisa-team/modelforge/internal/catalog"
	"github.com/ekisa-team/modelforge/internal/config"
	"github.com/ekisa-team/modelforge/internal/tensor"
)

// compileFlags override the loaded config. Only flags set on the command line apply.
type compileFlags struct {
	kind      string
	root      string
	outputDir string
	target    string
	optLevel  int
	device    string
	debug     bool
	provider  string
	binary    string
	shapes    []string
	dtypes    []string
}

func (f *compileFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.kind, "kind", "", "Model kind to compile (see 'modelforge kinds')")
	flags.StringVar(&f.root, "models-root", "", "Directory models are cached under")
	flags.StringVar(&f.outputDir, "output-dir", "", "Directory the compiled bundle is written to")
	flags.StringVar(&f.target, "target", config.DefaultTarget, "Compilation target, e.g. llvm or cuda")
	flags.IntVar(&f.optLevel, "opt-level", config.DefaultOptLevel, "Optimization level (0-4)")
	flags.StringVar(&f.device, "device", config.DefaultDevice, "Execution device, e.g. cpu or cuda:0")
	flags.BoolVar(&f.debug, "debug", false, "Use the profiling runtime")
	flags.StringVar(&f.provider, "provider", string(backend.ProviderTVMC), "Compiler toolchain")
	flags.StringVar(&f.binary, "tvmc", config.DefaultBinary, "Path to the tvmc binary")
	flags.StringArrayVar(&f.shapes, "shape", nil, "Input shape as name=d0,d1,... (repeatable)")
	flags.StringArrayVar(&f.dtypes, "dtype", nil, "Input dtype as name=float32 (repeatable)")
}

func (f *compileFlags) apply(cmd *cobra.Command, cfg *config.CompileConfig) error {
	changed := cmd.Flags().Changed

	if changed("kind") {
		kind, err := catalog.ParseKind(f.kind)
		if err != nil {
			return err
		}
		cfg.Model.Kind = kind
	}
	if changed("models-root") {
		cfg.Model.Root = f.root
	}
	if changed("output-dir") {
		cfg.OutputDir = f.outputDir
	}
	if changed("target") {
		cfg.Target = f.target
	}
	if changed("opt-level") {
		cfg.OptLevel = f.optLevel
	}
	if changed("device") {
		cfg.Device = f.device
	}
	if changed("debug") {
		cfg.Debug = f.debug
	}
	if changed("provider") {
		cfg.Toolchain.Provider = backend.Provider(f.provider)
	}
	if changed("tvmc") {
		cfg.Toolchain.Binary = f.binary
	}

	if len(f.shapes) > 0 {
		shapes := make(map[string][]int64, len(f.shapes))
		for _, s := range f.shapes {
			name, shape, err := parseShape(s)
			if err != nil {
				return err
			}
			shapes[name] = shape
		}
		cfg.Inputs.Shapes = shapes
	}

	if len(f.dtypes) > 0 {
		dtypes := make(map[string]tensor.DType, len(f.dtypes))
		for _, s := range f.dtypes {
			name, v, ok := strings.Cut(s, "=")
			if !ok || name == "" {
				return fmt.Errorf("invalid --dtype %q, expected name=dtype", s)
			}
			dt, err := tensor.ParseDType(v)
			if err != nil {
				return fmt.Errorf("input %q: %w", name, err)
			}
			dtypes[name] = dt
		}
		cfg.Inputs.DTypes = dtypes
	}

	return nil
}

// parseShape parses "name=1,3,224,224".
func parseShape(s string) (string, []int64, error) {
	name, dims, ok := strings.Cut(s, "=")
	if !ok || name == "" || dims == "" {
		return "", nil, fmt.Errorf("invalid --shape %q, expected name=d0,d1,...", s)
	}

	fields := strings.Split(dims, ",")
	shape := make([]int64, 0, len(fields))
	for _, field := range fields {
		d, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
		if err != nil || d <= 0 {
			return "", nil, fmt.Errorf("invalid dimension %q in --shape %q", field, s)
		}
		shape = append(shape, d)
	}

	return name, shape, nil
}
