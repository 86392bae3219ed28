package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/ekisa-team/modelforge/internal/backend"
	"github.com/ekisa-team/modelforge/internal/catalog"
	"github.com/ekisa-team/modelforge/internal/envvar"
	"github.com/ekisa-team/modelforge/internal/tensor"
	"github.com/ekisa-team/modelforge/internal/xfs"
)

// CompileConfig holds everything needed to fetch, compile and run one model.
type CompileConfig struct {
	Version   string          `json:"version"    yaml:"version"`
	Model     ModelConfig     `json:"model"      yaml:"model"`
	OutputDir string          `json:"output_dir" yaml:"output_dir"`
	Target    string          `json:"target"     yaml:"target"`
	OptLevel  int             `json:"opt_level"  yaml:"opt_level"`
	Device    string          `json:"device"     yaml:"device"`
	Debug     bool            `json:"debug"      yaml:"debug"`
	Inputs    InputsConfig    `json:"inputs"     yaml:"inputs"`
	Fetch     FetchConfig     `json:"fetch"      yaml:"fetch"`
	Toolchain ToolchainConfig `json:"toolchain"  yaml:"toolchain"`
}

// ModelConfig selects the pretrained model and where it is cached.
type ModelConfig struct {
	Kind catalog.Kind `json:"kind"           yaml:"kind"`
	Root string       `json:"root,omitempty" yaml:"root,omitempty"`
}

// InputsConfig maps graph input names to shapes and element types. The two maps
// need not share keys.
type InputsConfig struct {
	Shapes map[string][]int64      `json:"shapes,omitempty" yaml:"shapes,omitempty"`
	DTypes map[string]tensor.DType `json:"dtypes,omitempty" yaml:"dtypes,omitempty"`
}

// FetchConfig bounds artifact downloads.
type FetchConfig struct {
	Timeout      time.Duration `json:"timeout"        yaml:"timeout"`
	MaxRetries   int           `json:"max_retries"    yaml:"max_retries"`
	RetryWaitMin time.Duration `json:"retry_wait_min" yaml:"retry_wait_min"`
	RetryWaitMax time.Duration `json:"retry_wait_max" yaml:"retry_wait_max"`
}

// ToolchainConfig selects and bounds the compiler toolchain.
type ToolchainConfig struct {
	Provider       backend.Provider `json:"provider"        yaml:"provider"`
	Binary         string           `json:"binary"          yaml:"binary"`
	CompileTimeout time.Duration    `json:"compile_timeout" yaml:"compile_timeout"`
	RunTimeout     time.Duration    `json:"run_timeout"     yaml:"run_timeout"`
}

// Validate checks the values the schema cannot express.
func (c *CompileConfig) Validate() error {
	if _, err := catalog.ParseKind(string(c.Model.Kind)); err != nil {
		return err
	}
	if c.OptLevel < MinOptLevel || c.OptLevel > MaxOptLevel {
		return fmt.Errorf("%w: opt_level %d outside [%d, %d]", ErrInvalid, c.OptLevel, MinOptLevel, MaxOptLevel)
	}
	if c.Target == "" {
		return fmt.Errorf("%w: target is required", ErrInvalid)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("%w: output_dir is required", ErrInvalid)
	}
	if _, err := c.DeviceSpec(); err != nil {
		return err
	}
	for name, shape := range c.Inputs.Shapes {
		if len(shape) == 0 {
			return fmt.Errorf("%w: input %q has an empty shape", ErrInvalid, name)
		}
		for _, d := range shape {
			if d <= 0 {
				return fmt.Errorf("%w: input %q has non-positive dimension %d", ErrInvalid, name, d)
			}
		}
	}
	for name, dt := range c.Inputs.DTypes {
		if _, err := tensor.ParseDType(string(dt)); err != nil {
			return fmt.Errorf("input %q: %w", name, err)
		}
	}

	return nil
}

// DeviceSpec parses Device.
func (c *CompileConfig) DeviceSpec() (backend.Device, error) {
	return backend.ParseDevice(c.Device)
}

// ModelsRoot returns the cache root.
// Precedence:
// 1. MODELFORGE_MODELS_PATH environment variable.
// 2. model.root in the config.
// 3. Default models path.
func (c *CompileConfig) ModelsRoot() string {
	if p := os.Getenv(envvar.ModelforgeModelsPath); p != "" {
		return xfs.ExpandTilde(p)
	}
	if c.Model.Root != "" {
		return xfs.ExpandTilde(c.Model.Root)
	}
	return DefaultModelsPath()
}

// ResolvedOutputDir returns OutputDir with ~ expanded.
func (c *CompileConfig) ResolvedOutputDir() string {
	return xfs.ExpandTilde(c.OutputDir)
}

// DType returns the configured element type for input name, defaulting to float32.
func (c *CompileConfig) DType(name string) tensor.DType {
	if dt, ok := c.Inputs.DTypes[name]; ok {
		return dt
	}
	return DefaultDType
}

// Clone returns a deep copy.
func (c *CompileConfig) Clone() *CompileConfig {
	out := *c
	if c.Inputs.Shapes != nil {
		out.Inputs.Shapes = make(map[string][]int64, len(c.Inputs.Shapes))
		for k, v := range c.Inputs.Shapes {
			out.Inputs.Shapes[k] = slices.Clone(v)
		}
	}
	out.Inputs.DTypes = maps.Clone(c.Inputs.DTypes)

	return &out
}

// Fingerprint identifies the compile-relevant options. Two configs with the same
// fingerprint produce interchangeable bundles.
func (c *CompileConfig) Fingerprint() digest.Digest {
	data, _ := json.Marshal(struct {
		Kind     catalog.Kind            `json:"kind"`
		Provider backend.Provider        `json:"provider"`
		Target   string                  `json:"target"`
		OptLevel int                     `json:"opt_level"`
		Shapes   map[string][]int64      `json:"shapes"`
		DTypes   map[string]tensor.DType `json:"dtypes"`
	}{
		Kind:     c.Model.Kind,
		Provider: c.Toolchain.Provider,
		Target:   c.Target,
		OptLevel: c.OptLevel,
		Shapes:   c.Inputs.Shapes,
		DTypes:   c.Inputs.DTypes,
	})

	return digest.FromBytes(data)
}
