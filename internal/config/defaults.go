package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/ekisa-team/modelforge/internal/backend"
	"github.com/ekisa-team/modelforge/internal/catalog"
	"github.com/ekisa-team/modelforge/internal/envvar"
	"github.com/ekisa-team/modelforge/internal/tensor"
)

// Defaults.
const (
	CurrentVersion        = "1"
	DefaultTarget         = "llvm"
	DefaultOptLevel       = 3
	MinOptLevel           = 0
	MaxOptLevel           = 4
	DefaultDevice         = "cpu"
	DefaultOutputDir      = "output"
	DefaultDType          = tensor.Float32
	DefaultFetchTimeout   = 5 * time.Minute
	DefaultMaxRetries     = 3
	DefaultRetryWaitMin   = time.Second
	DefaultRetryWaitMax   = 30 * time.Second
	DefaultBinary         = "tvmc"
	DefaultCompileTimeout = 30 * time.Minute
	DefaultRunTimeout     = 5 * time.Minute
	DefaultConfigFileName = "config.yaml"
	DefaultGRPCPortNumber = 50051
	DefaultMetricsAddr    = ":9090"
)

// Default returns a config with every default applied, compiling resnet50 for its
// conventional input.
func Default() *CompileConfig {
	return &CompileConfig{
		Version: CurrentVersion,
		Model: ModelConfig{
			Kind: catalog.KindResNet50,
		},
		OutputDir: DefaultOutputDir,
		Target:    DefaultTarget,
		OptLevel:  DefaultOptLevel,
		Device:    DefaultDevice,
		Inputs: InputsConfig{
			Shapes: map[string][]int64{"data": {1, 3, 224, 224}},
			DTypes: map[string]tensor.DType{"data": DefaultDType},
		},
		Fetch: FetchConfig{
			Timeout:      DefaultFetchTimeout,
			MaxRetries:   DefaultMaxRetries,
			RetryWaitMin: DefaultRetryWaitMin,
			RetryWaitMax: DefaultRetryWaitMax,
		},
		Toolchain: ToolchainConfig{
			Provider:       backend.ProviderTVMC,
			Binary:         DefaultBinary,
			CompileTimeout: DefaultCompileTimeout,
			RunTimeout:     DefaultRunTimeout,
		},
	}
}

// DefaultConfigPath returns the default path for the MODELFORGE config directory.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "modelforge", "config")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "modelforge")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "modelforge")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "modelforge")
		}
		return filepath.Join(home, ".config", "modelforge")
	}
}

// DefaultConfigFile returns the config file read when none is given.
func DefaultConfigFile() string {
	return filepath.Join(DefaultConfigPath(), DefaultConfigFileName)
}

// DefaultModelsPath returns the default path for the MODELFORGE models directory.
func DefaultModelsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "modelforge", "models")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Local", "modelforge", "models")
	case "darwin":
		return filepath.Join(home, "Library", "Caches", "modelforge", "models")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
			return filepath.Join(xdg, "modelforge", "models")
		}
		return filepath.Join(home, ".cache", "modelforge", "models")
	}
}

// DefaultGRPCPort returns the port the gRPC server listens on unless overridden by flag.
func DefaultGRPCPort() int {
	if v := os.Getenv(envvar.ModelforgeServerGRPCPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port < 65536 {
			return port
		}
	}
	return DefaultGRPCPortNumber
}
