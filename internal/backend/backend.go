package backend

import (
	"context"
	"time"

	"github.com/ekisa-team/modelforge/internal/bundle"
	"github.com/ekisa-team/modelforge/internal/tensor"
)

// Provider is a string identifier for a compiler toolchain.
type Provider string

const (
	ProviderTVMC Provider = "tvmc"
)

// Backend compiles interchange-format models into deployable bundles and loads them for execution.
type Backend interface {
	// Provider returns the backend identifier.
	Provider() Provider

	// Compile lowers the model for the requested target and returns the compiled artifacts.
	Compile(ctx context.Context, req *CompileRequest) (*Artifacts, error)

	// Load binds compiled artifacts to a device.
	Load(ctx context.Context, req *LoadRequest) (Module, error)

	// Close cleans up resources.
	Close() error
}

// Module is a loaded, runnable compiled graph. Implementations are not safe for concurrent use.
type Module interface {
	// SetInput binds t to the graph input called name.
	SetInput(name string, t *tensor.Tensor) error

	// Run executes the graph synchronously.
	Run(ctx context.Context) error

	// Output returns the output at index from the last Run.
	Output(index int) (*tensor.Tensor, error)

	// Close releases the module.
	Close() error
}

// Input describes one graph input as the compiler should see it.
type Input struct {
	Name  string
	Shape []int64
	DType tensor.DType
}

// CompileRequest encapsulates all parameters for a compilation.
type CompileRequest struct {
	// ModelPath is the path to the serialized model file.
	ModelPath string

	// ModelName names the compiled module.
	ModelName string

	// Target is passed to the toolchain verbatim (e.g. "llvm", "cuda").
	Target string

	// OptLevel is the optimization level, 0..4.
	OptLevel int

	// Inputs lists the runtime inputs in graph order.
	Inputs []Input
}

// Artifacts is the output of a successful compilation.
type Artifacts struct {
	Contents *bundle.Contents
	Metadata *Metadata
}

// LoadRequest encapsulates all parameters for loading compiled artifacts.
type LoadRequest struct {
	Contents *bundle.Contents
	Device   Device

	// Debug selects the instrumented runtime.
	Debug bool
}

// Metadata describes a compilation.
type Metadata struct {
	Provider Provider      `json:"provider"`
	Model    string        `json:"model"`
	Target   string        `json:"target"`
	Version  string        `json:"version,omitempty"`
	Duration time.Duration `json:"duration"`
	Log      string        `json:"log,omitempty"`
}

// StreamChunk represents a single chunk of streamed command output.
type StreamChunk struct {
	// Data is the chunk content.
	Data []byte

	// Done indicates if this is the final chunk.
	Done bool

	// Error if something went wrong.
	Error error
}
