// Package tvmc implements backend.Backend on top of the tvmc command line driver.
package tvmc

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"

	"github.com/ekisa-team/modelforge/internal/backend"
	"github.com/ekisa-team/modelforge/internal/bundle"
)

const (
	// DefaultBinary is looked up on PATH when no binary is configured.
	DefaultBinary = "tvmc"

	DefaultCompileTimeout = 30 * time.Minute
	DefaultRunTimeout     = 5 * time.Minute

	archiveName = "module.tar"
)

// Backend compiles ONNX models with tvmc and runs them with tvmc run.
type Backend struct {
	compiler *backend.Executor
	runner   *backend.Executor
	workDir  string
}

var _ backend.Backend = (*Backend)(nil)

type options struct {
	compileTimeout time.Duration
	runTimeout     time.Duration
	runner         backend.CommandRunner
	workDir        string
}

// Option configures a Backend.
type Option func(*options)

// WithCompileTimeout bounds each compilation.
func WithCompileTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.compileTimeout = d
		}
	}
}

// WithRunTimeout bounds each execution.
func WithRunTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.runTimeout = d
		}
	}
}

// WithCommandRunner replaces os/exec. The binary is then not looked up on PATH.
func WithCommandRunner(r backend.CommandRunner) Option {
	return func(o *options) {
		o.runner = r
	}
}

// WithWorkDir sets where scratch directories are created. Defaults to os.TempDir().
func WithWorkDir(dir string) Option {
	return func(o *options) {
		o.workDir = dir
	}
}

// New creates a tvmc backend invoking binary.
func New(binary string, opts ...Option) (*Backend, error) {
	o := &options{
		compileTimeout: DefaultCompileTimeout,
		runTimeout:     DefaultRunTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if binary == "" {
		binary = DefaultBinary
	}

	var exec *backend.Executor
	if o.runner != nil {
		exec = backend.NewExecutorWithRunner(binary, o.compileTimeout, o.runner)
	} else {
		var err error
		exec, err = backend.NewExecutor(binary, o.compileTimeout)
		if err != nil {
			return nil, fmt.Errorf("tvmc: %w", err)
		}
	}

	return &Backend{
		compiler: exec,
		runner:   exec.WithTimeout(o.runTimeout),
		workDir:  o.workDir,
	}, nil
}

// Provider returns backend.ProviderTVMC.
func (b *Backend) Provider() backend.Provider {
	return backend.ProviderTVMC
}

// Version reports the toolchain version.
func (b *Backend) Version(ctx context.Context) (string, error) {
	stdout, _, err := b.runner.Execute(ctx, []string{"--version"}, nil)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(stdout)), nil
}

// Compile runs tvmc compile and extracts the resulting package archive.
func (b *Backend) Compile(ctx context.Context, req *backend.CompileRequest) (*backend.Artifacts, error) {
	if len(req.Inputs) == 0 {
		return nil, fmt.Errorf("tvmc: compile %s: no inputs", req.ModelName)
	}

	dir, err := os.MkdirTemp(b.workDir, "modelforge-compile-")
	if err != nil {
		return nil, fmt.Errorf("tvmc: failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	out := filepath.Join(dir, archiveName)
	start := time.Now()

	ch, err := b.compiler.Stream(ctx, compileArgs(req, out), nil)
	if err != nil {
		return nil, fmt.Errorf("tvmc: compile %s: %w", req.ModelName, err)
	}

	var log strings.Builder
	for chunk := range ch {
		if chunk.Done {
			err = chunk.Error
			continue
		}
		log.Write(chunk.Data)
		slog.Debug("tvmc compile", "model", req.ModelName, "line", strings.TrimRight(string(chunk.Data), "\n"))
	}
	if err != nil {
		return nil, fmt.Errorf("tvmc: compile %s: %w", req.ModelName, err)
	}

	f, err := os.Open(out)
	if err != nil {
		return nil, fmt.Errorf("tvmc: compile %s produced no package: %w", req.ModelName, err)
	}
	defer f.Close()

	contents, err := ReadArchive(f)
	if err != nil {
		return nil, fmt.Errorf("tvmc: compile %s: %w", req.ModelName, err)
	}

	duration := time.Since(start)
	slog.Info("Model compiled",
		"model", req.ModelName,
		"target", req.Target,
		"opt_level", req.OptLevel,
		"library_size", units.HumanSize(float64(len(contents.Library))),
		"duration", duration.Round(time.Millisecond),
	)

	return &backend.Artifacts{
		Contents: contents,
		Metadata: &backend.Metadata{
			Provider: backend.ProviderTVMC,
			Model:    req.ModelName,
			Target:   req.Target,
			Duration: duration,
			Log:      log.String(),
		},
	}, nil
}

func compileArgs(req *backend.CompileRequest, out string) []string {
	return []string{
		"compile",
		"--target", req.Target,
		"--opt-level", strconv.Itoa(req.OptLevel),
		"--model-format", "onnx",
		"--input-shapes", InputShapes(req.Inputs),
		"--output", out,
		req.ModelPath,
	}
}

// InputShapes formats inputs the way --input-shapes expects: "data:[1,3,224,224] mask:[1]".
func InputShapes(inputs []backend.Input) string {
	parts := make([]string, 0, len(inputs))
	for _, in := range inputs {
		dims := make([]string, len(in.Shape))
		for i, d := range in.Shape {
			dims[i] = strconv.FormatInt(d, 10)
		}
		parts = append(parts, in.Name+":["+strings.Join(dims, ",")+"]")
	}

	return strings.Join(parts, " ")
}

// Load repacks the bundle into a scratch directory for tvmc run.
func (b *Backend) Load(ctx context.Context, req *backend.LoadRequest) (backend.Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Device.ID != 0 {
		return nil, fmt.Errorf("%w: tvmc only targets the default %s device, got %s",
			backend.ErrUnsupportedDevice, req.Device.Type, req.Device)
	}
	if req.Contents == nil {
		return nil, fmt.Errorf("tvmc: load: %w", bundle.ErrIncomplete)
	}

	return newModule(b.runner, b.workDir, req)
}

// Close is a no-op; modules own their scratch directories.
func (b *Backend) Close() error {
	return nil
}
