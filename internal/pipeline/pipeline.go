// Package pipeline drives a model through setup, compilation and instantiation.
//
// A Pipeline moves through the states Uninitialized, Loaded, Compiled and Instantiated.
// Every operation checks its precondition and fails with a named error rather than acting
// on missing state. A Pipeline is not safe for concurrent use.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ekisa-team/modelforge/internal/backend"
	"github.com/ekisa-team/modelforge/internal/bundle"
	"github.com/ekisa-team/modelforge/internal/catalog"
	"github.com/ekisa-team/modelforge/internal/config"
	"github.com/ekisa-team/modelforge/internal/loader"
	"github.com/ekisa-team/modelforge/internal/metrics"
	"github.com/ekisa-team/modelforge/internal/onnx"
	"github.com/ekisa-team/modelforge/internal/tensor"
	"github.com/ekisa-team/modelforge/internal/xfs"
)

// Pipeline compiles one model kind with one backend.
type Pipeline struct {
	cfg     *config.CompileConfig
	entry   catalog.Entry
	root    string
	paths   bundle.Paths
	loaders *loader.Factory
	backend backend.Backend
	metrics *metrics.Collector

	state     State
	model     *onnx.Model
	modelPath string
	inputs    []backend.Input
	manifest  *bundle.Manifest
	handle    *Handle
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records stage durations and executions on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// New validates cfg and prepares the cache root and output directory.
// cfg is copied; later changes to it do not affect the pipeline.
func New(cfg *config.CompileConfig, loaders *loader.Factory, b backend.Backend, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if loaders == nil {
		loaders = loader.NewFactory(nil)
	}

	cfg = cfg.Clone()
	entry, err := loaders.Cache().Catalog().Resolve(cfg.Model.Kind)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:     cfg,
		entry:   entry,
		root:    cfg.ModelsRoot(),
		paths:   bundle.PathsFor(cfg.ResolvedOutputDir(), entry.BaseName),
		loaders: loaders,
		backend: b,
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := xfs.EnsureDir(p.root); err != nil {
		return nil, fmt.Errorf("failed to prepare models directory %s: %w", p.root, err)
	}
	if err := xfs.EnsureDir(p.paths.Dir); err != nil {
		return nil, fmt.Errorf("failed to prepare output directory %s: %w", p.paths.Dir, err)
	}

	return p, nil
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return p.state
}

// Config returns the pipeline's copy of the config.
func (p *Pipeline) Config() *config.CompileConfig {
	return p.cfg
}

// Paths returns where the compiled bundle is exported.
func (p *Pipeline) Paths() bundle.Paths {
	return p.paths
}

// Model returns the loaded model, or nil before Setup.
func (p *Pipeline) Model() *onnx.Model {
	return p.model
}

// ModelPath returns the cached artifact path, or "" before Setup.
func (p *Pipeline) ModelPath() string {
	return p.modelPath
}

// Manifest returns the manifest of the compiled bundle, or nil before Compile.
func (p *Pipeline) Manifest() *bundle.Manifest {
	return p.manifest
}

// Handle returns the current handle, or nil when not instantiated.
func (p *Pipeline) Handle() *Handle {
	return p.handle
}

// Setup acquires and loads the model. Calling it again reloads the model and discards
// any compiled or instantiated state.
func (p *Pipeline) Setup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.reset(StateUninitialized)

	l, err := p.loaders.GetLoader(p.entry.Kind, p.root)
	if err != nil {
		return err
	}

	start := time.Now()
	model, err := l.Load(ctx)
	p.metrics.ObserveStage(string(p.entry.Kind), "setup", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("setup %s: %w", p.entry.Kind, err)
	}

	path, err := l.ModelPath()
	if err != nil {
		return err
	}

	p.model = model
	p.modelPath = path
	p.state = StateLoaded

	slog.Info("Model loaded",
		"kind", p.entry.Kind,
		"path", path,
		"producer", model.ProducerName,
		"graph", model.Graph.Name,
		"inputs", len(model.RuntimeInputs()),
		"nodes", model.Graph.NodeCount,
	)

	return nil
}

// Compile lowers the loaded model and exports the bundle. The previous bundle is
// invalidated first, so a failed compilation leaves nothing that verifies.
func (p *Pipeline) Compile(ctx context.Context) error {
	if p.state < StateLoaded {
		return ErrNotLoaded
	}

	p.reset(StateLoaded)
	if err := bundle.Invalidate(p.paths); err != nil {
		return &CompilationError{Stage: StageExport, Cause: err}
	}

	var (
		req      *backend.CompileRequest
		art      *backend.Artifacts
		manifest *bundle.Manifest
	)

	if err := p.stage(ctx, StageConvert, func() error {
		inputs, err := resolveInputs(p.cfg, p.model)
		if err != nil {
			return err
		}
		p.inputs = inputs
		req = &backend.CompileRequest{
			ModelPath: p.modelPath,
			ModelName: p.paths.Name,
			Target:    p.cfg.Target,
			OptLevel:  p.cfg.OptLevel,
			Inputs:    inputs,
		}
		return nil
	}); err != nil {
		return err
	}

	if err := p.stage(ctx, StageBuild, func() error {
		var err error
		art, err = p.backend.Compile(ctx, req)
		if err == nil && art.Contents == nil {
			err = fmt.Errorf("%s produced no artifacts", p.backend.Provider())
		}
		return err
	}); err != nil {
		return err
	}

	if err := p.stage(ctx, StageExport, func() error {
		var err error
		manifest, err = bundle.Write(p.paths, art.Contents, bundle.Metadata{
			Provider:    string(p.backend.Provider()),
			Target:      p.cfg.Target,
			Fingerprint: p.cfg.Fingerprint().String(),
		})
		return err
	}); err != nil {
		return err
	}

	p.manifest = manifest
	p.state = StateCompiled

	slog.Debug("Bundle exported", "paths", p.paths.String())

	return nil
}

// stage runs fn as one compilation step after checking ctx.
func (p *Pipeline) stage(ctx context.Context, s Stage, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return &CompilationError{Stage: s, Cause: err}
	}

	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	p.metrics.ObserveStage(string(p.entry.Kind), string(s), elapsed, err)

	if err != nil {
		slog.Error("Compilation stage failed", "kind", p.entry.Kind, "stage", s, "error", err)
		return &CompilationError{Stage: s, Cause: err}
	}

	slog.Info("Compilation stage finished", "kind", p.entry.Kind, "stage", s, "duration", elapsed.Round(time.Millisecond))
	return nil
}

// AdoptBundle marks the pipeline Compiled without compiling when a verified bundle built
// with the same compile options already exists. It reports whether the bundle was adopted.
func (p *Pipeline) AdoptBundle(ctx context.Context) (bool, error) {
	if p.state < StateLoaded {
		return false, ErrNotLoaded
	}

	manifest, err := bundle.Verify(ctx, p.paths)
	if err != nil {
		slog.Debug("No reusable bundle", "path", p.paths.Manifest, "reason", err)
		return false, nil
	}
	if manifest.Fingerprint != p.cfg.Fingerprint().String() || manifest.Provider != string(p.backend.Provider()) {
		slog.Info("Existing bundle was built with different options", "path", p.paths.Manifest)
		return false, nil
	}

	inputs, err := resolveInputs(p.cfg, p.model)
	if err != nil {
		return false, &CompilationError{Stage: StageConvert, Cause: err}
	}

	p.reset(StateLoaded)
	p.inputs = inputs
	p.manifest = manifest
	p.state = StateCompiled

	slog.Info("Reusing compiled bundle", "kind", p.entry.Kind, "path", p.paths.Manifest, "created_at", manifest.CreatedAt)

	return true, nil
}

// InstantiateOption adjusts a single Instantiate call.
type InstantiateOption func(*instantiateOptions)

type instantiateOptions struct {
	debug bool
}

// WithDebug overrides the config's debug flag.
func WithDebug(debug bool) InstantiateOption {
	return func(o *instantiateOptions) {
		o.debug = debug
	}
}

// Instantiate verifies the exported bundle and loads it onto the configured device.
func (p *Pipeline) Instantiate(ctx context.Context, opts ...InstantiateOption) (*Handle, error) {
	if p.state < StateCompiled {
		return nil, ErrNotCompiled
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.reset(StateCompiled)

	o := &instantiateOptions{debug: p.cfg.Debug}
	for _, opt := range opts {
		opt(o)
	}

	contents, _, err := bundle.Read(ctx, p.paths)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotCompiled, err)
	}

	device, err := p.cfg.DeviceSpec()
	if err != nil {
		return nil, err
	}

	primary, err := p.model.PrimaryInput()
	if err != nil {
		return nil, err
	}

	module, err := p.backend.Load(ctx, &backend.LoadRequest{
		Contents: contents,
		Device:   device,
		Debug:    o.debug,
	})
	if err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", p.paths.Name, err)
	}

	h := newHandle(p.entry.Kind, device, o.debug, p.input(primary.Name), contents, module, p.metrics)
	p.handle = h
	p.state = StateInstantiated

	slog.Info("Model instantiated", "kind", p.entry.Kind, "handle", h.ID, "device", device, "debug", o.debug, "input", primary.Name)

	return h, nil
}

// CompileAndInstantiate runs Compile then Instantiate.
func (p *Pipeline) CompileAndInstantiate(ctx context.Context, opts ...InstantiateOption) (*Handle, error) {
	if err := p.Compile(ctx); err != nil {
		return nil, err
	}
	return p.Instantiate(ctx, opts...)
}

// Execute runs one inference on the current handle and returns output 0.
func (p *Pipeline) Execute(ctx context.Context, input *tensor.Tensor) (*tensor.Tensor, error) {
	if p.state < StateInstantiated || p.handle == nil {
		return nil, ErrNotInstantiated
	}
	return p.handle.Execute(ctx, input)
}

// Close releases the current handle.
func (p *Pipeline) Close() error {
	if p.handle == nil {
		return nil
	}
	err := p.handle.Close()
	p.handle = nil
	if p.state == StateInstantiated {
		p.state = StateCompiled
	}
	return err
}

func (p *Pipeline) input(name string) backend.Input {
	for _, in := range p.inputs {
		if in.Name == name {
			return in
		}
	}
	return backend.Input{Name: name, DType: p.cfg.DType(name)}
}

// reset drops everything beyond state.
func (p *Pipeline) reset(state State) {
	if p.handle != nil {
		if err := p.handle.Close(); err != nil {
			slog.Warn("Failed to close handle", "handle", p.handle.ID, "error", err)
		}
		p.handle = nil
	}
	if state < StateCompiled {
		p.manifest = nil
		p.inputs = nil
	}
	if state < StateLoaded {
		p.model = nil
		p.modelPath = ""
	}
	p.state = state
}
