// Package service wires caches, backends and pipelines into the operations exposed by the
// command line and the gRPC server.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ekisa-team/modelforge/internal/backend"
	"github.com/ekisa-team/modelforge/internal/backend/tvmc"
	"github.com/ekisa-team/modelforge/internal/bundle"
	"github.com/ekisa-team/modelforge/internal/cache"
	"github.com/ekisa-team/modelforge/internal/catalog"
	"github.com/ekisa-team/modelforge/internal/config"
	"github.com/ekisa-team/modelforge/internal/loader"
	"github.com/ekisa-team/modelforge/internal/metrics"
	"github.com/ekisa-team/modelforge/internal/pipeline"
	"github.com/ekisa-team/modelforge/internal/source"
	"github.com/ekisa-team/modelforge/internal/tensor"
)

// Forge is a service abstraction over fetching, compiling and running models.
type Forge struct {
	backends *backend.Registry
	loaders  *loader.Factory
	metrics  *metrics.Collector

	locks sync.Map // manifest path -> *sync.Mutex
}

// New creates a new Forge service.
func New(backends *backend.Registry, loaders *loader.Factory, m *metrics.Collector) *Forge {
	return &Forge{
		backends: backends,
		loaders:  loaders,
		metrics:  m,
	}
}

// NewLoaders builds a loader factory whose fetcher honours fc.
func NewLoaders(fc config.FetchConfig, m *metrics.Collector, opts ...cache.Option) *loader.Factory {
	sources := source.NewDefaultRegistry(
		source.WithTimeout(fc.Timeout),
		source.WithMaxRetries(fc.MaxRetries),
		source.WithRetryWait(fc.RetryWaitMin, fc.RetryWaitMax),
		source.WithLogger(slog.Default()),
	)

	opts = append([]cache.Option{cache.WithSources(sources), cache.WithMetrics(m)}, opts...)
	return loader.NewFactory(cache.New(opts...))
}

// NewBackend constructs the backend tc selects and logs its toolchain version.
func NewBackend(ctx context.Context, tc config.ToolchainConfig, opts ...tvmc.Option) (backend.Backend, error) {
	switch tc.Provider {
	case backend.ProviderTVMC, "":
		opts = append([]tvmc.Option{
			tvmc.WithCompileTimeout(tc.CompileTimeout),
			tvmc.WithRunTimeout(tc.RunTimeout),
		}, opts...)

		b, err := tvmc.New(tc.Binary, opts...)
		if err != nil {
			return nil, err
		}

		if v, err := b.Version(ctx); err != nil {
			slog.Warn("Failed to query toolchain version", "provider", b.Provider(), "error", err)
		} else {
			slog.Info("Toolchain ready", "provider", b.Provider(), "version", v)
		}

		return b, nil
	default:
		return nil, fmt.Errorf("%w: %s", backend.ErrNotFound, tc.Provider)
	}
}

// Fetch makes the artifact for kind available under root.
func (s *Forge) Fetch(ctx context.Context, kind catalog.Kind, root string, overwrite bool) (string, error) {
	l, err := s.loaders.GetLoader(kind, root)
	if err != nil {
		return "", err
	}

	return l.EnsureAvailable(ctx, overwrite)
}

// CompileResult describes a compiled bundle.
type CompileResult struct {
	Paths    bundle.Paths
	Manifest *bundle.Manifest
	Reused   bool
}

// Compile loads and compiles the model cfg describes. With reuse, a verified bundle built
// from the same options is adopted instead of recompiling.
func (s *Forge) Compile(ctx context.Context, cfg *config.CompileConfig, reuse bool) (*CompileResult, error) {
	p, unlock, err := s.prepare(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer unlock()

	reused, err := s.compile(ctx, p, reuse)
	if err != nil {
		return nil, err
	}

	return &CompileResult{Paths: p.Paths(), Manifest: p.Manifest(), Reused: reused}, nil
}

// RunResult is the outcome of one execution.
type RunResult struct {
	Output   *tensor.Tensor
	Input    string
	HandleID string
	Reused   bool
}

// Run compiles (or reuses) the model, instantiates it and executes input once. A nil input
// is replaced by a uniformly random tensor of the configured input shape drawn from seed.
func (s *Forge) Run(ctx context.Context, cfg *config.CompileConfig, input *tensor.Tensor, seed uint64, reuse bool) (*RunResult, error) {
	p, unlock, err := s.prepare(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer unlock()
	defer p.Close()

	reused, err := s.compile(ctx, p, reuse)
	if err != nil {
		return nil, err
	}

	h, err := p.Instantiate(ctx)
	if err != nil {
		return nil, err
	}

	if input == nil {
		shape := h.InputShape()
		if len(shape) == 0 {
			return nil, fmt.Errorf("input %q has no configured shape for a random input", h.InputName())
		}
		input, err = tensor.Random(shape, 0, 1, seed)
		if err != nil {
			return nil, err
		}
	}

	out, err := p.Execute(ctx, input)
	if err != nil {
		return nil, err
	}

	return &RunResult{Output: out, Input: h.InputName(), HandleID: h.ID.String(), Reused: reused}, nil
}

func (s *Forge) prepare(ctx context.Context, cfg *config.CompileConfig) (*pipeline.Pipeline, func(), error) {
	b, err := s.backends.Get(cfg.Toolchain.Provider)
	if err != nil {
		return nil, nil, err
	}

	p, err := pipeline.New(cfg, s.loaders, b, pipeline.WithMetrics(s.metrics))
	if err != nil {
		return nil, nil, err
	}

	// Pipelines sharing an output bundle must not interleave.
	mu, _ := s.locks.LoadOrStore(p.Paths().Manifest, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	unlock := mu.(*sync.Mutex).Unlock

	if err := p.Setup(ctx); err != nil {
		unlock()
		return nil, nil, err
	}

	return p, unlock, nil
}

func (s *Forge) compile(ctx context.Context, p *pipeline.Pipeline, reuse bool) (bool, error) {
	if reuse {
		adopted, err := p.AdoptBundle(ctx)
		if err != nil || adopted {
			return adopted, err
		}
	}

	return false, p.Compile(ctx)
}
