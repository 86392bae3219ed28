package pipeline

import (
	"context"
	"errors"
	"os"
	"slices"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/modelforge/internal/backend"
	"github.com/ekisa-team/modelforge/internal/backend/tvmc"
	"github.com/ekisa-team/modelforge/internal/backend/tvmc/tvmctest"
	"github.com/ekisa-team/modelforge/internal/bundle"
	"github.com/ekisa-team/modelforge/internal/cache"
	"github.com/ekisa-team/modelforge/internal/cache/cachetest"
	"github.com/ekisa-team/modelforge/internal/catalog"
	"github.com/ekisa-team/modelforge/internal/config"
	"github.com/ekisa-team/modelforge/internal/envvar"
	"github.com/ekisa-team/modelforge/internal/loader"
	"github.com/ekisa-team/modelforge/internal/metrics"
	"github.com/ekisa-team/modelforge/internal/tensor"
)

type fixture struct {
	cfg     *config.CompileConfig
	factory *loader.Factory
	runner  *tvmctest.Runner
	backend *tvmc.Backend
	server  *cachetest.Server
}

func newFixture(t *testing.T, mutate ...func(*config.CompileConfig)) *fixture {
	t.Helper()
	t.Setenv(envvar.ModelforgeModelsPath, "")

	srv := cachetest.NewServer(t)
	cfg := config.Default()
	cfg.Model.Root = t.TempDir()
	cfg.OutputDir = t.TempDir()
	cfg.Target = "generic-cpu"
	cfg.OptLevel = 3
	for _, m := range mutate {
		m(cfg)
	}

	runner := &tvmctest.Runner{}
	b, err := tvmc.New("tvmc", tvmc.WithCommandRunner(runner), tvmc.WithWorkDir(t.TempDir()))
	require.NoError(t, err)

	return &fixture{
		cfg:     cfg,
		factory: loader.NewFactory(cache.New(cache.WithCatalog(srv.Catalog()), cache.WithSources(cachetest.Sources()))),
		runner:  runner,
		backend: b,
		server:  srv,
	}
}

func (f *fixture) pipeline(t *testing.T) *Pipeline {
	t.Helper()

	p, err := New(f.cfg, f.factory, f.backend, WithMetrics(metrics.NewCollector(prometheus.NewRegistry())))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func randomInput(t *testing.T) *tensor.Tensor {
	t.Helper()

	in, err := tensor.Random([]int64{1, 3, 224, 224}, 0, 1, 42)
	require.NoError(t, err)
	return in
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "loaded", StateLoaded.String())
	assert.Equal(t, "compiled", StateCompiled.String())
	assert.Equal(t, "instantiated", StateInstantiated.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	f := newFixture(t, func(c *config.CompileConfig) { c.Model.Kind = "alexnet" })

	_, err := New(f.cfg, f.factory, f.backend)
	assert.ErrorIs(t, err, catalog.ErrUnsupportedModelKind)
}

func TestNew_CreatesDirectories(t *testing.T) {
	f := newFixture(t)
	f.cfg.OutputDir = f.cfg.OutputDir + "/nested/out"

	p := f.pipeline(t)
	assert.DirExists(t, p.Paths().Dir)
	assert.Equal(t, StateUninitialized, p.State())
}

func TestOperationsRequireEarlierStates(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)
	ctx := context.Background()

	assert.ErrorIs(t, p.Compile(ctx), ErrNotLoaded)
	_, err := p.Instantiate(ctx)
	assert.ErrorIs(t, err, ErrNotCompiled)
	_, err = p.Execute(ctx, randomInput(t))
	assert.ErrorIs(t, err, ErrNotInstantiated)

	require.NoError(t, p.Setup(ctx))
	_, err = p.Instantiate(ctx)
	assert.ErrorIs(t, err, ErrNotCompiled)
	_, err = p.Execute(ctx, randomInput(t))
	assert.ErrorIs(t, err, ErrNotInstantiated)

	require.NoError(t, p.Compile(ctx))
	_, err = p.Execute(ctx, randomInput(t))
	assert.ErrorIs(t, err, ErrNotInstantiated)

	assert.Empty(t, f.runner.CallsTo("run"))
}

func TestEndToEnd(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)
	ctx := context.Background()

	require.NoError(t, p.Setup(ctx))
	assert.Equal(t, StateLoaded, p.State())

	require.NoError(t, p.Compile(ctx))
	assert.Equal(t, StateCompiled, p.State())
	for _, role := range bundle.Roles {
		assert.FileExists(t, p.Paths().Path(role))
	}
	_, err := bundle.Verify(ctx, p.Paths())
	require.NoError(t, err)

	compile := f.runner.CallsTo("compile")
	require.Len(t, compile, 1)
	target, _ := tvmctest.Flag(compile[0], "--target")
	shapes, _ := tvmctest.Flag(compile[0], "--input-shapes")
	assert.Equal(t, "generic-cpu", target)
	assert.Equal(t, "data:[1,3,224,224]", shapes)

	h, err := p.Instantiate(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateInstantiated, p.State())
	assert.Equal(t, "data", h.InputName())
	assert.Equal(t, tensor.Float32, h.InputDType())

	out, err := p.Execute(ctx, randomInput(t))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1000}, out.Shape())
}

func TestSetup_IsIdempotentAndResets(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)
	ctx := context.Background()

	require.NoError(t, p.Setup(ctx))
	h, err := p.CompileAndInstantiate(ctx)
	require.NoError(t, err)

	require.NoError(t, p.Setup(ctx))
	assert.Equal(t, StateLoaded, p.State())
	assert.Nil(t, p.Handle())
	assert.Equal(t, int64(1), f.server.Hits())

	_, err = h.Execute(ctx, randomInput(t))
	assert.ErrorIs(t, err, ErrNotInstantiated)
}

func TestCompile_FailureLeavesNoVerifiableBundle(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)
	ctx := context.Background()

	require.NoError(t, p.Setup(ctx))
	require.NoError(t, p.Compile(ctx))

	f.runner.CompileErr = errors.New("target not supported")
	err := p.Compile(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCompilationFailed)

	var cerr *CompilationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, StageBuild, cerr.Stage)

	assert.Equal(t, StateLoaded, p.State())
	_, err = bundle.Verify(ctx, p.Paths())
	assert.ErrorIs(t, err, bundle.ErrIncomplete)

	_, err = p.Instantiate(ctx)
	assert.ErrorIs(t, err, ErrNotCompiled)
}

func TestInstantiate_RejectsPartialBundle(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)
	ctx := context.Background()

	require.NoError(t, p.Setup(ctx))
	require.NoError(t, p.Compile(ctx))
	require.NoError(t, os.Remove(p.Paths().Params))

	_, err := p.Instantiate(ctx)
	assert.ErrorIs(t, err, ErrNotCompiled)
	assert.ErrorIs(t, err, bundle.ErrIncomplete)
	assert.Equal(t, StateCompiled, p.State())
}

func TestCompile_ConvertRejects(t *testing.T) {
	tests := map[string]func(*config.CompileConfig){
		"unknown shape input": func(c *config.CompileConfig) {
			c.Inputs.Shapes["label"] = []int64{1}
		},
		"unknown dtype input": func(c *config.CompileConfig) {
			c.Inputs.DTypes["label"] = tensor.Int64
		},
		"dtype mismatch": func(c *config.CompileConfig) {
			c.Inputs.DTypes["data"] = tensor.Int64
		},
		"rank mismatch": func(c *config.CompileConfig) {
			c.Inputs.Shapes["data"] = []int64{3, 224, 224}
		},
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, mutate)
			p := f.pipeline(t)
			ctx := context.Background()

			require.NoError(t, p.Setup(ctx))
			err := p.Compile(ctx)

			var cerr *CompilationError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, StageConvert, cerr.Stage)
			assert.Empty(t, f.runner.CallsTo("compile"))
		})
	}
}

func TestCompile_InitializerEntriesAreNotCompilerInputs(t *testing.T) {
	f := newFixture(t, func(c *config.CompileConfig) {
		c.Inputs.DTypes["conv0_weight"] = tensor.Float32
	})
	p := f.pipeline(t)
	ctx := context.Background()

	require.NoError(t, p.Setup(ctx))
	require.NoError(t, p.Compile(ctx))

	shapes, _ := tvmctest.Flag(f.runner.CallsTo("compile")[0], "--input-shapes")
	assert.Equal(t, "data:[1,3,224,224]", shapes)
}

func TestCompile_CancelledBeforeStage(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)

	require.NoError(t, p.Setup(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Compile(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrCompilationFailed)
	assert.Empty(t, f.runner.CallsTo("compile"))

	assert.ErrorIs(t, p.Setup(ctx), context.Canceled)
}

func TestExecute_CastsAndChecksShape(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)
	ctx := context.Background()

	require.NoError(t, p.Setup(ctx))
	_, err := p.CompileAndInstantiate(ctx)
	require.NoError(t, err)

	flat := make([]float64, 3*224*224)
	in, err := tensor.FromFloat64([]int64{int64(len(flat))}, flat)
	require.NoError(t, err)
	_, err = p.Execute(ctx, in)
	require.NoError(t, err)

	small, err := tensor.Zeros([]int64{1, 3}, tensor.Float32)
	require.NoError(t, err)
	_, err = p.Execute(ctx, small)
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)

	_, err = p.Execute(ctx, nil)
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
	_, err = p.Handle().Execute(ctx, nil)
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
	assert.Len(t, f.runner.CallsTo("run"), 1)
}

func TestInstantiate_DebugRuntime(t *testing.T) {
	f := newFixture(t, func(c *config.CompileConfig) { c.Debug = true })
	p := f.pipeline(t)
	ctx := context.Background()

	require.NoError(t, p.Setup(ctx))
	h, err := p.CompileAndInstantiate(ctx)
	require.NoError(t, err)
	assert.True(t, h.Debug)

	_, err = p.Execute(ctx, randomInput(t))
	require.NoError(t, err)
	assert.True(t, slices.Contains(f.runner.CallsTo("run")[0], "--profile"))

	h, err = p.Instantiate(ctx, WithDebug(false))
	require.NoError(t, err)
	assert.False(t, h.Debug)

	_, err = p.Execute(ctx, randomInput(t))
	require.NoError(t, err)
	assert.False(t, slices.Contains(f.runner.CallsTo("run")[1], "--profile"))
}

func TestAdoptBundle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.pipeline(t)
	require.NoError(t, first.Setup(ctx))
	require.NoError(t, first.Compile(ctx))

	second := f.pipeline(t)
	adopted, err := second.AdoptBundle(ctx)
	assert.ErrorIs(t, err, ErrNotLoaded)
	assert.False(t, adopted)

	require.NoError(t, second.Setup(ctx))
	adopted, err = second.AdoptBundle(ctx)
	require.NoError(t, err)
	assert.True(t, adopted)
	assert.Equal(t, StateCompiled, second.State())

	_, err = second.Instantiate(ctx)
	require.NoError(t, err)
	assert.Len(t, f.runner.CallsTo("compile"), 1)

	f.cfg.OptLevel = 1
	third := f.pipeline(t)
	require.NoError(t, third.Setup(ctx))
	adopted, err = third.AdoptBundle(ctx)
	require.NoError(t, err)
	assert.False(t, adopted)
	assert.Equal(t, StateLoaded, third.State())
}

// --- Mock backend ---

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Provider() backend.Provider {
	return backend.Provider("mock")
}

func (m *MockBackend) Compile(ctx context.Context, req *backend.CompileRequest) (*backend.Artifacts, error) {
	args := m.Called(ctx, req)
	if a, ok := args.Get(0).(*backend.Artifacts); ok {
		return a, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) Load(ctx context.Context, req *backend.LoadRequest) (backend.Module, error) {
	args := m.Called(ctx, req)
	if mod, ok := args.Get(0).(backend.Module); ok {
		return mod, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) Close() error {
	return nil
}

func TestCompile_ExportFailureLeavesNoManifest(t *testing.T) {
	f := newFixture(t)
	mb := new(MockBackend)
	mb.On("Compile", mock.Anything, mock.MatchedBy(func(req *backend.CompileRequest) bool {
		return req.Target == "generic-cpu" && req.OptLevel == 3 && len(req.Inputs) == 1
	})).Return(&backend.Artifacts{Contents: &bundle.Contents{
		Library: []byte("lib"),
		Graph:   []byte("{}"),
	}}, nil)

	p, err := New(f.cfg, f.factory, mb)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, p.Setup(ctx))
	err = p.Compile(ctx)

	var cerr *CompilationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, StageExport, cerr.Stage)
	assert.NoFileExists(t, p.Paths().Manifest)
	mb.AssertExpectations(t)
}

func TestInstantiate_LoadFailureKeepsCompiledState(t *testing.T) {
	f := newFixture(t)
	mb := new(MockBackend)
	mb.On("Compile", mock.Anything, mock.Anything).Return(&backend.Artifacts{Contents: tvmctest.Contents()}, nil)
	mb.On("Load", mock.Anything, mock.Anything).Return(nil, backend.ErrUnsupportedDevice)

	p, err := New(f.cfg, f.factory, mb)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, p.Setup(ctx))
	require.NoError(t, p.Compile(ctx))

	_, err = p.Instantiate(ctx)
	assert.ErrorIs(t, err, backend.ErrUnsupportedDevice)
	assert.Equal(t, StateCompiled, p.State())
	mb.AssertExpectations(t)
}
