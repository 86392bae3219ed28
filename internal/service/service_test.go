package service

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/modelforge/internal/backend"
	"github.com/ekisa-team/modelforge/internal/backend/tvmc"
	"github.com/ekisa-team/modelforge/internal/backend/tvmc/tvmctest"
	"github.com/ekisa-team/modelforge/internal/cache"
	"github.com/ekisa-team/modelforge/internal/cache/cachetest"
	"github.com/ekisa-team/modelforge/internal/catalog"
	"github.com/ekisa-team/modelforge/internal/config"
	"github.com/ekisa-team/modelforge/internal/envvar"
	"github.com/ekisa-team/modelforge/internal/metrics"
	"github.com/ekisa-team/modelforge/internal/tensor"
)

func newForge(t *testing.T) (*Forge, *config.CompileConfig, *tvmctest.Runner, *cachetest.Server) {
	t.Helper()
	t.Setenv(envvar.ModelforgeModelsPath, "")

	srv := cachetest.NewServer(t)
	m := metrics.NewCollector(prometheus.NewRegistry())

	cfg := config.Default()
	cfg.Model.Root = t.TempDir()
	cfg.OutputDir = t.TempDir()
	cfg.Fetch.MaxRetries = 0

	runner := &tvmctest.Runner{}
	b, err := NewBackend(context.Background(), cfg.Toolchain, tvmc.WithCommandRunner(runner), tvmc.WithWorkDir(t.TempDir()))
	require.NoError(t, err)

	backends := backend.NewRegistry()
	require.NoError(t, backends.Register(b))

	loaders := NewLoaders(cfg.Fetch, m, cache.WithCatalog(srv.Catalog()))

	return New(backends, loaders, m), cfg, runner, srv
}

func TestNewBackend_UnknownProvider(t *testing.T) {
	_, err := NewBackend(context.Background(), config.ToolchainConfig{Provider: "xla"})
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestNewBackend_LogsVersion(t *testing.T) {
	runner := &tvmctest.Runner{}
	_, err := NewBackend(context.Background(), config.Default().Toolchain, tvmc.WithCommandRunner(runner))
	require.NoError(t, err)

	assert.Len(t, runner.CallsTo("--version"), 1)
}

func TestFetch(t *testing.T) {
	f, cfg, _, srv := newForge(t)

	path, err := f.Fetch(context.Background(), catalog.KindVGG19, cfg.Model.Root, false)
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, err = f.Fetch(context.Background(), catalog.KindVGG19, cfg.Model.Root, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), srv.Hits())

	_, err = f.Fetch(context.Background(), "lenet", cfg.Model.Root, false)
	assert.ErrorIs(t, err, catalog.ErrUnsupportedModelKind)
}

func TestCompile_Reuse(t *testing.T) {
	f, cfg, runner, _ := newForge(t)
	ctx := context.Background()

	res, err := f.Compile(ctx, cfg, true)
	require.NoError(t, err)
	assert.False(t, res.Reused)
	assert.NotNil(t, res.Manifest)

	res, err = f.Compile(ctx, cfg, true)
	require.NoError(t, err)
	assert.True(t, res.Reused)

	_, err = f.Compile(ctx, cfg, false)
	require.NoError(t, err)
	assert.Len(t, runner.CallsTo("compile"), 2)
}

func TestRun_RandomInput(t *testing.T) {
	f, cfg, runner, _ := newForge(t)

	res, err := f.Run(context.Background(), cfg, nil, 7, false)
	require.NoError(t, err)
	assert.Equal(t, "data", res.Input)
	assert.Equal(t, []int64{1, 1000}, res.Output.Shape())
	assert.NotEmpty(t, res.HandleID)
	assert.Len(t, runner.CallsTo("run"), 1)
}

func TestRun_ExplicitInput(t *testing.T) {
	f, cfg, _, _ := newForge(t)

	in, err := tensor.Zeros([]int64{1, 3, 224, 224}, tensor.Float64)
	require.NoError(t, err)

	res, err := f.Run(context.Background(), cfg, in, 0, true)
	require.NoError(t, err)
	assert.Equal(t, tensor.Float32, res.Output.DType())
}

func TestRun_UnknownProvider(t *testing.T) {
	f, cfg, _, _ := newForge(t)
	cfg.Toolchain.Provider = "xla"

	_, err := f.Run(context.Background(), cfg, nil, 0, false)
	assert.ErrorIs(t, err, backend.ErrNotFound)
}
