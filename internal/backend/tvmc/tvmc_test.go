package tvmc_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/modelforge/internal/backend"
	"github.com/ekisa-team/modelforge/internal/backend/tvmc"
	"github.com/ekisa-team/modelforge/internal/backend/tvmc/tvmctest"
	"github.com/ekisa-team/modelforge/internal/tensor"
)

func newBackend(t *testing.T, runner *tvmctest.Runner) *tvmc.Backend {
	t.Helper()

	b, err := tvmc.New("tvmc", tvmc.WithCommandRunner(runner), tvmc.WithWorkDir(t.TempDir()))
	require.NoError(t, err)
	return b
}

func modelFile(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "resnet50.onnx")
	require.NoError(t, os.WriteFile(path, []byte("onnx"), 0o644))
	return path
}

func TestInputShapes(t *testing.T) {
	got := tvmc.InputShapes([]backend.Input{
		{Name: "data", Shape: []int64{1, 3, 224, 224}},
		{Name: "mask", Shape: []int64{1}},
	})
	assert.Equal(t, "data:[1,3,224,224] mask:[1]", got)
}

func TestArchive_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, tvmc.WriteArchive(&buf, tvmctest.Contents()))

	got, err := tvmc.ReadArchive(&buf)
	require.NoError(t, err)
	assert.Equal(t, tvmctest.Contents(), got)
}

func TestReadArchive_MissingMember(t *testing.T) {
	c := tvmctest.Contents()
	c.Params = nil

	var buf bytes.Buffer
	require.NoError(t, tvmc.WriteArchive(&buf, c))

	_, err := tvmc.ReadArchive(&buf)
	assert.ErrorIs(t, err, tvmc.ErrMalformedArchive)
}

func TestCompile_PassesOptionsVerbatim(t *testing.T) {
	runner := &tvmctest.Runner{}
	b := newBackend(t, runner)

	art, err := b.Compile(context.Background(), &backend.CompileRequest{
		ModelPath: modelFile(t),
		ModelName: "resnet50",
		Target:    "generic-cpu",
		OptLevel:  3,
		Inputs:    []backend.Input{{Name: "data", Shape: []int64{1, 3, 224, 224}, DType: tensor.Float32}},
	})
	require.NoError(t, err)
	assert.Equal(t, tvmctest.Contents(), art.Contents)
	assert.Equal(t, backend.ProviderTVMC, art.Metadata.Provider)

	calls := runner.CallsTo("compile")
	require.Len(t, calls, 1)
	target, _ := tvmctest.Flag(calls[0], "--target")
	opt, _ := tvmctest.Flag(calls[0], "--opt-level")
	shapes, _ := tvmctest.Flag(calls[0], "--input-shapes")
	assert.Equal(t, "generic-cpu", target)
	assert.Equal(t, "3", opt)
	assert.Equal(t, "data:[1,3,224,224]", shapes)
}

func TestCompile_Failure(t *testing.T) {
	runner := &tvmctest.Runner{CompileErr: errors.New("unsupported operator Foo")}
	b := newBackend(t, runner)

	_, err := b.Compile(context.Background(), &backend.CompileRequest{
		ModelPath: modelFile(t),
		ModelName: "resnet50",
		Target:    "llvm",
		Inputs:    []backend.Input{{Name: "data", Shape: []int64{1}}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported operator Foo")
}

func TestLoadAndRun(t *testing.T) {
	runner := &tvmctest.Runner{}
	b := newBackend(t, runner)

	mod, err := b.Load(context.Background(), &backend.LoadRequest{
		Contents: tvmctest.Contents(),
		Device:   backend.CPU(),
		Debug:    true,
	})
	require.NoError(t, err)

	input, err := tensor.Zeros([]int64{1, 3, 224, 224}, tensor.Float32)
	require.NoError(t, err)
	require.NoError(t, mod.SetInput("data", input))
	require.NoError(t, mod.Run(context.Background()))

	out, err := mod.Output(0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1000}, out.Shape())

	_, err = mod.Output(1)
	assert.ErrorIs(t, err, backend.ErrNoOutput)

	runs := runner.CallsTo("run")
	require.Len(t, runs, 1)
	assert.True(t, slices.Contains(runs[0], "--profile"))
	device, _ := tvmctest.Flag(runs[0], "--device")
	assert.Equal(t, "cpu", device)

	require.NoError(t, mod.Close())
	require.NoError(t, mod.Close())
	assert.ErrorIs(t, mod.Run(context.Background()), backend.ErrModuleClosed)
}

func TestLoad_ProductionRuntimeHasNoProfile(t *testing.T) {
	runner := &tvmctest.Runner{}
	b := newBackend(t, runner)

	mod, err := b.Load(context.Background(), &backend.LoadRequest{Contents: tvmctest.Contents(), Device: backend.CPU()})
	require.NoError(t, err)
	defer mod.Close()

	input, _ := tensor.Zeros([]int64{1}, tensor.Float32)
	require.NoError(t, mod.SetInput("data", input))
	require.NoError(t, mod.Run(context.Background()))

	assert.False(t, slices.Contains(runner.CallsTo("run")[0], "--profile"))
}

func TestLoad_RejectsDeviceOrdinal(t *testing.T) {
	b := newBackend(t, &tvmctest.Runner{})

	_, err := b.Load(context.Background(), &backend.LoadRequest{
		Contents: tvmctest.Contents(),
		Device:   backend.Device{Type: backend.DeviceCUDA, ID: 1},
	})
	assert.ErrorIs(t, err, backend.ErrUnsupportedDevice)
}

func TestVersion(t *testing.T) {
	b := newBackend(t, &tvmctest.Runner{})

	v, err := b.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tvmctest.Version, v)
}
