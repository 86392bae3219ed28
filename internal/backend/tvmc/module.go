package tvmc

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/ekisa-team/modelforge/internal/backend"
	"github.com/ekisa-team/modelforge/internal/tensor"
)

type module struct {
	exec    *backend.Executor
	dir     string
	archive string
	device  backend.Device
	debug   bool

	inputs  map[string]*tensor.Tensor
	outputs map[string]*tensor.Tensor
	closed  bool
}

func newModule(exec *backend.Executor, workDir string, req *backend.LoadRequest) (*module, error) {
	base := workDir
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "modelforge-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("tvmc: failed to create module directory: %w", err)
	}

	archive := filepath.Join(dir, archiveName)
	f, err := os.Create(archive)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("tvmc: %w", err)
	}
	if err := WriteArchive(f, req.Contents); err != nil {
		f.Close()
		os.RemoveAll(dir)
		return nil, fmt.Errorf("tvmc: failed to write package archive: %w", err)
	}
	if err := f.Close(); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("tvmc: %w", err)
	}

	slog.Debug("Module loaded", "dir", dir, "device", req.Device, "debug", req.Debug)

	return &module{
		exec:    exec,
		dir:     dir,
		archive: archive,
		device:  req.Device,
		debug:   req.Debug,
		inputs:  make(map[string]*tensor.Tensor),
	}, nil
}

func (m *module) SetInput(name string, t *tensor.Tensor) error {
	if m.closed {
		return backend.ErrModuleClosed
	}
	m.inputs[name] = t
	return nil
}

func (m *module) Run(ctx context.Context) error {
	if m.closed {
		return backend.ErrModuleClosed
	}

	in := filepath.Join(m.dir, "inputs.npz")
	out := filepath.Join(m.dir, "outputs.npz")
	if err := tensor.SaveNPZ(in, m.inputs); err != nil {
		return fmt.Errorf("tvmc: failed to write inputs: %w", err)
	}
	defer os.Remove(in)

	args := []string{"run", "--device", string(m.device.Type), "--inputs", in, "--outputs", out}
	if m.debug {
		args = append(args, "--profile")
	}
	args = append(args, m.archive)

	stdout, _, err := m.exec.Execute(ctx, args, nil)
	if err != nil {
		return fmt.Errorf("tvmc: run: %w", err)
	}
	if m.debug && len(stdout) > 0 {
		slog.Debug("tvmc profile", "report", string(stdout))
	}

	outputs, err := tensor.LoadNPZ(out)
	if err != nil {
		return fmt.Errorf("tvmc: failed to read outputs: %w", err)
	}
	_ = os.Remove(out)
	m.outputs = outputs

	return nil
}

func (m *module) Output(index int) (*tensor.Tensor, error) {
	if m.closed {
		return nil, backend.ErrModuleClosed
	}

	t, ok := m.outputs[OutputName(index)]
	if !ok {
		return nil, fmt.Errorf("%w: %d", backend.ErrNoOutput, index)
	}

	return t, nil
}

func (m *module) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	m.inputs, m.outputs = nil, nil

	return os.RemoveAll(m.dir)
}

// OutputName is the key tvmc run uses for output index in the outputs archive.
func OutputName(index int) string {
	return fmt.Sprintf("output_%d", index)
}
