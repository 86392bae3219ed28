// Package tvmctest provides a scripted stand-in for the tvmc binary.
package tvmctest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/ekisa-team/modelforge/internal/backend"
	"github.com/ekisa-team/modelforge/internal/backend/tvmc"
	"github.com/ekisa-team/modelforge/internal/bundle"
	"github.com/ekisa-team/modelforge/internal/tensor"
)

// Version is what the fake reports for --version.
const Version = "0.18.0"

// Runner implements backend.CommandRunner by emulating tvmc compile and tvmc run.
type Runner struct {
	// OutputShape is the shape of output_0. Defaults to [1, 1000].
	OutputShape []int64

	// CompileErr, when set, makes every compile fail with it.
	CompileErr error

	// RunErr, when set, makes every run fail with it.
	RunErr error

	mu    sync.Mutex
	calls [][]string
}

var _ backend.CommandRunner = (*Runner)(nil)

// Calls returns the argument lists of every invocation so far.
func (r *Runner) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.calls)
}

// CallsTo returns the invocations whose subcommand is sub.
func (r *Runner) CallsTo(sub string) [][]string {
	var out [][]string
	for _, c := range r.Calls() {
		if len(c) > 0 && c[0] == sub {
			out = append(out, c)
		}
	}
	return out
}

// Flag returns the value following name in args.
func Flag(args []string, name string) (string, bool) {
	i := slices.Index(args, name)
	if i < 0 || i+1 >= len(args) {
		return "", false
	}
	return args[i+1], true
}

// Contents is what every fake compilation produces.
func Contents() *bundle.Contents {
	return &bundle.Contents{
		Library: []byte("\x7fELF fake shared object"),
		Graph:   []byte(`{"nodes":[{"op":"null","name":"data"}],"heads":[[0,0,0]]}`),
		Params:  []byte{0xb7, 0x9c, 0x04, 0x05, 0x00, 0x00, 0x00, 0x00},
	}
}

func (r *Runner) record(args []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, slices.Clone(args))
}

// Run emulates a blocking invocation.
func (r *Runner) Run(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, []byte, error) {
	r.record(args)
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if len(args) == 0 {
		return nil, []byte("usage: tvmc"), errors.New("exit status 2")
	}

	switch args[0] {
	case "--version":
		return []byte(Version + "\n"), nil, nil
	case "compile":
		if err := r.compile(args); err != nil {
			return nil, []byte(err.Error()), errors.New("exit status 1")
		}
		return []byte("compiled\n"), nil, nil
	case "run":
		out, err := r.run(args)
		if err != nil {
			return nil, []byte(err.Error()), errors.New("exit status 1")
		}
		return out, nil, nil
	default:
		return nil, []byte("unknown command " + args[0]), errors.New("exit status 2")
	}
}

// Start emulates a streamed invocation. The work happens before Start returns.
func (r *Runner) Start(ctx context.Context, name string, args []string, stdin io.Reader) (io.ReadCloser, io.ReadCloser, func() error, error) {
	stdout, stderr, err := r.Run(ctx, name, args, stdin)

	return io.NopCloser(bytes.NewReader(stdout)), io.NopCloser(bytes.NewReader(stderr)), func() error { return err }, nil
}

func (r *Runner) compile(args []string) error {
	if r.CompileErr != nil {
		return r.CompileErr
	}

	out, ok := Flag(args, "--output")
	if !ok {
		return errors.New("missing --output")
	}
	if _, ok := Flag(args, "--target"); !ok {
		return errors.New("missing --target")
	}
	if _, err := os.Stat(args[len(args)-1]); err != nil {
		return fmt.Errorf("model: %w", err)
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()

	return tvmc.WriteArchive(f, Contents())
}

func (r *Runner) run(args []string) ([]byte, error) {
	if r.RunErr != nil {
		return nil, r.RunErr
	}

	archive := args[len(args)-1]
	if _, err := os.Stat(archive); err != nil {
		return nil, fmt.Errorf("package: %w", err)
	}

	in, ok := Flag(args, "--inputs")
	if !ok {
		return nil, errors.New("missing --inputs")
	}
	inputs, err := tensor.LoadNPZ(in)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, errors.New("no inputs bound")
	}

	shape := r.OutputShape
	if shape == nil {
		shape = []int64{1, 1000}
	}
	values := make([]float32, tensor.NumElements(shape))
	for i := range values {
		values[i] = float32(i) / float32(len(values))
	}
	output, err := tensor.FromFloat32(shape, values)
	if err != nil {
		return nil, err
	}

	out, ok := Flag(args, "--outputs")
	if !ok {
		return nil, errors.New("missing --outputs")
	}
	if err := tensor.SaveNPZ(out, map[string]*tensor.Tensor{tvmc.OutputName(0): output}); err != nil {
		return nil, err
	}

	var report strings.Builder
	if slices.Contains(args, "--profile") {
		report.WriteString("Name  Duration (us)\nconv0 12.5\n")
	}

	return []byte(report.String()), nil
}
