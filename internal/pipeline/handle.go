package pipeline

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ekisa-team/modelforge/internal/backend"
	"github.com/ekisa-team/modelforge/internal/bundle"
	"github.com/ekisa-team/modelforge/internal/catalog"
	"github.com/ekisa-team/modelforge/internal/metrics"
	"github.com/ekisa-team/modelforge/internal/tensor"
)

// Handle is an instantiated bundle bound to a device.
type Handle struct {
	ID     uuid.UUID
	Kind   catalog.Kind
	Device backend.Device
	Debug  bool

	input    backend.Input
	contents *bundle.Contents
	module   backend.Module
	metrics  *metrics.Collector
	closed   bool
}

func newHandle(kind catalog.Kind, device backend.Device, debug bool, input backend.Input,
	contents *bundle.Contents, module backend.Module, m *metrics.Collector,
) *Handle {
	return &Handle{
		ID:       uuid.New(),
		Kind:     kind,
		Device:   device,
		Debug:    debug,
		input:    input,
		contents: contents,
		module:   module,
		metrics:  m,
	}
}

// InputName is the graph input Execute binds to.
func (h *Handle) InputName() string {
	return h.input.Name
}

// InputShape is the shape inputs are reshaped to, or nil if unknown.
func (h *Handle) InputShape() []int64 {
	return slices.Clone(h.input.Shape)
}

// InputDType is the element type inputs are cast to.
func (h *Handle) InputDType() tensor.DType {
	return h.input.DType
}

// Execute casts input to the configured dtype, binds it to the primary input, runs the
// graph synchronously and returns output 0.
func (h *Handle) Execute(ctx context.Context, input *tensor.Tensor) (out *tensor.Tensor, err error) {
	if h.closed {
		return nil, fmt.Errorf("%w: handle %s is closed", ErrNotInstantiated, h.ID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if input == nil {
		return nil, fmt.Errorf("%w: input %q is nil", tensor.ErrShapeMismatch, h.input.Name)
	}

	start := time.Now()
	defer func() {
		h.metrics.ObserveExecution(string(h.Kind), time.Since(start), err)
	}()

	in, err := input.Cast(h.input.DType)
	if err != nil {
		return nil, err
	}
	if len(h.input.Shape) > 0 {
		in, err = in.Reshape(h.input.Shape)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", h.input.Name, err)
		}
	}

	if err := h.module.SetInput(h.input.Name, in); err != nil {
		return nil, err
	}
	if err := h.module.Run(ctx); err != nil {
		return nil, err
	}

	return h.module.Output(0)
}

// Close releases the loaded module. It is safe to call more than once.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.contents = nil

	return h.module.Close()
}
