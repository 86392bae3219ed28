package pipeline

import (
	"fmt"
	"slices"

	"github.com/ekisa-team/modelforge/internal/backend"
	"github.com/ekisa-team/modelforge/internal/config"
	"github.com/ekisa-team/modelforge/internal/onnx"
	"github.com/ekisa-team/modelforge/internal/tensor"
)

var onnxDTypes = map[onnx.DataType]tensor.DType{
	onnx.Float:  tensor.Float32,
	onnx.Double: tensor.Float64,
	onnx.Int8:   tensor.Int8,
	onnx.Uint8:  tensor.Uint8,
	onnx.Int32:  tensor.Int32,
	onnx.Int64:  tensor.Int64,
}

// resolveInputs checks the configured shape and dtype maps against the model's declared
// inputs and returns the runtime inputs in graph order. Entries may name initializer-backed
// inputs; those are validated but not handed to the compiler.
func resolveInputs(cfg *config.CompileConfig, m *onnx.Model) ([]backend.Input, error) {
	declared := make(map[string]onnx.ValueInfo, len(m.Graph.Inputs))
	for _, in := range m.Graph.Inputs {
		declared[in.Name] = in
	}

	for _, name := range sortedKeys(cfg.Inputs.Shapes) {
		vi, ok := declared[name]
		if !ok {
			return nil, fmt.Errorf("shape given for unknown input %q", name)
		}
		shape := cfg.Inputs.Shapes[name]
		if len(vi.Shape) > 0 && len(vi.Shape) != len(shape) {
			return nil, fmt.Errorf("%w: input %q has rank %d, configured %v", tensor.ErrShapeMismatch, name, len(vi.Shape), shape)
		}
	}

	for _, name := range sortedKeys(cfg.Inputs.DTypes) {
		vi, ok := declared[name]
		if !ok {
			return nil, fmt.Errorf("dtype given for unknown input %q", name)
		}
		if want, known := onnxDTypes[vi.ElemType]; known && want != cfg.Inputs.DTypes[name] {
			return nil, fmt.Errorf("%w: input %q is declared %s, configured %s",
				tensor.ErrUnsupportedDType, name, vi.ElemType, cfg.Inputs.DTypes[name])
		}
	}

	runtime := m.RuntimeInputs()
	if len(runtime) == 0 {
		return nil, onnx.ErrNoInputs
	}

	inputs := make([]backend.Input, 0, len(runtime))
	for _, vi := range runtime {
		shape, ok := cfg.Inputs.Shapes[vi.Name]
		if !ok {
			shape, ok = staticShape(vi)
			if !ok {
				return nil, fmt.Errorf("input %q has dynamic shape %s, set inputs.shapes", vi.Name, vi.ShapeString())
			}
		}

		dtype := cfg.DType(vi.Name)
		if _, ok := cfg.Inputs.DTypes[vi.Name]; !ok {
			if declaredType, known := onnxDTypes[vi.ElemType]; known {
				dtype = declaredType
			}
		}

		inputs = append(inputs, backend.Input{
			Name:  vi.Name,
			Shape: slices.Clone(shape),
			DType: dtype,
		})
	}

	return inputs, nil
}

func staticShape(vi onnx.ValueInfo) ([]int64, bool) {
	if len(vi.Shape) == 0 {
		return nil, false
	}

	shape := make([]int64, len(vi.Shape))
	for i, d := range vi.Shape {
		if d.Param != "" || d.Value <= 0 {
			return nil, false
		}
		shape[i] = d.Value
	}

	return shape, true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
