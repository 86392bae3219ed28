// Package onnx reads the parts of an ONNX ModelProto the orchestration layer needs:
// producer metadata, opsets, and the graph's declared inputs, outputs and initializers.
// Node bodies and tensor payloads are skipped without being decoded.
package onnx

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Error definitions for the onnx package.
var (
	ErrMalformed = errors.New("malformed onnx model")
	ErrNoInputs  = errors.New("onnx graph declares no runtime inputs")
)

// DataType is TensorProto.DataType.
type DataType int32

// TensorProto.DataType values.
const (
	Undefined DataType = 0
	Float     DataType = 1
	Uint8     DataType = 2
	Int8      DataType = 3
	Uint16    DataType = 4
	Int16     DataType = 5
	Int32     DataType = 6
	Int64     DataType = 7
	String    DataType = 8
	Bool      DataType = 9
	Float16   DataType = 10
	Double    DataType = 11
	Uint32    DataType = 12
	Uint64    DataType = 13
	BFloat16  DataType = 16
)

var dataTypeNames = map[DataType]string{
	Undefined: "undefined",
	Float:     "float32",
	Uint8:     "uint8",
	Int8:      "int8",
	Uint16:    "uint16",
	Int16:     "int16",
	Int32:     "int32",
	Int64:     "int64",
	String:    "string",
	Bool:      "bool",
	Float16:   "float16",
	Double:    "float64",
	Uint32:    "uint32",
	Uint64:    "uint64",
	BFloat16:  "bfloat16",
}

// String returns the numpy-style name of the type.
func (d DataType) String() string {
	if s, ok := dataTypeNames[d]; ok {
		return s
	}
	return fmt.Sprintf("dtype(%d)", int32(d))
}

// Dim is one dimension of a tensor shape; either Value or Param is set.
type Dim struct {
	Value int64
	Param string
}

// String renders the dimension, using "?" for unknown dims.
func (d Dim) String() string {
	switch {
	case d.Param != "":
		return d.Param
	case d.Value > 0:
		return fmt.Sprintf("%d", d.Value)
	default:
		return "?"
	}
}

// ValueInfo is a named, typed graph value.
type ValueInfo struct {
	Name     string
	ElemType DataType
	Shape    []Dim
}

// ShapeString renders the shape as "[1,3,224,224]".
func (v ValueInfo) ShapeString() string {
	parts := make([]string, len(v.Shape))
	for i, d := range v.Shape {
		parts[i] = d.String()
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// OpsetImport is a (domain, version) operator set reference.
type OpsetImport struct {
	Domain  string
	Version int64
}

// Graph is the decoded subset of GraphProto.
type Graph struct {
	Name         string
	Inputs       []ValueInfo
	Outputs      []ValueInfo
	Initializers []string
	NodeCount    int
}

// Model is the decoded subset of ModelProto.
type Model struct {
	IRVersion       int64
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	Opsets          []OpsetImport
	Graph           Graph
}

// RuntimeInputs returns the declared graph inputs that are not initializers, in declaration order.
// Models exported with older IR versions list every weight as a graph input as well.
func (m *Model) RuntimeInputs() []ValueInfo {
	initializers := make(map[string]struct{}, len(m.Graph.Initializers))
	for _, name := range m.Graph.Initializers {
		initializers[name] = struct{}{}
	}

	inputs := make([]ValueInfo, 0, len(m.Graph.Inputs))
	for _, in := range m.Graph.Inputs {
		if _, ok := initializers[in.Name]; !ok {
			inputs = append(inputs, in)
		}
	}

	return inputs
}

// PrimaryInput returns the first runtime input.
func (m *Model) PrimaryInput() (ValueInfo, error) {
	inputs := m.RuntimeInputs()
	if len(inputs) == 0 {
		return ValueInfo{}, ErrNoInputs
	}

	return inputs[0], nil
}

// Input looks up a runtime input by name.
func (m *Model) Input(name string) (ValueInfo, bool) {
	for _, in := range m.RuntimeInputs() {
		if in.Name == name {
			return in, true
		}
	}

	return ValueInfo{}, false
}

// Load reads and parses the model file at path.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read onnx model: %w", err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return m, nil
}
