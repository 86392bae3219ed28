// Package onnxtest encodes small ONNX models for tests.
package onnxtest

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ekisa-team/modelforge/internal/onnx"
)

// ModelProto field numbers, mirrored from the onnx reader.
const (
	modelIRVersion       protowire.Number = 1
	modelProducerName    protowire.Number = 2
	modelProducerVersion protowire.Number = 3
	modelDomain          protowire.Number = 4
	modelModelVersion    protowire.Number = 5
	modelGraph           protowire.Number = 7
	modelOpsetImport     protowire.Number = 8

	opsetDomain  protowire.Number = 1
	opsetVersion protowire.Number = 2

	graphNode        protowire.Number = 1
	graphName        protowire.Number = 2
	graphInitializer protowire.Number = 5
	graphInput       protowire.Number = 11
	graphOutput      protowire.Number = 12

	tensorName protowire.Number = 8

	valueInfoName protowire.Number = 1
	valueInfoType protowire.Number = 2

	typeTensorType protowire.Number = 1

	tensorTypeElemType protowire.Number = 1
	tensorTypeShape    protowire.Number = 2

	shapeDim protowire.Number = 1

	dimValue protowire.Number = 1
	dimParam protowire.Number = 2
)

// Marshal encodes the decoded subset of m back into ModelProto wire format.
// Nodes are emitted as empty NodeProto messages and initializers carry only their names,
// so the result is suitable for fixtures and inspection, not for execution.
func Marshal(m *onnx.Model) []byte {
	var b []byte
	if m.IRVersion != 0 {
		b = protowire.AppendTag(b, modelIRVersion, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.IRVersion))
	}
	b = appendString(b, modelProducerName, m.ProducerName)
	b = appendString(b, modelProducerVersion, m.ProducerVersion)
	b = appendString(b, modelDomain, m.Domain)
	if m.ModelVersion != 0 {
		b = protowire.AppendTag(b, modelModelVersion, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.ModelVersion))
	}
	b = protowire.AppendTag(b, modelGraph, protowire.BytesType)
	b = protowire.AppendBytes(b, marshalGraph(&m.Graph))
	for _, op := range m.Opsets {
		var ob []byte
		ob = appendString(ob, opsetDomain, op.Domain)
		ob = protowire.AppendTag(ob, opsetVersion, protowire.VarintType)
		ob = protowire.AppendVarint(ob, uint64(op.Version))
		b = protowire.AppendTag(b, modelOpsetImport, protowire.BytesType)
		b = protowire.AppendBytes(b, ob)
	}
	return b
}

func marshalGraph(g *onnx.Graph) []byte {
	var b []byte
	for range g.NodeCount {
		b = protowire.AppendTag(b, graphNode, protowire.BytesType)
		b = protowire.AppendBytes(b, nil)
	}
	b = appendString(b, graphName, g.Name)
	for _, name := range g.Initializers {
		b = protowire.AppendTag(b, graphInitializer, protowire.BytesType)
		b = protowire.AppendBytes(b, appendString(nil, tensorName, name))
	}
	for _, in := range g.Inputs {
		b = protowire.AppendTag(b, graphInput, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalValueInfo(in))
	}
	for _, out := range g.Outputs {
		b = protowire.AppendTag(b, graphOutput, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalValueInfo(out))
	}
	return b
}

func marshalValueInfo(vi onnx.ValueInfo) []byte {
	var shape []byte
	for _, d := range vi.Shape {
		var db []byte
		if d.Param != "" {
			db = appendString(db, dimParam, d.Param)
		} else {
			db = protowire.AppendTag(db, dimValue, protowire.VarintType)
			db = protowire.AppendVarint(db, uint64(d.Value))
		}
		shape = protowire.AppendTag(shape, shapeDim, protowire.BytesType)
		shape = protowire.AppendBytes(shape, db)
	}

	var tt []byte
	tt = protowire.AppendTag(tt, tensorTypeElemType, protowire.VarintType)
	tt = protowire.AppendVarint(tt, uint64(vi.ElemType))
	tt = protowire.AppendTag(tt, tensorTypeShape, protowire.BytesType)
	tt = protowire.AppendBytes(tt, shape)

	var typ []byte
	typ = protowire.AppendTag(typ, typeTensorType, protowire.BytesType)
	typ = protowire.AppendBytes(typ, tt)

	var b []byte
	b = appendString(b, valueInfoName, vi.Name)
	b = protowire.AppendTag(b, valueInfoType, protowire.BytesType)
	b = protowire.AppendBytes(b, typ)
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// Fixture returns a small image-classification style model with one runtime input
// ("data", float32 [1,3,224,224]), one weight listed both as input and initializer,
// and one output ("output", float32 [1,1000]).
func Fixture(name string) *onnx.Model {
	return &onnx.Model{
		IRVersion:    3,
		ProducerName: "modelforge-fixture",
		Opsets:       []onnx.OpsetImport{{Domain: "", Version: 8}},
		Graph: onnx.Graph{
			Name:         name,
			NodeCount:    2,
			Initializers: []string{"conv0_weight"},
			Inputs: []onnx.ValueInfo{
				{Name: "data", ElemType: onnx.Float, Shape: []onnx.Dim{{Value: 1}, {Value: 3}, {Value: 224}, {Value: 224}}},
				{Name: "conv0_weight", ElemType: onnx.Float, Shape: []onnx.Dim{{Value: 64}, {Value: 3}, {Value: 7}, {Value: 7}}},
			},
			Outputs: []onnx.ValueInfo{
				{Name: "output", ElemType: onnx.Float, Shape: []onnx.Dim{{Value: 1}, {Value: 1000}}},
			},
		},
	}
}
