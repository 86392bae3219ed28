package onnx_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ekisa-team/modelforge/internal/onnx"
	"github.com/ekisa-team/modelforge/internal/onnx/onnxtest"
)

func TestParse_Fixture(t *testing.T) {
	m, err := onnx.Parse(onnxtest.Marshal(onnxtest.Fixture("resnet50")))
	require.NoError(t, err)

	assert.Equal(t, int64(3), m.IRVersion)
	assert.Equal(t, "modelforge-fixture", m.ProducerName)
	assert.Equal(t, []onnx.OpsetImport{{Version: 8}}, m.Opsets)
	assert.Equal(t, "resnet50", m.Graph.Name)
	assert.Equal(t, 2, m.Graph.NodeCount)
	assert.Equal(t, []string{"conv0_weight"}, m.Graph.Initializers)
	require.Len(t, m.Graph.Inputs, 2)
	assert.Equal(t, "[1,3,224,224]", m.Graph.Inputs[0].ShapeString())
	assert.Equal(t, onnx.Float, m.Graph.Outputs[0].ElemType)
}

func TestPrimaryInput_SkipsInitializers(t *testing.T) {
	fixture := onnxtest.Fixture("g")
	// Weight declared before the data input, as some exporters do.
	fixture.Graph.Inputs[0], fixture.Graph.Inputs[1] = fixture.Graph.Inputs[1], fixture.Graph.Inputs[0]

	m, err := onnx.Parse(onnxtest.Marshal(fixture))
	require.NoError(t, err)

	in, err := m.PrimaryInput()
	require.NoError(t, err)
	assert.Equal(t, "data", in.Name)

	_, ok := m.Input("conv0_weight")
	assert.False(t, ok)
}

func TestPrimaryInput_NoInputs(t *testing.T) {
	m := &onnx.Model{Graph: onnx.Graph{Inputs: []onnx.ValueInfo{{Name: "w"}}, Initializers: []string{"w"}}}
	_, err := m.PrimaryInput()
	assert.ErrorIs(t, err, onnx.ErrNoInputs)
}

func TestParse_SymbolicDims(t *testing.T) {
	fixture := onnxtest.Fixture("g")
	fixture.Graph.Inputs[0].Shape[0] = onnx.Dim{Param: "batch"}

	m, err := onnx.Parse(onnxtest.Marshal(fixture))
	require.NoError(t, err)
	assert.Equal(t, "[batch,3,224,224]", m.Graph.Inputs[0].ShapeString())
}

func TestParse_SkipsUnknownFields(t *testing.T) {
	b := onnxtest.Marshal(onnxtest.Fixture("g"))
	b = protowire.AppendTag(b, 6, protowire.BytesType) // doc_string
	b = protowire.AppendString(b, "a model")
	b = protowire.AppendTag(b, 99, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, 7)

	m, err := onnx.Parse(b)
	require.NoError(t, err)
	assert.Equal(t, "g", m.Graph.Name)
}

func TestParse_Malformed(t *testing.T) {
	cases := map[string][]byte{
		"empty":     nil,
		"garbage":   []byte("this is not a protobuf message at all"),
		"truncated": onnxtest.Marshal(onnxtest.Fixture("g"))[:20],
		"no graph":  protowire.AppendVarint(protowire.AppendTag(nil, 1, protowire.VarintType), 3),
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := onnx.Parse(data)
			assert.ErrorIs(t, err, onnx.ErrMalformed)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.onnx")
	require.NoError(t, os.WriteFile(path, onnxtest.Marshal(onnxtest.Fixture("vgg19")), 0o644))

	m, err := onnx.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "vgg19", m.Graph.Name)

	_, err = onnx.Load(path + ".missing")
	assert.Error(t, err)
}

func TestDataType_String(t *testing.T) {
	assert.Equal(t, "float32", onnx.Float.String())
	assert.Equal(t, "int64", onnx.Int64.String())
	assert.Equal(t, "dtype(42)", onnx.DataType(42).String())
}
