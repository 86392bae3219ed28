package tensor

import (
	"archive/zip"
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNew_ValidatesLength(t *testing.T) {
	_, err := New([]int64{2, 2}, Float32, make([]byte, 12))
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = New([]int64{2}, DType("complex64"), make([]byte, 16))
	assert.ErrorIs(t, err, ErrUnsupportedDType)

	tt, err := New([]int64{2, 2}, Float32, make([]byte, 16))
	require.NoError(t, err)
	assert.Equal(t, 4, tt.Len())
	assert.Equal(t, "tensor(float32[2 2])", tt.String())
}

func TestParseDType(t *testing.T) {
	d, err := ParseDType(" Float32 ")
	require.NoError(t, err)
	assert.Equal(t, Float32, d)

	_, err = ParseDType("float16")
	assert.ErrorIs(t, err, ErrUnsupportedDType)
}

func TestCast(t *testing.T) {
	src, err := FromFloat64([]int64{3}, []float64{1.5, -2.75, 3})
	require.NoError(t, err)

	f32, err := src.Cast(Float32)
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, -2.75, 3}, f32.Float32s())

	i64, err := src.Cast(Int64)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, -2, 3}, i64.Float64s())

	same, err := f32.Cast(Float32)
	require.NoError(t, err)
	assert.Same(t, f32, same)
}

func TestCast_PreservesSmallIntegers(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		values := rapid.SliceOfN(rapid.Int64Range(-100, 100), 1, 32).Draw(rt, "values")
		src, err := FromInt64([]int64{int64(len(values))}, values)
		require.NoError(rt, err)

		for _, d := range []DType{Float32, Float64, Int8, Int32, Int64} {
			cast, err := src.Cast(d)
			require.NoError(rt, err)
			back, err := cast.Cast(Int64)
			require.NoError(rt, err)
			assert.Equal(rt, src.Bytes(), back.Bytes(), "via %s", d)
		}
	})
}

func TestRandom_Deterministic(t *testing.T) {
	a, err := Random([]int64{1, 3, 4, 4}, 0, 1, 7)
	require.NoError(t, err)
	b, err := Random([]int64{1, 3, 4, 4}, 0, 1, 7)
	require.NoError(t, err)

	assert.Equal(t, a.Bytes(), b.Bytes())
	for _, v := range a.Float32s() {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.Less(t, v, float32(1))
	}
}

func TestReshape(t *testing.T) {
	tt, err := Zeros([]int64{2, 6}, Int32)
	require.NoError(t, err)

	r, err := tt.Reshape([]int64{3, 4})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, r.Shape())

	_, err = tt.Reshape([]int64{5})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestNPY_HeaderIsAligned(t *testing.T) {
	tt, err := FromFloat32([]int64{1, 1000}, make([]float32, 1000))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteNPY(&buf, tt))

	headerLen := buf.Len() - 4000
	assert.Zero(t, headerLen%64)
	assert.Contains(t, buf.String(), "'shape': (1, 1000)")
	assert.Equal(t, byte('\n'), buf.Bytes()[headerLen-1])
}

func TestNPY_OneDimensionalShape(t *testing.T) {
	tt, err := FromInt64([]int64{3}, []int64{1, 2, 3})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteNPY(&buf, tt))
	assert.Contains(t, buf.String(), "'shape': (3,)")

	got, err := ReadNPY(&buf)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, got.Shape())
	assert.Equal(t, []float64{1, 2, 3}, got.Float64s())
}

func TestReadNPY_Rejects(t *testing.T) {
	_, err := ReadNPY(bytes.NewReader([]byte("PK\x03\x04 not npy")))
	assert.ErrorIs(t, err, ErrInvalidNPY)

	header := "{'descr': '<f4', 'fortran_order': True, 'shape': (2,), }"
	raw := append([]byte("\x93NUMPY\x01\x00"), byte(len(header)), 0)
	raw = append(raw, header...)
	_, err = ReadNPY(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrInvalidNPY)

	for _, shape := range []string{"(-1, 3)", "(3, -2)", "(9223372036854775807, 2)", "(4294967296, 4294967296)"} {
		_, err := ReadNPY(bytes.NewReader(npyWithShape(shape)))
		assert.ErrorIs(t, err, ErrInvalidNPY, shape)
	}
}

func TestReadNPZ_RejectsShapeBeyondEntry(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("data.npy")
	require.NoError(t, err)
	_, err = w.Write(npyWithShape("(1000000, 1000)"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = ReadNPZ(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	assert.ErrorIs(t, err, ErrInvalidNPY)
}

// npyWithShape builds a float32 header declaring shape and carries no payload.
func npyWithShape(shape string) []byte {
	header := "{'descr': '<f4', 'fortran_order': False, 'shape': " + shape + ", }\n"
	raw := append([]byte("\x93NUMPY\x01\x00"), byte(len(header)), byte(len(header)>>8))
	return append(raw, header...)
}

func TestNPZ_File(t *testing.T) {
	in, err := Random([]int64{1, 3, 8, 8}, -1, 1, 42)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "inputs.npz")

	require.NoError(t, SaveNPZ(path, map[string]*Tensor{"data": in}))

	out, err := LoadNPZ(path)
	require.NoError(t, err)
	require.Contains(t, out, "data")
	assert.Equal(t, in.Shape(), out["data"].Shape())
	assert.Equal(t, in.Bytes(), out["data"].Bytes())
}
