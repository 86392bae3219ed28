package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestResolve_KnownKinds(t *testing.T) {
	for _, kind := range []Kind{KindResNet50, KindVGG19} {
		entry, err := Resolve(kind)
		require.NoError(t, err)
		assert.Equal(t, kind, entry.Kind)
		assert.Equal(t, string(kind), entry.BaseName)
		assert.Equal(t, string(kind)+".onnx", entry.FileName())
		assert.Contains(t, entry.URL, "https://")
	}
}

func TestResolve_UnknownKind(t *testing.T) {
	_, err := Resolve(Kind("mobilenet"))
	assert.ErrorIs(t, err, ErrUnsupportedModelKind)
	assert.Contains(t, err.Error(), "mobilenet")
}

func TestKinds_Sorted(t *testing.T) {
	assert.Equal(t, []Kind{KindResNet50, KindVGG19}, Kinds())
}

func TestParseKind(t *testing.T) {
	kind, err := ParseKind("  ResNet50 ")
	require.NoError(t, err)
	assert.Equal(t, KindResNet50, kind)

	_, err = ParseKind("alexnet")
	assert.ErrorIs(t, err, ErrUnsupportedModelKind)
}

func TestCatalog_CustomTable(t *testing.T) {
	c := Catalog{"tiny": {Kind: "tiny", URL: "file:///tmp/tiny.onnx", BaseName: "tiny"}}

	entry, err := c.Resolve("tiny")
	require.NoError(t, err)
	assert.Equal(t, "file:///tmp/tiny.onnx", entry.URL)

	_, err = c.Resolve(KindResNet50)
	assert.ErrorIs(t, err, ErrUnsupportedModelKind)
}

func TestResolve_RejectsEverythingOutsideTable(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := rapid.StringMatching(`[a-z0-9_-]{1,16}`).Draw(rt, "kind")
		_, known := Default[Kind(s)]

		_, err := Resolve(Kind(s))
		if known {
			assert.NoError(rt, err)
		} else {
			assert.ErrorIs(rt, err, ErrUnsupportedModelKind)
		}
	})
}
