package mapsafe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	doc := map[string]any{
		"version":   "1",
		"opt_level": 2,
		"ratio":     2.5,
		"big":       uint64(7),
		"debug":     true,
		"inputs":    map[string]any{"shapes": map[string]any{}},
	}

	assert.Equal(t, "1", Get(doc, "version", ""))
	assert.Equal(t, 2, Get(doc, "opt_level", 0))
	assert.Equal(t, 2.0, Get(doc, "opt_level", 0.0))
	assert.Equal(t, int64(7), Get(doc, "big", int64(0)))
	assert.Equal(t, 2, Get(doc, "ratio", 0))
	assert.True(t, Get(doc, "debug", false))

	assert.Equal(t, "fallback", Get(doc, "missing", "fallback"))
	assert.Equal(t, "fallback", Get(doc, "debug", "fallback"), "type mismatch")

	assert.True(t, Has(Map(doc, "inputs"), "shapes"))
	assert.Nil(t, Map(doc, "version"))
	assert.False(t, Has(Map(doc, "missing"), "shapes"))
}

func TestLookup(t *testing.T) {
	doc := map[string]any{"n": 3.0}

	n, ok := Lookup[int](doc, "n")
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = Lookup[string](doc, "n")
	assert.False(t, ok)

	_, ok = Lookup[int](doc, "missing")
	assert.False(t, ok)
}
