package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/modelforge/internal/env"
)

func TestNew_ProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(env.Production, WithConsole(&buf))

	log.Debug("hidden")
	log.Info("Model cached", "kind", "resnet50")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "Model cached", record["msg"])
	assert.Equal(t, "resnet50", record["kind"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestNew_DevelopmentIncludesDebug(t *testing.T) {
	var buf bytes.Buffer
	log := New(env.Development, WithConsole(&buf))

	log.Debug("Stage finished", "stage", "convert")

	assert.Contains(t, buf.String(), "Stage finished")
	assert.Contains(t, buf.String(), "convert")
}

func TestNew_TeesToFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "modelforge.log")
	log := New(env.Production,
		WithConsole(&buf),
		WithLogToFile(true),
		WithLogFile(path),
		WithLevel(slog.LevelWarn),
	)

	log.Info("dropped")
	log.With("component", "cache").Warn("Fetch retried", "attempt", 2)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Fetch retried")
	assert.Contains(t, string(data), `"component":"cache"`)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, buf.String(), "Fetch retried")
}
