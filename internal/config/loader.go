package config

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.yaml.in/yaml/v3"

	"github.com/ekisa-team/modelforge/internal/mapsafe"
)

//go:embed schema.json
var schemaJSON string

const schemaURL = "https://modelforge.dev/schema/config.json"

// Schema returns the embedded JSON schema.
func Schema() string {
	return schemaJSON
}

// Load loads the config at path and validates it against the embedded schema.
func Load(path string) (*CompileConfig, error) {
	return LoadAndValidate(path, "")
}

// LoadAndValidate loads and validates the configuration. An empty schemaPath selects the
// embedded schema. Keys absent from the file keep their defaults.
func LoadAndValidate(path, schemaPath string) (*CompileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read config: %w", err)
	}

	return Parse(data, schemaPath)
}

// Parse validates and decodes YAML config data.
func Parse(data []byte, schemaPath string) (*CompileConfig, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	schema, err := compileSchema(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("config: failed to compile schema: %w", err)
	}

	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("config: config validation failed: %w", err)
	}

	doc, _ := raw.(map[string]any)
	if v := mapsafe.Get(doc, "version", CurrentVersion); v != CurrentVersion {
		return nil, fmt.Errorf("config: %w: unsupported version %q", ErrInvalid, v)
	}

	config := Default()
	// yaml merges into existing maps; explicit inputs replace the default ones.
	inputs := mapsafe.Map(doc, "inputs")
	if mapsafe.Has(inputs, "shapes") {
		config.Inputs.Shapes = nil
	}
	if mapsafe.Has(inputs, "dtypes") {
		config.Inputs.DTypes = nil
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal into CompileConfig struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return config, nil
}

func compileSchema(schemaPath string) (*jsonschema.Schema, error) {
	if schemaPath != "" {
		return jsonschema.Compile(schemaPath)
	}
	return jsonschema.CompileString(schemaURL, schemaJSON)
}
