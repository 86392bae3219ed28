// Package env resolves the runtime environment the process runs in.
package env

import (
	"os"
	"strings"

	"github.com/ekisa-team/modelforge/internal/envvar"
)

// Environment is the deployment environment.
type Environment string

const (
	// Development enables human-friendly colored logs at debug level.
	Development Environment = "development"

	// Production enables structured JSON logs at info level.
	Production Environment = "production"
)

// FromEnv reads the environment from MODELFORGE_ENV, defaulting to Development.
func FromEnv() Environment {
	return Parse(os.Getenv(envvar.ModelforgeEnv))
}

// Parse converts s into an Environment. Unknown values map to Development.
func Parse(s string) Environment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prod", "production":
		return Production
	default:
		return Development
	}
}

// IsProduction reports whether e is Production.
func (e Environment) IsProduction() bool {
	return e == Production
}
