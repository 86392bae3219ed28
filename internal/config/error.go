package config

import "errors"

// Error definitions for the config package.
var (
	ErrInvalid = errors.New("invalid config")
)
