package backend

import "errors"

// Error definitions for the backend package.
var (
	ErrNotFound          = errors.New("backend not found in registry")
	ErrAlreadyRegistered = errors.New("backend is already registered in the registry")
	ErrUnsupportedDevice = errors.New("unsupported device")
	ErrModuleClosed      = errors.New("module is closed")
	ErrNoOutput          = errors.New("no output at index")
)
