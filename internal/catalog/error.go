package catalog

import "errors"

// Error definitions for the catalog package.
var (
	ErrUnsupportedModelKind = errors.New("unsupported model kind")
)
