package cache

import (
	"errors"
	"fmt"

	"github.com/ekisa-team/modelforge/internal/catalog"
)

// Error definitions for the cache package.
var (
	ErrAcquisitionFailed = errors.New("model acquisition failed")
	ErrCorruptArtifact   = errors.New("cached model artifact is corrupt")
)

// AcquisitionError reports a failed fetch of a catalog artifact.
// It matches both ErrAcquisitionFailed and the underlying cause.
type AcquisitionError struct {
	Kind  catalog.Kind
	URL   string
	Cause error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("failed to acquire %s from %s: %v", e.Kind, e.URL, e.Cause)
}

func (e *AcquisitionError) Unwrap() []error {
	return []error{ErrAcquisitionFailed, e.Cause}
}
