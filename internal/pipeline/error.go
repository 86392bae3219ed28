package pipeline

import (
	"errors"
	"fmt"
)

// Error definitions for the pipeline package.
var (
	ErrNotLoaded         = errors.New("pipeline: model not loaded, call Setup first")
	ErrNotCompiled       = errors.New("pipeline: model not compiled, call Compile first")
	ErrNotInstantiated   = errors.New("pipeline: model not instantiated, call Instantiate first")
	ErrCompilationFailed = errors.New("pipeline: compilation failed")
)

// Stage names a compilation step.
type Stage string

// Compilation stages, in order.
const (
	StageConvert Stage = "convert"
	StageBuild   Stage = "build"
	StageExport  Stage = "export"
)

// CompilationError reports the stage a compilation failed in.
type CompilationError struct {
	Stage Stage
	Cause error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("compilation failed at %s: %v", e.Stage, e.Cause)
}

func (e *CompilationError) Unwrap() []error {
	return []error{ErrCompilationFailed, e.Cause}
}
