// Package errors provides standardized error types for pipeline stages.
// It defines the failure taxonomy used across the public API:
// configuration errors (fail fast, never retried), integrity errors
// (abort before publication) and non-fatal computation warnings.
package errors

import (
	"fmt"
)

// Kind classifies a pipeline error.
type Kind int

const (
	// KindConfiguration marks invalid run configuration; detected before
	// any aggregation runs and never retried.
	KindConfiguration Kind = iota
	// KindIntegrity marks a post-aggregation contract violation on an
	// output table (duplicate or null key, empty or oversized extent).
	KindIntegrity
	// KindStage marks an underlying engine failure inside a stage
	// (timeout, cancelled context, malformed input frame).
	KindStage
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindIntegrity:
		return "integrity"
	case KindStage:
		return "stage"
	default:
		return "unknown"
	}
}

// PipelineError represents a failure in a pipeline stage with enough
// context to name the offending stage, table and column.
type PipelineError struct {
	Kind    Kind
	Stage   string // stage name (e.g. "staging", "compose")
	Table   string // output table if applicable
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	switch {
	case e.Table != "":
		return fmt.Sprintf("%s error in %s on table %q: %s", e.Kind, e.Stage, e.Table, e.Message)
	case e.Stage != "":
		return fmt.Sprintf("%s error in %s: %s", e.Kind, e.Stage, e.Message)
	default:
		return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
	}
}

// Unwrap returns the underlying cause.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is supports errors.Is matching on kind, stage and table.
func (e *PipelineError) Is(target error) bool {
	if pe, ok := target.(*PipelineError); ok {
		return e.Kind == pe.Kind && e.Stage == pe.Stage && e.Table == pe.Table
	}
	return false
}

// NewConfigurationError creates a fail-fast configuration error.
func NewConfigurationError(message string) *PipelineError {
	return &PipelineError{Kind: KindConfiguration, Message: message}
}

// NewConfigurationErrorf creates a fail-fast configuration error with formatting.
func NewConfigurationErrorf(format string, args ...any) *PipelineError {
	return &PipelineError{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// NewIntegrityError creates an error for a violated output-table contract.
func NewIntegrityError(stage, table string, cause error) *PipelineError {
	return &PipelineError{
		Kind:    KindIntegrity,
		Stage:   stage,
		Table:   table,
		Message: "output contract violated",
		Cause:   cause,
	}
}

// NewStageError wraps an underlying engine failure with stage context.
func NewStageError(stage string, cause error) *PipelineError {
	return &PipelineError{
		Kind:    KindStage,
		Stage:   stage,
		Message: "stage failed",
		Cause:   cause,
	}
}

// IsKind reports whether err is a PipelineError of the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if pe, ok := err.(*PipelineError); ok {
			return pe.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Warning records a non-fatal computation event, e.g. a safe divide that
// produced null because the denominator was zero. Warnings are collected
// on the run result and never stop the pipeline.
type Warning struct {
	Stage   string
	Table   string
	Column  string
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s/%s.%s: %s", w.Stage, w.Table, w.Column, w.Message)
}
