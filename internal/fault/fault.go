// Package fault defines the pipeline's error taxonomy. Failures are local to
// a single candidate and never abort a batch: the driver classifies them by
// kind and routes the candidate to the failure sink.
package fault

import (
	"errors"
	"fmt"
)

// Kind buckets a failure for run-report accounting.
type Kind string

const (
	KindRecognition   Kind = "recognition_failure"
	KindNormalization Kind = "normalization_error"
	KindCompilation   Kind = "compilation_error"
	KindValidation    Kind = "validation_error"
	KindStorage       Kind = "storage_error"
)

// RecognitionFailure means no usable candidate expression exists for a
// region. The region is dropped and the pipeline continues.
type RecognitionFailure struct {
	Page   int
	Reason string
}

func (e *RecognitionFailure) Error() string {
	return fmt.Sprintf("recognition failure on page %d: %s", e.Page, e.Reason)
}

// NormalizationError means repair heuristics could not produce a parseable
// structure. The original string is retained for manual review.
type NormalizationError struct {
	Original string
	Reason   string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalization error: %s (original %q)", e.Reason, e.Original)
}

// CompilationError means neither the structured parser nor the fallback
// parser produced an expression tree. Fatal for the candidate only.
type CompilationError struct {
	Expression string
	Reason     string
	Err        error
}

func (e *CompilationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("compilation error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("compilation error: %s", e.Reason)
}

func (e *CompilationError) Unwrap() error { return e.Err }

// ValidationError covers constraint violations, evaluation exceptions and
// timeouts during test execution. Structural validation errors are fatal;
// behavioral ones are recorded as warnings.
type ValidationError struct {
	Expression string
	Variable   string // set when a declared constraint was violated
	Reason     string
	Timeout    bool
	Structural bool
	Err        error
}

func (e *ValidationError) Error() string {
	switch {
	case e.Variable != "":
		return fmt.Sprintf("validation error: variable %s: %s", e.Variable, e.Reason)
	case e.Timeout:
		return fmt.Sprintf("validation error: evaluation timed out: %s", e.Reason)
	default:
		return fmt.Sprintf("validation error: %s", e.Reason)
	}
}

func (e *ValidationError) Unwrap() error { return e.Err }

// StorageError is a referential-integrity or persistence failure. The
// repository state is unchanged when one is returned.
type StorageError struct {
	Op     string
	Reason string
	Err    error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("storage error: %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("storage error: %s: %s", e.Op, e.Reason)
}

func (e *StorageError) Unwrap() error { return e.Err }

// KindOf classifies an error chain into a taxonomy kind, or "" when the
// error carries no pipeline fault.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var (
		rec  *RecognitionFailure
		norm *NormalizationError
		comp *CompilationError
		val  *ValidationError
		stor *StorageError
	)
	switch {
	case errors.As(err, &rec):
		return KindRecognition
	case errors.As(err, &norm):
		return KindNormalization
	case errors.As(err, &comp):
		return KindCompilation
	case errors.As(err, &val):
		return KindValidation
	case errors.As(err, &stor):
		return KindStorage
	default:
		return ""
	}
}

// IsValidation reports whether the chain contains a ValidationError and
// returns it.
func IsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// IsStructural reports whether the chain contains a structural (fatal)
// ValidationError.
func IsStructural(err error) bool {
	if ve, ok := IsValidation(err); ok {
		return ve.Structural
	}
	return false
}
