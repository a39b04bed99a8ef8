// Package errors provides structured error types for the heap bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes context: field path, Go type, foreign object variant, and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseMarshal, errors.KindTypeMismatch).
//		Path("push_line", "text").
//		Object("string").
//		Detail("found tag %d", tag).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.TypeMismatch(errors.PhaseMarshal, path, "string", "closure")
//	err := errors.AllocationFailed(errors.PhaseLayout, 24, 2, cause)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
