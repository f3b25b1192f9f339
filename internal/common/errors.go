package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")
)

// Pipeline error taxonomy.
var (
	// ErrEngineUnavailable: OCR or LLM engine not initialised. Fatal for the attempt, retryable.
	ErrEngineUnavailable = errors.New("engine unavailable")
	// ErrParseFailure: model output not parseable. Recovered locally, never propagated.
	ErrParseFailure = errors.New("model response not parseable")
	// ErrClassificationAmbiguous: no single plausible document type. Not retried.
	ErrClassificationAmbiguous = errors.New("unable to classify document")
	// ErrReconciliationMismatch: response references a table/field outside the schema. Logged only.
	ErrReconciliationMismatch = errors.New("response does not match schema")
	// ErrStorageFailure: primary file storage or result persistence failed. Fatal.
	ErrStorageFailure = errors.New("storage failure")
	// ErrIndexFailure: search indexing failed. Swallowed by the pipeline.
	ErrIndexFailure = errors.New("index failure")
	// ErrRetryExhausted: every attempt of a task failed.
	ErrRetryExhausted = errors.New("retry budget exhausted")
)

// Error codes carried by AppError.
const (
	CodeConfig          = "CONFIG_ERROR"
	CodeEngine          = "ENGINE_UNAVAILABLE"
	CodeClassification  = "CLASSIFICATION_AMBIGUOUS"
	CodeStorage         = "STORAGE_FAILURE"
	CodeIndex           = "INDEX_FAILURE"
	CodeRetryExhausted  = "RETRY_EXHAUSTED"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeNotFound        = "NOT_FOUND"
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// EngineUnavailable builds an ENGINE_UNAVAILABLE error for the named engine.
func EngineUnavailable(engine string) error {
	return NewAppError(CodeEngine, engine+" is not initialized", ErrEngineUnavailable)
}

// StorageFailure wraps a persistence or blob failure.
func StorageFailure(message string, cause error) error {
	return NewAppError(CodeStorage, message, errors.Join(ErrStorageFailure, cause))
}

// IsRetryable reports whether the orchestrator should spend another attempt on err.
// Classification ambiguity and invalid input are user-actionable and never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrClassificationAmbiguous),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrNotFound):
		return false
	}
	return true
}

// UserMessage renders err as the short human-readable message stored next to an error status.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	switch {
	case errors.Is(err, ErrClassificationAmbiguous):
		return "unable to classify document"
	case errors.Is(err, ErrEngineUnavailable):
		return "processing engine unavailable"
	case errors.Is(err, ErrStorageFailure):
		return "failed to store document"
	}
	msg := err.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return msg
}
