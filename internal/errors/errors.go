package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the vocabulary worker
 *
 * Every hard failure carries the pipeline stage it came from so the job
 * orchestrator can decide whether to retry the whole invocation.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Construction errors
	ErrorConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Pipeline errors
	ErrorUpscaleFailed     ErrorCode = "UPSCALE_FAILED"
	ErrorTilingFailed      ErrorCode = "TILING_FAILED"
	ErrorRecognitionFailed ErrorCode = "RECOGNITION_FAILED"
	ErrorExtractionFailed  ErrorCode = "EXTRACTION_FAILED"
	ErrorExtractionSchema  ErrorCode = "EXTRACTION_SCHEMA_INVALID"
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorImageUnavailable  ErrorCode = "IMAGE_UNAVAILABLE"
	ErrorInvalidPayload    ErrorCode = "INVALID_PAYLOAD"

	// Storage errors
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"
)

// Stage names the pipeline step that produced an error.
type Stage string

const (
	StageConfig    Stage = "config"
	StageLoad      Stage = "load"
	StageUpscale   Stage = "upscale"
	StageTile      Stage = "tile"
	StageRecognize Stage = "recognize"
	StageReconcile Stage = "reconcile"
	StageExtract   Stage = "extract"
	StageStore     Stage = "store"
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Stage     Stage
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s [%s]: %s (caused by: %v)", e.Code, e.Stage, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Code, e.Stage, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// WithJob returns a copy of the error tagged with a job ID.
func (e *ProcessingError) WithJob(jobID string) *ProcessingError {
	cp := *e
	cp.JobID = jobID
	return &cp
}

// Factory functions for common errors

func NewConfigError(field string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorConfigInvalid,
		Stage:     StageConfig,
		Message:   fmt.Sprintf("invalid configuration: %s", field),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"field": field,
		},
		Cause: cause,
	}
}

func NewTilingError(message string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorTilingFailed,
		Stage:     StageTile,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewRecognitionError(tileIndex int, startY int, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorRecognitionFailed,
		Stage:     StageRecognize,
		Message:   fmt.Sprintf("recognition failed for tile %d (startY=%d)", tileIndex, startY),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"tile_index": tileIndex,
			"start_y":    startY,
		},
		Cause:     cause,
		Retryable: true,
	}
}

func NewExtractionError(cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorExtractionFailed,
		Stage:     StageExtract,
		Message:   "word extraction service call failed",
		Timestamp: time.Now(),
		Cause:     cause,
		Retryable: true,
	}
}

// NewExtractionSchemaError reports a model response that does not match the
// expected word list structure. It fails the job outright.
func NewExtractionSchemaError(reason string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorExtractionSchema,
		Stage:     StageExtract,
		Message:   fmt.Sprintf("extraction response failed validation: %s", reason),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"reason": reason,
		},
		Cause: cause,
	}
}

// NewImageUnavailableError reports a failed image load. Transient failures
// (network, 429, 5xx) are retryable; a 404 or an oversize body is not.
func NewImageUnavailableError(jobID string, cause error, retryable bool) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorImageUnavailable,
		Stage:     StageLoad,
		Message:   "page image could not be loaded",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
		Retryable: retryable,
	}
}

// NewInvalidPayloadError reports a job that can never succeed as submitted.
func NewInvalidPayloadError(field string, message string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidPayload,
		Stage:     StageLoad,
		Message:   fmt.Sprintf("invalid job payload: %s %s", field, message),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"field": field,
		},
	}
}

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause:     cause,
		Retryable: true,
	}
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Stage:     StageStore,
		Message:   "Failed to store processing results",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
		Retryable: true,
	}
}

// AsProcessingError unwraps err to a *ProcessingError if one is in the chain.
func AsProcessingError(err error) (*ProcessingError, bool) {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsRetryable reports whether the orchestrator should retry the invocation.
// Errors that are not ProcessingErrors are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := AsProcessingError(err); ok {
		return pe.Retryable
	}
	return true
}

// HasCode reports whether any ProcessingError in the chain has the given code.
func HasCode(err error, code ErrorCode) bool {
	pe, ok := AsProcessingError(err)
	return ok && pe.Code == code
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"stage":      string(e.Stage),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
		"retryable":  e.Retryable,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
