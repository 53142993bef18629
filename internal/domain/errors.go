package domain

import "fmt"

// Error types for consistent error handling across the assistant.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates input or a response payload failed validation.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrUnauthorized indicates a missing, invalid or expired session token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrConfiguration indicates a required setting is missing or invalid.
type ErrConfiguration struct {
	Key     string
	Message string
}

func (e *ErrConfiguration) Error() string {
	return fmt.Sprintf("configuration error [%s]: %s", e.Key, e.Message)
}

// ErrExtraction indicates a bill image could not be turned into an ExpenseReport.
type ErrExtraction struct {
	Index int
	Image string
	Err   error
}

func (e *ErrExtraction) Error() string {
	return fmt.Sprintf("extraction failed for image #%d (%s): %v", e.Index, e.Image, e.Err)
}

func (e *ErrExtraction) Unwrap() error {
	return e.Err
}

// ErrCategorization indicates the merged expenses could not be categorized.
type ErrCategorization struct {
	Err error
}

func (e *ErrCategorization) Error() string {
	return fmt.Sprintf("categorization failed: %v", e.Err)
}

func (e *ErrCategorization) Unwrap() error {
	return e.Err
}

// ErrQuery indicates a question could not be answered.
type ErrQuery struct {
	Err error
}

func (e *ErrQuery) Error() string {
	return fmt.Sprintf("query failed: %v", e.Err)
}

func (e *ErrQuery) Unwrap() error {
	return e.Err
}

// ErrNotReady indicates a query was attempted before any run completed.
type ErrNotReady struct {
	State PipelineState
}

func (e *ErrNotReady) Error() string {
	return fmt.Sprintf("no processed bills yet (state=%s): upload bills before querying", e.State)
}
