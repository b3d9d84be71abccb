package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Request validation (REQUEST_*)
	ErrorCodeInvalidRequest ErrorCode = "REQUEST_INVALID"
	ErrorCodeAmountMismatch ErrorCode = "REQUEST_AMOUNT_MISMATCH"
	ErrorCodeBelowMinimum   ErrorCode = "REQUEST_BELOW_MINIMUM"

	// Authentication (AUTH_*)
	ErrorCodeUnauthorized     ErrorCode = "AUTH_UNAUTHORIZED"
	ErrorCodeSignatureInvalid ErrorCode = "AUTH_SIGNATURE_INVALID"
	ErrorCodeTokenExpired     ErrorCode = "AUTH_TOKEN_EXPIRED"

	// Lookups (NOT_FOUND_*)
	ErrorCodeCreatorNotFound      ErrorCode = "NOT_FOUND_CREATOR"
	ErrorCodeSubscriberNotFound   ErrorCode = "NOT_FOUND_SUBSCRIBER"
	ErrorCodeSubscriptionNotFound ErrorCode = "NOT_FOUND_SUBSCRIPTION"
	ErrorCodePaymentNotFound      ErrorCode = "NOT_FOUND_PAYMENT"
	ErrorCodeEventNotFound        ErrorCode = "NOT_FOUND_EVENT"

	// Idempotency and state machines (CONFLICT_*)
	ErrorCodeConflict          ErrorCode = "CONFLICT"
	ErrorCodeAlreadyProcessed  ErrorCode = "CONFLICT_ALREADY_PROCESSED"
	ErrorCodeInvalidTransition ErrorCode = "CONFLICT_INVALID_TRANSITION"
	ErrorCodeLockNotAcquired   ErrorCode = "CONFLICT_LOCK_NOT_ACQUIRED"

	// Provider errors (PROVIDER_*)
	ErrorCodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrorCodeProviderPermanent   ErrorCode = "PROVIDER_PERMANENT"
	ErrorCodeProviderNotLinked   ErrorCode = "PROVIDER_NOT_LINKED"

	// Internal (INTERNAL_*)
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDatabaseError ErrorCode = "INTERNAL_DATABASE_ERROR"
)

// DomainError represents a structured domain error with error code and context
type DomainError struct {
	Err     error
	Details map[string]interface{}
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// WithDetail adds a detail field to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     err,
	}
}

// GetErrorCode extracts the error code from an error, returns empty string if not a DomainError
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// IsNotFound checks if an error represents a "not found" condition
func IsNotFound(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeCreatorNotFound ||
		code == ErrorCodeSubscriberNotFound ||
		code == ErrorCodeSubscriptionNotFound ||
		code == ErrorCodePaymentNotFound ||
		code == ErrorCodeEventNotFound
}

// IsConflict checks if an error is an idempotency or state-machine conflict.
// The event applier treats these as "already done" and returns success.
func IsConflict(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeConflict ||
		code == ErrorCodeAlreadyProcessed ||
		code == ErrorCodeInvalidTransition ||
		code == ErrorCodeLockNotAcquired
}

// IsRetryable checks if an error should be retried by the webhook
// retry scheduler. Permanent provider errors and validation errors
// are never retried.
func IsRetryable(err error) bool {
	code := GetErrorCode(err)
	if code == "" {
		// Unclassified errors are treated as internal and retried
		// up to the webhook cap.
		return true
	}
	return code == ErrorCodeProviderUnavailable ||
		code == ErrorCodeInternalError ||
		code == ErrorCodeDatabaseError
}

// IsValidation checks if an error is a request validation error
func IsValidation(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeInvalidRequest ||
		code == ErrorCodeAmountMismatch ||
		code == ErrorCodeBelowMinimum
}

// Structured error instances
var (
	ErrInvalidRequest   = NewDomainError(ErrorCodeInvalidRequest, "invalid request")
	ErrAmountMismatch   = NewDomainError(ErrorCodeAmountMismatch, "amount does not match a configured price")
	ErrBelowMinimum     = NewDomainError(ErrorCodeBelowMinimum, "amount below creator minimum")
	ErrUnauthorized     = NewDomainError(ErrorCodeUnauthorized, "authentication required")
	ErrSignatureInvalid = NewDomainError(ErrorCodeSignatureInvalid, "webhook signature verification failed")
	ErrTokenExpired     = NewDomainError(ErrorCodeTokenExpired, "token expired")

	ErrCreatorNotFound      = NewDomainError(ErrorCodeCreatorNotFound, "creator not found")
	ErrSubscriberNotFound   = NewDomainError(ErrorCodeSubscriberNotFound, "subscriber not found")
	ErrSubscriptionNotFound = NewDomainError(ErrorCodeSubscriptionNotFound, "subscription not found")
	ErrPaymentNotFound      = NewDomainError(ErrorCodePaymentNotFound, "payment not found")
	ErrEventNotFound        = NewDomainError(ErrorCodeEventNotFound, "webhook event not found")

	ErrConflict          = NewDomainError(ErrorCodeConflict, "conflicting write")
	ErrAlreadyProcessed  = NewDomainError(ErrorCodeAlreadyProcessed, "event already processed")
	ErrInvalidTransition = NewDomainError(ErrorCodeInvalidTransition, "state transition not allowed")
	ErrLockNotAcquired   = NewDomainError(ErrorCodeLockNotAcquired, "lock held by another worker")

	ErrProviderUnavailable = NewDomainError(ErrorCodeProviderUnavailable, "payment provider unavailable")
	ErrProviderPermanent   = NewDomainError(ErrorCodeProviderPermanent, "payment provider rejected the request")
	ErrProviderNotLinked   = NewDomainError(ErrorCodeProviderNotLinked, "creator has no linked provider account")

	ErrInternalError = NewDomainError(ErrorCodeInternalError, "internal server error")
	ErrDatabaseError = NewDomainError(ErrorCodeDatabaseError, "database error")
)
