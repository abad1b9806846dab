// Package errors defines the service error type the HTTP layer renders.
// Handlers and middleware build ServiceErrors; everything below them returns
// plain errors that get classified on the way out.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies an error class in responses.
type ErrorCode string

const (
	CodeBadRequest        ErrorCode = "bad_request"
	CodeUnauthorized      ErrorCode = "unauthorized"
	CodeInvalidToken      ErrorCode = "invalid_token"
	CodeForbidden         ErrorCode = "forbidden"
	CodeNotFound          ErrorCode = "not_found"
	CodeConflict          ErrorCode = "conflict"
	CodePaymentRequired   ErrorCode = "payment_required"
	CodeRateLimited       ErrorCode = "rate_limited"
	CodeInvalidFormat     ErrorCode = "invalid_format"
	CodeProviderFailure   ErrorCode = "provider_failure"
	CodeInternal          ErrorCode = "internal_error"
)

// ServiceError carries an error class, a user-facing message, and the HTTP
// status it maps to.
type ServiceError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a detail entry and returns the error for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// GetServiceError returns the ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var svcErr *ServiceError
	if stderrors.As(err, &svcErr) {
		return svcErr
	}
	return nil
}

// BadRequest marks invalid input.
func BadRequest(message string) *ServiceError {
	return &ServiceError{Code: CodeBadRequest, Message: message, HTTPStatus: http.StatusBadRequest}
}

// Unauthorized marks a missing or unusable credential.
func Unauthorized(message string) *ServiceError {
	return &ServiceError{Code: CodeUnauthorized, Message: message, HTTPStatus: http.StatusUnauthorized}
}

// InvalidToken marks a credential that failed validation.
func InvalidToken(err error) *ServiceError {
	return &ServiceError{Code: CodeInvalidToken, Message: "Invalid or expired token", HTTPStatus: http.StatusUnauthorized, Err: err}
}

// Forbidden marks an authenticated caller acting outside its rights.
func Forbidden(message string) *ServiceError {
	return &ServiceError{Code: CodeForbidden, Message: message, HTTPStatus: http.StatusForbidden}
}

// NotFound marks a missing resource.
func NotFound(message string) *ServiceError {
	return &ServiceError{Code: CodeNotFound, Message: message, HTTPStatus: http.StatusNotFound}
}

// Conflict marks a request that lost to an existing row or constraint.
func Conflict(message string) *ServiceError {
	return &ServiceError{Code: CodeConflict, Message: message, HTTPStatus: http.StatusConflict}
}

// PaymentRequired marks an action that needs a completed purchase.
func PaymentRequired(message string) *ServiceError {
	return &ServiceError{Code: CodePaymentRequired, Message: message, HTTPStatus: http.StatusPaymentRequired}
}

// RateLimitExceeded marks a throttled caller.
func RateLimitExceeded(limit int, window string) *ServiceError {
	e := &ServiceError{Code: CodeRateLimited, Message: "Rate limit exceeded", HTTPStatus: http.StatusTooManyRequests}
	return e.WithDetails("limit", limit).WithDetails("window", window)
}

// InvalidFormat marks a field that failed format validation.
func InvalidFormat(field, requirement string) *ServiceError {
	e := &ServiceError{Code: CodeInvalidFormat, Message: fmt.Sprintf("Invalid %s", field), HTTPStatus: http.StatusBadRequest}
	return e.WithDetails("field", field).WithDetails("requirement", requirement)
}

// ProviderFailure marks an upstream payment or identity provider error.
func ProviderFailure(message string, err error) *ServiceError {
	return &ServiceError{Code: CodeProviderFailure, Message: message, HTTPStatus: http.StatusBadGateway, Err: err}
}

// Internal marks an unexpected server-side failure.
func Internal(message string, err error) *ServiceError {
	return &ServiceError{Code: CodeInternal, Message: message, HTTPStatus: http.StatusInternalServerError, Err: err}
}
