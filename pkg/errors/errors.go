package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType classifies an error into one of the REST daemon's error kinds.
// The HTTP front door is the only place these are converted to status codes.
type ErrorType string

const (
	// Authentication / authorization
	ErrorTypeNotAuthenticated     ErrorType = "NOT_AUTHENTICATED"
	ErrorTypeAuthenticationFailed ErrorType = "AUTHENTICATION_FAILED"
	ErrorTypeForbiddenMethod      ErrorType = "FORBIDDEN_METHOD"

	// Resource access
	ErrorTypeResourceNotFound ErrorType = "RESOURCE_NOT_FOUND"
	ErrorTypeMethodNotAllowed ErrorType = "METHOD_NOT_ALLOWED"

	// Request content
	ErrorTypeDataValidationFailed ErrorType = "DATA_VALIDATION_FAILED"
	ErrorTypeParameterNotAllowed  ErrorType = "PARAMETER_NOT_ALLOWED"

	// Transactions and conditional requests
	ErrorTypeTransactionFailed  ErrorType = "TRANSACTION_FAILED"
	ErrorTypePreconditionFailed ErrorType = "PRECONDITION_FAILED"
	ErrorTypeNotModified        ErrorType = "NOT_MODIFIED"

	// Everything else
	ErrorTypeInternal ErrorType = "INTERNAL"
)

// Business codes reported by table validators inside a
// DATA_VALIDATION_FAILED response.
const (
	CodeVerificationFailed = 10001
	CodeNoReferencedBy     = 10002
	CodeFailedReferencedBy = 10003
	CodeResourcesExceeded  = 10004
	CodeMethodProhibited   = 10005
	CodeDuplicateResource  = 10006
)

// AppError is the error value carried through the daemon. Fields holds the
// request fields the error applies to, Code an optional business-level code.
type AppError struct {
	Type       ErrorType      `json:"type"`
	Message    string         `json:"message"`
	Code       int            `json:"code,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	Cause      error          `json:"-"`
	HTTPStatus int            `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCode attaches a business-level error code.
func (e *AppError) WithCode(code int) *AppError {
	e.Code = code
	return e
}

// WithFields attaches the request fields the error applies to.
func (e *AppError) WithFields(fields map[string]any) *AppError {
	e.Fields = fields
	return e
}

// WithCause wraps an underlying error.
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// Constructor functions, one per error kind.

// NewNotAuthenticated reports a missing or invalid session.
func NewNotAuthenticated(message string) *AppError {
	if message == "" {
		message = "not authenticated"
	}
	return &AppError{
		Type:       ErrorTypeNotAuthenticated,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewAuthenticationFailed reports a failed login attempt.
func NewAuthenticationFailed(message string) *AppError {
	if message == "" {
		message = "authentication failed"
	}
	return &AppError{
		Type:       ErrorTypeAuthenticationFailed,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewForbiddenMethod reports a permission check failure.
func NewForbiddenMethod(message string) *AppError {
	if message == "" {
		message = "forbidden"
	}
	return &AppError{
		Type:       ErrorTypeForbiddenMethod,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// NewNotFound reports a URI that resolves to no resource.
func NewNotFound(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeResourceNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
	}
}

// NewMethodNotAllowed reports a method the resource does not support.
func NewMethodNotAllowed(message string) *AppError {
	if message == "" {
		message = "method not allowed"
	}
	return &AppError{
		Type:       ErrorTypeMethodNotAllowed,
		Message:    message,
		HTTPStatus: http.StatusMethodNotAllowed,
	}
}

// NewDataValidationFailed reports a body that fails schema or validator checks.
func NewDataValidationFailed(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeDataValidationFailed,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewParameterNotAllowed reports an illegal query parameter combination.
func NewParameterNotAllowed(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeParameterNotAllowed,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewTransactionFailed reports a commit that ended in error or timed out.
func NewTransactionFailed(message string, err error) *AppError {
	if message == "" {
		message = "transaction failed"
	}
	return &AppError{
		Type:       ErrorTypeTransactionFailed,
		Message:    message,
		Cause:      err,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// NewPreconditionFailed reports an If-Match mismatch.
func NewPreconditionFailed(message string) *AppError {
	if message == "" {
		message = "precondition failed"
	}
	return &AppError{
		Type:       ErrorTypePreconditionFailed,
		Message:    message,
		HTTPStatus: http.StatusPreconditionFailed,
	}
}

// NewNotModified reports an If-None-Match match on GET.
func NewNotModified() *AppError {
	return &AppError{
		Type:       ErrorTypeNotModified,
		Message:    "not modified",
		HTTPStatus: http.StatusNotModified,
	}
}

// NewInternal reports an unexpected failure.
func NewInternal(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Helper functions

// IsAppError checks whether err carries an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts the AppError from an error chain, or nil.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks whether err is of a specific kind.
func IsType(err error, errType ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

// IsNotFound checks for a resource-not-found error.
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeResourceNotFound)
}

// IsMethodNotAllowed checks for a method-not-allowed error.
func IsMethodNotAllowed(err error) bool {
	return IsType(err, ErrorTypeMethodNotAllowed)
}

// IsDataValidationFailed checks for a validation error.
func IsDataValidationFailed(err error) bool {
	return IsType(err, ErrorTypeDataValidationFailed)
}

// IsNotAuthenticated checks for an authentication error.
func IsNotAuthenticated(err error) bool {
	return IsType(err, ErrorTypeNotAuthenticated)
}

// IsAuthenticationFailed checks for a failed credential check.
func IsAuthenticationFailed(err error) bool {
	return IsType(err, ErrorTypeAuthenticationFailed)
}

// IsForbiddenMethod checks for an authorization error.
func IsForbiddenMethod(err error) bool {
	return IsType(err, ErrorTypeForbiddenMethod)
}

// IsPreconditionFailed checks for a failed conditional-request precondition.
func IsPreconditionFailed(err error) bool {
	return IsType(err, ErrorTypePreconditionFailed)
}

// HTTPStatusOf maps any error to the status code the front door writes.
func HTTPStatusOf(err error) int {
	if appErr := GetAppError(err); appErr != nil && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}
	return NewInternal(message).WithCause(err)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...any) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
