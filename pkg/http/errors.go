package http

import (
	"fmt"
	"net/http"
)

// AppError is an error that already knows its HTTP status and the code
// callers switch on.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// WithParam attaches a machine-readable detail to the response body.
func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = make(map[string]interface{}, 1)
	}
	e.Params[key] = value
	return e
}

// WithError keeps the cause for logs. It is never serialised.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func newAppError(status int, code, message string) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

func BadRequestError(message string) *AppError {
	return newAppError(http.StatusBadRequest, "ERR_BAD_REQUEST", message)
}

func UnauthorizedError(message string) *AppError {
	return newAppError(http.StatusUnauthorized, "ERR_UNAUTHORIZED", message)
}

// ForbiddenError is also used for risk denials.
func ForbiddenError(message string) *AppError {
	return newAppError(http.StatusForbidden, "ERR_FORBIDDEN", message)
}

func NotFoundError(message string) *AppError {
	return newAppError(http.StatusNotFound, "ERR_NOT_FOUND", message)
}

func NotFoundErrorf(format string, a ...interface{}) *AppError {
	return NotFoundError(fmt.Sprintf(format, a...))
}

func ConflictError(message string) *AppError {
	return newAppError(http.StatusConflict, "ERR_CONFLICT", message)
}

func TooManyRequestsError(message string) *AppError {
	return newAppError(http.StatusTooManyRequests, "ERR_RATE_LIMITED", message)
}

func InternalError(message string) *AppError {
	return newAppError(http.StatusInternalServerError, "ERR_INTERNAL", message)
}

func BadGatewayError(message string) *AppError {
	return newAppError(http.StatusBadGateway, "ERR_UPSTREAM", message)
}

// ServiceUnavailableError marks a retryable failure. Webhook senders are
// expected to redeliver on 503.
func ServiceUnavailableError(message string) *AppError {
	return newAppError(http.StatusServiceUnavailable, "ERR_UNAVAILABLE", message)
}
