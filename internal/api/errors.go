package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/go-messenger/internal/types"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func newApiError(code int, message string) *ApiError {
	if message == "" {
		message = lower(http.StatusText(code))
	}
	return &ApiError{StatusCode: code, Message: message}
}

func NewBadRequestError(reason string) *ApiError {
	return newApiError(http.StatusBadRequest, reason)
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound, "")
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

func NewUnauthorizedError() *ApiError {
	return newApiError(http.StatusUnauthorized, "")
}

func NewForbiddenError(reason string) *ApiError {
	return newApiError(http.StatusForbidden, reason)
}

func NewServiceUnavailableError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    lower(http.StatusText(http.StatusServiceUnavailable)),
		Err:        err,
	}
}

// errorFromDomain maps the error taxonomy of the domain packages to an HTTP
// error. Reasons of client errors are passed through; anything unexpected
// becomes a 500 that keeps the cause for logging only.
func errorFromDomain(err error) *ApiError {
	switch {
	case types.IsValidation(err):
		return NewBadRequestError(err.Error())
	case types.IsNotFound(err):
		return newApiError(http.StatusNotFound, err.Error())
	case types.IsForbidden(err):
		return NewForbiddenError(err.Error())
	case types.IsConflict(err):
		return newApiError(http.StatusConflict, err.Error())
	}
	return NewInternalServerError(err)
}
