// Package server provides the HTTP API of the content run tracker.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/jonathan/content-runs/internal/tracking"
)

// ErrEmailAlreadyExists indicates email is already registered
type ErrEmailAlreadyExists struct {
	Email string
}

func (e *ErrEmailAlreadyExists) Error() string {
	return fmt.Sprintf("email already registered: %s", e.Email)
}

// ErrInvalidCredentials indicates invalid login credentials
type ErrInvalidCredentials struct{}

func (e *ErrInvalidCredentials) Error() string {
	return "invalid email or password"
}

// HTTPStatus returns the HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		emailExists  *ErrEmailAlreadyExists
		badCreds     *ErrInvalidCredentials
		invalidArg   *tracking.ErrInvalidArgument
		unauthorized *tracking.ErrUnauthorized
		forbidden    *tracking.ErrForbidden
		notFound     *tracking.ErrNotFound
		invalidState *tracking.ErrInvalidState
		upstream     *tracking.ErrUpstream
		timeout      *tracking.ErrTimeout
		validation   validator.ValidationErrors
	)
	switch {
	case errors.As(err, &invalidArg), errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &unauthorized), errors.As(err, &badCreds):
		return http.StatusUnauthorized
	case errors.As(err, &forbidden):
		return http.StatusForbidden
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &emailExists), errors.As(err, &invalidState):
		return http.StatusConflict
	case errors.As(err, &upstream):
		return http.StatusBadGateway
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides internal failures from API callers.
func publicMessage(err error, status int) string {
	if status == http.StatusInternalServerError {
		return "internal server error"
	}
	var validation validator.ValidationErrors
	if errors.As(err, &validation) && len(validation) > 0 {
		fe := validation[0]
		return fmt.Sprintf("validation error: %s - %s", fe.Field(), fe.Tag())
	}
	return err.Error()
}
