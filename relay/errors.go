package relay

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNameMissing    = errors.New("device name missing from path")
	ErrDeviceNotFound = errors.New("device not found")
	ErrRouteNotFound  = errors.New("no route matched")
	ErrInvalidBody    = errors.New("invalid request body")
	ErrNoCommands     = errors.New("request contained no commands")
	ErrBodyTooLarge   = errors.New("request body too large")
)

// statusFor maps an error from request handling to the HTTP status returned to the client.
// Anything unrecognized, including spawn failures, is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNameMissing),
		errors.Is(err, ErrDeviceNotFound),
		errors.Is(err, ErrRouteNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidBody),
		errors.Is(err, ErrNoCommands):
		return http.StatusBadRequest
	case errors.Is(err, ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
