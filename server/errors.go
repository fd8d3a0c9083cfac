package server

import (
	"context"
	"errors"
	"net/http"

	errs "github.com/ctfer-io/race-manager/pkg/errors"
)

// statusFromError normalizes internal errors into HTTP status codes so clients
// can tell a broken backend apart from a bad request.
// A lost race is not an error thus never reaches this.
func statusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var verr *errs.ErrValidationFailed
	if errors.As(err, &verr) {
		return http.StatusBadRequest
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	case errs.IsBackend(err), errors.Is(err, errs.ErrStoreClosed):
		return http.StatusServiceUnavailable
	}

	return http.StatusInternalServerError
}
