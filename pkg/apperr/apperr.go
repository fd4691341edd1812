// Package apperr defines the error taxonomy shared by the order pipeline and
// the HTTP layer. Errors are wrapped with fmt.Errorf("...: %w") as they travel
// up, and classified at the edge with Kind and HTTPStatus.
package apperr

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrPaymentRequired = errors.New("payment required")
	ErrForbidden       = errors.New("forbidden")
	ErrGone            = errors.New("access window elapsed")
	ErrInProgress      = errors.New("fulfillment already in progress")
	ErrUpstream        = errors.New("upstream call failed")
)

func Kind(err error) string {
	switch {
	case err == nil:
		return ""

	case errors.Is(err, ErrValidation):
		return "validation"

	case errors.Is(err, ErrNotFound):
		return "not_found"

	case errors.Is(err, ErrPaymentRequired):
		return "payment_required"

	case errors.Is(err, ErrForbidden):
		return "forbidden"

	case errors.Is(err, ErrGone):
		return "gone"

	case errors.Is(err, ErrInProgress):
		return "in_progress"

	case errors.Is(err, ErrUpstream):
		return "upstream"

	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"

	case errors.Is(err, context.Canceled):
		return "canceled"

	default:
		return "internal"
	}
}

func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest

	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, ErrPaymentRequired),
		errors.Is(err, ErrForbidden):
		return http.StatusForbidden

	case errors.Is(err, ErrGone):
		return http.StatusGone

	case errors.Is(err, ErrInProgress):
		return http.StatusConflict

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	default:
		return http.StatusInternalServerError
	}
}
