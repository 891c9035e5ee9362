package api

import (
	"errors"
	"net/http"

	"github.com/okian/transferwire/internal/adapters/ingest"
	service "github.com/okian/transferwire/internal/app"
	"github.com/okian/transferwire/internal/domain/gate"
	"github.com/okian/transferwire/pkg/errs"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
)

// statusOf maps pipeline errors to an HTTP status and a stable code.
func statusOf(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, "ok"
	case errors.Is(err, ErrBadRequest), errors.Is(err, errs.ErrInvalid):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ingest.ErrBufferFull):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, service.ErrNotStarted):
		return http.StatusServiceUnavailable, "not_started"
	case errors.Is(err, gate.ErrAlreadyRetracted), errs.KindOf(err) == errs.KindGate:
		return http.StatusUnprocessableEntity, "gate"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
