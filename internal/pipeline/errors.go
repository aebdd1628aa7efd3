package pipeline

import (
	"net/http"

	"github.com/inferswitch/gateway/internal/backend"
)

// PipelineError is the single error shape Execute returns; a facade
// handler maps it to its own wire error envelope via HTTPStatus and
// Error().
type PipelineError struct {
	Kind backend.ErrorKind

	// NoRoute is true when the router produced no candidates at all
	// (§4.5 exhausted every rule), distinct from every candidate having
	// failed.
	NoRoute bool

	// Committed is true when the failing candidate had already started
	// forwarding bytes to the client (§4.6's atomicity rule). A facade
	// handler must not write an error body in that case.
	Committed bool

	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.NoRoute {
		return "no_route: no backend configured for this model"
	}
	return string(e.Kind)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// HTTPStatus maps the error onto the status table in §7.
func (e *PipelineError) HTTPStatus() int {
	if e.NoRoute {
		return http.StatusNotFound
	}
	switch e.Kind {
	case backend.KindBadRequest:
		return http.StatusBadRequest
	case backend.KindAuthFailed:
		return http.StatusUnauthorized
	case backend.KindRateLimited:
		return http.StatusTooManyRequests
	case backend.KindInsufficientCredit:
		return http.StatusPaymentRequired
	case backend.KindUpstreamError, backend.KindNetworkError:
		return http.StatusBadGateway
	case backend.KindTimeout:
		return http.StatusGatewayTimeout
	case backend.KindCanceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// severity orders the error kinds that can survive to the end of
// candidate iteration, per §4.6 point 6: rate_limited/insufficient_credits
// outrank upstream_error, which outranks network_error, which outranks
// timeout. auth_failed and bad_request never reach this comparison since
// they surface immediately and end iteration on the spot.
func severity(kind backend.ErrorKind) int {
	switch kind {
	case backend.KindRateLimited, backend.KindInsufficientCredit:
		return 4
	case backend.KindUpstreamError:
		return 3
	case backend.KindNetworkError:
		return 2
	case backend.KindTimeout:
		return 1
	default:
		return 0
	}
}
