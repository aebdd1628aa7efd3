package backend

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrorKind is the closed set of outcomes a backend call can produce
// (§4.2). The pipeline's failover and disablement rules switch on this,
// never on raw HTTP status codes or transport error strings.
type ErrorKind string

const (
	KindOK                 ErrorKind = "ok"
	KindRateLimited        ErrorKind = "rate_limited"
	KindInsufficientCredit ErrorKind = "insufficient_credits"
	KindAuthFailed         ErrorKind = "auth_failed"
	KindBadRequest         ErrorKind = "bad_request"
	KindUpstreamError      ErrorKind = "upstream_error"
	KindNetworkError       ErrorKind = "network_error"
	KindTimeout            ErrorKind = "timeout"
	KindCanceled           ErrorKind = "canceled"
)

// ClassifyStatus maps an upstream HTTP status code to an ErrorKind. Body
// is consulted only to distinguish rate-limit from credit-exhaustion on
// a 429, since both providers in the pack use that status for either.
func ClassifyStatus(status int, body []byte) ErrorKind {
	switch {
	case status >= 200 && status < 300:
		return KindOK
	case status == http.StatusTooManyRequests:
		if looksLikeCreditExhaustion(body) {
			return KindInsufficientCredit
		}
		return KindRateLimited
	case status == http.StatusPaymentRequired:
		return KindInsufficientCredit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthFailed
	case status >= 400 && status < 500:
		return KindBadRequest
	case status >= 500:
		return KindUpstreamError
	default:
		return KindUpstreamError
	}
}

func looksLikeCreditExhaustion(body []byte) bool {
	s := strings.ToLower(string(body))
	return strings.Contains(s, "credit") || strings.Contains(s, "insufficient_quota") || strings.Contains(s, "billing")
}

// ClassifyTransportError maps a transport-level failure (network,
// timeout, context cancellation) to an ErrorKind.
func ClassifyTransportError(ctx context.Context, err error) ErrorKind {
	if err == nil {
		return KindOK
	}
	if errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return KindTimeout
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetworkError
}

// Disables reports whether an ErrorKind triggers temporary model
// blacklisting (§4.3: only rate_limited and insufficient_credits do).
func (k ErrorKind) Disables() bool {
	return k == KindRateLimited || k == KindInsufficientCredit
}
