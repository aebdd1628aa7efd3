package backend

import (
	"context"
	"errors"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   ErrorKind
	}{
		{200, "", KindOK},
		{429, `{"error":"rate limited"}`, KindRateLimited},
		{429, `{"error":{"message":"insufficient_quota"}}`, KindInsufficientCredit},
		{402, "", KindInsufficientCredit},
		{401, "", KindAuthFailed},
		{403, "", KindAuthFailed},
		{400, "", KindBadRequest},
		{500, "", KindUpstreamError},
		{503, "", KindUpstreamError},
	}
	for _, c := range cases {
		if got := ClassifyStatus(c.status, []byte(c.body)); got != c.want {
			t.Errorf("ClassifyStatus(%d, %q) = %q, want %q", c.status, c.body, got, c.want)
		}
	}
}

func TestClassifyTransportErrorContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := ClassifyTransportError(ctx, context.Canceled); got != KindCanceled {
		t.Fatalf("got %q, want canceled", got)
	}
}

func TestClassifyTransportErrorDeadline(t *testing.T) {
	ctx := context.Background()
	if got := ClassifyTransportError(ctx, context.DeadlineExceeded); got != KindTimeout {
		t.Fatalf("got %q, want timeout", got)
	}
}

func TestClassifyTransportErrorGeneric(t *testing.T) {
	if got := ClassifyTransportError(context.Background(), errors.New("connection refused")); got != KindNetworkError {
		t.Fatalf("got %q, want network_error", got)
	}
}

func TestDisables(t *testing.T) {
	if !KindRateLimited.Disables() || !KindInsufficientCredit.Disables() {
		t.Fatalf("rate_limited and insufficient_credits must disable")
	}
	for _, k := range []ErrorKind{KindOK, KindAuthFailed, KindBadRequest, KindUpstreamError, KindNetworkError, KindTimeout, KindCanceled} {
		if k.Disables() {
			t.Errorf("%q must not disable", k)
		}
	}
}
