package github

import (
	"fmt"
	"net/http"

	"golang.org/x/time/rate"
)

// throttle is an http.RoundTripper that blocks on a token bucket before
// passing the request on.
type throttle struct {
	limiter *rate.Limiter
	next    http.RoundTripper
}

// NewThrottle limits next to rps requests per second with the given burst.
func NewThrottle(rps, burst int, next http.RoundTripper) (http.RoundTripper, error) {
	if rps <= 0 {
		return nil, fmt.Errorf("rps %w", ErrMustNotBeZero)
	}
	if burst <= 0 {
		return nil, fmt.Errorf("burst %w", ErrMustNotBeZero)
	}
	if next == nil {
		next = http.DefaultTransport
	}
	return &throttle{limiter: rate.NewLimiter(rate.Limit(rps), burst), next: next}, nil
}

func (t *throttle) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return t.next.RoundTrip(req)
}
