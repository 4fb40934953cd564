package httputil

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// NewClient returns a traced HTTP client. When limiter is set, every
// outgoing request waits for a token first.
func NewClient(timeout time.Duration, limiter *rate.Limiter) *http.Client {
	var rt http.RoundTripper = http.DefaultTransport
	if limiter != nil {
		rt = &limitedTransport{next: rt, limiter: limiter}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(rt),
	}
}

type limitedTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}
