package httputil

import (
	"net/http"
	"time"
)

const (
	DefaultTimeout = 30 * time.Second
	UserAgent      = "wandiforecast/1.0 (+https://github.com/lox/wandiforecast)"
)

// NewClient returns an HTTP client with the standard timeout that identifies
// itself with UserAgent.
func NewClient() *http.Client {
	return &http.Client{
		Timeout:   DefaultTimeout,
		Transport: &userAgentTransport{},
	}
}

// userAgentTransport sets User-Agent on requests that lack one. A nil base
// resolves http.DefaultTransport per request, so transports swapped in
// later (as test mocks do) are honoured.
type userAgentTransport struct {
	base http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	if req.Header.Get("User-Agent") != "" {
		return base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", UserAgent)
	return base.RoundTrip(clone)
}
