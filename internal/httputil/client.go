package httputil

import (
	"net/http"
	"time"
)

const (
	DefaultTimeout = 30 * time.Second
	UserAgent      = "etdemand/1.0"
)

// NewClient returns an HTTP client with the given timeout (DefaultTimeout if
// zero) that identifies itself with UserAgent.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: userAgent{next: http.DefaultTransport},
	}
}

type userAgent struct {
	next http.RoundTripper
}

func (u userAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", UserAgent)
	}
	return u.next.RoundTrip(req)
}
