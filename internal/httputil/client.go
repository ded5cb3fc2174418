package httputil

import (
	"net/http"
	"time"
)

// NewClient returns an HTTP client with a pooled transport, shared by the
// Razorpay API client and the callback notifier so repeated calls to the
// same host reuse connections.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}
