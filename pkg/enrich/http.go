package enrich

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// sharedTransport pools connections across every enrichment HTTP client so
// repeated advisory calls reuse TCP connections and TLS sessions.
var sharedTransport = &http.Transport{
	DialContext: (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     90 * time.Second,
}

// newHTTPClient returns a client on the shared transport with the given
// per-request timeout.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: sharedTransport,
	}
}

// APIError carries the status and body of a failed advisory service call.
// Extract it with errors.As to branch on the status code.
type APIError struct {
	StatusCode int
	Body       string
	Service    string
}

func (e *APIError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Service, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// checkResponse returns an APIError when the status is not 2xx. The body
// read is capped so a hostile response cannot exhaust memory.
func checkResponse(resp *http.Response, service string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{
		StatusCode: resp.StatusCode,
		Body:       string(body),
		Service:    service,
	}
}
