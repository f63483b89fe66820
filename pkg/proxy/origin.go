package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Origin forwards inbound requests to the configured backend base URL. The
// underlying transport pools connections across requests; per-request state
// never leaks because every call builds a fresh outbound request.
type Origin struct {
	base    *url.URL
	client  *http.Client
	timeout time.Duration
}

// NewOrigin builds an origin client for the given base URL. baseURL must have
// been validated by config; a parse failure here is a programming error.
func NewOrigin(baseURL string, timeout time.Duration) (*Origin, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream base URL %q: %w", baseURL, err)
	}

	return &Origin{
		base:    base,
		client:  &http.Client{Transport: http.DefaultTransport},
		timeout: timeout,
	}, nil
}

// Timeout returns the per-request upstream deadline.
func (o *Origin) Timeout() time.Duration {
	return o.timeout
}

// Fetch forwards r to the backend, preserving method, path and query string.
// Hop-by-hop request headers are stripped and Host is rewritten to the
// upstream host. When stripAcceptEncoding is set the transport negotiates
// encoding itself and transparently decompresses, which is required before a
// body can be parsed for transformation. A single attempt is made; retries
// are the caller's explicit non-goal.
func (o *Origin) Fetch(ctx context.Context, r *http.Request, stripAcceptEncoding bool) (*http.Response, error) {
	target := *o.base
	target.Path = o.base.Path + r.URL.Path
	target.RawQuery = r.URL.RawQuery

	out, err := http.NewRequestWithContext(ctx, r.Method, target.String(), r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}

	copyRequestHeaders(out.Header, r.Header)
	if stripAcceptEncoding {
		out.Header.Del("Accept-Encoding")
	}
	out.Host = o.base.Host

	resp, err := o.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	return resp, nil
}

// copyRequestHeaders copies client headers onto the upstream request,
// filtering hop-by-hop headers per standard proxy hygiene.
func copyRequestHeaders(dst, src http.Header) {
	connectionNamed := connectionHeaderTokens(src)
	for key, values := range src {
		if isHopByHopHeader(key) || connectionNamed[strings.ToLower(key)] {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// connectionHeaderTokens collects header names listed in the Connection
// header; RFC 7230 makes those hop-by-hop as well.
func connectionHeaderTokens(h http.Header) map[string]bool {
	tokens := make(map[string]bool)
	for _, value := range h.Values("Connection") {
		for _, token := range strings.Split(value, ",") {
			if token = strings.TrimSpace(strings.ToLower(token)); token != "" {
				tokens[token] = true
			}
		}
	}
	return tokens
}

// isHopByHopHeader identifies HTTP hop-by-hop headers that should not be forwarded.
func isHopByHopHeader(header string) bool {
	// Per RFC 7230, these headers are hop-by-hop and must not be forwarded
	switch strings.ToLower(header) {
	case "connection",
		"keep-alive",
		"proxy-authenticate",
		"proxy-authorization",
		"te",
		"trailers",
		"transfer-encoding",
		"upgrade":
		return true
	}
	return false
}

// StatusForTransportError maps an upstream failure to the gateway status the
// client should observe: expired deadlines surface as 504, everything else as
// 502.
func StatusForTransportError(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}
