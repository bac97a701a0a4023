// Package httpx holds the one outbound HTTP client the provider
// adapters share, so connection pools and transport tuning live in a
// single place.
package httpx

import (
	"context"
	"net"
	"net/http"
	"time"
)

// Client wraps http.Client with a default User-Agent and optional
// per-client headers.
type Client struct {
	HTTP      *http.Client
	UserAgent string
	Headers   map[string]string
}

// New builds a client tuned for talking to a handful of market-data
// APIs: modest per-host pools, short dial and TLS budgets so a dead
// upstream fails fast, and long idle keep-alives since the same hosts
// are hit continuously.
func New(timeout time.Duration) *Client {
	dialer := &net.Dialer{Timeout: 4 * time.Second, KeepAlive: 60 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       2 * time.Minute,
		TLSHandshakeTimeout:   4 * time.Second,
		ResponseHeaderTimeout: 8 * time.Second,
	}
	return &Client{
		HTTP:      &http.Client{Timeout: timeout, Transport: transport},
		UserAgent: "marketdash/1.0",
	}
}

// Do sends the request, filling in the User-Agent and any configured
// headers that the caller did not set explicitly.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" && c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	for k, v := range c.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return c.HTTP.Do(req.WithContext(ctx))
}
