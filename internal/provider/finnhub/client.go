package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

const baseURL = "https://finnhub.io/api/v1"

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=finnhub_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a client for the Finnhub API.
type Client struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient performs the requests.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
	// query contains additional query parameters to be sent with each request.
	query url.Values
}

// Option is a configuration option for the Finnhub client.
type Option func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) Option {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// NewClient creates a new Finnhub API client.
func NewClient(token string, options ...Option) (*Client, error) {
	var client = &Client{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		query:      url.Values{},
	}
	if token != "" {
		// https://finnhub.io/docs/api/authentication
		client.query.Add("token", token)
	}
	for _, option := range options {
		option(client)
	}
	return client, nil
}

// get performs one GET against path with the merged query and decodes
// the JSON body into out.
func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	merged := url.Values{}
	for k, vs := range c.query {
		merged[k] = vs
	}
	for k, vs := range q {
		merged[k] = vs
	}
	u := fmt.Sprintf("%s%s?%s", c.baseURL, path, merged.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.header.Clone()

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return &StatusError{Code: res.StatusCode, Message: "unauthorized"}
	case http.StatusTooManyRequests:
		return &StatusError{Code: res.StatusCode, Message: "rate limited"}
	default:
		return &StatusError{Code: res.StatusCode, Message: "unexpected status code"}
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}
