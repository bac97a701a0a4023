package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"

	"marketdash/internal/httpx"
)

const maxRedirectHops = 5

var (
	errBadURL      = errors.New("u must be an absolute http(s) URL")
	errTooManyHops = errors.New("too many redirects")
	errNoFinalURL  = errors.New("redirect without location")
)

// redirectResolver follows tracking redirects (news aggregators wrap
// article links) to the final article URL. It tries HEAD first and
// falls back to GET for hosts that reject HEAD; bodies are discarded.
type redirectResolver struct {
	client *httpx.Client
}

func newRedirectResolver(client *httpx.Client) *redirectResolver {
	// each hop is inspected by hand, so the underlying client must not
	// chase redirects itself
	client.HTTP.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &redirectResolver{client: client}
}

func (r *redirectResolver) Resolve(ctx context.Context, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return "", errBadURL
	}

	current := u
	for hop := 0; hop < maxRedirectHops; hop++ {
		loc, redirected, err := r.step(ctx, current, http.MethodHead)
		if err != nil || (redirected && loc == "") {
			// some hosts 405 or drop HEAD; retry the hop with GET
			loc, redirected, err = r.step(ctx, current, http.MethodGet)
		}
		if err != nil {
			return "", err
		}
		if !redirected {
			return current.String(), nil
		}
		if loc == "" {
			return "", errNoFinalURL
		}
		next, err := current.Parse(loc)
		if err != nil {
			return "", errNoFinalURL
		}
		current = next
	}
	return "", errTooManyHops
}

// step issues one request without following redirects and reports the
// Location header, if any.
func (r *redirectResolver) step(ctx context.Context, u *url.URL, method string) (loc string, redirected bool, err error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return "", false, err
	}
	resp, err := r.client.Do(req.Context(), req)
	if err != nil {
		return "", false, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return resp.Header.Get("Location"), true, nil
	}
	if method == http.MethodHead && (resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented) {
		// force the GET fallback
		return "", true, nil
	}
	return "", false, nil
}

func isClientURLError(err error) bool {
	return errors.Is(err, errBadURL)
}

