// Package rss consumes plain RSS feeds as a keyless news provider.
// Feed descriptions carry HTML markup and entities; both are cleaned
// before the items enter the aggregation pipeline.
package rss

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"marketdash/internal/httpx"
	"marketdash/internal/news"
	"marketdash/internal/provider"
)

type Config struct {
	Name  string
	Feeds []string
	// MaxConcurrency bounds concurrent feed fetches. Defaults to 3.
	MaxConcurrency int
}

type Provider struct {
	cfg    Config
	client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "rss"
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 3
	}
	return &Provider{cfg: cfg, client: hc}
}

func (p *Provider) Name() string { return p.cfg.Name }

type document struct {
	Channel struct {
		Title string `xml:"title"`
		Items []item `xml:"item"`
	} `xml:"channel"`
}

type item struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	GUID        string `xml:"guid"`
}

// FetchNews pulls every configured feed concurrently and flattens the
// results. A feed failing is tolerated as long as at least one yields.
func (p *Provider) FetchNews(ctx context.Context, scope provider.NewsScope) ([]provider.NewsItem, error) {
	if len(p.cfg.Feeds) == 0 {
		return nil, nil
	}
	sem := make(chan struct{}, p.cfg.MaxConcurrency)
	var (
		mu       sync.Mutex
		out      []provider.NewsItem
		firstErr error
		wg       sync.WaitGroup
	)
	for _, feed := range p.cfg.Feeds {
		feed := feed
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			items, err := p.fetchFeed(ctx, feed)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			out = append(out, items...)
		}()
	}
	wg.Wait()
	if len(out) == 0 && firstErr != nil {
		return nil, firstErr
	}
	if scope.Limit > 0 && len(out) > scope.Limit {
		out = out[:scope.Limit]
	}
	return out, nil
}

func (p *Provider) fetchFeed(ctx context.Context, feed string) ([]provider.NewsItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed, http.NoBody)
	if err != nil {
		return nil, provider.Errf(p.cfg.Name, provider.KindNetwork, 0, "build request: %v", err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/xml, text/xml")
	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return nil, provider.WrapNetwork(p.cfg.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return nil, provider.StatusError(p.cfg.Name, resp.StatusCode, string(b))
	}
	var doc document
	if err := xml.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, provider.Errf(p.cfg.Name, provider.KindSchema, resp.StatusCode, "decode feed: %v", err)
	}

	source := p.cfg.Name
	if t := strings.TrimSpace(doc.Channel.Title); t != "" {
		source = fmt.Sprintf("%s:%s", p.cfg.Name, t)
	}
	out := make([]provider.NewsItem, 0, len(doc.Channel.Items))
	for _, it := range doc.Channel.Items {
		title := news.CleanHTML(it.Title)
		link := strings.TrimSpace(it.Link)
		if title == "" || link == "" {
			continue
		}
		ts, ok := parsePubDate(it.PubDate)
		if !ok {
			continue
		}
		out = append(out, provider.NewsItem{
			ID:          strings.TrimSpace(it.GUID),
			Title:       title,
			Summary:     news.CleanHTML(it.Description),
			URL:         link,
			PublishedAt: ts,
			Source:      source,
		})
	}
	return out, nil
}

// pubDateLayouts covers the date formats seen across real feeds.
var pubDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
}

func parsePubDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range pubDateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
