// Package fmp speaks the Financial Modeling Prep REST API and
// normalizes its responses. The adapter performs one upstream call per
// public method (after internal chunking) and leaves retries, rate
// limiting and caching to the layers above.
package fmp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"marketdash/internal/httpx"
	"marketdash/internal/provider"
)

const defaultBaseURL = "https://financialmodelingprep.com/api/v3"

type Config struct {
	Name    string
	BaseURL string
	APIKey  string
	// MaxSymbolsPerRequest splits large quote lookups into smaller
	// batch requests. 0 or negative means no limit.
	MaxSymbolsPerRequest int
}

type Provider struct {
	cfg    Config
	client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "fmp"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxSymbolsPerRequest <= 0 {
		cfg.MaxSymbolsPerRequest = 100
	}
	return &Provider{cfg: cfg, client: hc}
}

func (p *Provider) Name() string { return p.cfg.Name }

type quoteRow struct {
	Symbol            string  `json:"symbol"`
	Name              string  `json:"name"`
	Price             float64 `json:"price"`
	Change            float64 `json:"change"`
	ChangesPercentage float64 `json:"changesPercentage"`
	Volume            int64   `json:"volume"`
	AvgVolume         int64   `json:"avgVolume"`
	MarketCap         float64 `json:"marketCap"`
	YearHigh          float64 `json:"yearHigh"`
	YearLow           float64 `json:"yearLow"`
	Timestamp         int64   `json:"timestamp"`
}

// FetchQuotes requests quotes in batches. Symbols the upstream does not
// know are simply absent from the result.
func (p *Provider) FetchQuotes(ctx context.Context, symbols []string) ([]provider.Quote, error) {
	uniq := dedupeUpper(symbols)
	if len(uniq) == 0 {
		return nil, nil
	}
	out := make([]provider.Quote, 0, len(uniq))
	for _, batch := range chunk(uniq, p.cfg.MaxSymbolsPerRequest) {
		var rows []quoteRow
		if err := p.getJSON(ctx, "/quote/"+strings.Join(batch, ","), nil, &rows); err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		for _, r := range rows {
			if r.Symbol == "" || r.Price <= 0 {
				continue
			}
			updated := now
			if r.Timestamp > 0 {
				updated = time.Unix(r.Timestamp, 0).UTC()
			}
			out = append(out, provider.Quote{
				Symbol:        strings.ToUpper(r.Symbol),
				Name:          r.Name,
				Price:         r.Price,
				Change:        r.Change,
				ChangePercent: r.ChangesPercentage,
				Volume:        r.Volume,
				AvgVolume:     r.AvgVolume,
				MarketCap:     r.MarketCap,
				High52:        r.YearHigh,
				Low52:         r.YearLow,
				UpdatedAt:     updated,
				Provider:      p.cfg.Name,
			})
		}
	}
	return out, nil
}

// intervalPath maps the common interval enum onto FMP chart endpoints.
var intervalPath = map[provider.Interval]string{
	provider.Interval1Min:  "1min",
	provider.Interval5Min:  "5min",
	provider.Interval15Min: "15min",
	provider.Interval1Hour: "1hour",
}

type chartRow struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// FetchOHLC returns candles ascending by time, truncated to the limit
// most recent ones. Daily series use the historical endpoint; intraday
// the chart endpoint.
func (p *Provider) FetchOHLC(ctx context.Context, symbol string, interval provider.Interval, limit int) ([]provider.Candle, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, provider.Errf(p.cfg.Name, provider.KindSchema, 0, "empty symbol")
	}
	var rows []chartRow
	if interval == provider.Interval1Day {
		var resp struct {
			Historical []chartRow `json:"historical"`
		}
		q := url.Values{"serietype": {"bar"}}
		if err := p.getJSON(ctx, "/historical-price-full/"+symbol, q, &resp); err != nil {
			return nil, err
		}
		rows = resp.Historical
	} else {
		path, ok := intervalPath[interval]
		if !ok {
			return nil, provider.Errf(p.cfg.Name, provider.KindSchema, 0, "unsupported interval %q", interval)
		}
		if err := p.getJSON(ctx, "/historical-chart/"+path+"/"+symbol, nil, &rows); err != nil {
			return nil, err
		}
	}
	return normalizeCandles(rows, interval, limit), nil
}

// normalizeCandles parses, sorts ascending, dedupes by timestamp and
// truncates to the most recent candles.
func normalizeCandles(rows []chartRow, interval provider.Interval, limit int) []provider.Candle {
	layout := "2006-01-02 15:04:05"
	if interval == provider.Interval1Day {
		layout = "2006-01-02"
	}
	byTime := make(map[int64]provider.Candle, len(rows))
	for _, r := range rows {
		ts, err := time.ParseInLocation(layout, r.Date, time.UTC)
		if err != nil {
			continue // schema noise, drop the row
		}
		if r.Low > r.Open || r.Low > r.Close || r.High < r.Open || r.High < r.Close || r.Volume < 0 {
			continue
		}
		byTime[ts.Unix()] = provider.Candle{
			Time: ts, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close,
			Volume: int64(r.Volume),
		}
	}
	out := make([]provider.Candle, 0, len(byTime))
	for _, c := range byTime {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

type newsRow struct {
	Symbol        string `json:"symbol"`
	PublishedDate string `json:"publishedDate"`
	Title         string `json:"title"`
	Site          string `json:"site"`
	Text          string `json:"text"`
	URL           string `json:"url"`
}

// FetchNews pulls stock news, optionally scoped to one ticker. Items
// missing title or URL are rejected here, not downstream.
func (p *Provider) FetchNews(ctx context.Context, scope provider.NewsScope) ([]provider.NewsItem, error) {
	q := url.Values{}
	limit := scope.Limit
	if limit <= 0 {
		limit = 50
	}
	q.Set("limit", fmt.Sprintf("%d", limit))
	if scope.Ticker != "" {
		q.Set("tickers", strings.ToUpper(scope.Ticker))
	}
	var rows []newsRow
	if err := p.getJSON(ctx, "/stock_news", q, &rows); err != nil {
		return nil, err
	}
	out := make([]provider.NewsItem, 0, len(rows))
	for _, r := range rows {
		if strings.TrimSpace(r.Title) == "" || strings.TrimSpace(r.URL) == "" {
			continue
		}
		ts, err := time.ParseInLocation("2006-01-02 15:04:05", r.PublishedDate, time.UTC)
		if err != nil {
			continue
		}
		item := provider.NewsItem{
			Title:       r.Title,
			Summary:     r.Text,
			URL:         r.URL,
			PublishedAt: ts,
			Source:      p.cfg.Name,
		}
		if r.Symbol != "" {
			item.Tickers = []string{strings.ToUpper(r.Symbol)}
		}
		out = append(out, item)
	}
	return out, nil
}

type listingRow struct {
	Symbol            string  `json:"symbol"`
	Name              string  `json:"name"`
	Price             float64 `json:"price"`
	Exchange          string  `json:"exchange"`
	ExchangeShortName string  `json:"exchangeShortName"`
	Type              string  `json:"type"`
}

// listable instrument types for the symbol universe.
var listableTypes = map[string]struct{}{
	"stock": {}, "etf": {}, "adr": {}, "reit": {}, "trust": {},
}

// FetchSymbols lists the upstream's tradable symbols, pre-filtered to
// instrument types the universe accepts.
func (p *Provider) FetchSymbols(ctx context.Context) ([]provider.SymbolRecord, error) {
	var rows []listingRow
	if err := p.getJSON(ctx, "/stock/list", nil, &rows); err != nil {
		return nil, err
	}
	out := make([]provider.SymbolRecord, 0, len(rows))
	for _, r := range rows {
		if r.Symbol == "" || r.Name == "" {
			continue
		}
		if _, ok := listableTypes[strings.ToLower(r.Type)]; !ok {
			continue
		}
		exch := r.ExchangeShortName
		if exch == "" {
			exch = r.Exchange
		}
		out = append(out, provider.SymbolRecord{
			Symbol:      strings.ToUpper(r.Symbol),
			CompanyName: r.Name,
			Exchange:    strings.ToUpper(exch),
			Active:      true,
		})
	}
	return out, nil
}

// getJSON performs one GET and decodes the body, translating transport
// and status failures into the provider error taxonomy.
func (p *Provider) getJSON(ctx context.Context, path string, q url.Values, into any) error {
	u := p.cfg.BaseURL + path
	if q == nil {
		q = url.Values{}
	}
	q.Set("apikey", p.cfg.APIKey)
	u += "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return provider.Errf(p.cfg.Name, provider.KindNetwork, 0, "build request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return provider.WrapNetwork(p.cfg.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return provider.StatusError(p.cfg.Name, resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return provider.Errf(p.cfg.Name, provider.KindSchema, resp.StatusCode, "decode: %v", err)
	}
	return nil
}

func dedupeUpper(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func chunk(in []string, size int) [][]string {
	if size <= 0 || len(in) <= size {
		return [][]string{in}
	}
	out := make([][]string, 0, (len(in)+size-1)/size)
	for i := 0; i < len(in); i += size {
		j := i + size
		if j > len(in) {
			j = len(in)
		}
		out = append(out, in[i:j])
	}
	return out
}
