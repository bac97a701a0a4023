package provider

import (
	"context"
	"time"
)

// Quote is the normalized quote shape returned by all providers.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name,omitempty"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	Volume        int64     `json:"volume"`
	AvgVolume     int64     `json:"averageVolume,omitempty"`
	MarketCap     float64   `json:"marketCap,omitempty"`
	High52        float64   `json:"high52,omitempty"`
	Low52         float64   `json:"low52,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
	Provider      string    `json:"providerId"`
}

// Candle is one OHLC bar. Series are ordered ascending by Time and
// deduplicated by Time.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// NewsItem is one normalized news article.
type NewsItem struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Summary       string    `json:"summary,omitempty"`
	URL           string    `json:"url"`
	PublishedAt   time.Time `json:"publishedAt"`
	Source        string    `json:"source"`
	PrimaryTicker string    `json:"primaryTicker,omitempty"`
	Tickers       []string  `json:"tickers,omitempty"` // as supplied by the upstream, unverified
	Sentiment     string    `json:"sentiment,omitempty"`
	Badges        []string  `json:"badges,omitempty"`
}

// SymbolRecord is one entry of the symbol universe.
type SymbolRecord struct {
	Symbol      string    `json:"symbol"`
	CompanyName string    `json:"companyName"`
	Exchange    string    `json:"exchange"`
	Sector      string    `json:"sector,omitempty"`
	Industry    string    `json:"industry,omitempty"`
	MarketCap   float64   `json:"marketCap,omitempty"`
	Aliases     []string  `json:"aliases,omitempty"`
	Active      bool      `json:"active"`
	LoadedAt    time.Time `json:"loadedAt"`
}

// Interval is a chart resolution. Adapters map it to whatever the
// upstream calls it.
type Interval string

const (
	Interval1Min  Interval = "1m"
	Interval5Min  Interval = "5m"
	Interval15Min Interval = "15m"
	Interval1Hour Interval = "1h"
	Interval1Day  Interval = "1d"
)

// ParseInterval validates a user-supplied interval string.
func ParseInterval(s string) (Interval, bool) {
	switch Interval(s) {
	case Interval1Min, Interval5Min, Interval15Min, Interval1Hour, Interval1Day:
		return Interval(s), true
	}
	return "", false
}

// NewsScope selects which news an adapter should fetch.
// A zero scope means general market news.
type NewsScope struct {
	Ticker string
	Topic  string
	Limit  int
}

// HealthState describes a provider from the manager's point of view.
type HealthState string

const (
	StateHealthy  HealthState = "healthy"
	StateBackoff  HealthState = "backoff"
	StateOpen     HealthState = "open"
	StateDisabled HealthState = "disabled"
)

// Health is a read-only snapshot of one provider's runtime state.
type Health struct {
	State               HealthState `json:"state"`
	ConsecutiveFailures int         `json:"consecutiveFailures"`
	LastError           string      `json:"lastError,omitempty"`
	BackoffUntil        time.Time   `json:"backoffUntil,omitempty"`
	Tokens              float64     `json:"tokens"`
	TokensRefilledAt    time.Time   `json:"tokensRefilledAt,omitempty"`
	LastSuccess         time.Time   `json:"lastSuccess,omitempty"`
}

// QuoteProvider fetches normalized quotes. Implementations chunk large
// symbol lists internally and omit symbols the upstream does not know;
// they never fabricate values. Adapters do not retry, rate-limit or cache.
type QuoteProvider interface {
	Name() string
	FetchQuotes(ctx context.Context, symbols []string) ([]Quote, error)
}

// OHLCProvider fetches candle series ordered ascending by time,
// truncated to the limit most recent candles.
type OHLCProvider interface {
	Name() string
	FetchOHLC(ctx context.Context, symbol string, interval Interval, limit int) ([]Candle, error)
}

// NewsProvider fetches news for a scope. Items missing a title or URL
// are rejected by the adapter.
type NewsProvider interface {
	Name() string
	FetchNews(ctx context.Context, scope NewsScope) ([]NewsItem, error)
}

// SymbolProvider lists the upstream's tradable symbols.
type SymbolProvider interface {
	Name() string
	FetchSymbols(ctx context.Context) ([]SymbolRecord, error)
}
