// Package finnhubadapter normalizes the Finnhub client's responses into
// the common domain shapes. Finnhub quotes are one symbol per call, so
// FetchQuotes fans out over the requested list with bounded concurrency.
package finnhubadapter

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"marketdash/internal/provider"
	"marketdash/internal/provider/finnhub"
)

type Config struct {
	Name string
	// MaxConcurrency bounds the per-symbol quote fan-out. Defaults to 4.
	MaxConcurrency int
	// NewsWindowDays is the lookback for company news. Defaults to 7.
	NewsWindowDays int
}

type Adapter struct {
	cfg    Config
	client *finnhub.Client

	now func() time.Time
}

func New(cfg Config, client *finnhub.Client) *Adapter {
	if cfg.Name == "" {
		cfg.Name = "finnhub"
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.NewsWindowDays <= 0 {
		cfg.NewsWindowDays = 7
	}
	return &Adapter{cfg: cfg, client: client, now: time.Now}
}

func (a *Adapter) Name() string { return a.cfg.Name }

// FetchQuotes issues one upstream call per distinct symbol, bounded by
// MaxConcurrency. Symbols the upstream prices at zero are omitted.
func (a *Adapter) FetchQuotes(ctx context.Context, symbols []string) ([]provider.Quote, error) {
	uniq := dedupeUpper(symbols)
	if len(uniq) == 0 {
		return nil, nil
	}
	sem := make(chan struct{}, a.cfg.MaxConcurrency)
	var (
		mu       sync.Mutex
		out      []provider.Quote
		firstErr error
		wg       sync.WaitGroup
	)
	for _, sym := range uniq {
		sym := sym
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				// record the deadline: an all-cancelled fan-out must not
				// look like a clean empty answer
				mu.Lock()
				if firstErr == nil {
					firstErr = a.classify(ctx.Err())
				}
				mu.Unlock()
				return
			}
			q, err := a.client.GetQuote(ctx, sym)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = a.classify(err)
				}
				return
			}
			if q.Current <= 0 {
				return // unknown symbol, omit rather than fabricate
			}
			updated := a.now().UTC()
			if q.Timestamp > 0 {
				updated = time.Unix(q.Timestamp, 0).UTC()
			}
			out = append(out, provider.Quote{
				Symbol:        sym,
				Price:         q.Current,
				Change:        q.Change,
				ChangePercent: q.ChangePercent,
				UpdatedAt:     updated,
				Provider:      a.cfg.Name,
			})
		}()
	}
	wg.Wait()
	if len(out) == 0 && firstErr != nil {
		return nil, firstErr
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// resolutionFor maps the interval enum to Finnhub's native resolution.
var resolutionFor = map[provider.Interval]struct {
	res  string
	span time.Duration
}{
	provider.Interval1Min:  {"1", time.Minute},
	provider.Interval5Min:  {"5", 5 * time.Minute},
	provider.Interval15Min: {"15", 15 * time.Minute},
	provider.Interval1Hour: {"60", time.Hour},
	provider.Interval1Day:  {"D", 24 * time.Hour},
}

func (a *Adapter) FetchOHLC(ctx context.Context, symbol string, interval provider.Interval, limit int) ([]provider.Candle, error) {
	m, ok := resolutionFor[interval]
	if !ok {
		return nil, provider.Errf(a.cfg.Name, provider.KindSchema, 0, "unsupported interval %q", interval)
	}
	if limit <= 0 {
		limit = 100
	}
	to := a.now().UTC()
	// fetch a window wide enough for limit candles plus market gaps
	from := to.Add(-time.Duration(limit*4) * m.span)
	resp, err := a.client.GetCandles(ctx, strings.ToUpper(symbol), m.res, from.Unix(), to.Unix())
	if err != nil {
		return nil, a.classify(err)
	}
	if resp.Status != "ok" {
		return nil, nil // no_data: empty series, not an error
	}
	n := len(resp.Time)
	if len(resp.Open) != n || len(resp.High) != n || len(resp.Low) != n || len(resp.Close) != n || len(resp.Volume) != n {
		return nil, provider.Errf(a.cfg.Name, provider.KindSchema, 0, "ragged candle columns")
	}
	out := make([]provider.Candle, 0, n)
	var last int64
	for i := 0; i < n; i++ {
		if resp.Time[i] <= last {
			continue // upstream is ascending; drop duplicates
		}
		last = resp.Time[i]
		out = append(out, provider.Candle{
			Time:   time.Unix(resp.Time[i], 0).UTC(),
			Open:   resp.Open[i],
			High:   resp.High[i],
			Low:    resp.Low[i],
			Close:  resp.Close[i],
			Volume: int64(resp.Volume[i]),
		})
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (a *Adapter) FetchNews(ctx context.Context, scope provider.NewsScope) ([]provider.NewsItem, error) {
	var (
		articles []finnhub.NewsArticle
		err      error
	)
	if scope.Ticker != "" {
		to := a.now().UTC()
		from := to.AddDate(0, 0, -a.cfg.NewsWindowDays)
		articles, err = a.client.GetCompanyNews(ctx, strings.ToUpper(scope.Ticker),
			from.Format("2006-01-02"), to.Format("2006-01-02"))
	} else {
		articles, err = a.client.GetNews(ctx, scope.Topic)
	}
	if err != nil {
		return nil, a.classify(err)
	}
	limit := scope.Limit
	if limit <= 0 {
		limit = 50
	}
	out := make([]provider.NewsItem, 0, len(articles))
	for _, art := range articles {
		if strings.TrimSpace(art.Headline) == "" || strings.TrimSpace(art.URL) == "" {
			continue
		}
		item := provider.NewsItem{
			Title:       art.Headline,
			Summary:     art.Summary,
			URL:         art.URL,
			PublishedAt: time.Unix(art.Datetime, 0).UTC(),
			Source:      a.cfg.Name,
		}
		for _, rel := range strings.Split(art.Related, ",") {
			rel = strings.ToUpper(strings.TrimSpace(rel))
			if rel != "" {
				item.Tickers = append(item.Tickers, rel)
			}
		}
		out = append(out, item)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// listableTypes per Finnhub's security type taxonomy.
var listableTypes = map[string]struct{}{
	"common stock": {}, "etp": {}, "adr": {}, "reit": {},
}

func (a *Adapter) FetchSymbols(ctx context.Context) ([]provider.SymbolRecord, error) {
	rows, err := a.client.GetStockSymbols(ctx, "US")
	if err != nil {
		return nil, a.classify(err)
	}
	out := make([]provider.SymbolRecord, 0, len(rows))
	for _, r := range rows {
		if r.Symbol == "" || r.Description == "" {
			continue
		}
		if _, ok := listableTypes[strings.ToLower(r.Type)]; !ok {
			continue
		}
		out = append(out, provider.SymbolRecord{
			Symbol:      strings.ToUpper(r.Symbol),
			CompanyName: r.Description,
			Exchange:    exchangeFromMic(r.Mic),
			Active:      true,
		})
	}
	return out, nil
}

// exchangeFromMic maps common MIC codes onto the exchange names the
// universe recognizes.
func exchangeFromMic(mic string) string {
	switch strings.ToUpper(mic) {
	case "XNAS", "XNGS", "XNCM", "XNMS":
		return "NASDAQ"
	case "XNYS":
		return "NYSE"
	case "XASE":
		return "AMEX"
	case "ARCX":
		return "ARCA"
	case "BATS", "XCBO":
		return "BATS"
	}
	return strings.ToUpper(mic)
}

// classify translates client errors into the provider taxonomy.
func (a *Adapter) classify(err error) error {
	var se *finnhub.StatusError
	if errors.As(err, &se) {
		return provider.StatusError(a.cfg.Name, se.Code, se.Message)
	}
	return provider.WrapNetwork(a.cfg.Name, err)
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
