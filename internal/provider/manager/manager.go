// Package manager owns the per-provider rate limiters and circuit
// breakers and implements the dispatch policies: sequential
// first-success failover for quotes and OHLC, parallel merge for news.
package manager

import (
	"context"
	"log/slog"
	"time"

	"marketdash/internal/provider"
	"marketdash/internal/provider/breaker"
	"marketdash/internal/provider/ratelimit"
)

// Timeouts are the per-category upstream deadlines.
type Timeouts struct {
	Quotes  time.Duration
	OHLC    time.Duration
	News    time.Duration
	Symbols time.Duration
}

func defaultTimeouts() Timeouts {
	return Timeouts{
		Quotes:  5 * time.Second,
		OHLC:    10 * time.Second,
		News:    4 * time.Second,
		Symbols: 30 * time.Second,
	}
}

// Entry registers one provider with the manager. Capability interfaces
// may be nil when the upstream does not serve that category. Priority
// follows registration order.
type Entry struct {
	Name    string
	Quotes  provider.QuoteProvider
	OHLC    provider.OHLCProvider
	News    provider.NewsProvider
	Symbols provider.SymbolProvider
	Limiter *ratelimit.Bucket
	Breaker *breaker.Breaker
}

type managed struct {
	Entry
}

// Manager is the single owner of limiter and breaker state; adapters
// stay stateless and the layers above see only normalized results plus
// an errors list for the response envelope.
type Manager struct {
	providers []*managed
	timeouts  Timeouts
	logger    *slog.Logger
}

func New(entries []Entry, timeouts Timeouts, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	zero := Timeouts{}
	if timeouts == zero {
		timeouts = defaultTimeouts()
	}
	m := &Manager{timeouts: timeouts, logger: logger}
	for _, e := range entries {
		e := e
		if e.Limiter == nil {
			e.Limiter = ratelimit.NewBucket(60, 10)
		}
		if e.Breaker == nil {
			e.Breaker = breaker.New(breaker.Config{})
		}
		m.providers = append(m.providers, &managed{Entry: e})
	}
	return m
}

// gate checks breaker and limiter before an outbound call. A closed
// gate yields the reason as an envelope error string.
func (m *Manager) gate(p *managed) (ok bool, reason string) {
	if !p.Breaker.Allow() {
		return false, p.Name + ": unavailable (breaker open)"
	}
	if !p.Limiter.TryAcquire() {
		// a local rejection is not an upstream failure; the breaker
		// stays untouched
		return false, p.Name + ": rate limited locally"
	}
	return true, ""
}

func (m *Manager) observe(p *managed, err error) {
	if err == nil {
		p.Breaker.Success()
		return
	}
	kind := provider.KindOf(err)
	p.Breaker.Failure(kind, err)
	m.logger.Warn("provider call failed", "provider", p.Name, "kind", string(kind), "error", err)
}

// GetQuotes tries providers sequentially by priority; the first
// non-empty result wins. Exhaustion returns an empty slice plus the
// collected per-provider diagnostics, never fabricated data.
func (m *Manager) GetQuotes(ctx context.Context, symbols []string) ([]provider.Quote, []string) {
	var errs []string
	for _, p := range m.providers {
		if p.Quotes == nil {
			continue
		}
		ok, reason := m.gate(p)
		if !ok {
			errs = append(errs, reason)
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, m.timeouts.Quotes)
		quotes, err := p.Quotes.FetchQuotes(cctx, symbols)
		cancel()
		m.observe(p, err)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if len(quotes) > 0 {
			return quotes, errs
		}
	}
	return nil, errs
}

// GetOHLC mirrors the quote failover for candle series.
func (m *Manager) GetOHLC(ctx context.Context, symbol string, interval provider.Interval, limit int) ([]provider.Candle, []string) {
	var errs []string
	for _, p := range m.providers {
		if p.OHLC == nil {
			continue
		}
		ok, reason := m.gate(p)
		if !ok {
			errs = append(errs, reason)
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, m.timeouts.OHLC)
		candles, err := p.OHLC.FetchOHLC(cctx, symbol, interval, limit)
		cancel()
		m.observe(p, err)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if len(candles) > 0 {
			return candles, errs
		}
	}
	return nil, errs
}

// GetNews fans out to every active news provider concurrently and
// returns the per-provider batches; partial failure is reported but
// does not fail the call. Deduplication happens in the news package so
// the merge rules stay order-independent and testable on their own.
func (m *Manager) GetNews(ctx context.Context, scope provider.NewsScope) ([][]provider.NewsItem, []string) {
	type result struct {
		items []provider.NewsItem
		err   error
		gated string
		idx   int
	}
	active := make([]*managed, 0, len(m.providers))
	for _, p := range m.providers {
		if p.News != nil {
			active = append(active, p)
		}
	}
	ch := make(chan result, len(active))
	for i, p := range active {
		i, p := i, p
		ok, reason := m.gate(p)
		if !ok {
			ch <- result{gated: reason, idx: i}
			continue
		}
		go func() {
			cctx, cancel := context.WithTimeout(ctx, m.timeouts.News)
			defer cancel()
			items, err := p.News.FetchNews(cctx, scope)
			m.observe(p, err)
			ch <- result{items: items, err: err, idx: i}
		}()
	}

	batches := make([][]provider.NewsItem, len(active))
	var errs []string
	for range active {
		r := <-ch
		switch {
		case r.gated != "":
			errs = append(errs, r.gated)
		case r.err != nil:
			errs = append(errs, r.err.Error())
		default:
			batches[r.idx] = r.items
		}
	}
	// keep priority order so the dedup "earliest arrival" rule is
	// stable regardless of completion order
	out := make([][]provider.NewsItem, 0, len(batches))
	for _, b := range batches {
		if len(b) > 0 {
			out = append(out, b)
		}
	}
	return out, errs
}

// SymbolLoaders exposes each symbol-capable provider as a gated loader
// for the universe refresh.
func (m *Manager) SymbolLoaders() []provider.SymbolProvider {
	out := make([]provider.SymbolProvider, 0, len(m.providers))
	for _, p := range m.providers {
		if p.Symbols != nil {
			out = append(out, symbolLoader{m: m, p: p})
		}
	}
	return out
}

// symbolLoader routes universe listing calls through the same gate and
// health accounting as every other category.
type symbolLoader struct {
	m *Manager
	p *managed
}

func (l symbolLoader) Name() string { return l.p.Name }

func (l symbolLoader) FetchSymbols(ctx context.Context) ([]provider.SymbolRecord, error) {
	ok, reason := l.m.gate(l.p)
	if !ok {
		return nil, provider.Errf(l.p.Name, provider.KindRateLimit, 0, "%s", reason)
	}
	cctx, cancel := context.WithTimeout(ctx, l.m.timeouts.Symbols)
	defer cancel()
	recs, err := l.p.Symbols.FetchSymbols(cctx)
	l.m.observe(l.p, err)
	return recs, err
}

// Health assembles the per-provider snapshot for the health endpoint.
func (m *Manager) Health() map[string]provider.Health {
	out := make(map[string]provider.Health, len(m.providers))
	for _, p := range m.providers {
		h := p.Breaker.Snapshot()
		h.Tokens, h.TokensRefilledAt = p.Limiter.Snapshot()
		out[p.Name] = h
	}
	return out
}
