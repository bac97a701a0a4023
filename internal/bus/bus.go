// Package bus sits between the HTTP handlers and the provider manager.
// It answers from the shared cache when it can, coalesces identical
// in-flight requests, folds concurrent quote lookups into one batched
// upstream call, and falls back to stale cache entries when every
// provider is down.
package bus

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"marketdash/internal/cache"
	"marketdash/internal/news"
	"marketdash/internal/provider"
)

// Backend is the upstream the bus dispatches to. *manager.Manager
// satisfies it.
type Backend interface {
	GetQuotes(ctx context.Context, symbols []string) ([]provider.Quote, []string)
	GetOHLC(ctx context.Context, symbol string, interval provider.Interval, limit int) ([]provider.Candle, []string)
	GetNews(ctx context.Context, scope provider.NewsScope) ([][]provider.NewsItem, []string)
}

type Config struct {
	// BatchWindow is how long the first quote request in a window waits
	// for others to pile on before the batch goes upstream.
	BatchWindow time.Duration
	// MaxBatch flushes the window early once this many distinct symbols
	// have accumulated.
	MaxBatch int
	// EnrichNews, when set, runs over freshly merged news before it is
	// cached or returned. The server wires ticker resolution, sentiment
	// and badges through it.
	EnrichNews func([]provider.NewsItem)
}

type Bus struct {
	backend Backend
	store   *cache.Store
	cfg     Config
	logger  *slog.Logger

	group singleflight.Group

	mu  sync.Mutex
	cur *quoteBatch
}

// quoteBatch accumulates the distinct symbols of one window. quotes and
// errs are written by the flusher before done closes; the channel close
// publishes them to the waiters.
type quoteBatch struct {
	symbols map[string]struct{}
	done    chan struct{}
	quotes  map[string]provider.Quote
	errs    []string
	flushed bool
}

func New(backend Backend, store *cache.Store, cfg Config, logger *slog.Logger) *Bus {
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = 100 * time.Millisecond
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{backend: backend, store: store, cfg: cfg, logger: logger}
}

// GetQuote is GetQuotes for a single symbol.
func (b *Bus) GetQuote(ctx context.Context, symbol string) (provider.Quote, bool, []string) {
	quotes, stale, errs := b.GetQuotes(ctx, []string{symbol})
	if len(quotes) == 0 {
		return provider.Quote{}, false, errs
	}
	return quotes[0], stale, errs
}

// GetQuotes serves each symbol from cache when fresh and folds the
// misses into the current batch window. The second return reports
// whether any returned quote is stale. A caller whose context ends
// while the batch is in flight detaches; the flight still completes and
// populates the cache for the next request.
func (b *Bus) GetQuotes(ctx context.Context, symbols []string) ([]provider.Quote, bool, []string) {
	want := dedupeUpper(symbols)
	out := make([]provider.Quote, 0, len(want))
	var misses []string
	for _, s := range want {
		if v, ok := b.store.Get(cache.Quote, s); ok {
			out = append(out, v.(provider.Quote))
			continue
		}
		misses = append(misses, s)
	}
	if len(misses) == 0 {
		return out, false, nil
	}

	qb := b.join(misses)
	select {
	case <-qb.done:
	case <-ctx.Done():
		return out, false, []string{ctx.Err().Error()}
	}

	stale := false
	for _, s := range misses {
		if q, ok := qb.quotes[s]; ok {
			out = append(out, q)
			continue
		}
		if len(qb.errs) == 0 {
			// upstream answered and simply does not know the symbol
			continue
		}
		if v, ok := b.store.GetStale(cache.Quote, s); ok {
			out = append(out, v.(provider.Quote))
			stale = true
		}
	}
	return out, stale, qb.errs
}

// join adds symbols to the open batch window, opening one if needed.
func (b *Bus) join(symbols []string) *quoteBatch {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cur == nil {
		qb := &quoteBatch{
			symbols: make(map[string]struct{}),
			done:    make(chan struct{}),
			quotes:  make(map[string]provider.Quote),
		}
		b.cur = qb
		time.AfterFunc(b.cfg.BatchWindow, func() { b.flush(qb) })
	}
	cur := b.cur
	for _, s := range symbols {
		cur.symbols[s] = struct{}{}
	}
	if len(cur.symbols) >= b.cfg.MaxBatch {
		b.cur = nil
		go b.flush(cur)
	}
	return cur
}

// flush sends one batch upstream. Runs at most once per batch whether
// triggered by the window timer or by MaxBatch.
func (b *Bus) flush(qb *quoteBatch) {
	b.mu.Lock()
	if qb.flushed {
		b.mu.Unlock()
		return
	}
	qb.flushed = true
	if b.cur == qb {
		b.cur = nil
	}
	symbols := make([]string, 0, len(qb.symbols))
	for s := range qb.symbols {
		symbols = append(symbols, s)
	}
	b.mu.Unlock()

	if len(symbols) == 0 {
		close(qb.done)
		return
	}
	sort.Strings(symbols)

	// the batch outlives any single caller
	quotes, errs := b.backend.GetQuotes(context.Background(), symbols)
	for _, q := range quotes {
		if v, ok := b.store.GetStale(cache.Quote, q.Symbol); ok {
			prev := v.(provider.Quote)
			// rows without their own upstream timestamp can sort older
			// than what is already published; updatedAt never regresses
			// for the same provider and symbol
			if prev.Provider == q.Provider && q.UpdatedAt.Before(prev.UpdatedAt) {
				q.UpdatedAt = prev.UpdatedAt
			}
		}
		b.store.Set(cache.Quote, q.Symbol, q)
		qb.quotes[q.Symbol] = q
	}
	qb.errs = errs
	close(qb.done)
}

// GetOHLC coalesces identical candle requests through singleflight and
// caches the series under its full parameter key. A caller whose
// context ends mid-flight detaches while the flight completes.
func (b *Bus) GetOHLC(ctx context.Context, symbol string, interval provider.Interval, limit int) ([]provider.Candle, bool, []string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	key := symbol + ":" + string(interval) + ":" + strconv.Itoa(limit)
	if v, ok := b.store.Get(cache.OHLC, key); ok {
		return v.([]provider.Candle), false, nil
	}

	type ohlcResult struct {
		candles []provider.Candle
		errs    []string
	}
	ch := b.group.DoChan("ohlc:"+key, func() (any, error) {
		candles, errs := b.backend.GetOHLC(context.WithoutCancel(ctx), symbol, interval, limit)
		if len(candles) > 0 {
			b.store.Set(cache.OHLC, key, candles)
		}
		return ohlcResult{candles: candles, errs: errs}, nil
	})
	var r ohlcResult
	select {
	case res := <-ch:
		r = res.Val.(ohlcResult)
	case <-ctx.Done():
		// the flight keeps running and fills the cache
		return nil, false, []string{ctx.Err().Error()}
	}
	if len(r.candles) > 0 || len(r.errs) == 0 {
		return r.candles, false, r.errs
	}
	if sv, ok := b.store.GetStale(cache.OHLC, key); ok {
		return sv.([]provider.Candle), true, r.errs
	}
	return nil, false, r.errs
}

// GetNews fans out through the manager, merges and enriches the result,
// and caches the merged list per scope. The limit is part of the cache
// key: a small first request must not pin a truncated list for every
// later caller of the same ticker or topic.
func (b *Bus) GetNews(ctx context.Context, scope provider.NewsScope) ([]provider.NewsItem, bool, []string) {
	if scope.Limit <= 0 {
		scope.Limit = 50
	}
	key := "t=" + strings.ToUpper(scope.Ticker) + "|c=" + strings.ToLower(scope.Topic) + "|n=" + strconv.Itoa(scope.Limit)
	if v, ok := b.store.Get(cache.News, key); ok {
		return v.([]provider.NewsItem), false, nil
	}

	type newsResult struct {
		items []provider.NewsItem
		errs  []string
	}
	ch := b.group.DoChan("news:"+key, func() (any, error) {
		batches, errs := b.backend.GetNews(context.WithoutCancel(ctx), scope)
		items := news.Merge(batches...)
		if b.cfg.EnrichNews != nil {
			b.cfg.EnrichNews(items)
		}
		if len(items) > 0 {
			b.store.Set(cache.News, key, items)
		}
		return newsResult{items: items, errs: errs}, nil
	})
	var r newsResult
	select {
	case res := <-ch:
		r = res.Val.(newsResult)
	case <-ctx.Done():
		// the flight keeps running and fills the cache
		return nil, false, []string{ctx.Err().Error()}
	}
	if len(r.items) > 0 || len(r.errs) == 0 {
		return r.items, false, r.errs
	}
	if sv, ok := b.store.GetStale(cache.News, key); ok {
		return sv.([]provider.NewsItem), true, r.errs
	}
	return nil, false, r.errs
}

func dedupeUpper(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
