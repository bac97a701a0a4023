package universe

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"marketdash/internal/provider"
)

// recognized US exchanges; records from anywhere else are dropped.
var usExchanges = map[string]struct{}{
	"NYSE": {}, "NASDAQ": {}, "AMEX": {}, "ARCA": {}, "BATS": {}, "OTC": {},
}

// Snapshot is a fully-built, immutable view of the symbol universe.
// Readers take one snapshot at entry and never observe a partial build.
type Snapshot struct {
	records  []provider.SymbolRecord
	bySymbol map[string]int      // symbol -> index into records
	index    map[string][]string // Normalize(alias) -> symbols
	loadedAt time.Time
}

// Lookup finds a record by its uppercase symbol.
func (s *Snapshot) Lookup(symbol string) (provider.SymbolRecord, bool) {
	if s == nil {
		return provider.SymbolRecord{}, false
	}
	i, ok := s.bySymbol[strings.ToUpper(symbol)]
	if !ok {
		return provider.SymbolRecord{}, false
	}
	return s.records[i], true
}

// Has reports whether symbol is part of the universe.
func (s *Snapshot) Has(symbol string) bool {
	_, ok := s.Lookup(symbol)
	return ok
}

// ByAlias returns the records whose alias closure contains the phrase.
// The phrase is normalized with the same function used at build time.
func (s *Snapshot) ByAlias(phrase string) []provider.SymbolRecord {
	if s == nil {
		return nil
	}
	syms := s.index[Normalize(phrase)]
	out := make([]provider.SymbolRecord, 0, len(syms))
	for _, sym := range syms {
		if i, ok := s.bySymbol[sym]; ok {
			out = append(out, s.records[i])
		}
	}
	return out
}

// Search returns up to limit records matching the query against symbol
// or company name, optionally filtered by exchange and sector. An empty
// query lists the universe in symbol order.
func (s *Snapshot) Search(query, exchange, sector string, limit int) []provider.SymbolRecord {
	if s == nil {
		return nil
	}
	if limit <= 0 {
		limit = 50
	}
	q := strings.ToUpper(strings.TrimSpace(query))
	nq := Normalize(query)
	out := make([]provider.SymbolRecord, 0, limit)
	for _, rec := range s.records {
		if exchange != "" && !strings.EqualFold(rec.Exchange, exchange) {
			continue
		}
		if sector != "" && !strings.EqualFold(rec.Sector, sector) {
			continue
		}
		if q != "" {
			if !strings.HasPrefix(rec.Symbol, q) && !strings.Contains(Normalize(rec.CompanyName), nq) {
				continue
			}
		}
		out = append(out, rec)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// All returns the records in symbol order. Callers must not mutate.
func (s *Snapshot) All() []provider.SymbolRecord {
	if s == nil {
		return nil
	}
	return s.records
}

// Size is the number of symbols in the snapshot.
func (s *Snapshot) Size() int {
	if s == nil {
		return 0
	}
	return len(s.records)
}

// LoadedAt is when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.loadedAt
}

// Loader lists symbols from one upstream. Providers are tried in slice
// order; earlier providers win attribute merges.
type Loader interface {
	Name() string
	FetchSymbols(ctx context.Context) ([]provider.SymbolRecord, error)
}

// Universe owns the active snapshot and its periodic refresh.
// The snapshot reference is swapped atomically; a failed refresh keeps
// the previous snapshot active.
type Universe struct {
	loaders  []Loader
	logger   *slog.Logger
	interval time.Duration

	snap atomic.Pointer[Snapshot]
	mu   sync.Mutex // serializes refreshes

	now func() time.Time
}

func New(loaders []Loader, interval time.Duration, logger *slog.Logger) *Universe {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Universe{loaders: loaders, interval: interval, logger: logger, now: time.Now}
}

// Snapshot returns the active snapshot, nil before the first load.
func (u *Universe) Snapshot() *Snapshot {
	return u.snap.Load()
}

// Refresh builds a new snapshot off to the side and swaps it in.
// Partial provider success is allowed: the union across providers is
// authoritative. Only total failure returns an error.
func (u *Universe) Refresh(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	type result struct {
		name string
		recs []provider.SymbolRecord
	}
	results := make([]result, len(u.loaders))
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	for i, l := range u.loaders {
		i, l := i, l
		g.Go(func() error {
			lctx, cancel := context.WithTimeout(gctx, 30*time.Second)
			defer cancel()
			recs, err := l.FetchSymbols(lctx)
			if err != nil {
				u.logger.Warn("symbol listing failed", "provider", l.Name(), "error", err)
				return nil // partial success is fine
			}
			results[i] = result{name: l.Name(), recs: recs}
			return nil
		})
	}
	_ = g.Wait()

	loadedAt := u.now()
	merged := make(map[string]provider.SymbolRecord)
	order := make([]string, 0, 8192)
	for _, res := range results {
		for _, rec := range res.recs {
			rec.Symbol = strings.ToUpper(strings.TrimSpace(rec.Symbol))
			if !keep(rec) {
				continue
			}
			if existing, ok := merged[rec.Symbol]; ok {
				merged[rec.Symbol] = mergeAttrs(existing, rec)
				continue
			}
			order = append(order, rec.Symbol)
			merged[rec.Symbol] = rec
		}
	}
	if len(merged) == 0 {
		if prev := u.snap.Load(); prev != nil {
			u.logger.Warn("universe refresh produced no symbols, keeping previous snapshot",
				"previousSize", prev.Size())
			return nil
		}
		return fmt.Errorf("universe: no symbols from any provider")
	}

	snap := build(merged, order, loadedAt)
	u.snap.Store(snap)
	u.logger.Info("universe refreshed", "symbols", snap.Size())
	return nil
}

// Start runs the refresh loop until ctx is done. The initial load has
// already happened (or failed) by the time the server accepts traffic.
func (u *Universe) Start(ctx context.Context) {
	t := time.NewTicker(u.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := u.Refresh(ctx); err != nil {
				u.logger.Error("universe refresh failed", "error", err)
			}
		}
	}
}

func keep(rec provider.SymbolRecord) bool {
	if rec.Symbol == "" || rec.CompanyName == "" || !rec.Active {
		return false
	}
	if _, ok := usExchanges[strings.ToUpper(rec.Exchange)]; !ok {
		return false
	}
	return true
}

// mergeAttrs fills blanks in the higher-priority record from a lower
// priority one; the first provider to claim a symbol wins conflicts.
func mergeAttrs(a, b provider.SymbolRecord) provider.SymbolRecord {
	if a.CompanyName == "" {
		a.CompanyName = b.CompanyName
	}
	if a.Sector == "" {
		a.Sector = b.Sector
	}
	if a.Industry == "" {
		a.Industry = b.Industry
	}
	if a.MarketCap == 0 {
		a.MarketCap = b.MarketCap
	}
	return a
}

func build(merged map[string]provider.SymbolRecord, order []string, loadedAt time.Time) *Snapshot {
	sort.Strings(order)
	records := make([]provider.SymbolRecord, 0, len(order))
	bySymbol := make(map[string]int, len(order))
	index := make(map[string][]string, len(order)*4)
	for _, sym := range order {
		rec := merged[sym]
		rec.LoadedAt = loadedAt
		rec.Aliases = Aliases(rec.Symbol, rec.CompanyName)
		bySymbol[sym] = len(records)
		for _, a := range rec.Aliases {
			n := Normalize(a)
			index[n] = append(index[n], sym)
		}
		records = append(records, rec)
	}
	return &Snapshot{records: records, bySymbol: bySymbol, index: index, loadedAt: loadedAt}
}

// BuildSnapshot constructs a snapshot directly from records, applying
// the same filters and alias derivation as Refresh. Used by tests and
// by callers that already hold a full listing.
func BuildSnapshot(recs []provider.SymbolRecord, loadedAt time.Time) *Snapshot {
	merged := make(map[string]provider.SymbolRecord, len(recs))
	order := make([]string, 0, len(recs))
	for _, rec := range recs {
		rec.Symbol = strings.ToUpper(strings.TrimSpace(rec.Symbol))
		if !keep(rec) {
			continue
		}
		if _, ok := merged[rec.Symbol]; ok {
			continue
		}
		order = append(order, rec.Symbol)
		merged[rec.Symbol] = rec
	}
	return build(merged, order, loadedAt)
}
