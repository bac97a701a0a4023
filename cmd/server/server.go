package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"marketdash/internal/bus"
	"marketdash/internal/cache"
	"marketdash/internal/news"
	"marketdash/internal/provider"
	"marketdash/internal/provider/manager"
	"marketdash/internal/scanner"
	"marketdash/internal/universe"
)

type server struct {
	bus      *bus.Bus
	mgr      *manager.Manager
	uni      *universe.Universe
	scanner  *scanner.Scanner
	store    *cache.Store
	resolver *redirectResolver
	logger   *slog.Logger
	now      func() time.Time
}

func newServer(b *bus.Bus, mgr *manager.Manager, uni *universe.Universe, sc *scanner.Scanner, store *cache.Store, res *redirectResolver, logger *slog.Logger) *server {
	if logger == nil {
		logger = slog.Default()
	}
	return &server{
		bus:      b,
		mgr:      mgr,
		uni:      uni,
		scanner:  sc,
		store:    store,
		resolver: res,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/news", s.handleNews)
	mux.HandleFunc("/data", s.handleData)
	mux.HandleFunc("/symbols", s.handleSymbols)
	mux.HandleFunc("/scanner", s.handleScanner)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/resolve", s.handleResolve)
	return withJSONHeaders(withGzip(recoverPanic(s.logger, mux)))
}

type newsResponse struct {
	Success   bool                `json:"success"`
	News      []provider.NewsItem `json:"news"`
	Counts    map[string]int      `json:"counts"`
	Stale     bool                `json:"stale,omitempty"`
	Errors    []string            `json:"errors,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

func (s *server) handleNews(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	q := r.URL.Query()
	limit := intParam(q.Get("limit"), 50, 200)
	ticker := strings.ToUpper(strings.TrimSpace(q.Get("ticker")))

	from, to, err := parseDateRange(q.Get("dateRange"))
	if err != nil {
		s.clientError(w, "invalid dateRange: "+err.Error())
		return
	}

	items, stale, errs := s.bus.GetNews(r.Context(), provider.NewsScope{Ticker: ticker, Limit: limit})
	filtered := news.Filter{
		Source: q.Get("source"),
		Ticker: ticker,
		From:   from,
		To:     to,
		Limit:  limit,
	}.Apply(items)

	writeJSON(w, http.StatusOK, newsResponse{
		Success:   true,
		News:      filtered,
		Counts:    news.Counts(filtered),
		Stale:     stale,
		Errors:    errs,
		Timestamp: s.now(),
	})
}

type dataResponse struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data"`
	Stale     bool      `json:"stale,omitempty"`
	Errors    []string  `json:"errors,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *server) handleData(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	q := r.URL.Query()
	ticker := strings.ToUpper(strings.TrimSpace(q.Get("ticker")))
	if ticker == "" {
		s.clientError(w, "missing ticker query param")
		return
	}
	if snap := s.uni.Snapshot(); snap != nil && snap.Size() > 0 && !snap.Has(ticker) {
		s.clientError(w, "unknown ticker "+ticker)
		return
	}

	switch kind := q.Get("type"); kind {
	case "", "quote":
		quote, stale, errs := s.bus.GetQuote(r.Context(), ticker)
		var data any
		if quote.Symbol != "" {
			data = quote
		}
		writeJSON(w, http.StatusOK, dataResponse{
			Success: true, Data: data, Stale: stale, Errors: errs, Timestamp: s.now(),
		})
	case "ohlc":
		interval := provider.Interval5Min
		if v := q.Get("interval"); v != "" {
			var ok bool
			if interval, ok = provider.ParseInterval(v); !ok {
				s.clientError(w, "invalid interval "+v)
				return
			}
		}
		limit := intParam(q.Get("limit"), 100, 500)
		candles, stale, errs := s.bus.GetOHLC(r.Context(), ticker, interval, limit)
		writeJSON(w, http.StatusOK, dataResponse{
			Success: true, Data: candles, Stale: stale, Errors: errs, Timestamp: s.now(),
		})
	default:
		s.clientError(w, "invalid type, want quote or ohlc")
	}
}

type symbolsResponse struct {
	Success    bool                    `json:"success"`
	Symbols    []provider.SymbolRecord `json:"symbols"`
	Total      int                     `json:"total"`
	LastUpdate time.Time               `json:"lastUpdate"`
	Timestamp  time.Time               `json:"timestamp"`
}

func (s *server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	q := r.URL.Query()
	limit := intParam(q.Get("limit"), 50, 500)

	snap := s.uni.Snapshot()
	if snap == nil {
		writeJSON(w, http.StatusOK, symbolsResponse{
			Success: true, Symbols: []provider.SymbolRecord{}, Timestamp: s.now(),
		})
		return
	}
	matches := snap.Search(q.Get("q"), q.Get("exchange"), q.Get("sector"), limit)
	writeJSON(w, http.StatusOK, symbolsResponse{
		Success:    true,
		Symbols:    matches,
		Total:      snap.Size(),
		LastUpdate: snap.LoadedAt(),
		Timestamp:  s.now(),
	})
}

type scannerResponse struct {
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
	scanner.Result
}

func (s *server) handleScanner(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	q := r.URL.Query()
	preset := scanner.PresetGainers
	if v := q.Get("preset"); v != "" {
		var ok bool
		if preset, ok = scanner.ParsePreset(v); !ok {
			s.clientError(w, "invalid preset "+v)
			return
		}
	}
	filters := scanner.Filters{
		MinPrice:  floatParam(q.Get("minPrice")),
		MaxPrice:  floatParam(q.Get("maxPrice")),
		MinVolume: int64(floatParam(q.Get("minVolume"))),
	}
	limit := intParam(q.Get("limit"), 20, 100)

	res := s.scanner.Scan(r.Context(), preset, filters, limit)
	writeJSON(w, http.StatusOK, scannerResponse{Success: true, Timestamp: s.now(), Result: res})
}

type healthResponse struct {
	Success   bool                       `json:"success"`
	Providers map[string]provider.Health `json:"providers"`
	Universe  universeHealth             `json:"universe"`
	Timestamp time.Time                  `json:"timestamp"`
}

type universeHealth struct {
	Size       int       `json:"size"`
	LastUpdate time.Time `json:"lastUpdate,omitempty"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	if v, ok := s.store.Get(cache.Health, "snapshot"); ok {
		writeJSON(w, http.StatusOK, v.(healthResponse))
		return
	}
	resp := healthResponse{
		Success:   true,
		Providers: s.mgr.Health(),
		Timestamp: s.now(),
	}
	if snap := s.uni.Snapshot(); snap != nil {
		resp.Universe = universeHealth{Size: snap.Size(), LastUpdate: snap.LoadedAt()}
	}
	s.store.Set(cache.Health, "snapshot", resp)
	writeJSON(w, http.StatusOK, resp)
}

type resolveResponse struct {
	Success   bool      `json:"success"`
	URL       string    `json:"url"`
	Errors    []string  `json:"errors,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	raw := strings.TrimSpace(r.URL.Query().Get("u"))
	if raw == "" {
		s.clientError(w, "missing u query param")
		return
	}
	final, err := s.resolver.Resolve(r.Context(), raw)
	if err != nil {
		if isClientURLError(err) {
			s.clientError(w, err.Error())
			return
		}
		// upstream trouble: report the original URL with diagnostics
		writeJSON(w, http.StatusOK, resolveResponse{
			Success: true, URL: raw, Errors: []string{err.Error()}, Timestamp: s.now(),
		})
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{Success: true, URL: final, Timestamp: s.now()})
}

func (s *server) clientError(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, struct {
		Success   bool      `json:"success"`
		Errors    []string  `json:"errors"`
		Timestamp time.Time `json:"timestamp"`
	}{false, []string{msg}, s.now()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func requireGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func intParam(s string, def, max int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func floatParam(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

// parseDateRange accepts "YYYY-MM-DD..YYYY-MM-DD" or a single
// "YYYY-MM-DD" meaning that one day. Bounds are inclusive calendar
// days in UTC.
func parseDateRange(s string) (from, to time.Time, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, time.Time{}, nil
	}
	parts := strings.SplitN(s, "..", 2)
	start, err := civil.ParseDate(parts[0])
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end := start
	if len(parts) == 2 {
		if end, err = civil.ParseDate(parts[1]); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	from = start.In(time.UTC)
	to = end.AddDays(1).In(time.UTC).Add(-time.Nanosecond)
	return from, to, nil
}
