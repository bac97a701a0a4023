package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketdash/internal/bus"
	"marketdash/internal/cache"
	"marketdash/internal/httpx"
	"marketdash/internal/news"
	"marketdash/internal/provider"
	"marketdash/internal/provider/manager"
	"marketdash/internal/scanner"
	"marketdash/internal/universe"
)

type stubBackend struct {
	quotes []provider.Quote
	news   [][]provider.NewsItem
	errs   []string
}

func (s *stubBackend) GetQuotes(_ context.Context, symbols []string) ([]provider.Quote, []string) {
	out := make([]provider.Quote, 0, len(s.quotes))
	for _, q := range s.quotes {
		for _, sym := range symbols {
			if q.Symbol == sym {
				out = append(out, q)
			}
		}
	}
	return out, s.errs
}

func (s *stubBackend) GetOHLC(_ context.Context, _ string, _ provider.Interval, limit int) ([]provider.Candle, []string) {
	out := make([]provider.Candle, 0, limit)
	for i := 0; i < limit && i < 3; i++ {
		out = append(out, provider.Candle{Time: time.Unix(int64(i*300), 0), Close: 10})
	}
	return out, s.errs
}

func (s *stubBackend) GetNews(_ context.Context, _ provider.NewsScope) ([][]provider.NewsItem, []string) {
	return s.news, s.errs
}

type stubLoader struct {
	recs []provider.SymbolRecord
}

func (stubLoader) Name() string { return "stub" }

func (l stubLoader) FetchSymbols(_ context.Context) ([]provider.SymbolRecord, error) {
	return l.recs, nil
}

func testUniverse(t *testing.T, symbols ...string) *universe.Universe {
	t.Helper()
	recs := make([]provider.SymbolRecord, 0, len(symbols))
	for _, s := range symbols {
		recs = append(recs, provider.SymbolRecord{
			Symbol: s, CompanyName: s + " Inc", Exchange: "NASDAQ", Active: true,
		})
	}
	return universeOf(t, recs)
}

func universeOf(t *testing.T, recs []provider.SymbolRecord) *universe.Universe {
	t.Helper()
	uni := universe.New([]universe.Loader{stubLoader{recs: recs}}, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, uni.Refresh(context.Background()))
	return uni
}

func testServer(t *testing.T, backend bus.Backend, uni *universe.Universe) *server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := cache.New(1000)
	b := bus.New(backend, store, bus.Config{
		BatchWindow: time.Millisecond,
		EnrichNews: func(items []provider.NewsItem) {
			news.Enrich(items, uni.Snapshot())
		},
	}, logger)
	sc := scanner.New(b, uni.Snapshot, scanner.Config{}, logger)
	mgr := manager.New(nil, manager.Timeouts{}, logger)
	res := newRedirectResolver(httpx.New(2 * time.Second))
	return newServer(b, mgr, uni, sc, store, res, logger)
}

func doGet(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]any
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Encoding") == "" {
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
	}
	return rec, body
}

func TestDataQuote(t *testing.T) {
	backend := &stubBackend{quotes: []provider.Quote{
		{Symbol: "AAPL", Price: 182.5, ChangePercent: 1.1, Volume: 1000, Provider: "fmp"},
	}}
	srv := testServer(t, backend, testUniverse(t, "AAPL"))
	h := srv.routes()

	rec, body := doGet(t, h, "/data?ticker=aapl")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	require.Equal(t, "AAPL", data["symbol"])
	require.Equal(t, 182.5, data["price"])
}

func TestDataClientErrors(t *testing.T) {
	srv := testServer(t, &stubBackend{}, testUniverse(t, "AAPL"))
	h := srv.routes()

	rec, body := doGet(t, h, "/data")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, false, body["success"])

	rec, _ = doGet(t, h, "/data?ticker=ZZZZ")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doGet(t, h, "/data?ticker=AAPL&type=ohlc&interval=7m")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doGet(t, h, "/data?ticker=AAPL&type=book")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDataOHLC(t *testing.T) {
	srv := testServer(t, &stubBackend{}, testUniverse(t, "AAPL"))

	rec, body := doGet(t, srv.routes(), "/data?ticker=AAPL&type=ohlc&interval=5m&limit=3")
	require.Equal(t, http.StatusOK, rec.Code)
	candles := body["data"].([]any)
	require.Len(t, candles, 3)
}

func TestNewsEndpoint(t *testing.T) {
	published := time.Date(2025, 2, 3, 14, 0, 0, 0, time.UTC)
	backend := &stubBackend{news: [][]provider.NewsItem{
		{{Title: "Apple Inc beats earnings estimates", URL: "https://a.com/apple", PublishedAt: published, Source: "fmp"}},
		{{Title: "Apple Inc beats earnings estimates", URL: "https://a.com/apple?utm_source=x", PublishedAt: published, Source: "finnhub"}},
		{{Title: "Oil slips on demand fears", URL: "https://b.com/oil", PublishedAt: published.Add(-time.Hour), Source: "fmp"}},
	}}
	uni := universeOf(t, []provider.SymbolRecord{
		{Symbol: "AAPL", CompanyName: "Apple Inc", Exchange: "NASDAQ", Active: true},
	})
	srv := testServer(t, backend, uni)

	rec, body := doGet(t, srv.routes(), "/news?limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	items := body["news"].([]any)
	require.Len(t, items, 2, "duplicate canonical URL collapses")

	first := items[0].(map[string]any)
	require.Equal(t, "AAPL", first["primaryTicker"])
	require.NotEmpty(t, first["sentiment"])

	counts := body["counts"].(map[string]any)
	require.EqualValues(t, 2, counts["fmp"])
}

func TestNewsDateRange(t *testing.T) {
	published := time.Date(2025, 2, 3, 14, 0, 0, 0, time.UTC)
	backend := &stubBackend{news: [][]provider.NewsItem{
		{
			{Title: "In range", URL: "https://a.com/1", PublishedAt: published, Source: "fmp"},
			{Title: "Out of range", URL: "https://a.com/2", PublishedAt: published.AddDate(0, 0, -10), Source: "fmp"},
		},
	}}
	srv := testServer(t, backend, testUniverse(t, "AAPL"))
	h := srv.routes()

	rec, body := doGet(t, h, "/news?dateRange=2025-02-01..2025-02-04")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["news"].([]any), 1)

	rec, _ = doGet(t, h, "/news?dateRange=notadate")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSymbolsEndpoint(t *testing.T) {
	srv := testServer(t, &stubBackend{}, testUniverse(t, "AAPL", "MSFT", "TSLA"))

	rec, body := doGet(t, srv.routes(), "/symbols?q=AAPL")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["symbols"].([]any), 1)
	require.EqualValues(t, 3, body["total"])
}

func TestScannerEndpoint(t *testing.T) {
	backend := &stubBackend{quotes: []provider.Quote{
		{Symbol: "AAPL", Price: 180, ChangePercent: 1.5, Volume: 1000, Provider: "fmp"},
		{Symbol: "TSLA", Price: 250, ChangePercent: 4.0, Volume: 2000, Provider: "fmp"},
	}}
	srv := testServer(t, backend, testUniverse(t, "AAPL", "TSLA"))
	h := srv.routes()

	rec, body := doGet(t, h, "/scanner?preset=gainers&limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	stocks := body["stocks"].([]any)
	require.Len(t, stocks, 1)
	require.Equal(t, "TSLA", stocks[0].(map[string]any)["symbol"])
	require.EqualValues(t, 2, body["universeSize"])

	rec, _ = doGet(t, h, "/scanner?preset=nope")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t, &stubBackend{}, testUniverse(t, "AAPL"))

	rec, body := doGet(t, srv.routes(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["success"])
	uni := body["universe"].(map[string]any)
	require.EqualValues(t, 1, uni["size"])
}

func TestResolveEndpoint(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/r":
			http.Redirect(w, r, "/final", http.StatusFound)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer upstream.Close()

	srv := testServer(t, &stubBackend{}, testUniverse(t, "AAPL"))
	h := srv.routes()

	rec, body := doGet(t, h, "/resolve?u="+upstream.URL+"/r")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, upstream.URL+"/final", body["url"])

	rec, _ = doGet(t, h, "/resolve")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doGet(t, h, "/resolve?u=ftp://example.com/x")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	srv := testServer(t, &stubBackend{}, testUniverse(t, "AAPL"))

	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/news", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMethodNotAllowed(t *testing.T) {
	srv := testServer(t, &stubBackend{}, testUniverse(t, "AAPL"))

	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/news", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
