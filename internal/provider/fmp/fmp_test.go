package fmp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketdash/internal/httpx"
	"marketdash/internal/provider"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{APIKey: "test-key", BaseURL: srv.URL}, httpx.New(5*time.Second))
}

func TestFetchQuotes_Normalizes(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("apikey"); got != "test-key" {
			t.Errorf("apikey=%q", got)
		}
		w.Write([]byte(`[
			{"symbol":"AAPL","name":"Apple Inc","price":200.5,"change":1.2,"changesPercentage":0.6,
			 "volume":1000,"avgVolume":2000,"marketCap":3.1e12,"yearHigh":240,"yearLow":160,"timestamp":1735800000},
			{"symbol":"ZERO","price":0}
		]`))
	})
	qs, err := p.FetchQuotes(context.Background(), []string{"aapl", "AAPL", "ZERO"})
	if err != nil {
		t.Fatalf("FetchQuotes: %v", err)
	}
	if len(qs) != 1 {
		t.Fatalf("want zero-priced row dropped, got %+v", qs)
	}
	q := qs[0]
	if q.Symbol != "AAPL" || q.Price != 200.5 || q.ChangePercent != 0.6 || q.Provider != "fmp" {
		t.Fatalf("unexpected quote: %+v", q)
	}
	if q.UpdatedAt.IsZero() {
		t.Fatalf("updatedAt not set")
	}
}

func TestFetchQuotes_RateLimitStatus(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	})
	_, err := p.FetchQuotes(context.Background(), []string{"AAPL"})
	var pe *provider.Error
	if !errors.As(err, &pe) || pe.Kind != provider.KindRateLimit || pe.Status != 429 {
		t.Fatalf("want rateLimit error with status, got %v", err)
	}
}

func TestFetchQuotes_AuthStatus(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid key", http.StatusUnauthorized)
	})
	_, err := p.FetchQuotes(context.Background(), []string{"AAPL"})
	var pe *provider.Error
	if !errors.As(err, &pe) || pe.Kind != provider.KindAuth {
		t.Fatalf("want auth error, got %v", err)
	}
}

func TestFetchOHLC_SortsDedupesTruncates(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		// upstream returns newest first with a duplicated timestamp
		w.Write([]byte(`[
			{"date":"2025-01-02 10:10:00","open":10,"high":12,"low":9,"close":11,"volume":100},
			{"date":"2025-01-02 10:05:00","open":9,"high":11,"low":8,"close":10,"volume":90},
			{"date":"2025-01-02 10:05:00","open":9,"high":11,"low":8,"close":10,"volume":90},
			{"date":"2025-01-02 10:00:00","open":8,"high":10,"low":7,"close":9,"volume":80}
		]`))
	})
	cs, err := p.FetchOHLC(context.Background(), "AAPL", provider.Interval5Min, 2)
	if err != nil {
		t.Fatalf("FetchOHLC: %v", err)
	}
	if len(cs) != 2 {
		t.Fatalf("want 2 most recent, got %d", len(cs))
	}
	if !cs[0].Time.Before(cs[1].Time) {
		t.Fatalf("not ascending: %+v", cs)
	}
	if cs[1].Close != 11 {
		t.Fatalf("latest candle wrong: %+v", cs[1])
	}
}

func TestFetchNews_RejectsIncompleteItems(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"symbol":"AAPL","publishedDate":"2025-01-02 09:00:00","title":"Apple beats","site":"x","text":"...","url":"https://a.com/1"},
			{"symbol":"MSFT","publishedDate":"2025-01-02 09:00:00","title":"","url":"https://a.com/2"},
			{"symbol":"TSLA","publishedDate":"not a date","title":"Tesla news","url":"https://a.com/3"}
		]`))
	})
	items, err := p.FetchNews(context.Background(), provider.NewsScope{})
	if err != nil {
		t.Fatalf("FetchNews: %v", err)
	}
	if len(items) != 1 || items[0].Tickers[0] != "AAPL" {
		t.Fatalf("got %+v", items)
	}
	if !items[0].PublishedAt.Equal(time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("time parse: %v", items[0].PublishedAt)
	}
}

func TestFetchSymbols_FiltersTypes(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"symbol":"AAPL","name":"Apple Inc","exchangeShortName":"NASDAQ","type":"stock"},
			{"symbol":"SPY","name":"SPDR S&P 500","exchangeShortName":"AMEX","type":"etf"},
			{"symbol":"BTCUSD","name":"Bitcoin","exchangeShortName":"CRYPTO","type":"crypto"}
		]`))
	})
	recs, err := p.FetchSymbols(context.Background())
	if err != nil {
		t.Fatalf("FetchSymbols: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("type filter failed: %+v", recs)
	}
}

func TestChunk(t *testing.T) {
	got := chunk([]string{"a", "b", "c", "d", "e"}, 2)
	if len(got) != 3 || len(got[0]) != 2 || len(got[2]) != 1 {
		t.Fatalf("got %v", got)
	}
}
