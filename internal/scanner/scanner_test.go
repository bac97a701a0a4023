package scanner_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketdash/internal/provider"
	"marketdash/internal/scanner"
	"marketdash/internal/universe"
)

type fakeSource struct {
	quotes  map[string]provider.Quote
	candles map[string][]provider.Candle
	errs    []string
	batches [][]string
}

func (f *fakeSource) GetQuotes(_ context.Context, symbols []string) ([]provider.Quote, bool, []string) {
	f.batches = append(f.batches, append([]string(nil), symbols...))
	out := make([]provider.Quote, 0, len(symbols))
	for _, s := range symbols {
		if q, ok := f.quotes[s]; ok {
			out = append(out, q)
		}
	}
	return out, false, f.errs
}

func (f *fakeSource) GetOHLC(_ context.Context, symbol string, _ provider.Interval, _ int) ([]provider.Candle, bool, []string) {
	return f.candles[symbol], false, nil
}

func quote(symbol string, price, changePct float64, volume int64) provider.Quote {
	return provider.Quote{Symbol: symbol, Price: price, ChangePercent: changePct, Volume: volume, Provider: "fmp"}
}

func snapshotOf(symbols ...string) func() *universe.Snapshot {
	recs := make([]provider.SymbolRecord, 0, len(symbols))
	for _, s := range symbols {
		recs = append(recs, provider.SymbolRecord{
			Symbol: s, CompanyName: s + " Inc", Exchange: "NASDAQ", Active: true,
		})
	}
	snap := universe.BuildSnapshot(recs, time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC))
	return func() *universe.Snapshot { return snap }
}

func TestScanGainers(t *testing.T) {
	src := &fakeSource{quotes: map[string]provider.Quote{
		"AAPL": quote("AAPL", 180, 1.2, 50_000_000),
		"TSLA": quote("TSLA", 250, 4.5, 90_000_000),
		"MSFT": quote("MSFT", 410, -0.8, 30_000_000),
		"NVDA": quote("NVDA", 120, 4.5, 200_000_000),
	}}
	s := scanner.New(src, snapshotOf("AAPL", "TSLA", "MSFT", "NVDA"), scanner.Config{}, nil)

	res := s.Scan(context.Background(), scanner.PresetGainers, scanner.Filters{}, 3)
	require.Equal(t, 4, res.UniverseSize)
	require.Equal(t, 4, res.TotalProcessed)
	require.Empty(t, res.Errors)
	require.Len(t, res.Stocks, 3)
	// equal change percent breaks ties by symbol
	require.Equal(t, "NVDA", res.Stocks[0].Symbol)
	require.Equal(t, "TSLA", res.Stocks[1].Symbol)
	require.Equal(t, "AAPL", res.Stocks[2].Symbol)
	require.Equal(t, 4.5, res.Stocks[0].Score)
}

func TestScanLosersAndVolume(t *testing.T) {
	src := &fakeSource{quotes: map[string]provider.Quote{
		"AAPL": quote("AAPL", 180, 1.2, 50_000_000),
		"TSLA": quote("TSLA", 250, -4.5, 90_000_000),
		"MSFT": quote("MSFT", 410, -0.8, 30_000_000),
	}}
	s := scanner.New(src, snapshotOf("AAPL", "TSLA", "MSFT"), scanner.Config{}, nil)

	res := s.Scan(context.Background(), scanner.PresetLosers, scanner.Filters{}, 2)
	require.Equal(t, "TSLA", res.Stocks[0].Symbol)
	require.Equal(t, "MSFT", res.Stocks[1].Symbol)

	res = s.Scan(context.Background(), scanner.PresetVolume, scanner.Filters{}, 2)
	require.Equal(t, "TSLA", res.Stocks[0].Symbol)
	require.Equal(t, "AAPL", res.Stocks[1].Symbol)
}

func TestScanFilters(t *testing.T) {
	src := &fakeSource{quotes: map[string]provider.Quote{
		"AAPL": quote("AAPL", 180, 1.2, 50_000_000),
		"PENY": quote("PENY", 0.40, 35.0, 2_000_000),
		"THIN": quote("THIN", 12, 9.0, 40_000),
	}}
	s := scanner.New(src, snapshotOf("AAPL", "PENY", "THIN"), scanner.Config{}, nil)

	res := s.Scan(context.Background(), scanner.PresetGainers, scanner.Filters{
		MinPrice:  1,
		MinVolume: 100_000,
	}, 10)
	require.Len(t, res.Stocks, 1)
	require.Equal(t, "AAPL", res.Stocks[0].Symbol)
	// filtered symbols still count as processed
	require.Equal(t, 3, res.TotalProcessed)
}

func TestScanChunksUniverse(t *testing.T) {
	quotes := make(map[string]provider.Quote)
	symbols := make([]string, 0, 5)
	for _, s := range []string{"AAA", "BBB", "CCC", "DDD", "EEE"} {
		quotes[s] = quote(s, 10, 1, 1_000_000)
		symbols = append(symbols, s)
	}
	src := &fakeSource{quotes: quotes}
	s := scanner.New(src, snapshotOf(symbols...), scanner.Config{ChunkSize: 2}, nil)

	res := s.Scan(context.Background(), scanner.PresetGainers, scanner.Filters{}, 10)
	require.Equal(t, 5, res.TotalProcessed)
	require.Len(t, src.batches, 3)
	require.Len(t, src.batches[0], 2)
	require.Len(t, src.batches[2], 1)
}

func TestScanDegradesOnChunkErrors(t *testing.T) {
	src := &fakeSource{
		quotes: map[string]provider.Quote{"AAPL": quote("AAPL", 180, 1.2, 50_000_000)},
		errs:   []string{"finnhub: upstream down"},
	}
	s := scanner.New(src, snapshotOf("AAPL", "MISS"), scanner.Config{}, nil)

	res := s.Scan(context.Background(), scanner.PresetGainers, scanner.Filters{}, 10)
	require.Len(t, res.Stocks, 1)
	require.NotEmpty(t, res.Errors)
}

func TestScanMomentumUsesRelativeVolume(t *testing.T) {
	candlesWithAvg := func(avgVol, lastVol int64) []provider.Candle {
		out := make([]provider.Candle, 0, 6)
		base := time.Date(2025, 1, 27, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 5; i++ {
			out = append(out, provider.Candle{Time: base.AddDate(0, 0, i), Volume: avgVol, Close: 10})
		}
		return append(out, provider.Candle{Time: base.AddDate(0, 0, 5), Volume: lastVol, Close: 10})
	}
	src := &fakeSource{
		quotes: map[string]provider.Quote{
			// same move, very different relative volume
			"HOTT": quote("HOTT", 20, 5.0, 10_000_000),
			"COLD": quote("COLD", 20, 5.0, 1_000_000),
		},
		candles: map[string][]provider.Candle{
			"HOTT": candlesWithAvg(1_000_000, 10_000_000), // RVOL 10
			"COLD": candlesWithAvg(1_000_000, 1_000_000),  // RVOL 1
		},
	}
	s := scanner.New(src, snapshotOf("COLD", "HOTT"), scanner.Config{RVOLWindow: 5}, nil)

	res := s.Scan(context.Background(), scanner.PresetMomentum, scanner.Filters{}, 2)
	require.Len(t, res.Stocks, 2)
	require.Equal(t, "HOTT", res.Stocks[0].Symbol)
	require.InDelta(t, 10.0, res.Stocks[0].RVOL, 0.001)
	require.InDelta(t, 50.0, res.Stocks[0].Score, 0.001)
	require.InDelta(t, 1.0, res.Stocks[1].RVOL, 0.001)
}

func TestScanEmptyUniverse(t *testing.T) {
	src := &fakeSource{}
	s := scanner.New(src, func() *universe.Snapshot { return nil }, scanner.Config{}, nil)

	res := s.Scan(context.Background(), scanner.PresetGainers, scanner.Filters{}, 10)
	require.Empty(t, res.Stocks)
	require.NotEmpty(t, res.Errors)
	require.Empty(t, src.batches)
}
