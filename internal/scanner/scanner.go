// Package scanner ranks the symbol universe by preset criteria using
// quote metrics and relative volume. It deliberately degrades instead
// of failing: whatever chunks could be fetched are ranked, and the
// chunks that could not are reported in Errors.
package scanner

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"

	movingaverage "github.com/RobinUS2/golang-moving-average"

	"marketdash/internal/provider"
	"marketdash/internal/universe"
)

// Preset names a built-in ranking.
type Preset string

const (
	PresetGainers  Preset = "gainers"
	PresetLosers   Preset = "losers"
	PresetVolume   Preset = "volume"
	PresetMomentum Preset = "momentum"
)

func ParsePreset(s string) (Preset, bool) {
	switch Preset(strings.ToLower(strings.TrimSpace(s))) {
	case PresetGainers:
		return PresetGainers, true
	case PresetLosers:
		return PresetLosers, true
	case PresetVolume:
		return PresetVolume, true
	case PresetMomentum:
		return PresetMomentum, true
	}
	return "", false
}

// Filters narrow the candidate set before ranking. Zero values mean
// unbounded.
type Filters struct {
	MinPrice  float64
	MaxPrice  float64
	MinVolume int64
}

func (f Filters) match(q provider.Quote) bool {
	if f.MinPrice > 0 && q.Price < f.MinPrice {
		return false
	}
	if f.MaxPrice > 0 && q.Price > f.MaxPrice {
		return false
	}
	if f.MinVolume > 0 && q.Volume < f.MinVolume {
		return false
	}
	return true
}

// Stock is one ranked scanner row.
type Stock struct {
	provider.Quote
	RVOL  float64 `json:"rvol,omitempty"`
	Score float64 `json:"score"`
}

// Result is the scanner response payload.
type Result struct {
	Stocks         []Stock  `json:"stocks"`
	UniverseSize   int      `json:"universeSize"`
	TotalProcessed int      `json:"totalProcessed"`
	Errors         []string `json:"errors,omitempty"`
}

// Source is what the scanner needs from the request bus.
type Source interface {
	GetQuotes(ctx context.Context, symbols []string) ([]provider.Quote, bool, []string)
	GetOHLC(ctx context.Context, symbol string, interval provider.Interval, limit int) ([]provider.Candle, bool, []string)
}

type Config struct {
	// ChunkSize caps the symbols per bus call.
	ChunkSize int
	// MaxSymbols caps how much of the universe one scan walks.
	MaxSymbols int
	// RVOLWindow is the number of daily bars behind the relative-volume
	// average.
	RVOLWindow int
}

type Scanner struct {
	src    Source
	snap   func() *universe.Snapshot
	cfg    Config
	logger *slog.Logger
}

func New(src Source, snap func() *universe.Snapshot, cfg Config, logger *slog.Logger) *Scanner {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 50
	}
	if cfg.MaxSymbols <= 0 {
		cfg.MaxSymbols = 500
	}
	if cfg.RVOLWindow <= 0 {
		cfg.RVOLWindow = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{src: src, snap: snap, cfg: cfg, logger: logger}
}

// Scan walks the universe in chunks, filters, ranks and truncates.
func (s *Scanner) Scan(ctx context.Context, preset Preset, filters Filters, limit int) Result {
	if limit <= 0 {
		limit = 20
	}
	snap := s.snap()
	if snap == nil || snap.Size() == 0 {
		return Result{Errors: []string{"symbol universe not loaded"}}
	}

	records := snap.All()
	res := Result{UniverseSize: len(records)}
	if len(records) > s.cfg.MaxSymbols {
		records = records[:s.cfg.MaxSymbols]
	}

	candidates := make([]Stock, 0, len(records))
	for start := 0; start < len(records); start += s.cfg.ChunkSize {
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, ctx.Err().Error())
			break
		}
		end := start + s.cfg.ChunkSize
		if end > len(records) {
			end = len(records)
		}
		symbols := make([]string, 0, end-start)
		for _, r := range records[start:end] {
			symbols = append(symbols, r.Symbol)
		}
		quotes, _, errs := s.src.GetQuotes(ctx, symbols)
		res.TotalProcessed += len(symbols)
		res.Errors = append(res.Errors, errs...)
		for _, q := range quotes {
			if q.Price <= 0 || !filters.match(q) {
				continue
			}
			candidates = append(candidates, Stock{Quote: q})
		}
	}

	switch preset {
	case PresetLosers:
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].ChangePercent != candidates[j].ChangePercent {
				return candidates[i].ChangePercent < candidates[j].ChangePercent
			}
			return candidates[i].Symbol < candidates[j].Symbol
		})
		for i := range candidates {
			candidates[i].Score = -candidates[i].ChangePercent
		}
	case PresetVolume:
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].Volume != candidates[j].Volume {
				return candidates[i].Volume > candidates[j].Volume
			}
			return candidates[i].Symbol < candidates[j].Symbol
		})
		for i := range candidates {
			candidates[i].Score = float64(candidates[i].Volume)
		}
	case PresetMomentum:
		candidates = s.rankMomentum(ctx, candidates, limit, &res)
	default: // gainers
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].ChangePercent != candidates[j].ChangePercent {
				return candidates[i].ChangePercent > candidates[j].ChangePercent
			}
			return candidates[i].Symbol < candidates[j].Symbol
		})
		for i := range candidates {
			candidates[i].Score = candidates[i].ChangePercent
		}
	}

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	res.Stocks = candidates
	return res
}

// rankMomentum scores the strongest movers by changePercent * RVOL so a
// symbol trading far above its usual volume outranks a quiet one with
// the same move. Candle fetches are limited to a short shortlist to
// keep the scan cheap.
func (s *Scanner) rankMomentum(ctx context.Context, candidates []Stock, limit int, res *Result) []Stock {
	sort.Slice(candidates, func(i, j int) bool {
		ai, aj := math.Abs(candidates[i].ChangePercent), math.Abs(candidates[j].ChangePercent)
		if ai != aj {
			return ai > aj
		}
		return candidates[i].Symbol < candidates[j].Symbol
	})
	shortlist := limit * 3
	if shortlist > len(candidates) {
		shortlist = len(candidates)
	}
	candidates = candidates[:shortlist]

	for i := range candidates {
		rvol := s.relativeVolume(ctx, &candidates[i], res)
		candidates[i].RVOL = rvol
		candidates[i].Score = candidates[i].ChangePercent * rvol
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Symbol < candidates[j].Symbol
	})
	return candidates
}

// relativeVolume is today's volume over the moving average of the
// preceding daily volumes. Falls back to the quote's average-volume
// field, then to 1, when no candles are available.
func (s *Scanner) relativeVolume(ctx context.Context, st *Stock, res *Result) float64 {
	candles, _, errs := s.src.GetOHLC(ctx, st.Symbol, provider.Interval1Day, s.cfg.RVOLWindow+1)
	res.Errors = append(res.Errors, errs...)
	if len(candles) >= 2 {
		ma := movingaverage.New(s.cfg.RVOLWindow)
		for _, c := range candles[:len(candles)-1] {
			ma.Add(float64(c.Volume))
		}
		if avg := ma.Avg(); avg > 0 {
			return float64(candles[len(candles)-1].Volume) / avg
		}
	}
	if st.AvgVolume > 0 {
		return float64(st.Volume) / float64(st.AvgVolume)
	}
	return 1
}
