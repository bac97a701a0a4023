package news

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"marketdash/internal/provider"
	"marketdash/internal/resolver"
	"marketdash/internal/universe"
)

// Merge unions per-provider batches into one deduplicated list.
// Identity follows DedupKey; the earliest arrival wins, so completion
// order of the fan-out does not change the output set. The result is
// sorted by publishedAt descending (ties by canonical URL, so the same
// input set always yields the same order).
func Merge(batches ...[]provider.NewsItem) []provider.NewsItem {
	seen := make(map[string]struct{})
	out := make([]provider.NewsItem, 0, 64)
	for _, batch := range batches {
		for _, item := range batch {
			if item.Title == "" || item.URL == "" {
				continue
			}
			key := DedupKey(item.Title, item.URL, item.PublishedAt)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			item.URL = CanonicalURL(item.URL)
			if item.ID == "" {
				item.ID = hashID(key)
			}
			out = append(out, item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].PublishedAt.Equal(out[j].PublishedAt) {
			return out[i].PublishedAt.After(out[j].PublishedAt)
		}
		return out[i].URL < out[j].URL
	})
	return out
}

// Enrich resolves the primary ticker and tags sentiment and badges on
// each item, in place. The snapshot may be nil before the first
// universe load; items then stay untagged rather than guessing.
func Enrich(items []provider.NewsItem, snap *universe.Snapshot) {
	for i := range items {
		it := &items[i]
		if snap != nil {
			res := resolver.Resolve(resolver.Article{
				Title:           it.Title,
				Summary:         it.Summary,
				URL:             it.URL,
				ProviderTickers: it.Tickers,
			}, snap)
			it.PrimaryTicker = res.Primary
		}
		if it.Sentiment == "" {
			it.Sentiment = ScoreSentiment(it.Title, it.Summary)
		}
		if len(it.Badges) == 0 {
			it.Badges = Badges(it.Title)
		}
	}
}

// Filter narrows a merged list by source, resolved ticker and date
// range, then truncates to limit.
type Filter struct {
	Source string
	Ticker string
	From   time.Time
	To     time.Time
	Limit  int
}

func (f Filter) Apply(items []provider.NewsItem) []provider.NewsItem {
	out := make([]provider.NewsItem, 0, len(items))
	for _, it := range items {
		if f.Source != "" && !strings.EqualFold(it.Source, f.Source) {
			continue
		}
		if f.Ticker != "" && !matchesTicker(it, f.Ticker) {
			continue
		}
		if !f.From.IsZero() && it.PublishedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !it.PublishedAt.Before(f.To) {
			continue
		}
		out = append(out, it)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

func matchesTicker(it provider.NewsItem, ticker string) bool {
	if strings.EqualFold(it.PrimaryTicker, ticker) {
		return true
	}
	for _, t := range it.Tickers {
		if strings.EqualFold(t, ticker) {
			return true
		}
	}
	return false
}

// Counts tallies surviving items per source for the response envelope.
func Counts(items []provider.NewsItem) map[string]int {
	out := make(map[string]int, 4)
	for _, it := range items {
		out[it.Source]++
	}
	return out
}

func hashID(key string) string {
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:8])
}
