package news

import (
	"testing"
	"time"

	"marketdash/internal/provider"
	"marketdash/internal/universe"
)

func TestCanonicalURL_StripsTrackingParams(t *testing.T) {
	cases := []struct{ in, want string }{
		{"https://a.com/x?utm_source=tw", "https://a.com/x"},
		{"https://a.com/x?utm_source=tw&id=5", "https://a.com/x?id=5"},
		{"https://a.com/x?fbclid=abc#frag", "https://a.com/x"},
		{"https://A.COM/x", "https://a.com/x"},
		{"https://a.com/x", "https://a.com/x"},
	}
	for _, c := range cases {
		if got := CanonicalURL(c.in); got != c.want {
			t.Fatalf("CanonicalURL(%q)=%q, want %q", c.in, got, c.want)
		}
	}
}

func TestCanonicalURL_SchemelessLinksCompareEqual(t *testing.T) {
	a := CanonicalURL("a.com/x?utm_source=tw")
	b := CanonicalURL("a.com/x")
	if a != b {
		t.Fatalf("%q != %q", a, b)
	}
}

func TestDedupKey_FiveMinuteBucketBoundary(t *testing.T) {
	base := time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC)

	// 4m59s apart, same bucket -> same key
	k1 := DedupKey("Apple beats earnings", "", base.Add(1*time.Second))
	k2 := DedupKey("Apple Beats Earnings!", "", base.Add(5*time.Minute))
	if k1 == k2 {
		t.Fatalf("items across the bucket boundary collided")
	}

	k3 := DedupKey("Apple beats earnings", "", base.Add(1*time.Second))
	k4 := DedupKey("Apple Beats Earnings!", "", base.Add(4*time.Minute+59*time.Second))
	if k3 != k4 {
		t.Fatalf("items in the same bucket did not collide: %q vs %q", k3, k4)
	}
}

func TestMerge_DedupesByCanonicalURL_EarliestWins(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	first := provider.NewsItem{Title: "Apple beats earnings", URL: "a.com/x?utm_source=tw", PublishedAt: at, Source: "fmp"}
	second := provider.NewsItem{Title: "Apple Beats Earnings!", URL: "a.com/x", PublishedAt: at.Add(2 * time.Minute), Source: "finnhub"}

	out := Merge([]provider.NewsItem{first}, []provider.NewsItem{second})
	if len(out) != 1 {
		t.Fatalf("want 1 item after dedup, got %d: %+v", len(out), out)
	}
	if out[0].Source != "fmp" {
		t.Fatalf("earliest arrival lost: %+v", out[0])
	}
}

func TestMerge_OrderIndependent(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	a := provider.NewsItem{Title: "Alpha", URL: "https://a.com/1", PublishedAt: at}
	b := provider.NewsItem{Title: "Beta", URL: "https://b.com/2", PublishedAt: at.Add(time.Minute)}
	c := provider.NewsItem{Title: "Gamma", URL: "https://c.com/3", PublishedAt: at.Add(2 * time.Minute)}

	x := Merge([]provider.NewsItem{a, b}, []provider.NewsItem{c})
	y := Merge([]provider.NewsItem{c}, []provider.NewsItem{b, a})
	if len(x) != 3 || len(y) != 3 {
		t.Fatalf("lengths: %d %d", len(x), len(y))
	}
	for i := range x {
		if x[i].URL != y[i].URL {
			t.Fatalf("order depends on fan-out completion: %v vs %v", x, y)
		}
	}
	// newest first
	if x[0].Title != "Gamma" || x[2].Title != "Alpha" {
		t.Fatalf("not sorted by publishedAt desc: %+v", x)
	}
}

func TestMerge_RejectsItemsMissingTitleOrURL(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	out := Merge([]provider.NewsItem{
		{Title: "", URL: "https://a.com/1", PublishedAt: at},
		{Title: "No link", URL: "", PublishedAt: at},
		{Title: "Fine", URL: "https://a.com/2", PublishedAt: at},
	})
	if len(out) != 1 || out[0].Title != "Fine" {
		t.Fatalf("got %+v", out)
	}
}

func TestEnrich_AttachesPrimaryTickerAndTags(t *testing.T) {
	snap := universe.BuildSnapshot([]provider.SymbolRecord{
		{Symbol: "TSLA", CompanyName: "Tesla Inc", Exchange: "NASDAQ", Active: true},
	}, time.Now())
	items := []provider.NewsItem{
		{Title: "Tesla Inc beats earnings, shares surge", URL: "https://a.com/1", PublishedAt: time.Now()},
	}
	Enrich(items, snap)
	if items[0].PrimaryTicker != "TSLA" {
		t.Fatalf("primary not attached: %+v", items[0])
	}
	if items[0].Sentiment != SentimentPositive {
		t.Fatalf("sentiment=%q", items[0].Sentiment)
	}
	if len(items[0].Badges) == 0 || items[0].Badges[0] != "earnings" {
		t.Fatalf("badges=%v", items[0].Badges)
	}
}

func TestScoreSentiment(t *testing.T) {
	cases := []struct {
		title string
		want  string
	}{
		{"Shares surge after record quarter", SentimentPositive},
		{"Stock plunges on weak guidance", SentimentNegative},
		{"Company schedules shareholder meeting", SentimentNeutral},
	}
	for _, c := range cases {
		if got := ScoreSentiment(c.title, ""); got != c.want {
			t.Fatalf("ScoreSentiment(%q)=%q, want %q", c.title, got, c.want)
		}
	}
}

func TestFilter_Apply(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	items := []provider.NewsItem{
		{Title: "A", URL: "https://a.com/1", Source: "fmp", PrimaryTicker: "TSLA", PublishedAt: at.Add(2 * time.Hour)},
		{Title: "B", URL: "https://a.com/2", Source: "finnhub", PrimaryTicker: "AAPL", PublishedAt: at.Add(time.Hour)},
		{Title: "C", URL: "https://a.com/3", Source: "fmp", Tickers: []string{"TSLA"}, PublishedAt: at},
	}

	got := Filter{Source: "fmp"}.Apply(items)
	if len(got) != 2 {
		t.Fatalf("source filter: %+v", got)
	}
	got = Filter{Ticker: "tsla"}.Apply(items)
	if len(got) != 2 {
		t.Fatalf("ticker filter should match primary and provider tickers: %+v", got)
	}
	got = Filter{From: at.Add(90 * time.Minute)}.Apply(items)
	if len(got) != 1 || got[0].Title != "A" {
		t.Fatalf("from filter: %+v", got)
	}
	got = Filter{Limit: 1}.Apply(items)
	if len(got) != 1 {
		t.Fatalf("limit: %+v", got)
	}
}

func TestCleanHTML(t *testing.T) {
	in := "<p>Apple &amp; suppliers <b>rally</b> &#8212; shares up</p>"
	got := CleanHTML(in)
	if got != "Apple & suppliers rally — shares up" {
		t.Fatalf("got %q", got)
	}
}
