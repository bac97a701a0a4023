// Package resolver extracts the primary ticker from a news article by
// scoring candidate symbols against the active symbol universe. Given
// the same article and the same universe snapshot the result is always
// identical.
package resolver

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"marketdash/internal/universe"
)

// Scores per stage. Higher-stage matches add to, never replace, lower
// ones; the totals per symbol decide the outcome.
const (
	scoreSource         = 100
	scoreCashtagTitle   = 60
	scoreCashtagBody    = 45
	scoreLiteralTitle   = 60
	scoreLiteralBody    = 45
	scoreURLPath        = 25
	scoreNameTitle      = 80
	scoreNameBody       = 60
	scoreAliasTitle     = 20
	scoreAliasBody      = 10
	scorePartialTitle   = 30
	scorePartialBody    = 20
	penaltyStopword     = -40
	penaltyRelatedList  = -30
	penaltySubstring    = -40
	primaryThreshold    = 60
	primaryMargin       = 15
	secondaryThreshold  = 40
	maxSecondaries      = 2
)

// Article is the resolver's input.
type Article struct {
	Title           string
	Summary         string
	URL             string
	ProviderTickers []string
}

// Result is at most one primary ticker plus optional secondaries.
type Result struct {
	Primary     string   `json:"primary,omitempty"`
	Secondaries []string `json:"secondaries,omitempty"`
	Confidence  int      `json:"confidence"`
	Reason      string   `json:"reason"`
}

var (
	cashtagRe = regexp.MustCompile(`\$([A-Z]{1,5})\b`)
	literalRe = regexp.MustCompile(`\b([A-Z]{1,5}):|\(([A-Z]{1,5})\)`)
	wordRe    = regexp.MustCompile(`[A-Za-z]{1,6}`)
)

// ticker-shaped words that are almost always plain English or market
// jargon in a headline.
var stopwords = map[string]struct{}{
	"A": {}, "I": {}, "IT": {}, "ALL": {}, "ARE": {}, "BE": {}, "GO": {},
	"ON": {}, "OR": {}, "AN": {}, "AT": {}, "BY": {}, "DO": {}, "SO": {},
	"UP": {}, "NOW": {}, "NEW": {}, "ONE": {}, "TWO": {}, "BIG": {},
	"CEO": {}, "CFO": {}, "IPO": {}, "ETF": {}, "SEC": {}, "FED": {},
	"USA": {}, "GDP": {}, "AI": {}, "EV": {}, "Q": {}, "EPS": {},
}

// keywords that mark a multi-company story, unlocking secondaries.
var multiCompanyWords = []string{
	"merger", "acquisition", "acquire", "partnership", "lawsuit", "vs", "versus",
}

type candidate struct {
	score   int
	reasons []string
}

// nameEvidence reports whether any of the candidate's evidence came
// from a company-name stage. A name match is a phrase, not a
// ticker-shaped token, so the token penalties do not apply to it.
func (c *candidate) nameEvidence() bool {
	for _, r := range c.reasons {
		if strings.HasPrefix(r, "exact_company_name") ||
			strings.HasPrefix(r, "alias") ||
			strings.HasPrefix(r, "partial_name") {
			return true
		}
	}
	return false
}

type scorer struct {
	article Article
	snap    *universe.Snapshot
	cands   map[string]*candidate

	normTitle string
	normBody  string
}

func (s *scorer) add(symbol string, pts int, reason string) {
	if !s.snap.Has(symbol) {
		return // looks like a ticker, is not one
	}
	c := s.cands[symbol]
	if c == nil {
		c = &candidate{}
		s.cands[symbol] = c
	}
	c.score += pts
	c.reasons = append(c.reasons, reason)
}

// Resolve runs the staged scoring over title and summary and applies
// the threshold and margin selection rule.
func Resolve(art Article, snap *universe.Snapshot) Result {
	if snap == nil || snap.Size() == 0 {
		return Result{Reason: "general"}
	}
	s := &scorer{
		article:   art,
		snap:      snap,
		cands:     make(map[string]*candidate),
		normTitle: universe.Normalize(art.Title),
		normBody:  universe.Normalize(art.Summary),
	}

	s.stageProviderTickers()
	s.stageCashtags()
	s.stageLiterals()
	s.stageURLPath()
	s.stageCompanyNames()
	s.stagePartialOverlap()
	s.applyPenalties()

	return s.selectResult()
}

// S1: tickers the upstream attached to the article.
func (s *scorer) stageProviderTickers() {
	for _, t := range s.article.ProviderTickers {
		s.add(strings.ToUpper(strings.TrimSpace(t)), scoreSource, "source")
	}
}

// S2: cashtags like $TSLA, case-preserved.
func (s *scorer) stageCashtags() {
	for _, m := range cashtagRe.FindAllStringSubmatch(s.article.Title, -1) {
		s.add(m[1], scoreCashtagTitle, "cashtag/title")
	}
	for _, m := range cashtagRe.FindAllStringSubmatch(s.article.Summary, -1) {
		s.add(m[1], scoreCashtagBody, "cashtag/summary")
	}
}

// S3: ticker literals TSLA: or (TSLA).
func (s *scorer) stageLiterals() {
	for _, m := range literalRe.FindAllStringSubmatch(s.article.Title, -1) {
		s.add(firstGroup(m), scoreLiteralTitle, "ticker_literal/title")
	}
	for _, m := range literalRe.FindAllStringSubmatch(s.article.Summary, -1) {
		s.add(firstGroup(m), scoreLiteralBody, "ticker_literal/summary")
	}
}

func firstGroup(m []string) string {
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

// S4: a URL path segment that is a known symbol.
func (s *scorer) stageURLPath() {
	if s.article.URL == "" {
		return
	}
	u, err := url.Parse(s.article.URL)
	if err != nil {
		return
	}
	for _, seg := range strings.Split(u.Path, "/") {
		seg = strings.ToUpper(strings.TrimSpace(seg))
		if len(seg) >= 1 && len(seg) <= 5 && wordRe.MatchString(seg) && s.snap.Has(seg) {
			s.add(seg, scoreURLPath, "url_path")
		}
	}
}

// S5 + S6: exact whole-word company-name and alias matches against the
// normalized text. The company name is the first alias; the rest of the
// closure scores lower.
func (s *scorer) stageCompanyNames() {
	seen := make(map[string]struct{})
	for _, field := range []struct {
		text       string
		nameScore  int
		aliasScore int
		suffix     string
	}{
		{s.normTitle, scoreNameTitle, scoreAliasTitle, "title"},
		{s.normBody, scoreNameBody, scoreAliasBody, "summary"},
	} {
		if field.text == "" {
			continue
		}
		for _, phrase := range subPhrases(field.text, 6) {
			for _, rec := range s.snap.ByAlias(phrase) {
				kind := "alias"
				pts := field.aliasScore
				switch phrase {
				case universe.Normalize(rec.CompanyName):
					kind = "exact_company_name"
					pts = field.nameScore
				case universe.Normalize(rec.Symbol):
					// the ticker itself is in the alias closure; a bare
					// word hit is token evidence, not a name phrase
					kind = "ticker_word"
				}
				key := rec.Symbol + "|" + kind + "|" + field.suffix
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				s.add(rec.Symbol, pts, kind+"/"+field.suffix)
			}
		}
	}
}

// subPhrases enumerates every run of up to n consecutive words.
func subPhrases(text string, n int) []string {
	words := strings.Fields(text)
	out := make([]string, 0, len(words)*n)
	for i := range words {
		for l := 1; l <= n && i+l <= len(words); l++ {
			out = append(out, strings.Join(words[i:i+l], " "))
		}
	}
	return out
}

// S7: at least two significant words of a multi-word company name
// appear in the text without the full name matching.
func (s *scorer) stagePartialOverlap() {
	titleWords := wordSet(s.normTitle)
	bodyWords := wordSet(s.normBody)
	for _, rec := range s.snap.All() {
		sig := significantNameWords(rec.CompanyName)
		if len(sig) < 2 {
			continue
		}
		if countOverlap(sig, titleWords) >= 2 {
			s.add(rec.Symbol, scorePartialTitle, "partial_name/title")
		} else if countOverlap(sig, bodyWords) >= 2 {
			s.add(rec.Symbol, scorePartialBody, "partial_name/summary")
		}
	}
}

func wordSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(text) {
		out[w] = struct{}{}
	}
	return out
}

func significantNameWords(name string) []string {
	words := universe.SignificantWords(name)
	out := words[:0]
	for _, w := range words {
		if len(w) >= 3 {
			out = append(out, w)
		}
	}
	return out
}

func countOverlap(words []string, set map[string]struct{}) int {
	n := 0
	for _, w := range words {
		if _, ok := set[w]; ok {
			n++
		}
	}
	return n
}

// applyPenalties demotes token evidence that is probably not about the
// company: stopword tickers, mentions confined to a "related tickers:"
// list, and tokens that appear only inside longer words. The stopword
// and embedded checks judge the matched token, so candidates backed by
// a company-name phrase are exempt; otherwise an exact name match for
// ALL or CAT would be erased because the ticker doubles as an English
// word or sits inside its own company name.
func (s *scorer) applyPenalties() {
	related := relatedListTokens(s.article.Title + " " + s.article.Summary)
	for sym, c := range s.cands {
		if _, ok := related[sym]; ok {
			c.score += penaltyRelatedList
			c.reasons = append(c.reasons, "related_list")
		}
		if c.nameEvidence() {
			continue
		}
		if _, ok := stopwords[sym]; ok {
			c.score += penaltyStopword
			c.reasons = append(c.reasons, "stopword")
		}
		if onlyEmbedded(sym, s.article.Title+" "+s.article.Summary) {
			c.score += penaltySubstring
			c.reasons = append(c.reasons, "embedded_token")
		}
	}
}

var relatedRe = regexp.MustCompile(`(?i)related(?: tickers| stocks)?\s*:\s*([A-Z ,$]+)`)

// relatedListTokens extracts symbols that occur only inside a trailing
// comma-separated related-tickers list.
func relatedListTokens(text string) map[string]struct{} {
	out := make(map[string]struct{})
	m := relatedRe.FindStringSubmatch(text)
	if m == nil {
		return out
	}
	list := m[1]
	rest := strings.Replace(text, m[0], "", 1)
	for _, tok := range strings.Split(list, ",") {
		tok = strings.ToUpper(strings.Trim(strings.TrimSpace(tok), "$"))
		if tok == "" {
			continue
		}
		if !wholeWordUpper(rest, tok) {
			out[tok] = struct{}{}
		}
	}
	return out
}

// onlyEmbedded reports whether sym never occurs as a standalone token
// but does occur inside a longer word (e.g. GO inside "GOVERNMENT").
func onlyEmbedded(sym, text string) bool {
	if wholeWordUpper(text, sym) {
		return false
	}
	return strings.Contains(strings.ToUpper(text), sym)
}

func wholeWordUpper(text, word string) bool {
	up := strings.ToUpper(text)
	for i := 0; ; {
		j := strings.Index(up[i:], word)
		if j < 0 {
			return false
		}
		j += i
		before := j == 0 || !isWordByte(up[j-1])
		end := j + len(word)
		after := end >= len(up) || !isWordByte(up[end])
		if before && after {
			return true
		}
		i = j + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'A' && b <= 'Z' || b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

// selectResult applies the threshold + margin rule and picks
// secondaries for multi-company stories.
func (s *scorer) selectResult() Result {
	if len(s.cands) == 0 {
		return Result{Reason: "general"}
	}
	type ranked struct {
		symbol string
		score  int
		reason string
	}
	all := make([]ranked, 0, len(s.cands))
	for sym, c := range s.cands {
		reason := "general"
		if len(c.reasons) > 0 {
			reason = strongestReason(c.reasons)
		}
		all = append(all, ranked{sym, c.score, reason})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].symbol < all[j].symbol // deterministic tie-break
	})

	top := all[0]
	second := 0
	if len(all) > 1 {
		second = all[1].score
	}
	if top.score < primaryThreshold || top.score-second < primaryMargin {
		return Result{Reason: "general"}
	}

	res := Result{Primary: top.symbol, Confidence: top.score, Reason: top.reason}
	if s.isMultiCompany() {
		for _, r := range all[1:] {
			if r.score < secondaryThreshold {
				break
			}
			res.Secondaries = append(res.Secondaries, r.symbol)
			if len(res.Secondaries) == maxSecondaries {
				break
			}
		}
	}
	return res
}

func (s *scorer) isMultiCompany() bool {
	text := s.normTitle + " " + s.normBody
	words := wordSet(text)
	for _, kw := range multiCompanyWords {
		if _, ok := words[kw]; ok {
			return true
		}
	}
	return false
}

// strongestReason keeps the reason of the highest-value stage; stage
// order in the slice tracks scoring order, so prefer the named stages
// over penalties.
func strongestReason(reasons []string) string {
	best := reasons[0]
	rank := func(r string) int {
		switch {
		case r == "source":
			return 7
		case strings.HasPrefix(r, "exact_company_name"):
			return 6
		case strings.HasPrefix(r, "cashtag"):
			return 5
		case strings.HasPrefix(r, "ticker_literal"):
			return 4
		case strings.HasPrefix(r, "partial_name"):
			return 3
		case strings.HasPrefix(r, "alias"):
			return 2
		case r == "url_path":
			return 1
		}
		return 0
	}
	for _, r := range reasons[1:] {
		if rank(r) > rank(best) {
			best = r
		}
	}
	return best
}
