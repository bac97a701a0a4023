package universe

import (
	"strings"
	"unicode"
)

// legal suffixes stripped from company names when deriving aliases.
var legalSuffixes = map[string]struct{}{
	"inc": {}, "incorporated": {}, "corp": {}, "corporation": {},
	"ltd": {}, "limited": {}, "llc": {}, "plc": {}, "co": {},
	"company": {}, "holdings": {}, "holding": {}, "group": {},
	"sa": {}, "nv": {}, "ag": {}, "se": {}, "lp": {},
}

// filler words that never count as significant for alias building.
var fillerWords = map[string]struct{}{
	"the": {}, "of": {}, "and": {}, "a": {}, "an": {}, "for": {},
	"in": {}, "on": {}, "at": {}, "by": {},
}

// Normalize lowercases, strips punctuation and collapses whitespace.
// It is the key function of the inverted index: both aliases at build
// time and lookup phrases at query time go through it.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// SignificantWords returns the normalized words of a name minus filler
// and legal suffixes, preserving order. The ticker resolver uses the
// same notion of significance for partial-name overlap.
func SignificantWords(name string) []string {
	words := strings.Fields(Normalize(name))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if _, ok := fillerWords[w]; ok {
			continue
		}
		if _, ok := legalSuffixes[w]; ok {
			continue
		}
		out = append(out, w)
	}
	return out
}

// Aliases derives the deterministic alias closure for a symbol:
// the raw company name, the name with legal suffixes stripped, the
// first one to three significant words, the initialism of significant
// word starts (three or more words), and the ticker itself.
func Aliases(symbol, companyName string) []string {
	seen := make(map[string]struct{}, 8)
	out := make([]string, 0, 8)
	add := func(a string) {
		a = strings.TrimSpace(a)
		if a == "" {
			return
		}
		n := Normalize(a)
		if n == "" {
			return
		}
		if _, dup := seen[n]; dup {
			return
		}
		seen[n] = struct{}{}
		out = append(out, a)
	}

	add(companyName)

	sig := SignificantWords(companyName)
	if len(sig) > 0 {
		add(strings.Join(sig, " "))
		for n := 1; n <= 3 && n <= len(sig); n++ {
			add(strings.Join(sig[:n], " "))
		}
	}
	if len(sig) >= 3 {
		var initials strings.Builder
		for _, w := range sig {
			initials.WriteByte(w[0])
		}
		add(initials.String())
	}

	add(symbol)
	return out
}
