package news

import "strings"

// Sentiment labels.
const (
	SentimentPositive = "pos"
	SentimentNegative = "neg"
	SentimentNeutral  = "neutral"
)

var positiveWords = []string{
	"beats", "beat", "surge", "surges", "soars", "soar", "rally", "rallies",
	"jumps", "jump", "gains", "gain", "record", "upgrade", "upgraded",
	"outperform", "approval", "approved", "wins", "win", "strong", "tops",
	"raises", "breakout", "bullish",
}

var negativeWords = []string{
	"misses", "miss", "plunge", "plunges", "sinks", "sink", "falls", "fall",
	"drops", "drop", "slides", "slide", "losses", "loss", "downgrade",
	"downgraded", "underperform", "recall", "lawsuit", "probe", "fraud",
	"bankruptcy", "cuts", "cut", "warns", "warning", "weak", "bearish",
	"halted", "plummets",
}

// badgeWords maps a badge to the title keywords that earn it.
var badgeWords = map[string][]string{
	"earnings": {"earnings", "eps", "revenue", "guidance", "quarterly"},
	"fda":      {"fda", "phase", "trial", "drug", "approval"},
	"merger":   {"merger", "acquisition", "acquire", "acquires", "takeover", "buyout"},
	"analyst":  {"upgrade", "downgrade", "price target", "initiates", "rating"},
}

// ScoreSentiment classifies a title+summary by keyword counts. Purely
// lexical and deterministic; ties fall to neutral.
func ScoreSentiment(title, summary string) string {
	text := " " + NormalizeTitle(title+" "+summary) + " "
	pos, neg := 0, 0
	for _, w := range positiveWords {
		pos += strings.Count(text, " "+w+" ")
	}
	for _, w := range negativeWords {
		neg += strings.Count(text, " "+w+" ")
	}
	switch {
	case pos > neg:
		return SentimentPositive
	case neg > pos:
		return SentimentNegative
	}
	return SentimentNeutral
}

// Badges returns the sorted badges a title earns, empty slice for none.
func Badges(title string) []string {
	text := " " + NormalizeTitle(title) + " "
	out := make([]string, 0, 2)
	for _, badge := range []string{"analyst", "earnings", "fda", "merger"} {
		for _, w := range badgeWords[badge] {
			if strings.Contains(text, " "+w+" ") {
				out = append(out, badge)
				break
			}
		}
	}
	return out
}
