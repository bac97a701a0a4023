package news

import (
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// tracking query parameters stripped during URL canonicalization.
var trackingParams = map[string]struct{}{
	"fbclid": {}, "gclid": {}, "mc_cid": {}, "mc_eid": {}, "ref": {},
}

// CanonicalURL strips tracking parameters (utm_* and friends) and the
// fragment so that syndicated copies of one article compare equal.
// Unparsable input is returned as-is; dedup then falls back to the
// title+time key.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Host == "" {
		// schemeless feed links ("a.com/x?utm_source=tw") still need
		// their host split out so the params can go
		u2, err2 := url.Parse("//" + raw)
		if err2 != nil || u2.Host == "" {
			return raw
		}
		u = u2
	}
	q := u.Query()
	for k := range q {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, "utm_") {
			q.Del(k)
			continue
		}
		if _, ok := trackingParams[lk]; ok {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

var spaceRe = regexp.MustCompile(`\s+`)

// NormalizeTitle lowercases, strips punctuation noise and collapses
// whitespace; used for the fallback dedup key.
func NormalizeTitle(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.TrimSpace(spaceRe.ReplaceAllString(b.String(), " "))
}

var tagRe = regexp.MustCompile(`<[^>]*>`)

// CleanHTML decodes HTML entities and drops markup; RSS descriptions
// routinely embed both.
func CleanHTML(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

const dedupBucket = 5 * time.Minute

// DedupKey identifies an article: the canonical URL when present,
// otherwise (normalizedTitle, publishedAt bucketed to 5 minutes).
func DedupKey(title, rawURL string, publishedAt time.Time) string {
	if u := CanonicalURL(rawURL); u != "" {
		return "u|" + u
	}
	bucket := publishedAt.UTC().Truncate(dedupBucket).Unix()
	return "t|" + NormalizeTitle(title) + "|" + strconv.FormatInt(bucket, 10)
}
