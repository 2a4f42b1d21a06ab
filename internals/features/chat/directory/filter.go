package directory

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type Filter struct {
	Query      string
	UnreadOnly bool
}

// Normalize folds case and strips diacritics so "jose" matches "José".
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.TrimSpace(cases.Fold().String(out))
}

// Apply returns the summaries matching f, keeping their order. It never
// touches the store.
func (f Filter) Apply(in []RoomSummary) []RoomSummary {
	q := Normalize(f.Query)
	out := make([]RoomSummary, 0, len(in))
	for _, s := range in {
		if f.UnreadOnly && s.UnreadCount == 0 {
			continue
		}
		if q != "" && !strings.Contains(Normalize(s.DisplayName), q) {
			continue
		}
		out = append(out, s)
	}
	return out
}
