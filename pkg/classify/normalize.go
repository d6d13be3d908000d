package classify

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeText lowercases, folds diacritics to ASCII, collapses every
// non-alphanumeric run into one space and trims the result.
func NormalizeText(raw string) string {
	folded := foldDiacritics(strings.ToLower(raw))

	var b strings.Builder
	b.Grow(len(folded))
	pendingSpace := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return b.String()
}

func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// text wraps normalised input with whole-word lookups.
type text struct {
	raw   string
	words map[string]struct{}
}

func newText(normalized string) text {
	fields := strings.Fields(normalized)
	words := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		words[f] = struct{}{}
	}
	return text{raw: normalized, words: words}
}

func (t text) contains(subs ...string) bool {
	for _, s := range subs {
		if strings.Contains(t.raw, s) {
			return true
		}
	}
	return false
}

func (t text) hasWord(words ...string) bool {
	for _, w := range words {
		if _, ok := t.words[w]; ok {
			return true
		}
	}
	return false
}

// wordThen reports whether word appears as a whole word with sub somewhere after it.
func (t text) wordThen(word, sub string) bool {
	pos := 0
	for _, f := range strings.Split(t.raw, " ") {
		end := pos + len(f)
		if f == word && strings.Contains(t.raw[end:], sub) {
			return true
		}
		pos = end + 1
	}
	return false
}
