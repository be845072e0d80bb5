package classify

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

const asciiPunct = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

var quotes = strings.NewReplacer("‘", "'", "’", "'", "“", `"`, "”", `"`)

// Normalize applies NFKC (full-width and compatibility forms fold, accents
// stay), straightens typographic quotes and collapses whitespace.
func Normalize(text string) string {
	out := norm.NFKC.String(text)
	return strings.Join(strings.Fields(quotes.Replace(out)), " ")
}

// StripPunctuation removes ASCII punctuation and re-collapses whitespace.
func StripPunctuation(text string) string {
	stripped := strings.Map(func(r rune) rune {
		if strings.ContainsRune(asciiPunct, r) {
			return -1
		}
		return r
	}, text)
	return strings.Join(strings.Fields(stripped), " ")
}
