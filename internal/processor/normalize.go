package processor

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// termKey folds a vocabulary term for duplicate detection: diacritics and
// case are ignored, Hangul syllables survive the NFD/NFC round trip intact.
// Transformers carry state, so a fresh chain is built per call.
func termKey(term string) string {
	strip := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(strip, term)
	if err != nil {
		stripped = term
	}
	return strings.TrimSpace(cases.Fold().String(stripped))
}

// normalizeLineText collapses whitespace runs and case-folds recognized text.
func normalizeLineText(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(norm.NFC.String(s)), " "))
}
