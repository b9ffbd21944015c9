package diff

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// accentStripper decomposes to NFD, drops combining marks and recomposes,
// so "Café" and "Cafe" normalize to the same form.
var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

var germanReplacer = strings.NewReplacer(
	"ä", "ae",
	"ö", "oe",
	"ü", "ue",
	"ß", "ss",
)

var punctuationReplacer = strings.NewReplacer(
	".", "", ",", "", "!", "", "?", "", ";", "", ":", "",
	"¿", "", "¡", "", "«", "", "»", "", "…", "",
	"\"", "", "'", "", "(", "", ")", "", "[", "", "]", "",
)

// Normalize canonicalizes text for comparison: lower-case, language-aware
// accent handling, a fixed punctuation set stripped, whitespace collapsed.
// Idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(text, lang string) string {
	s := strings.ToLower(text)

	switch lang {
	case "de":
		s = germanReplacer.Replace(s)
		s = stripAccents(s)
	case "pt":
		s = stripAccents(s)
	default:
		s = stripAccents(s)
	}

	s = punctuationReplacer.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// Equivalent reports whether two messages differ only in accents,
// punctuation, case or whitespace.
func Equivalent(a, b, lang string) bool {
	return Normalize(a, lang) == Normalize(b, lang)
}

func stripAccents(s string) string {
	out, _, err := transform.String(accentStripper, s)
	if err != nil {
		return s
	}
	return out
}
