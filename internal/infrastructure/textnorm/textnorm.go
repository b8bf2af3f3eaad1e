// Package textnorm folds document text for keyword matching and guesses its language.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	LangFrench  = "fr"
	LangEnglish = "en"
	LangUnknown = "unknown"
)

// Fold lower-cases s, strips diacritics and collapses whitespace runs to one space.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

var stopWords = map[string]map[string]struct{}{
	LangFrench: set("le", "la", "les", "de", "des", "du", "et", "au", "aux", "une", "pour", "par",
		"facture", "montant", "hors", "taxes", "net", "payer", "releve", "recu", "date", "fournisseur", "client"),
	LangEnglish: set("the", "and", "of", "to", "for", "by", "with", "is", "invoice", "amount",
		"due", "subtotal", "statement", "receipt", "bill", "supplier", "customer", "paid"),
}

// DetectLanguage picks fr or en by stop-word frequency. Ties with hits go to French.
func DetectLanguage(text string) string {
	counts := map[string]int{}
	for _, word := range strings.FieldsFunc(Fold(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		for lang, words := range stopWords {
			if _, ok := words[word]; ok {
				counts[lang]++
			}
		}
	}
	fr, en := counts[LangFrench], counts[LangEnglish]
	switch {
	case fr == 0 && en == 0:
		return LangUnknown
	case en > fr:
		return LangEnglish
	default:
		return LangFrench
	}
}

func set(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}
