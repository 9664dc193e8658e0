// Package prescreen flags campaign copy that probably advertises alcohol.
// The result drives an advisory only; the rendering service stays the
// authority on regulated content.
package prescreen

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

var vocabulary = map[string]struct{}{
	"alcohol":   {},
	"alcoholic": {},
	"wine":      {},
	"beer":      {},
	"gin":       {},
	"vodka":     {},
	"whisky":    {},
	"whiskey":   {},
	"rum":       {},
	"tequila":   {},
	"brandy":    {},
	"bourbon":   {},
	"scotch":    {},
	"liqueur":   {},
	"prosecco":  {},
	"champagne": {},
	"spirit":    {},
	"cider":     {},
	"lager":     {},
	"ale":       {},
	"drink":     {},
	"bottle":    {},
}

// Screen reports whether text contains a term from the alcohol vocabulary.
// Matching is case-insensitive and works on whole words, accepting a plural
// "s" suffix.
func Screen(text string) bool {
	folded := cases.Fold().String(text)
	words := strings.FieldsFunc(folded, func(r rune) bool { return !unicode.IsLetter(r) })
	for _, w := range words {
		if isTerm(w) {
			return true
		}
	}
	return false
}

// ScreenEdit screens the field being edited together with the last known
// value of the other message field.
func ScreenEdit(editing, other string) bool {
	return Screen(editing + " " + other)
}

func isTerm(word string) bool {
	if _, ok := vocabulary[word]; ok {
		return true
	}
	if stem, ok := strings.CutSuffix(word, "s"); ok {
		_, ok = vocabulary[stem]
		return ok
	}
	return false
}
