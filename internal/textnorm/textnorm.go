// Package textnorm folds free text into the form used for catalog matching:
// Unicode case folding with combining marks removed, so "Ángel" and "angel"
// compare equal.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold returns s case-folded, stripped of diacritics and trimmed.
func Fold(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	// Transformers carry state, so build a fresh chain per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), cases.Fold(), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return strings.ToLower(s)
	}
	return letters.Replace(out)
}

// letters maps folded letters that have no canonical decomposition to the
// ASCII spelling Postgres unaccent uses for them.
var letters = strings.NewReplacer(
	"ł", "l", "ø", "o", "æ", "ae", "œ", "oe", "đ", "d", "ð", "d",
	"þ", "th", "ı", "i", "ħ", "h", "ŧ", "t", "ŀ", "l",
)

// Contains reports whether the folded form of s contains the already folded
// needle. An empty needle matches everything.
func Contains(s, foldedNeedle string) bool {
	if foldedNeedle == "" {
		return true
	}
	return strings.Contains(Fold(s), foldedNeedle)
}

// EscapeLike escapes the LIKE metacharacters in s using backslash, the
// default Postgres escape character.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
