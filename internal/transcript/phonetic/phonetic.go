// Package phonetic corrects transcripts against a user dictionary by
// comparing how words sound rather than how they are spelled.
//
// Every dictionary word carries one or more language tags. Each tag selects
// an [Encoder] that turns a word into a set of phonetic codes; a word's code
// set is the union over its tags. A transcript token matches a dictionary
// word when the token, encoded under the same tags, shares at least one code
// with it.
//
// Codes are prefixed with the algorithm that produced them ("dm:", "ny:",
// "px:", "sx:"), so two algorithms never produce a false overlap.
package phonetic

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrUnknownLanguage is returned when a dictionary word is tagged with a
// language no encoder is registered for.
var ErrUnknownLanguage = errors.New("phonetic: unknown language")

// DefaultLanguages are applied to dictionary words that carry no tags.
var DefaultLanguages = []string{"english", "french"}

// Encoder returns the phonetic codes of word. word is already folded to
// lowercase ASCII letters and is never empty.
type Encoder func(word string) []string

var builtin = map[string]Encoder{
	"english": doubleMetaphone,
	"french":  func(w string) []string { return []string{"ny:" + matchr.NYSIIS(w), "px:" + matchr.Phonex(w)} },
	"german":  soundexAndMetaphone,
	"spanish": soundexAndMetaphone,
	"italian": soundexAndMetaphone,
	"generic": func(w string) []string { return []string{"sx:" + matchr.Soundex(w)} },
}

func doubleMetaphone(w string) []string {
	primary, alternate := matchr.DoubleMetaphone(w)
	codes := []string{"dm:" + primary}
	if alternate != "" && alternate != primary {
		codes = append(codes, "dm:"+alternate)
	}
	return codes
}

func soundexAndMetaphone(w string) []string {
	primary, _ := matchr.DoubleMetaphone(w)
	return []string{"sx:" + matchr.Soundex(w), "dm:" + primary}
}

// Languages returns the names of the built-in encoders, sorted.
func Languages() []string {
	names := make([]string, 0, len(builtin))
	for name := range builtin {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsKnownLanguage reports whether a built-in encoder exists for lang.
func IsKnownLanguage(lang string) bool {
	_, ok := builtin[lang]
	return ok
}

// Fold reduces s to the lowercase ASCII letters the encoders work on:
// accents are stripped ("é" → "e") and everything that is not a letter is
// dropped.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		r = unicode.ToLower(r)
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// codeSet is the union of codes produced for one word under a language set.
type codeSet map[string]struct{}

func (a codeSet) overlaps(b codeSet) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// encode computes the code set of a folded word under langs. Codes whose
// algorithm part is empty are dropped.
func encode(encoders map[string]Encoder, folded string, langs []string) (codeSet, error) {
	set := make(codeSet, 2*len(langs))
	if folded == "" {
		return set, nil
	}
	for _, lang := range langs {
		enc, ok := encoders[lang]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownLanguage, lang)
		}
		for _, c := range enc(folded) {
			if i := strings.IndexByte(c, ':'); i >= 0 && i < len(c)-1 {
				set[c] = struct{}{}
			}
		}
	}
	return set, nil
}
