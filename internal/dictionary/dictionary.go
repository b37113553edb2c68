// Package dictionary holds the user's custom vocabulary: words the
// transcription model tends to get wrong, each tagged with the languages
// whose pronunciation rules should be used to recognise it.
//
// The vocabulary is persisted as a small YAML file. Every mutation is
// written through immediately with a temp-file-and-rename so a crash never
// leaves a truncated file behind.
package dictionary

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"unicode"

	"github.com/MrWong99/murmur/internal/transcript/phonetic"
)

var (
	// ErrInvalidWord is returned for words containing anything but letters.
	ErrInvalidWord = errors.New("dictionary: words must contain only letters")

	// ErrEmptyDictionary is returned when an import yields no valid word.
	ErrEmptyDictionary = errors.New("dictionary: import must contain at least one valid word")

	// ErrNotFound is returned by Remove for a word that is not present.
	ErrNotFound = errors.New("dictionary: word not found")
)

// Dictionary maps a lowercase word to its language tags.
type Dictionary map[string][]string

// Clone returns a deep copy.
func (d Dictionary) Clone() Dictionary {
	out := make(Dictionary, len(d))
	for w, langs := range d {
		out[w] = slices.Clone(langs)
	}
	return out
}

// Words returns the words in sorted order.
func (d Dictionary) Words() []string {
	return slices.Sorted(maps.Keys(d))
}

// NormalizeWord trims and lowercases w and checks that it consists of
// letters only. The returned error wraps [ErrInvalidWord] and names w.
func NormalizeWord(w string) (string, error) {
	w = strings.TrimSpace(w)
	if w == "" || strings.IndexFunc(w, func(r rune) bool { return !unicode.IsLetter(r) }) >= 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidWord, w)
	}
	return strings.ToLower(w), nil
}

// ValidateLanguages checks every tag against the phonetic encoders.
func ValidateLanguages(langs []string) error {
	var errs []error
	for _, l := range langs {
		if !phonetic.IsKnownLanguage(l) {
			errs = append(errs, fmt.Errorf("%w: %q", phonetic.ErrUnknownLanguage, l))
		}
	}
	return errors.Join(errs...)
}

// ParseWordList reads a newline-separated word list. Blank lines are
// skipped, the rest are normalized with [NormalizeWord]. The first invalid
// line aborts the parse. An input without any word returns
// [ErrEmptyDictionary].
func ParseWordList(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("dictionary: read word list: %w", err)
	}
	var words []string
	for line := range strings.SplitSeq(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		w, err := NormalizeWord(line)
		if err != nil {
			return nil, err
		}
		words = append(words, w)
	}
	if len(words) == 0 {
		return nil, ErrEmptyDictionary
	}
	return words, nil
}

// WriteWordList writes the sorted words of d separated by "\n", without a
// trailing newline.
func WriteWordList(w io.Writer, d Dictionary) error {
	if _, err := io.WriteString(w, strings.Join(d.Words(), "\n")); err != nil {
		return fmt.Errorf("dictionary: write word list: %w", err)
	}
	return nil
}
