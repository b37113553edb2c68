package phonetic

import (
	"maps"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithEncoder registers enc for lang, replacing a built-in encoder of the
// same name.
func WithEncoder(lang string, enc Encoder) Option {
	return func(m *Matcher) { m.encoders[lang] = enc }
}

// WithDefaultLanguages overrides [DefaultLanguages] for untagged words.
func WithDefaultLanguages(langs ...string) Option {
	return func(m *Matcher) {
		if len(langs) > 0 {
			m.defaults = slices.Clone(langs)
		}
	}
}

// WithTokenScoped replaces only the matching token at its own position,
// keeps surrounding punctuation and carries over a leading capital. Without
// it every occurrence of the token's text anywhere in the transcript is
// replaced, substrings of other words included.
func WithTokenScoped() Option {
	return func(m *Matcher) { m.tokenScoped = true }
}

// Matcher applies dictionary corrections. It is read-only after New and safe
// for concurrent use.
type Matcher struct {
	encoders    map[string]Encoder
	defaults    []string
	tokenScoped bool
}

// New returns a Matcher with the built-in encoders.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		encoders: maps.Clone(builtin),
		defaults: slices.Clone(DefaultLanguages),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Codes returns the sorted phonetic codes of word under langs, or under the
// default languages when langs is empty.
func (m *Matcher) Codes(word string, langs ...string) ([]string, error) {
	if len(langs) == 0 {
		langs = m.defaults
	}
	set, err := encode(m.encoders, Fold(word), langs)
	if err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(set)), nil
}

// Entry is one encoded dictionary word.
type Entry struct {
	Word      string
	Languages []string

	codes   codeSet
	langKey string
}

// Index is the encoded form of a dictionary snapshot. Entries are sorted by
// word so matching is deterministic.
type Index struct {
	Entries []Entry
}

// NewIndex encodes every word of dict. It fails with [ErrUnknownLanguage]
// when a tag has no encoder.
func (m *Matcher) NewIndex(dict map[string][]string) (*Index, error) {
	idx := &Index{Entries: make([]Entry, 0, len(dict))}
	for _, word := range slices.Sorted(maps.Keys(dict)) {
		langs := dict[word]
		if len(langs) == 0 {
			langs = m.defaults
		}
		langs = slices.Compact(slices.Sorted(slices.Values(langs)))
		codes, err := encode(m.encoders, Fold(word), langs)
		if err != nil {
			return nil, err
		}
		idx.Entries = append(idx.Entries, Entry{
			Word:      word,
			Languages: langs,
			codes:     codes,
			langKey:   strings.Join(langs, "|"),
		})
	}
	return idx, nil
}

// tokenCodes caches a token's code sets per language combination.
type tokenCodes struct {
	m      *Matcher
	folded string
	byKey  map[string]codeSet
}

func (t *tokenCodes) under(e *Entry) codeSet {
	if cs, ok := t.byKey[e.langKey]; ok {
		return cs
	}
	// Languages were validated when the index was built.
	cs, _ := encode(t.m.encoders, t.folded, e.Languages)
	t.byKey[e.langKey] = cs
	return cs
}

// match returns the last entry, in index order, whose codes overlap the
// token's.
func (m *Matcher) match(idx *Index, token string) (string, bool) {
	folded := Fold(token)
	if folded == "" {
		return "", false
	}
	tc := &tokenCodes{m: m, folded: folded, byKey: map[string]codeSet{}}
	var winner string
	for i := range idx.Entries {
		e := &idx.Entries[i]
		if len(e.codes) > 0 && tc.under(e).overlaps(e.codes) {
			winner = e.Word
		}
	}
	return winner, winner != ""
}

// Correct rewrites text against dict. An empty dictionary returns text
// unchanged without encoding anything.
//
// Tokens are whitespace separated. When a token matches several dictionary
// words the one sorting last wins. Each distinct token is looked at once.
func (m *Matcher) Correct(text string, dict map[string][]string) (string, error) {
	if len(dict) == 0 || strings.TrimSpace(text) == "" {
		return text, nil
	}
	idx, err := m.NewIndex(dict)
	if err != nil {
		return text, err
	}
	if m.tokenScoped {
		return m.correctTokens(idx, text), nil
	}

	out := text
	seen := make(map[string]struct{})
	for _, tok := range strings.Fields(text) {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		if word, ok := m.match(idx, tok); ok && word != tok {
			out = strings.ReplaceAll(out, tok, word)
		}
	}
	return out, nil
}

// correctTokens rebuilds text token by token, keeping whitespace and the
// punctuation around each token.
func (m *Matcher) correctTokens(idx *Index, text string) string {
	var b strings.Builder
	b.Grow(len(text))
	cache := make(map[string]string)

	for len(text) > 0 {
		r, size := utf8.DecodeRuneInString(text)
		if unicode.IsSpace(r) {
			b.WriteString(text[:size])
			text = text[size:]
			continue
		}
		end := strings.IndexFunc(text, unicode.IsSpace)
		if end < 0 {
			end = len(text)
		}
		b.WriteString(m.replaceCore(idx, text[:end], cache))
		text = text[end:]
	}
	return b.String()
}

func (m *Matcher) replaceCore(idx *Index, tok string, cache map[string]string) string {
	isPunct := func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) }
	start := strings.IndexFunc(tok, func(r rune) bool { return !isPunct(r) })
	if start < 0 {
		return tok
	}
	end := strings.LastIndexFunc(tok, func(r rune) bool { return !isPunct(r) })
	_, lastSize := utf8.DecodeRuneInString(tok[end:])
	core := tok[start : end+lastSize]

	word, ok := cache[core]
	if !ok {
		word, _ = m.match(idx, core)
		cache[core] = word
	}
	if word == "" || strings.EqualFold(word, core) {
		return tok
	}
	if first, _ := utf8.DecodeRuneInString(core); unicode.IsUpper(first) {
		word = capitalize(word)
	}
	return tok[:start] + word + tok[end+lastSize:]
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
