package dictionary

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/murmur/internal/transcript/phonetic"
)

// file is the on-disk layout.
//
//	words:
//	  kubernetes: [english]
//	  gnocchi: [italian, english]
type file struct {
	Words map[string][]string `yaml:"words"`
}

// Option configures a Store.
type Option func(*Store)

// WithDefaultLanguages sets the tags given to words added without any.
// Defaults to [phonetic.DefaultLanguages].
func WithDefaultLanguages(langs ...string) Option {
	return func(s *Store) {
		if len(langs) > 0 {
			s.defaults = slices.Clone(langs)
		}
	}
}

// WithOnChange registers fn to run after every successful mutation with a
// copy of the new dictionary.
func WithOnChange(fn func(Dictionary)) Option {
	return func(s *Store) { s.onChange = append(s.onChange, fn) }
}

// Store is the persistent dictionary. An empty path keeps the dictionary in
// memory only. Store is safe for concurrent use.
type Store struct {
	path     string
	defaults []string
	onChange []func(Dictionary)

	mu    sync.RWMutex
	words Dictionary
}

// Open loads the dictionary at path. A missing file yields an empty
// dictionary; the file is created on the first mutation.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:     path,
		defaults: slices.Clone(phonetic.DefaultLanguages),
		words:    Dictionary{},
	}
	for _, o := range opts {
		o(s)
	}
	if err := ValidateLanguages(s.defaults); err != nil {
		return nil, fmt.Errorf("dictionary: default languages: %w", err)
	}
	if path == "" {
		return s, nil
	}

	d, err := Load(path)
	if err != nil {
		return nil, err
	}
	s.words = d
	return s, nil
}

// Load reads a dictionary file. A missing file is an empty dictionary.
func Load(path string) (Dictionary, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Dictionary{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dictionary: read %q: %w", path, err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("dictionary: parse %q: %w", path, err)
	}
	d := make(Dictionary, len(f.Words))
	for w, langs := range f.Words {
		d[w] = langs
	}
	return d, nil
}

// Save writes d to path atomically.
func Save(path string, d Dictionary) error {
	data, err := yaml.Marshal(file{Words: d})
	if err != nil {
		return fmt.Errorf("dictionary: encode: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("dictionary: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".dictionary-*.yaml")
	if err != nil {
		return fmt.Errorf("dictionary: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("dictionary: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("dictionary: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("dictionary: replace %q: %w", path, err)
	}
	return nil
}

// Snapshot returns a copy of the current dictionary.
func (s *Store) Snapshot() Dictionary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.words.Clone()
}

// Len returns the number of words.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.words)
}

// DefaultLanguages returns the tags given to untagged words.
func (s *Store) DefaultLanguages() []string { return slices.Clone(s.defaults) }

// Add inserts words or, when langs is non-empty, overwrites the tags of
// words already present. Nothing is stored if any word or tag is invalid.
func (s *Store) Add(words, langs []string) error {
	if err := ValidateLanguages(langs); err != nil {
		return err
	}
	norm, err := normalizeAll(words)
	if err != nil {
		return err
	}
	return s.mutate(func(d Dictionary) bool {
		changed := false
		for _, w := range norm {
			if _, ok := d[w]; ok && len(langs) == 0 {
				continue
			}
			d[w] = s.tagsOrDefault(langs)
			changed = true
		}
		return changed
	})
}

// Replace makes words the entire dictionary. Words that were already
// present keep their tags.
func (s *Store) Replace(words []string) error {
	norm, err := normalizeAll(words)
	if err != nil {
		return err
	}
	return s.mutate(func(d Dictionary) bool {
		next := make(Dictionary, len(norm))
		for _, w := range norm {
			if langs, ok := d[w]; ok {
				next[w] = langs
			} else {
				next[w] = s.tagsOrDefault(nil)
			}
		}
		clear(d)
		for w, l := range next {
			d[w] = l
		}
		return true
	})
}

// Remove deletes word.
func (s *Store) Remove(word string) error {
	w, err := NormalizeWord(word)
	if err != nil {
		return err
	}
	var found bool
	err = s.mutate(func(d Dictionary) bool {
		_, found = d[w]
		delete(d, w)
		return found
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %q", ErrNotFound, w)
	}
	return nil
}

// Import merges a newline-separated word list into the dictionary. Words
// already present keep their tags; new words get langs or the defaults.
// It returns the number of words added.
func (s *Store) Import(r io.Reader, langs []string) (int, error) {
	if err := ValidateLanguages(langs); err != nil {
		return 0, err
	}
	words, err := ParseWordList(r)
	if err != nil {
		return 0, err
	}
	added := 0
	err = s.mutate(func(d Dictionary) bool {
		for _, w := range words {
			if _, ok := d[w]; ok {
				continue
			}
			d[w] = s.tagsOrDefault(langs)
			added++
		}
		return added > 0
	})
	return added, err
}

// Export writes the word list to w.
func (s *Store) Export(w io.Writer) error {
	return WriteWordList(w, s.Snapshot())
}

// mutate applies fn to a copy, persists it and swaps it in. fn reports
// whether it changed anything.
func (s *Store) mutate(fn func(Dictionary) bool) error {
	s.mu.Lock()
	next := s.words.Clone()
	if !fn(next) {
		s.mu.Unlock()
		return nil
	}
	if s.path != "" {
		if err := Save(s.path, next); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.words = next
	snap := next.Clone()
	s.mu.Unlock()

	for _, cb := range s.onChange {
		cb(snap)
	}
	return nil
}

func (s *Store) tagsOrDefault(langs []string) []string {
	if len(langs) == 0 {
		return slices.Clone(s.defaults)
	}
	return slices.Compact(slices.Sorted(slices.Values(langs)))
}

func normalizeAll(words []string) ([]string, error) {
	if len(words) == 0 {
		return nil, ErrEmptyDictionary
	}
	out := make([]string, 0, len(words))
	for _, w := range words {
		n, err := NormalizeWord(w)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
