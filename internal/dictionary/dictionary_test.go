package dictionary_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/murmur/internal/dictionary"
	"github.com/MrWong99/murmur/internal/transcript/phonetic"
)

func openTemp(t *testing.T, opts ...dictionary.Option) (*dictionary.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dict", "dictionary.yaml")
	s, err := dictionary.Open(path, opts...)
	if err != nil {
		t.Fatalf("Open(%q): %v", path, err)
	}
	return s, path
}

func TestNormalizeWord(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"Kubernetes", "kubernetes", false},
		{"  gnocchi\r", "gnocchi", false},
		{"Ångström", "ångström", false},
		{"k8s", "", true},
		{"two words", "", true},
		{"don't", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := dictionary.NormalizeWord(tt.in)
		if tt.wantErr {
			if !errors.Is(err, dictionary.ErrInvalidWord) {
				t.Errorf("NormalizeWord(%q): got err %v, want ErrInvalidWord", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("NormalizeWord(%q): got (%q, %v), want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestParseWordList(t *testing.T) {
	t.Parallel()

	got, err := dictionary.ParseWordList(strings.NewReader("Alpha\n\n  beta \r\n\ngamma"))
	if err != nil {
		t.Fatalf("ParseWordList: %v", err)
	}
	if want := []string{"alpha", "beta", "gamma"}; !slices.Equal(got, want) {
		t.Errorf("ParseWordList: got %v, want %v", got, want)
	}

	_, err = dictionary.ParseWordList(strings.NewReader("ok\nnot-ok\n"))
	if !errors.Is(err, dictionary.ErrInvalidWord) || !strings.Contains(err.Error(), "not-ok") {
		t.Errorf("ParseWordList(invalid): got %v, want ErrInvalidWord naming the word", err)
	}

	_, err = dictionary.ParseWordList(strings.NewReader("\n  \n"))
	if !errors.Is(err, dictionary.ErrEmptyDictionary) {
		t.Errorf("ParseWordList(blank): got %v, want ErrEmptyDictionary", err)
	}
}

func TestStore_AddPersistsAndReloads(t *testing.T) {
	t.Parallel()

	s, path := openTemp(t)
	if err := s.Add([]string{"Kubernetes"}, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add([]string{"gnocchi"}, []string{"italian", "english", "italian"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	reopened, err := dictionary.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got := reopened.Snapshot()
	if want := phonetic.DefaultLanguages; !slices.Equal(got["kubernetes"], want) {
		t.Errorf("kubernetes langs: got %v, want %v", got["kubernetes"], want)
	}
	if want := []string{"english", "italian"}; !slices.Equal(got["gnocchi"], want) {
		t.Errorf("gnocchi langs: got %v, want %v", got["gnocchi"], want)
	}
}

func TestStore_AddKeepsTagsWithoutLanguages(t *testing.T) {
	t.Parallel()

	s, _ := openTemp(t)
	if err := s.Add([]string{"paella"}, []string{"spanish"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add([]string{"paella"}, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := s.Snapshot()["paella"]; !slices.Equal(got, []string{"spanish"}) {
		t.Errorf("paella langs: got %v, want [spanish]", got)
	}
}

func TestStore_AddRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	s, path := openTemp(t)
	if err := s.Add([]string{"fine", "bad1"}, nil); !errors.Is(err, dictionary.ErrInvalidWord) {
		t.Errorf("Add(bad word): got %v, want ErrInvalidWord", err)
	}
	if err := s.Add([]string{"fine"}, []string{"klingon"}); !errors.Is(err, phonetic.ErrUnknownLanguage) {
		t.Errorf("Add(bad lang): got %v, want ErrUnknownLanguage", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len: got %d, want 0", s.Len())
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("file written after rejected mutations: stat err = %v", err)
	}
}

func TestStore_Remove(t *testing.T) {
	t.Parallel()

	s, _ := openTemp(t)
	if err := s.Add([]string{"alpha", "beta"}, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Remove("ALPHA"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove("alpha"); !errors.Is(err, dictionary.ErrNotFound) {
		t.Errorf("Remove twice: got %v, want ErrNotFound", err)
	}
	if got := s.Snapshot().Words(); !slices.Equal(got, []string{"beta"}) {
		t.Errorf("Words: got %v, want [beta]", got)
	}
}

func TestStore_ImportMergesAndKeepsExisting(t *testing.T) {
	t.Parallel()

	s, _ := openTemp(t)
	if err := s.Add([]string{"alpha"}, []string{"german"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	n, err := s.Import(strings.NewReader("Alpha\nbeta\n\ngamma\n"), nil)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if n != 2 {
		t.Errorf("Import: added %d, want 2", n)
	}
	d := s.Snapshot()
	if !slices.Equal(d["alpha"], []string{"german"}) {
		t.Errorf("alpha langs: got %v, want [german]", d["alpha"])
	}
	if !slices.Equal(d["beta"], phonetic.DefaultLanguages) {
		t.Errorf("beta langs: got %v, want defaults", d["beta"])
	}
}

func TestStore_ImportIsAllOrNothing(t *testing.T) {
	t.Parallel()

	s, _ := openTemp(t)
	_, err := s.Import(strings.NewReader("good\nba d\n"), nil)
	if !errors.Is(err, dictionary.ErrInvalidWord) {
		t.Fatalf("Import: got %v, want ErrInvalidWord", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len after failed import: got %d, want 0", s.Len())
	}
	if _, err := s.Import(strings.NewReader(""), nil); !errors.Is(err, dictionary.ErrEmptyDictionary) {
		t.Errorf("Import(empty): got %v, want ErrEmptyDictionary", err)
	}
}

func TestStore_ExportSorted(t *testing.T) {
	t.Parallel()

	s, _ := openTemp(t)
	if err := s.Add([]string{"zulu", "alpha", "mike"}, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	var buf bytes.Buffer
	if err := s.Export(&buf); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if got, want := buf.String(), "alpha\nmike\nzulu"; got != want {
		t.Errorf("Export: got %q, want %q", got, want)
	}
}

func TestStore_ReplaceKeepsKnownTags(t *testing.T) {
	t.Parallel()

	s, _ := openTemp(t)
	if err := s.Add([]string{"alpha"}, []string{"spanish"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add([]string{"beta"}, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Replace([]string{"alpha", "gamma"}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	d := s.Snapshot()
	if got := d.Words(); !slices.Equal(got, []string{"alpha", "gamma"}) {
		t.Errorf("Words: got %v, want [alpha gamma]", got)
	}
	if !slices.Equal(d["alpha"], []string{"spanish"}) {
		t.Errorf("alpha langs: got %v, want [spanish]", d["alpha"])
	}
}

func TestStore_OnChangeAndSnapshotIsolation(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen []int
	)
	s, _ := openTemp(t, dictionary.WithOnChange(func(d dictionary.Dictionary) {
		mu.Lock()
		seen = append(seen, len(d))
		mu.Unlock()
	}))
	if err := s.Add([]string{"one"}, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	// A no-op add does not notify.
	if err := s.Add([]string{"one"}, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add([]string{"two"}, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}

	snap := s.Snapshot()
	snap["three"] = nil
	snap["one"][0] = "mutated"
	if s.Len() != 2 || s.Snapshot()["one"][0] == "mutated" {
		t.Error("Snapshot shares state with the store")
	}

	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(seen, []int{1, 2}) {
		t.Errorf("onChange sizes: got %v, want [1 2]", seen)
	}
}

func TestOpen_RejectsUnknownDefaultLanguage(t *testing.T) {
	t.Parallel()

	_, err := dictionary.Open("", dictionary.WithDefaultLanguages("klingon"))
	if !errors.Is(err, phonetic.ErrUnknownLanguage) {
		t.Errorf("Open: got %v, want ErrUnknownLanguage", err)
	}
}

func TestLoad_CorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "d.yaml")
	if err := os.WriteFile(path, []byte("words: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := dictionary.Open(path); err == nil {
		t.Error("Open(corrupt): got nil error")
	}
}
