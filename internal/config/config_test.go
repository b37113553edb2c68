package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/history"
	"github.com/MrWong99/murmur/internal/transcript/format"
	"github.com/MrWong99/murmur/pkg/provider/stt"
	sttmock "github.com/MrWong99/murmur/pkg/provider/stt/mock"
)

func TestLoadFromReader_EmptyDocumentYieldsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	def := config.Default()
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("ListenAddr: got %q, want %q", cfg.Server.ListenAddr, config.DefaultListenAddr)
	}
	if cfg.History.Limit != history.DefaultLimit {
		t.Errorf("History.Limit: got %d, want %d", cfg.History.Limit, history.DefaultLimit)
	}
	if cfg.Audio.MaxDuration != def.Audio.MaxDuration {
		t.Errorf("Audio.MaxDuration: got %v, want %v", cfg.Audio.MaxDuration, def.Audio.MaxDuration)
	}
	if !cfg.Output.CopyToClipboard || !cfg.Server.APIEnabled {
		t.Error("clipboard delivery and the API should be on by default")
	}
	if cfg.LLM.Enabled {
		t.Error("LLM refinement should be off by default")
	}
}

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()

	yaml := `
server:
  listen_addr: "127.0.0.1:9000"
  log_level: debug
audio:
  device: "3"
  max_duration: 90s
  level_interval: 50ms
providers:
  stt:
    name: whisper-native
    model: /models/ggml-base.en.bin
    fallbacks:
      - name: deepgram
        api_key: dg
  llm:
    name: ollama
    model: llama3.2
llm:
  enabled: true
  prompt: "Fix: {{TRANSCRIPT}} using {{DICTIONARY}}"
  timeout: 10s
  warmup: false
dictionary:
  default_languages: [english]
  token_scoped: true
format:
  rules:
    - id: newline
      trigger: new line
      replacement: "\n"
      enabled: true
history:
  backend: memory
  limit: 0
output:
  copy_to_clipboard: false
notifications:
  desktop: true
  sound: true
archive:
  s3:
    bucket: recordings
    prefix: murmur
    access_key_id: k
    secret_access_key: s
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Audio.MaxDuration != 90*time.Second || cfg.Audio.LevelInterval != 50*time.Millisecond {
		t.Errorf("audio durations: got %v / %v", cfg.Audio.MaxDuration, cfg.Audio.LevelInterval)
	}
	if len(cfg.Providers.STT.Fallbacks) != 1 || cfg.Providers.STT.Fallbacks[0].Name != "deepgram" {
		t.Errorf("stt fallbacks: got %+v", cfg.Providers.STT.Fallbacks)
	}
	if cfg.History.Limit != 0 {
		t.Errorf("History.Limit: got %d, want explicit 0", cfg.History.Limit)
	}
	if cfg.LLM.Timeout != 10*time.Second || cfg.LLM.Warmup {
		t.Errorf("llm: got %+v", cfg.LLM)
	}
	want := []format.Rule{{ID: "newline", Trigger: "new line", Replacement: "\n", Enabled: true}}
	if !slices.Equal(cfg.Format.Rules, want) {
		t.Errorf("format rules: got %+v", cfg.Format.Rules)
	}
	if !cfg.Archive.S3.Enabled() {
		t.Error("archive should be enabled")
	}
}

func TestLoadFromReader_UnknownKey(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("server:\n  colour: blue\n"))
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()

	yaml := `
server:
  log_level: loud
audio:
  max_duration: 0s
providers:
  stt:
    name: ""
llm:
  enabled: true
  prompt: "no placeholder here"
dictionary:
  default_languages: [klingon]
format:
  rules:
    - trigger: "(["
      mode: regex
      enabled: true
history:
  backend: mongo
  limit: -1
archive:
  s3:
    bucket: b
telemetry:
  trace_sample_ratio: 2
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{
		"server.log_level",
		"audio.max_duration",
		"providers.stt.name is required",
		"llm.enabled requires providers.llm",
		"llm.prompt must contain {{TRANSCRIPT}}",
		`"klingon" is unknown`,
		"format.rules",
		"history.backend",
		"history.limit",
		"archive.s3",
		"telemetry.trace_sample_ratio",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got:\n%v", want, err)
		}
	}
}

func TestValidate_PostgresNeedsDSN(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("history:\n  backend: postgres\n"))
	if err == nil || !strings.Contains(err.Error(), "history.dsn") {
		t.Fatalf("LoadFromReader: got %v, want history.dsn error", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Load: got %v, want os.ErrNotExist", err)
	}
}

func TestResolvePaths(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.ResolvePaths("/data")
	if cfg.Dictionary.Path != filepath.Join("/data", "dictionary.yaml") {
		t.Errorf("Dictionary.Path: got %q", cfg.Dictionary.Path)
	}
	if cfg.History.DSN != filepath.Join("/data", "history.db") {
		t.Errorf("History.DSN: got %q", cfg.History.DSN)
	}

	pg := config.Default()
	pg.History.Backend = history.BackendPostgres
	pg.History.DSN = "postgres://x"
	pg.ResolvePaths("/data")
	if pg.History.DSN != "postgres://x" {
		t.Errorf("postgres DSN overwritten: %q", pg.History.DSN)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	old := config.Default()
	same := config.Default()
	if d := config.Diff(old, same); !d.Empty() {
		t.Errorf("Diff(equal): got %+v, want empty", d)
	}

	changed := config.Default()
	changed.Server.LogLevel = config.LogDebug
	changed.LLM.Prompt = "x {{TRANSCRIPT}}"
	changed.Format.Rules = []format.Rule{{Trigger: "a", Replacement: "b", Enabled: true}}
	changed.History.Limit = 20
	changed.Output.CopyToClipboard = false
	changed.Notifications.Sound = true
	changed.Providers.STT.Model = "other"
	changed.Audio.Device = "2"

	d := config.Diff(old, changed)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level: got %+v", d)
	}
	if !d.LLMChanged || !d.FormatChanged || !d.HistoryLimitChanged || !d.OutputChanged || !d.NotificationsChanged {
		t.Errorf("hot flags: got %+v", d)
	}
	if want := []string{"audio", "providers"}; !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired: got %v, want %v", d.RestartRequired, want)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT(unregistered): got %v", err)
	}
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLLM(unregistered): got %v", err)
	}

	var gotModel string
	reg.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		gotModel = e.Model
		return &sttmock.Provider{}, nil
	})
	reg.RegisterSTT("deepgram", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })

	if !reg.HasSTT("whisper") || reg.HasSTT("nope") {
		t.Errorf("HasSTT: got whisper=%v nope=%v, want true/false", reg.HasSTT("whisper"), reg.HasSTT("nope"))
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "whisper", Model: "base.en"}); err != nil {
		t.Fatalf("CreateSTT(whisper): %v", err)
	}
	if gotModel != "base.en" {
		t.Errorf("factory entry.Model: got %q, want base.en", gotModel)
	}
	if got, want := reg.STTNames(), []string{"deepgram", "whisper"}; !slices.Equal(got, want) {
		t.Errorf("STTNames: got %v, want %v", got, want)
	}
	if got := reg.LLMNames(); len(got) != 0 {
		t.Errorf("LLMNames: got %v, want none", got)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(filepath.Join("..", "..", "configs", "murmur.example.yaml"))
	if err != nil {
		t.Fatalf("Load(example): %v", err)
	}
	if cfg.Providers.STT.Name != "whisper-native" || len(cfg.Providers.STT.Fallbacks) != 1 {
		t.Errorf("providers.stt: got %q with %d fallbacks", cfg.Providers.STT.Name, len(cfg.Providers.STT.Fallbacks))
	}
	if len(cfg.Format.Rules) != 2 {
		t.Errorf("format.rules: got %d, want 2", len(cfg.Format.Rules))
	}
	if cfg.Audio.MaxDuration != 5*time.Minute {
		t.Errorf("audio.max_duration: got %v, want 5m", cfg.Audio.MaxDuration)
	}
}
