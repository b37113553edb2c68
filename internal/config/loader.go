package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/murmur/internal/history"
	"github.com/MrWong99/murmur/internal/transcript/format"
	"github.com/MrWong99/murmur/internal/transcript/llmcorrect"
	"github.com/MrWong99/murmur/internal/transcript/phonetic"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "openai-direct", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"whisper", "whisper-native", "deepgram"},
}

// DataDir returns the per-user directory for murmur's files.
func DataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: locate user config dir: %w", err)
	}
	return filepath.Join(base, "murmur"), nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over [Default] and validates the
// result. Unknown keys are rejected. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.APIEnabled && cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required when server.api_enabled is true"))
	}

	// Audio
	if cfg.Audio.MaxDuration <= 0 {
		errs = append(errs, fmt.Errorf("audio.max_duration %v must be positive", cfg.Audio.MaxDuration))
	}
	if cfg.Audio.LevelInterval < 0 {
		errs = append(errs, fmt.Errorf("audio.level_interval %v must not be negative", cfg.Audio.LevelInterval))
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	validateProviderName("stt", cfg.Providers.STT)
	validateProviderName("llm", cfg.Providers.LLM)

	// LLM
	if cfg.LLM.Enabled && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("llm.enabled requires providers.llm to be configured"))
	}
	if cfg.LLM.Prompt != "" && !strings.Contains(cfg.LLM.Prompt, llmcorrect.TranscriptPlaceholder) {
		errs = append(errs, fmt.Errorf("llm.prompt must contain %s", llmcorrect.TranscriptPlaceholder))
	}
	if cfg.LLM.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("llm.timeout %v must be positive", cfg.LLM.Timeout))
	}
	if cfg.LLM.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("llm.max_tokens %d must not be negative", cfg.LLM.MaxTokens))
	}

	// Dictionary
	for i, lang := range cfg.Dictionary.DefaultLanguages {
		if !phonetic.IsKnownLanguage(lang) {
			errs = append(errs, fmt.Errorf("dictionary.default_languages[%d] %q is unknown; valid values: %s", i, lang, strings.Join(phonetic.Languages(), ", ")))
		}
	}

	// Format
	if err := format.Validate(cfg.Format.Rules); err != nil {
		errs = append(errs, fmt.Errorf("format.rules: %w", err))
	}

	// History
	switch cfg.History.Backend {
	case "", history.BackendSQLite, history.BackendMemory:
	case history.BackendPostgres:
		if cfg.History.DSN == "" {
			errs = append(errs, errors.New("history.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("history.backend %q is invalid; valid values: sqlite, postgres, memory", cfg.History.Backend))
	}
	if cfg.History.Limit < 0 {
		errs = append(errs, fmt.Errorf("history.limit %d must not be negative", cfg.History.Limit))
	}

	// Archive
	if s3 := cfg.Archive.S3; s3.Enabled() && (s3.AccessKeyID == "" || s3.SecretAccessKey == "") {
		errs = append(errs, errors.New("archive.s3.access_key_id and archive.s3.secret_access_key are required when archive.s3.bucket is set"))
	}

	// Telemetry
	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %v must be within [0, 1]", r))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning for every name in entry and its
// fallbacks that is not in the [ValidProviderNames] list for kind.
func validateProviderName(kind string, entry ProviderEntry) {
	for _, e := range append([]ProviderEntry{entry}, entry.Fallbacks...) {
		if e.Name == "" || slices.Contains(ValidProviderNames[kind], e.Name) {
			continue
		}
		slog.Warn("unknown provider name, may be a typo or a third-party provider",
			"kind", kind,
			"name", e.Name,
			"known", ValidProviderNames[kind],
		)
	}
}
