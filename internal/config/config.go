// Package config provides the configuration schema, loader, watcher and
// provider registry for murmur.
package config

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/MrWong99/murmur/internal/archive"
	"github.com/MrWong99/murmur/internal/capture"
	"github.com/MrWong99/murmur/internal/history"
	"github.com/MrWong99/murmur/internal/transcript"
	"github.com/MrWong99/murmur/internal/transcript/format"
	"github.com/MrWong99/murmur/internal/transcript/phonetic"
	"github.com/MrWong99/murmur/pkg/audio"
)

// DefaultListenAddr is where the HTTP API listens unless configured.
const DefaultListenAddr = "127.0.0.1:4800"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to a slog level. Unknown values map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader];
// keys missing from the file keep their [Default] values.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Audio         AudioConfig         `yaml:"audio"`
	Providers     ProvidersConfig     `yaml:"providers"`
	LLM           LLMConfig           `yaml:"llm"`
	Dictionary    DictionaryConfig    `yaml:"dictionary"`
	Format        FormatConfig        `yaml:"format"`
	History       HistoryConfig       `yaml:"history"`
	Output        OutputConfig        `yaml:"output"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP API.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// APIEnabled starts the HTTP API (and the MCP endpoint under it).
	APIEnabled bool `yaml:"api_enabled"`
}

// AudioConfig controls microphone capture.
type AudioConfig struct {
	// Device is the input device id; empty selects the system default.
	Device string `yaml:"device"`

	// MaxDuration caps a single recording.
	MaxDuration time.Duration `yaml:"max_duration"`

	// LevelInterval is the level meter window.
	LevelInterval time.Duration `yaml:"level_interval"`

	// KeepRecordings leaves WAV files in the recordings directory after
	// processing.
	KeepRecordings bool `yaml:"keep_recordings"`
}

// ProvidersConfig selects the speech-to-text and language-model backends.
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`

	// PreloadModel loads the transcription model at startup instead of on
	// the first recording.
	PreloadModel bool `yaml:"preload_model"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "whisper-native").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider. For whisper-native it is
	// the path to the ggml model file.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this provider fails.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// LLMConfig controls the refinement stage.
type LLMConfig struct {
	Enabled bool `yaml:"enabled"`

	// Prompt replaces the built-in prompt. It must contain {{TRANSCRIPT}}
	// and may contain {{DICTIONARY}}.
	Prompt string `yaml:"prompt"`

	// Timeout bounds one refinement.
	Timeout time.Duration `yaml:"timeout"`

	// MaxTokens caps the response length; 0 leaves it to the provider.
	MaxTokens int `yaml:"max_tokens"`

	// Warmup sends a tiny request when a recording starts so the model is
	// loaded by the time the transcript is ready.
	Warmup bool `yaml:"warmup"`
}

// DictionaryConfig locates the user vocabulary.
type DictionaryConfig struct {
	// Path is the YAML dictionary file. Defaults to dictionary.yaml in the
	// data directory.
	Path string `yaml:"path"`

	// DefaultLanguages tag words added without explicit languages.
	DefaultLanguages []string `yaml:"default_languages"`

	// TokenScoped restricts matching to single tokens instead of n-grams.
	TokenScoped bool `yaml:"token_scoped"`
}

// FormatConfig lists formatting rules applied after refinement.
type FormatConfig struct {
	Rules []format.Rule `yaml:"rules"`
}

// HistoryConfig selects the history store.
type HistoryConfig struct {
	// Backend is one of sqlite, postgres or memory.
	Backend string `yaml:"backend"`

	// DSN is a file path for sqlite and a connection string for postgres.
	// The sqlite default is history.db in the data directory.
	DSN string `yaml:"dsn"`

	// Limit is the number of kept entries; 0 disables history but still
	// records statistics.
	Limit int `yaml:"limit"`
}

// OutputConfig controls transcript delivery.
type OutputConfig struct {
	CopyToClipboard bool `yaml:"copy_to_clipboard"`
}

// NotificationsConfig controls desktop notifications.
type NotificationsConfig struct {
	Desktop bool `yaml:"desktop"`
	Sound   bool `yaml:"sound"`
}

// ArchiveConfig configures recording uploads.
type ArchiveConfig struct {
	S3 archive.Config `yaml:"s3"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`

	// TraceSampleRatio samples root traces; 0 or 1 keeps every trace.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// Default returns the configuration used for keys absent from the file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: DefaultListenAddr,
			LogLevel:   LogInfo,
			APIEnabled: true,
		},
		Audio: AudioConfig{
			MaxDuration:   capture.DefaultMaxDuration,
			LevelInterval: audio.DefaultLevelInterval,
		},
		Providers: ProvidersConfig{
			STT: ProviderEntry{Name: "whisper-native"},
		},
		LLM: LLMConfig{
			Timeout: transcript.DefaultLLMTimeout,
			Warmup:  true,
		},
		Dictionary: DictionaryConfig{
			DefaultLanguages: append([]string(nil), phonetic.DefaultLanguages...),
		},
		History: HistoryConfig{
			Backend: history.BackendSQLite,
			Limit:   history.DefaultLimit,
		},
		Output:        OutputConfig{CopyToClipboard: true},
		Notifications: NotificationsConfig{Desktop: true},
		Telemetry:     TelemetryConfig{ServiceName: "murmur"},
	}
}

// ResolvePaths fills file locations left empty with defaults under dir.
func (c *Config) ResolvePaths(dir string) {
	if c.Dictionary.Path == "" {
		c.Dictionary.Path = filepath.Join(dir, "dictionary.yaml")
	}
	if c.History.DSN == "" && (c.History.Backend == "" || c.History.Backend == history.BackendSQLite) {
		c.History.DSN = filepath.Join(dir, "history.db")
	}
}
