// Package api serves the local HTTP interface of the dictation app: file
// transcription, dictionary and history management, recording triggers and
// a websocket event stream.
//
// All routes are registered on a single [http.ServeMux] and wrapped in
// [observe.Middleware]. Request bodies are validated with
// go-playground/validator before reaching the core.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/MrWong99/murmur/internal/app"
	"github.com/MrWong99/murmur/internal/dictionary"
	"github.com/MrWong99/murmur/internal/health"
	"github.com/MrWong99/murmur/internal/history"
	"github.com/MrWong99/murmur/internal/notify"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/transcript"
)

// MaxUploadBytes caps the body of POST /api/transcribe.
const MaxUploadBytes = 100 << 20

// Controller starts and stops recordings. [app.App] implements it.
type Controller interface {
	StartRecording(ctx context.Context, opts app.StartOptions) (app.Status, error)
	StopRecording(ctx context.Context) (*transcript.Result, error)
	Toggle(ctx context.Context) (app.ToggleResult, error)
	Status() app.Status
}

// FileTranscriber transcribes an uploaded WAV file.
// [transcript.Orchestrator] implements it.
type FileTranscriber interface {
	TranscribeFile(ctx context.Context, path string) (string, error)
}

// Deps are the subsystems the API exposes.
type Deps struct {
	Controller  Controller
	Transcriber FileTranscriber
	Dictionary  *dictionary.Store
	History     history.Store
	Bus         *notify.Bus
	Health      *health.Handler

	// MCP is mounted at /mcp when non-nil.
	MCP http.Handler

	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithUploadDir sets where uploads are spooled. Defaults to os.TempDir().
func WithUploadDir(dir string) Option {
	return func(s *Server) { s.uploadDir = dir }
}

// WithOriginPatterns allows websocket connections from the given host
// patterns in addition to same-origin requests.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// WithObserveMetrics overrides the HTTP metrics sink.
func WithObserveMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server holds the HTTP handlers.
type Server struct {
	deps      Deps
	uploadDir string
	origins   []string
	metrics   *observe.Metrics
}

// New creates a Server. Controller, Transcriber, Dictionary, History and
// Bus are required.
func New(deps Deps, opts ...Option) (*Server, error) {
	if deps.Controller == nil || deps.Transcriber == nil || deps.Dictionary == nil || deps.History == nil || deps.Bus == nil {
		return nil, errors.New("api: controller, transcriber, dictionary, history and bus are required")
	}
	s := &Server{deps: deps, uploadDir: os.TempDir()}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/transcribe", s.handleTranscribe)

	mux.HandleFunc("GET /api/dictionary", s.handleDictionaryList)
	mux.HandleFunc("POST /api/dictionary", s.handleDictionaryAdd)
	mux.HandleFunc("DELETE /api/dictionary/{word}", s.handleDictionaryRemove)
	mux.HandleFunc("POST /api/dictionary/import", s.handleDictionaryImport)
	mux.HandleFunc("GET /api/dictionary/export", s.handleDictionaryExport)

	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/stats", s.handleStats)

	mux.HandleFunc("GET /api/record", s.handleRecordStatus)
	mux.HandleFunc("POST /api/record/start", s.handleRecordStart)
	mux.HandleFunc("POST /api/record/stop", s.handleRecordStop)
	mux.HandleFunc("POST /api/record/toggle", s.handleRecordToggle)

	mux.HandleFunc("GET /api/events", s.handleEvents)

	if s.deps.Health != nil {
		s.deps.Health.Register(mux)
	}
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}
	if s.deps.MCP != nil {
		mux.Handle("/mcp", s.deps.MCP)
	}

	return observe.Middleware(s.metrics)(mux)
}

// NewHTTPServer returns an http.Server for addr with conservative timeouts.
// WriteTimeout stays unset so websocket streams and long transcriptions are
// not cut off.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("api: failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
