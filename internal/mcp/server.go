// Package mcp exposes the dictation core as Model Context Protocol tools so
// assistants can transcribe files, manage the custom dictionary and read the
// history. The same server is reachable over streamable HTTP, mounted at
// /mcp by the API, and over stdio.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/murmur/internal/dictionary"
	"github.com/MrWong99/murmur/internal/history"
	"github.com/MrWong99/murmur/internal/observe"
)

// Tool names.
const (
	ToolTranscribeFile = "transcribe_file"
	ToolDictionaryList = "dictionary_list"
	ToolDictionaryAdd  = "dictionary_add"
	ToolHistoryRecent  = "history_recent"
	ToolStats          = "stats"
)

// maxHistory caps history_recent.
const maxHistory = 100

// FileTranscriber transcribes a WAV file on disk.
type FileTranscriber interface {
	TranscribeFile(ctx context.Context, path string) (string, error)
}

// Deps are the subsystems the tools operate on.
type Deps struct {
	Transcriber FileTranscriber
	Dictionary  *dictionary.Store
	History     history.Store
	Metrics     *observe.Metrics
}

// Server wraps the MCP server and its tools.
type Server struct {
	srv  *mcpsdk.Server
	deps Deps
}

// New registers every tool on a fresh MCP server.
func New(deps Deps, version string) (*Server, error) {
	if deps.Transcriber == nil || deps.Dictionary == nil || deps.History == nil {
		return nil, errors.New("mcp: transcriber, dictionary and history are required")
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	s := &Server{
		srv:  mcpsdk.NewServer(&mcpsdk.Implementation{Name: "murmur", Version: version}, nil),
		deps: deps,
	}

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        ToolTranscribeFile,
		Description: "Transcribe a local WAV file and apply the custom dictionary. Returns the text.",
	}, instrument(s, ToolTranscribeFile, s.transcribeFile))

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        ToolDictionaryList,
		Description: "List the custom dictionary words with their language tags.",
	}, instrument(s, ToolDictionaryList, s.dictionaryList))

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        ToolDictionaryAdd,
		Description: "Add a word to the custom dictionary. Misheard words that sound like it are corrected in later transcriptions.",
	}, instrument(s, ToolDictionaryAdd, s.dictionaryAdd))

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        ToolHistoryRecent,
		Description: "Return the most recent dictations, newest first.",
	}, instrument(s, ToolHistoryRecent, s.historyRecent))

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        ToolStats,
		Description: "Return lifetime dictation statistics.",
	}, instrument(s, ToolStats, s.stats))

	return s, nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcpsdk.Server { return s.srv }

// HTTPHandler serves the streamable HTTP transport.
func (s *Server) HTTPHandler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.srv }, nil)
}

// RunStdio serves one client over stdin and stdout until it disconnects or
// ctx ends.
func (s *Server) RunStdio(ctx context.Context) error {
	slog.Info("mcp: serving over stdio")
	if err := s.srv.Run(ctx, &mcpsdk.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp: stdio: %w", err)
	}
	return nil
}

// instrument logs and counts every tool call.
func instrument[In, Out any](s *Server, name string, h mcpsdk.ToolHandlerFor[In, Out]) mcpsdk.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest, in In) (*mcpsdk.CallToolResult, Out, error) {
		start := time.Now()
		res, out, err := h(ctx, req, in)
		status := "ok"
		if err != nil {
			status = "error"
			s.deps.Metrics.RecordProviderError(ctx, "mcp", name)
		}
		s.deps.Metrics.RecordProviderRequest(ctx, "mcp", name, status)
		slog.Debug("mcp: tool call", "tool", name, "took", time.Since(start), "err", err)
		return res, out, err
	}
}

// ── transcribe_file ──────────────────────────────────────────────────────────

type transcribeArgs struct {
	Path string `json:"path" jsonschema:"absolute path of a WAV file"`
}

type transcribeOutput struct {
	Text string `json:"text"`
}

func (s *Server) transcribeFile(ctx context.Context, _ *mcpsdk.CallToolRequest, in transcribeArgs) (*mcpsdk.CallToolResult, transcribeOutput, error) {
	path := strings.TrimSpace(in.Path)
	if path == "" {
		return nil, transcribeOutput{}, errors.New("path is required")
	}
	if !filepath.IsAbs(path) {
		return nil, transcribeOutput{}, fmt.Errorf("path %q must be absolute", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, transcribeOutput{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, transcribeOutput{}, fmt.Errorf("%s is a directory", path)
	}
	text, err := s.deps.Transcriber.TranscribeFile(ctx, path)
	if err != nil {
		return nil, transcribeOutput{}, err
	}
	return nil, transcribeOutput{Text: text}, nil
}

// ── dictionary ───────────────────────────────────────────────────────────────

type dictionaryListOutput struct {
	Words map[string][]string `json:"words"`
	Count int                 `json:"count"`
}

func (s *Server) dictionaryList(context.Context, *mcpsdk.CallToolRequest, struct{}) (*mcpsdk.CallToolResult, dictionaryListOutput, error) {
	d := s.deps.Dictionary.Snapshot()
	return nil, dictionaryListOutput{Words: d, Count: len(d)}, nil
}

type dictionaryAddArgs struct {
	Word      string   `json:"word" jsonschema:"the word to add, letters only"`
	Languages []string `json:"languages,omitempty" jsonschema:"phonetic languages: english, french, german, spanish, italian or generic; defaults apply when empty"`
}

type dictionaryAddOutput struct {
	Word      string   `json:"word"`
	Languages []string `json:"languages"`
	Count     int      `json:"count"`
}

func (s *Server) dictionaryAdd(_ context.Context, _ *mcpsdk.CallToolRequest, in dictionaryAddArgs) (*mcpsdk.CallToolResult, dictionaryAddOutput, error) {
	if err := s.deps.Dictionary.Add([]string{in.Word}, in.Languages); err != nil {
		return nil, dictionaryAddOutput{}, err
	}
	w, _ := dictionary.NormalizeWord(in.Word)
	d := s.deps.Dictionary.Snapshot()
	return nil, dictionaryAddOutput{Word: w, Languages: d[w], Count: len(d)}, nil
}

// ── history ──────────────────────────────────────────────────────────────────

type historyArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"number of entries, 1 to 100; defaults to 5"`
}

type historyOutput struct {
	Entries []history.Entry `json:"entries"`
}

func (s *Server) historyRecent(ctx context.Context, _ *mcpsdk.CallToolRequest, in historyArgs) (*mcpsdk.CallToolResult, historyOutput, error) {
	n := in.Limit
	if n <= 0 {
		n = history.DefaultLimit
	}
	n = min(n, maxHistory)
	entries, err := s.deps.History.Recent(ctx, n)
	if err != nil {
		return nil, historyOutput{}, err
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return nil, historyOutput{Entries: entries}, nil
}

func (s *Server) stats(ctx context.Context, _ *mcpsdk.CallToolRequest, _ struct{}) (*mcpsdk.CallToolResult, history.Stats, error) {
	st, err := s.deps.History.Stats(ctx)
	return nil, st, err
}
