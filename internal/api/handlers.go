package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/MrWong99/murmur/internal/app"
	"github.com/MrWong99/murmur/internal/capture"
	"github.com/MrWong99/murmur/internal/dictionary"
	"github.com/MrWong99/murmur/internal/history"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/transcript/phonetic"
)

// ── Transcription ────────────────────────────────────────────────────────────

type transcribeResponse struct {
	Text string `json:"text"`
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		if maxErr := (*http.MaxBytesError)(nil); errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", maxErr.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart form: %w", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	src, _, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("missing audio field"))
		return
	}
	defer src.Close()

	path := filepath.Join(s.uploadDir, uuid.NewString()+".wav")
	if err := spool(path, src); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("api: failed to remove upload", "path", path, "err", err)
		}
	}()

	text, err := s.deps.Transcriber.TranscribeFile(r.Context(), path)
	if err != nil {
		observe.Logger(r.Context()).Error("api: transcription failed", "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, transcribeResponse{Text: text})
}

func spool(path string, src io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("api: create upload: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("api: write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("api: write upload: %w", err)
	}
	return nil
}

// ── Dictionary ───────────────────────────────────────────────────────────────

type dictionaryResponse struct {
	Words            map[string][]string `json:"words"`
	Count            int                 `json:"count"`
	DefaultLanguages []string            `json:"default_languages"`
}

func (s *Server) dictionaryState() dictionaryResponse {
	d := s.deps.Dictionary.Snapshot()
	return dictionaryResponse{Words: d, Count: len(d), DefaultLanguages: s.deps.Dictionary.DefaultLanguages()}
}

func (s *Server) handleDictionaryList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.dictionaryState())
}

func (s *Server) handleDictionaryAdd(w http.ResponseWriter, r *http.Request) {
	var req DictionaryAddRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}
	if err := s.deps.Dictionary.Add(req.Words, req.Languages); err != nil {
		writeError(w, dictionaryStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.dictionaryState())
}

func (s *Server) handleDictionaryRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Dictionary.Remove(r.PathValue("word")); err != nil {
		writeError(w, dictionaryStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.dictionaryState())
}

type importResponse struct {
	Added int `json:"added"`
	Count int `json:"count"`
}

// handleDictionaryImport merges a text/plain word list. An optional
// ?languages=german,italian query tags the new words.
func (s *Server) handleDictionaryImport(w http.ResponseWriter, r *http.Request) {
	var langs []string
	if q := r.URL.Query().Get("languages"); q != "" {
		langs = strings.Split(q, ",")
	}
	added, err := s.deps.Dictionary.Import(http.MaxBytesReader(w, r.Body, 1<<20), langs)
	if err != nil {
		writeError(w, dictionaryStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, importResponse{Added: added, Count: s.deps.Dictionary.Len()})
}

func (s *Server) handleDictionaryExport(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="dictionary.txt"`)
	if err := s.deps.Dictionary.Export(w); err != nil {
		slog.Warn("api: dictionary export failed", "err", err)
	}
}

func dictionaryStatus(err error) int {
	switch {
	case errors.Is(err, dictionary.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dictionary.ErrInvalidWord),
		errors.Is(err, dictionary.ErrEmptyDictionary),
		errors.Is(err, phonetic.ErrUnknownLanguage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ── History ──────────────────────────────────────────────────────────────────

type historyResponse struct {
	Entries []history.Entry `json:"entries"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := historyQuery{Limit: history.DefaultLimit}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit: %w", err))
			return
		}
		q.Limit = n
	}
	if !validateStruct(w, &q) {
		return
	}
	entries, err := s.deps.History.Recent(r.Context(), q.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Entries: entries})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.History.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ── Recording ────────────────────────────────────────────────────────────────

func (s *Server) handleRecordStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Controller.Status())
}

func (s *Server) handleRecordStart(w http.ResponseWriter, r *http.Request) {
	var req RecordStartRequest
	if !decodeAndValidate(w, r, &req, true) {
		return
	}
	st, err := s.deps.Controller.StartRecording(r.Context(), app.StartOptions{BypassLLM: req.BypassLLM})
	if err != nil {
		writeError(w, recordStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRecordStop(w http.ResponseWriter, r *http.Request) {
	// The pipeline outlives a client that hangs up.
	res, err := s.deps.Controller.StopRecording(context.WithoutCancel(r.Context()))
	if err != nil {
		writeError(w, recordStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRecordToggle(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Controller.Toggle(context.WithoutCancel(r.Context()))
	if err != nil {
		writeError(w, recordStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func recordStatus(err error) int {
	switch {
	case errors.Is(err, capture.ErrAlreadyRecording), errors.Is(err, capture.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, app.ErrNoCapture), errors.Is(err, capture.ErrNoInputDevice):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
