package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/coder/websocket"
)

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rawURL, err := p.buildURL()
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURL_Options(t *testing.T) {
	p, err := New("key", WithModel("base"), WithLanguage("de-DE"), WithKeywords([]string{"kubernetes", "grafana"}, 2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rawURL, err := p.buildURL()
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
	kws := q["keywords"]
	if len(kws) != 2 || kws[0] != "kubernetes:2" || kws[1] != "grafana:2" {
		t.Errorf("keywords: got %v", kws)
	}
}

func TestParseDeepgramResponse(t *testing.T) {
	tests := []struct {
		name      string
		msg       string
		text      string
		final, ok bool
	}{
		{"final", `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":" hello world ","confidence":0.9}]}}`, "hello world", true, true},
		{"interim", `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hel"}]}}`, "hel", false, true},
		{"metadata", `{"type":"Metadata"}`, "", false, false},
		{"no alternatives", `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`, "", false, false},
		{"invalid json", `{{`, "", false, false},
	}
	for _, tt := range tests {
		text, final, ok := parseDeepgramResponse([]byte(tt.msg))
		if text != tt.text || final != tt.final || ok != tt.ok {
			t.Errorf("%s: got (%q, %v, %v), want (%q, %v, %v)", tt.name, text, final, ok, tt.text, tt.final, tt.ok)
		}
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// fakeServer accepts one connection, counts the audio bytes and answers
// CloseStream with the given result messages.
func fakeServer(t *testing.T, results ...string) (*httptest.Server, *serverLog) {
	t.Helper()
	log := &serverLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.mu.Lock()
		log.auth = r.Header.Get("Authorization")
		log.mu.Unlock()
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			typ, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				log.mu.Lock()
				log.audioBytes += len(msg)
				log.mu.Unlock()
				continue
			}
			if strings.Contains(string(msg), "CloseStream") {
				for _, res := range results {
					if err := conn.Write(ctx, websocket.MessageText, []byte(res)); err != nil {
						return
					}
				}
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, log
}

type serverLog struct {
	mu         sync.Mutex
	auth       string
	audioBytes int
}

func TestTranscribe_JoinsFinalSegments(t *testing.T) {
	srv, log := fakeServer(t,
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hel"}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello"}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"world."}]}}`,
		`{"type":"Metadata"}`,
	)
	p, err := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := p.Transcribe(context.Background(), make([]float32, 4000))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "hello world." {
		t.Errorf("Transcribe: got %q, want %q", got, "hello world.")
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	if log.auth != "Token secret" {
		t.Errorf("Authorization: got %q", log.auth)
	}
	if log.audioBytes != 8000 {
		t.Errorf("audio bytes: got %d, want 8000", log.audioBytes)
	}
}

func TestTranscribe_DialError(t *testing.T) {
	p, err := New("k", WithEndpoint("ws://127.0.0.1:1/listen"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), []float32{0}); err == nil {
		t.Fatal("Transcribe: expected dial error")
	}
}

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", label, got, want)
	}
}
