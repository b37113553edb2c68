package anyllm

import (
	"errors"
	"slices"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/murmur/pkg/provider/llm"
)

func TestParams_SystemPromptFirst(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "llama3.2"}
	params := p.params(llm.CompletionRequest{
		SystemPrompt: "You fix transcripts.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "helo wrld"}},
	})
	if params.Model != "llama3.2" {
		t.Errorf("Model: got %q, want %q", params.Model, "llama3.2")
	}
	if len(params.Messages) != 2 {
		t.Fatalf("Messages: got %d, want 2", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem || params.Messages[0].ContentString() != "You fix transcripts." {
		t.Errorf("Messages[0]: got %q/%q, want system prompt", params.Messages[0].Role, params.Messages[0].ContentString())
	}
	if params.Messages[1].ContentString() != "helo wrld" {
		t.Errorf("Messages[1]: got %q, want %q", params.Messages[1].ContentString(), "helo wrld")
	}
}

func TestParams_Limits(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "m"}
	msgs := []llm.Message{{Role: llm.RoleUser, Content: "x"}}

	params := p.params(llm.CompletionRequest{Messages: msgs})
	if params.Temperature == nil || *params.Temperature != 0 {
		t.Errorf("Temperature: got %v, want pointer to 0", params.Temperature)
	}
	if params.MaxTokens != nil {
		t.Errorf("MaxTokens: got %d, want nil", *params.MaxTokens)
	}

	params = p.params(llm.CompletionRequest{Messages: msgs, MaxTokens: 256})
	if params.MaxTokens == nil || *params.MaxTokens != 256 {
		t.Errorf("MaxTokens: got %v, want 256", params.MaxTokens)
	}
}

func TestNew(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	tests := []struct {
		name    string
		backend string
		model   string
		opts    []anyllmlib.Option
		wantErr bool
	}{
		{name: "local ollama", backend: "ollama", model: "llama3.2"},
		{name: "local llamacpp", backend: "llamacpp", model: "qwen2.5"},
		{name: "local llamafile", backend: "llamafile", model: "mistral"},
		{name: "hosted with key", backend: "anthropic", model: "claude-3-5-haiku-latest", opts: []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}},
		{name: "case insensitive", backend: "Groq", model: "llama-3.1-8b-instant", opts: []anyllmlib.Option{anyllmlib.WithAPIKey("gsk-test")}},
		{name: "hosted without key", backend: "openai", model: "gpt-4o-mini", wantErr: true},
		{name: "empty model", backend: "ollama", wantErr: true},
		{name: "unknown backend", backend: "fakecloud", model: "m", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.backend, tt.model, tt.opts...)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("New(%q, %q): got nil error", tt.backend, tt.model)
				}
				return
			}
			if err != nil {
				t.Fatalf("New(%q, %q): %v", tt.backend, tt.model, err)
			}
			if p.Model() != tt.model {
				t.Errorf("Model: got %q, want %q", p.Model(), tt.model)
			}
		})
	}
}

func TestNew_UnknownBackendIsUnsupported(t *testing.T) {
	t.Parallel()

	if _, err := New("fakecloud", "m"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("New(fakecloud): got %v, want ErrUnsupported", err)
	}
}

func TestBackends(t *testing.T) {
	t.Parallel()

	got := Backends()
	if !slices.IsSorted(got) {
		t.Errorf("Backends: not sorted: %v", got)
	}
	for _, want := range []string{"ollama", "llamacpp", "openai", "anthropic"} {
		if !slices.Contains(got, want) {
			t.Errorf("Backends: missing %q in %v", want, got)
		}
	}
}
