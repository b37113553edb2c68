package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/murmur/pkg/provider/llm"
)

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	for _, role := range []string{llm.RoleSystem, llm.RoleUser, llm.RoleAssistant} {
		msg, err := convertMessage(llm.Message{Role: role, Content: "x"})
		if err != nil {
			t.Fatalf("convertMessage(%q): %v", role, err)
		}
		var ok bool
		switch role {
		case llm.RoleSystem:
			ok = msg.OfSystem != nil
		case llm.RoleUser:
			ok = msg.OfUser != nil
		case llm.RoleAssistant:
			ok = msg.OfAssistant != nil
		}
		if !ok {
			t.Errorf("convertMessage(%q): wrong union member set", role)
		}
	}
}

func TestConvertMessage_UnknownRole(t *testing.T) {
	t.Parallel()

	if _, err := convertMessage(llm.Message{Role: "tool", Content: "x"}); err == nil {
		t.Fatal("convertMessage(tool): want error")
	}
}

func TestBuildParams_ZeroTemperatureIsSent(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gpt-4o-mini"}
	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "fix it",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "helo"}},
		MaxTokens:    64,
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if !params.Temperature.Valid() || params.Temperature.Value != 0 {
		t.Errorf("Temperature: got %+v, want explicit 0", params.Temperature)
	}
	if params.MaxCompletionTokens.Value != 64 {
		t.Errorf("MaxCompletionTokens: got %d, want 64", params.MaxCompletionTokens.Value)
	}
	if len(params.Messages) != 2 || params.Messages[0].OfSystem == nil {
		t.Errorf("Messages: got %d with system first=%v, want 2 with system first", len(params.Messages), len(params.Messages) > 0 && params.Messages[0].OfSystem != nil)
	}
}

func TestBuildParams_ReasoningModelOmitsTemperature(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "o3-mini"}
	params, err := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if params.Temperature.Valid() {
		t.Error("Temperature set for reasoning model")
	}
}

func TestBuildParams_NoMessages(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gpt-4o"}
	if _, err := p.buildParams(llm.CompletionRequest{SystemPrompt: "only system"}); err == nil {
		t.Fatal("buildParams: want error for empty messages")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("New with empty key: want error")
	}
	if _, err := New("", "qwen2.5", WithBaseURL("http://localhost:1234/v1")); err != nil {
		t.Errorf("New with empty key and base URL: %v", err)
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("New with empty model: want error")
	}
}

func TestComplete_RoundTrip(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "Hello, world."}}],
			"usage": {"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10}
		}`))
	}))
	defer srv.Close()

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/v1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hello world"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Hello, world." {
		t.Errorf("Content: got %q, want %q", resp.Content, "Hello, world.")
	}
	if resp.Usage.TotalTokens != 10 {
		t.Errorf("TotalTokens: got %d, want 10", resp.Usage.TotalTokens)
	}
	if temp, ok := gotBody["temperature"]; !ok || temp != float64(0) {
		t.Errorf("request temperature: got %v (present=%v), want 0", temp, ok)
	}
}

func TestComplete_EmptyChoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`))
	}))
	defer srv.Close()

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}},
	}); err == nil {
		t.Fatal("Complete: want error for empty choices")
	}
}
