// Package llm defines the Provider interface for text completion backends.
//
// The dictation pipeline uses an LLM for a single, non-interactive job: it
// sends one prompt containing the transcript and gets the corrected text
// back. The interface is therefore a plain request/response call without
// streaming or tool use.
//
// Implementations must be safe for concurrent use and must honour context
// cancellation; the refinement stage always runs under a deadline.
package llm

import "context"

// Roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the conversation sent to the model.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the plain-text body of the turn.
	Content string
}

// Usage holds token accounting returned by the backend. Counts are in the
// backend's own token unit.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
type CompletionRequest struct {
	// SystemPrompt is sent ahead of Messages as a system turn when non-empty.
	SystemPrompt string

	// Messages is the ordered conversation. It must not be empty.
	Messages []Message

	// Temperature is always forwarded, so zero requests greedy decoding rather
	// than the backend default.
	Temperature float64

	// MaxTokens caps the reply length. Zero leaves the backend default.
	MaxTokens int
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any completion backend.
type Provider interface {
	// Complete sends req and waits for the full reply. It returns promptly
	// with ctx's error when ctx ends first.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
