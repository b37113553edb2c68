// Package llmcorrect runs the optional language-model pass over a
// dictated transcript.
//
// The [Refiner] renders a user-editable prompt template, sends it to an
// [llm.Provider] at temperature 0 and returns the cleaned-up reply. Models
// like to wrap their answer in markdown fences or quotes; those are
// stripped. An empty reply is an error so the caller can fall back to the
// unrefined text.
package llmcorrect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/murmur/internal/observe"
	llm "github.com/MrWong99/murmur/pkg/provider/llm"
)

// Template placeholders.
const (
	TranscriptPlaceholder = "{{TRANSCRIPT}}"
	DictionaryPlaceholder = "{{DICTIONARY}}"
)

// DefaultPrompt is used when no prompt is configured.
const DefaultPrompt = `You clean up dictated text. Fix punctuation, capitalisation and obvious speech-to-text mistakes. Keep the wording and the language of the speaker. Do not answer questions contained in the text and do not add anything.

The speaker often uses these words, spell them exactly like this: {{DICTIONARY}}

Reply with the corrected text only.

Text:
{{TRANSCRIPT}}`

// warmupPrompt keeps the warmup request as small as possible.
const warmupPrompt = " "

// ErrEmptyResponse is returned when the model replies with nothing usable.
var ErrEmptyResponse = errors.New("llmcorrect: model returned an empty response")

// Option configures a Refiner.
type Option func(*Refiner)

// WithPrompt sets the prompt template. An empty template keeps
// [DefaultPrompt].
func WithPrompt(tpl string) Option {
	return func(r *Refiner) {
		if strings.TrimSpace(tpl) != "" {
			r.prompt = tpl
		}
	}
}

// WithMaxTokens caps the reply length. Zero leaves it to the provider.
func WithMaxTokens(n int) Option {
	return func(r *Refiner) { r.maxTokens = n }
}

// WithName sets the provider name used in metrics.
func WithName(name string) Option {
	return func(r *Refiner) { r.name = name }
}

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Refiner) { r.metrics = m }
}

// Refinement is the result of one Refine call.
type Refinement struct {
	// Text is the cleaned model reply.
	Text string

	// Changes lists the word spans the model rewrote, in order.
	Changes []Change

	// Usage is the token accounting reported by the provider.
	Usage llm.Usage
}

// Refiner sends transcripts through a language model. It is safe for
// concurrent use.
type Refiner struct {
	llm       llm.Provider
	prompt    string
	maxTokens int
	name      string
	metrics   *observe.Metrics
}

// New returns a Refiner backed by provider.
func New(provider llm.Provider, opts ...Option) *Refiner {
	r := &Refiner{
		llm:    provider,
		prompt: DefaultPrompt,
		name:   "llm",
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Prompt returns the active template.
func (r *Refiner) Prompt() string { return r.prompt }

// Refine renders the template with text and the dictionary words and asks
// the model for the corrected version.
func (r *Refiner) Refine(ctx context.Context, text string, words []string) (*Refinement, error) {
	req := llm.CompletionRequest{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: Render(r.prompt, text, words)}},
		MaxTokens: r.maxTokens,
	}

	start := time.Now()
	resp, err := r.llm.Complete(ctx, req)
	r.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		r.metrics.RecordProviderRequest(ctx, r.name, "llm", "error")
		r.metrics.RecordProviderError(ctx, r.name, "llm")
		return nil, fmt.Errorf("llmcorrect: complete: %w", err)
	}
	r.metrics.RecordProviderRequest(ctx, r.name, "llm", "ok")

	if resp == nil {
		return nil, ErrEmptyResponse
	}
	out := Clean(resp.Content)
	if out == "" {
		return nil, ErrEmptyResponse
	}
	return &Refinement{
		Text:    out,
		Changes: Diff(text, out),
		Usage:   resp.Usage,
	}, nil
}

// Warmup issues a minimal completion so the first real request does not pay
// for loading the model. The reply is discarded.
func (r *Refiner) Warmup(ctx context.Context) error {
	_, err := r.llm.Complete(ctx, llm.CompletionRequest{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: warmupPrompt}},
		MaxTokens: 1,
	})
	if err != nil {
		return fmt.Errorf("llmcorrect: warmup: %w", err)
	}
	return nil
}

// Render substitutes the placeholders in tpl. Dictionary words are joined by
// ", ".
func Render(tpl, transcript string, words []string) string {
	return strings.NewReplacer(
		TranscriptPlaceholder, transcript,
		DictionaryPlaceholder, strings.Join(words, ", "),
	).Replace(tpl)
}

// Clean trims the reply and removes one layer of markdown code fence and
// one pair of matching surrounding quotes.
func Clean(s string) string {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		// Drop an info string such as ```text on the opening line.
		if i := strings.IndexByte(rest, '\n'); i >= 0 {
			rest = rest[i+1:]
		} else {
			rest = ""
		}
		rest, _ = strings.CutSuffix(strings.TrimSpace(rest), "```")
		s = strings.TrimSpace(rest)
	}
	for _, q := range [][2]string{{`"`, `"`}, {"'", "'"}, {"“", "”"}, {"«", "»"}} {
		if len(s) >= len(q[0])+len(q[1]) && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
			s = strings.TrimSpace(s[len(q[0]) : len(s)-len(q[1])])
			break
		}
	}
	return s
}
