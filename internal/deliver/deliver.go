// Package deliver hands finished transcripts to the user.
package deliver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/atotto/clipboard"
)

var (
	// ErrEmptyText is returned by Deliver for blank text.
	ErrEmptyText = errors.New("deliver: nothing to deliver")

	// ErrUnsupported is returned when the host has no clipboard utility.
	ErrUnsupported = errors.New("deliver: clipboard not supported on this host")
)

// Deliverer is anything that can receive a transcript.
type Deliverer interface {
	Deliver(ctx context.Context, text string) error
}

// Option configures a Clipboard.
type Option func(*Clipboard)

// WithWriter replaces the system clipboard writer, for tests and headless
// hosts.
func WithWriter(fn func(string) error) Option {
	return func(c *Clipboard) {
		c.write = fn
		c.system = false
	}
}

// WithEnabled sets the initial state. Clipboards start enabled.
func WithEnabled(on bool) Option {
	return func(c *Clipboard) { c.enabled.Store(on) }
}

// Clipboard copies transcripts to the system clipboard. Disabled
// clipboards accept and drop every transcript.
type Clipboard struct {
	write   func(string) error
	system  bool
	enabled atomic.Bool
}

var _ Deliverer = (*Clipboard)(nil)

// NewClipboard returns a Clipboard writing through atotto/clipboard.
func NewClipboard(opts ...Option) *Clipboard {
	c := &Clipboard{write: clipboard.WriteAll, system: true}
	c.enabled.Store(true)
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetEnabled toggles delivery at runtime.
func (c *Clipboard) SetEnabled(on bool) { c.enabled.Store(on) }

// Enabled reports whether transcripts are copied.
func (c *Clipboard) Enabled() bool { return c.enabled.Load() }

// Deliver copies text to the clipboard.
func (c *Clipboard) Deliver(ctx context.Context, text string) error {
	if !c.enabled.Load() {
		return nil
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("deliver: clipboard: %w", err)
	}
	if c.system && clipboard.Unsupported {
		return ErrUnsupported
	}
	if err := c.write(text); err != nil {
		return fmt.Errorf("deliver: clipboard: %w", err)
	}
	slog.Debug("transcript copied to clipboard", "chars", len(text))
	return nil
}
