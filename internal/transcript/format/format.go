// Package format applies the user's formatting rules to a finished
// transcript: spoken commands like "new paragraph", house spellings,
// punctuation fix-ups.
//
// Rules run once each, in order: a rule sees the output of the rules before
// it but never its own replacement, so "ok" -> "OK." stays a single period.
// Afterwards runs of spaces are collapsed and the text is trimmed.
package format

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxGrowth bounds how much the rules may grow a transcript.
const maxGrowth = 64

// Rule modes.
const (
	ModeLiteral = "literal"
	ModeRegex   = "regex"
)

// ErrRunaway is returned when the rules keep growing the text.
var ErrRunaway = errors.New("format: rules grow the text without bound")

// Rule is one configured substitution.
type Rule struct {
	ID          string `yaml:"id"          json:"id"`
	Trigger     string `yaml:"trigger"     json:"trigger"`
	Replacement string `yaml:"replacement" json:"replacement"`
	Mode        string `yaml:"mode"        json:"mode"`
	Enabled     bool   `yaml:"enabled"     json:"enabled"`
}

// name identifies r in error messages.
func (r Rule) name() string {
	if r.ID != "" {
		return r.ID
	}
	return fmt.Sprintf("%q", r.Trigger)
}

// compiledRule is a ready-to-run rule.
type compiledRule interface {
	apply(input string) (output string, changed bool)
}

// Engine is an immutable compiled rule list, safe for concurrent use.
type Engine struct {
	rules []compiledRule
}

// New compiles the enabled rules. Disabled rules are skipped without
// validation. All compile errors are reported together.
func New(rules []Rule) (*Engine, error) {
	e := &Engine{}
	var errs []error
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		c, err := compile(r)
		if err != nil {
			errs = append(errs, fmt.Errorf("format: rule %s: %w", r.name(), err))
			continue
		}
		e.rules = append(e.rules, c)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate reports whether rules would compile.
func Validate(rules []Rule) error {
	_, err := New(rules)
	return err
}

// Len returns the number of active rules.
func (e *Engine) Len() int { return len(e.rules) }

// Apply runs every rule once, in order, and normalizes spacing.
func (e *Engine) Apply(text string) (string, error) {
	limit := max(len(text)*maxGrowth, 4096)
	out := text
	for _, r := range e.rules {
		next, ok := r.apply(out)
		if !ok {
			continue
		}
		if len(next) > limit {
			return text, ErrRunaway
		}
		out = next
	}
	return Normalize(out), nil
}

// Normalize collapses runs of spaces and tabs into one space, drops spaces
// next to line breaks and trims the result.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	pendingSpace := false
	for _, r := range s {
		switch r {
		case ' ', '\t':
			pendingSpace = true
			continue
		case '\n':
		default:
			if pendingSpace && prev != 0 && prev != '\n' {
				b.WriteByte(' ')
			}
		}
		pendingSpace = false
		b.WriteRune(r)
		prev = r
	}
	return strings.TrimSpace(b.String())
}

func compile(r Rule) (compiledRule, error) {
	if r.Trigger == "" {
		return nil, errors.New("empty trigger")
	}
	switch r.Mode {
	case ModeLiteral, "":
		return compileLiteral(r.Trigger, r.Replacement)
	case ModeRegex:
		re, err := regexp.Compile(r.Trigger)
		if err != nil {
			return nil, fmt.Errorf("invalid regex: %w", err)
		}
		return regexRule{re: re, replacement: r.Replacement}, nil
	default:
		return nil, fmt.Errorf("unknown mode %q", r.Mode)
	}
}

// literalRule replaces whole-word, case-insensitive occurrences of a fixed
// phrase. Word boundaries are only enforced on ends of the trigger that are
// word characters, so a trigger like "?" still matches inside text.
type literalRule struct {
	re          *regexp.Regexp
	replacement string
}

func compileLiteral(trigger, replacement string) (compiledRule, error) {
	pattern := regexp.QuoteMeta(trigger)
	if first, _ := utf8.DecodeRuneInString(trigger); isWordRune(first) {
		pattern = `\b` + pattern
	}
	if last, _ := utf8.DecodeLastRuneInString(trigger); isWordRune(last) {
		pattern += `\b`
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid literal trigger: %w", err)
	}
	return literalRule{re: re, replacement: replacement}, nil
}

func (r literalRule) apply(input string) (string, bool) {
	out := r.re.ReplaceAllLiteralString(input, r.replacement)
	return out, out != input
}

// regexRule replaces every match, expanding $1 style references.
type regexRule struct {
	re          *regexp.Regexp
	replacement string
}

func (r regexRule) apply(input string) (string, bool) {
	out := r.re.ReplaceAllString(input, r.replacement)
	return out, out != input
}

// isWordRune matches RE2's ASCII \b definition.
func isWordRune(r rune) bool {
	return r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
}
