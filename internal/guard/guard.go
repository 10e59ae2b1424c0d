// Package guard detects reference markup that has started arriving but not
// finished, e.g. a trailing "[Reference: 1,". Emitting such a tail would
// flicker half-built markers at the user, so the caller withholds the whole
// delta for that channel until a later fragment resolves the ambiguity.
package guard

import (
	"fmt"
	"regexp"
	"strings"
)

// Config describes the reference-marker grammar to guard against. The exact
// grammar is a presentation contract with the model prompt, not an intrinsic
// constant, so it is configurable.
type Config struct {
	// Words are the marker words, longest first not required.
	// Default: reference, references, ref.
	Words []string
	// TailWindow is how many trailing runes of displayed text to inspect.
	TailWindow int
}

// DefaultConfig matches the `[Reference: 1, 2]` marker style.
func DefaultConfig() Config {
	return Config{
		Words:      []string{"reference", "references", "ref"},
		TailWindow: 100,
	}
}

// Guard is a compiled partial-reference detector. Safe for concurrent use.
type Guard struct {
	re     *regexp.Regexp
	window int
}

// New compiles a guard for the given grammar.
func New(cfg Config) (*Guard, error) {
	src := cfg.Words
	if len(src) == 0 {
		src = DefaultConfig().Words
	}
	window := cfg.TailWindow
	if window <= 0 {
		window = DefaultConfig().TailWindow
	}
	words := make([]string, len(src))
	for i, w := range src {
		words[i] = regexp.QuoteMeta(strings.ToLower(w))
	}
	alt := strings.Join(words, "|")

	// Three shapes count as "not finished yet", all anchored at the end of
	// the window:
	//   1. "[Reference: 1,": bracketed marker with an unfinished number list
	//   2. "see reference 1 and": prose-form marker, no letter before it
	//   3. "[": a lone opening bracket
	sep := `(?:,|\band\b|&)`
	numberList := `(?:\d+(?:\s*` + sep + `\s*\d+)*)?\s*` + sep + `?`
	pattern := `(?i)(?:` +
		`\[\s*(?:` + alt + `)\s*:?\s*` + numberList + `\s*$` +
		`|(?:^|[^a-zA-Z])(?:` + alt + `)\s*` + numberList + `\s*$` +
		`|\[\s*$` +
		`)`
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile guard pattern: %w", err)
	}
	return &Guard{re: re, window: window}, nil
}

// MustNew is New for static configuration.
func MustNew(cfg Config) *Guard {
	g, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return g
}

// IsLikelyPartialReference reports whether the tail of the displayed text
// looks like a reference marker still being written.
func (g *Guard) IsLikelyPartialReference(text string) bool {
	return g.re.MatchString(tailRunes(text, g.window))
}

// tailRunes returns the last n runes of s without splitting a multi-byte
// rune.
func tailRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
