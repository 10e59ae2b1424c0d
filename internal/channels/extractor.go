// Package channels classifies accumulated model output into the two
// presentation channels: "analysis" (reasoning the UI may fold away) and
// "final" (the answer shown to the user). Classification is a pure function
// of the full buffer so far and is re-run on every fragment.
package channels

import (
	"strings"

	"github.com/openclass-ai/citestream/internal/jsonscan"
)

// Set holds the best-known-so-far text of both channels. Per stream, each
// channel's text only grows, except for the one-time reclassification when a
// bare JSON answer replaces what was tentatively streamed.
type Set struct {
	Analysis string `json:"analysis"`
	Final    string `json:"final"`
}

// Extractor splits buffered model output on a reasoning wrapper marker.
// Thinking-tuned models emit `<think>...</think>` around their reasoning;
// JSON-guided models instead put reasoning in a top-level string field.
type Extractor struct {
	OpenMarker    string
	CloseMarker   string
	ThinkingField string
}

// NewExtractor returns an extractor for the conventional marker grammar.
func NewExtractor() *Extractor {
	return &Extractor{
		OpenMarker:    "<think>",
		CloseMarker:   "</think>",
		ThinkingField: "thinking",
	}
}

// Classify splits the accumulated buffer into analysis and final channels.
// Empty input yields an empty set; that is never an error.
func (e *Extractor) Classify(text string) Set {
	if text == "" {
		return Set{}
	}

	trimmed := strings.TrimLeft(text, " \t\r\n")
	if strings.HasPrefix(trimmed, e.OpenMarker) {
		return e.classifyWrapped(trimmed)
	}

	// No wrapper: everything is tentatively final. A structured JSON object
	// may still carry its reasoning in a top-level field; surface that as
	// analysis while leaving the whole object in final so the block parser
	// sees it too.
	final := strings.TrimSpace(text)
	if thinking, ok := jsonscan.TopLevelStringField(text, e.ThinkingField); ok {
		return Set{Analysis: strings.TrimSpace(thinking), Final: final}
	}
	return Set{Final: final}
}

func (e *Extractor) classifyWrapped(text string) Set {
	body := text[len(e.OpenMarker):]
	if idx := strings.Index(body, e.CloseMarker); idx >= 0 {
		analysis := strings.TrimSpace(body[:idx])
		final := strings.TrimSpace(body[idx+len(e.CloseMarker):])
		return Set{Analysis: analysis, Final: final}
	}
	// The wrapper has not closed yet. Trim a half-arrived closing tag from
	// the tail so the UI never sees "</thi".
	return Set{Analysis: strings.TrimSpace(trimPartialSuffix(body, e.CloseMarker))}
}

// trimPartialSuffix removes the longest tail of s that is a non-empty proper
// prefix of marker.
func trimPartialSuffix(s, marker string) string {
	max := len(marker) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(s, marker[:n]) {
			return s[:len(s)-n]
		}
	}
	return s
}
