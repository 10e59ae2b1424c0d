// Package blocks incrementally parses the structured final channel: a JSON
// object carrying an ordered array of content blocks, each with at most one
// citation. The document is usually still being written when we parse it, so
// everything here tolerates truncation at any byte.
package blocks

import "encoding/json"

// Citation identifies a reference by its 1-indexed position in the prompt's
// reference list, together with the exact sentence fragment quoted from it.
type Citation struct {
	ID    int    `json:"id"`
	Quote string `json:"quote_text"`
}

// Block is one citable unit of the final answer.
type Block struct {
	Type            string        `json:"type"`
	Level           int           `json:"level,omitempty"`
	Language        string        `json:"language,omitempty"`
	MarkdownContent string        `json:"markdown_content"`
	Unreadable      string        `json:"unreadable,omitempty"`
	Citations       []rawCitation `json:"citations,omitempty"`
	Open            bool          `json:"open,omitempty"`
	Close           bool          `json:"close,omitempty"`
}

// rawCitation defers id validation: models occasionally emit string or
// fractional ids, and those citations are dropped rather than failing the
// whole document.
type rawCitation struct {
	ID    json.RawMessage `json:"id"`
	Quote string          `json:"quote_text"`
}

// citation validates a raw citation. Non-integer ids and missing quotes
// yield nil.
func (rc rawCitation) citation() *Citation {
	var id int
	if err := json.Unmarshal(rc.ID, &id); err != nil || id <= 0 {
		return nil
	}
	if rc.Quote == "" {
		return nil
	}
	return &Citation{ID: id, Quote: rc.Quote}
}

// Citation returns the block's first valid citation, or nil.
func (b Block) Citation() *Citation {
	for _, rc := range b.Citations {
		if c := rc.citation(); c != nil {
			return c
		}
	}
	return nil
}

// response is the structured answer document.
type response struct {
	Thinking string  `json:"thinking"`
	Blocks   []Block `json:"blocks"`
}

// EventKind discriminates parser events.
type EventKind int

const (
	// KindTextDelta carries newly displayable text.
	KindTextDelta EventKind = iota
	// KindBoundary marks the start of a new block, with its citation and
	// display hints. The citation lifecycle consumes these.
	KindBoundary
	// KindCorrection replaces all text emitted so far with Text. Produced
	// when the completed rendering diverges from what streamed out.
	KindCorrection
)

// Event is one parser output, in emission order. Text deltas are
// interleaved with boundaries so a block's text falls between its open and
// the following close.
type Event struct {
	Kind     EventKind
	Text     string
	Citation *Citation
	// Open is the new block's explicit open request.
	Open bool
	// ClosePrev is the previous block's close request, visible once the new
	// block starts.
	ClosePrev bool
}

// State tracks what has already been emitted for one answer. Owned by the
// stream driver; zero value not usable, use NewState.
type State struct {
	prevRendered string
	opened       map[int]struct{}
}

// NewState returns an empty parse state.
func NewState() *State {
	return &State{opened: map[int]struct{}{}}
}

// Rendered returns the full display text emitted so far.
func (s *State) Rendered() string { return s.prevRendered }

// MentionedContext is a citation record from the simple-JSON answer format:
// the reference number plus the first and last few words of the cited
// passage.
type MentionedContext struct {
	Reference int    `json:"reference"`
	Start     string `json:"start"`
	End       string `json:"end"`
}
