package pipeline

import (
	"strings"

	"github.com/openclass-ai/citestream/internal/blocks"
	"github.com/openclass-ai/citestream/internal/resolver"
)

// Format selects how the final channel is interpreted.
type Format int

const (
	// FormatBlocks parses the structured block document.
	FormatBlocks Format = iota
	// FormatSimple parses the flat {"answer", "mentioned_contexts"} shape.
	FormatSimple
	// FormatPlain passes raw text through and only reinterprets it at end
	// of stream if it turns out to be structured after all.
	FormatPlain
)

// ParseFormat maps a wire string to a Format, defaulting to blocks.
func ParseFormat(s string) Format {
	switch s {
	case "simple":
		return FormatSimple
	case "plain":
		return FormatPlain
	default:
		return FormatBlocks
	}
}

// Strategy interprets the accumulated final-channel text for one answer.
// Stateful; one instance per driver.
type Strategy interface {
	// TransformDelta re-reads the full final text and returns parser
	// events not yet produced.
	TransformDelta(text string) []blocks.Event
	// Correction returns the replacement display text when the stream, now
	// complete, renders differently from what was emitted.
	Correction(text, emitted string) (string, bool)
	// Citations returns reference numbers and quotations carried by the
	// format itself, beyond what block boundaries already reported.
	Citations(text string) ([]int, []resolver.Quotation)
}

// NewStrategy returns the strategy for a format, rendering with the given
// mode's rules.
func NewStrategy(f Format, mode blocks.Mode) Strategy {
	switch f {
	case FormatSimple:
		return &simpleStrategy{}
	case FormatPlain:
		return &plainStrategy{parser: blocks.NewParser(mode)}
	default:
		return &blockStrategy{parser: blocks.NewParser(mode), state: blocks.NewState()}
	}
}

// blockStrategy streams the structured block document. Citation reporting
// happens through boundary events, so Citations adds nothing.
type blockStrategy struct {
	parser *blocks.Parser
	state  *blocks.State
}

func (s *blockStrategy) TransformDelta(text string) []blocks.Event {
	return s.parser.Extract(text, s.state)
}

func (s *blockStrategy) Correction(string, string) (string, bool) { return "", false }

func (s *blockStrategy) Citations(string) ([]int, []resolver.Quotation) { return nil, nil }

// simpleStrategy streams the answer field of the flat JSON shape and
// harvests mentioned contexts once the document completes.
type simpleStrategy struct {
	prev string
}

func (s *simpleStrategy) TransformDelta(text string) []blocks.Event {
	sa := blocks.ExtractSimpleAnswer(text)
	if len(sa.Answer) <= len(s.prev) || !strings.HasPrefix(sa.Answer, s.prev) {
		return nil
	}
	delta := sa.Answer[len(s.prev):]
	s.prev = sa.Answer
	return []blocks.Event{{Kind: blocks.KindTextDelta, Text: delta}}
}

func (s *simpleStrategy) Correction(text, emitted string) (string, bool) {
	sa := blocks.ExtractSimpleAnswer(text)
	if sa.Complete && sa.Answer != emitted {
		return sa.Answer, true
	}
	return "", false
}

func (s *simpleStrategy) Citations(text string) ([]int, []resolver.Quotation) {
	sa := blocks.ExtractSimpleAnswer(text)
	if !sa.Complete {
		return nil, nil
	}
	var nums []int
	var qs []resolver.Quotation
	for _, c := range sa.Contexts {
		nums = append(nums, c.Reference)
		qs = append(qs, resolver.Quotation{Reference: c.Reference, Start: c.Start, End: c.End})
	}
	return nums, qs
}

// plainStrategy passes raw text through. If the complete stream parses as a
// structured document after all, the parsed rendering replaces the raw text
// via a correction.
type plainStrategy struct {
	parser *blocks.Parser
	prev   int
}

func (s *plainStrategy) TransformDelta(text string) []blocks.Event {
	if len(text) <= s.prev {
		return nil
	}
	delta := text[s.prev:]
	s.prev = len(text)
	return []blocks.Event{{Kind: blocks.KindTextDelta, Text: delta}}
}

func (s *plainStrategy) Correction(text, emitted string) (string, bool) {
	if sa := blocks.ExtractSimpleAnswer(text); sa.Complete && sa.Answer != emitted {
		return sa.Answer, true
	}
	if rendered := s.parser.Render(text); rendered != "" && rendered != emitted {
		return rendered, true
	}
	return "", false
}

func (s *plainStrategy) Citations(text string) ([]int, []resolver.Quotation) {
	sa := blocks.ExtractSimpleAnswer(text)
	if !sa.Complete {
		return nil, nil
	}
	var nums []int
	var qs []resolver.Quotation
	for _, c := range sa.Contexts {
		nums = append(nums, c.Reference)
		qs = append(qs, resolver.Quotation{Reference: c.Reference, Start: c.Start, End: c.End})
	}
	return nums, qs
}
