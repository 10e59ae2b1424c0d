package pipeline

import (
	"encoding/json"
	"time"

	"github.com/openclass-ai/citestream/internal/references"
)

// EventType discriminates stream events on the wire.
type EventType string

const (
	// TypeTextDelta carries newly displayable text for one channel.
	TypeTextDelta EventType = "text_delta"
	// TypeCorrection replaces everything emitted so far on the final
	// channel with its text. Emitted at most once, at end of stream, when
	// the raw stream turns out to be a structured document.
	TypeCorrection EventType = "text_correction"
	// TypeCitationOpen starts displaying a reference.
	TypeCitationOpen EventType = "citation_open"
	// TypeCitationClose stops displaying the current reference.
	TypeCitationClose EventType = "citation_close"
	// TypeReferences carries the reconciled reference list, after stream
	// end.
	TypeReferences EventType = "references"
	// TypeEnhanced carries sentence-level citation detail, after stream
	// end, only when something resolved.
	TypeEnhanced EventType = "enhanced_citations"
	// TypeDone terminates the answer's event sequence.
	TypeDone EventType = "done"
)

// Channel names the display channel a text delta belongs to.
type Channel string

const (
	ChannelAnalysis Channel = "analysis"
	ChannelFinal    Channel = "final"
)

// Event is one answer event. Seq is assigned by the fan-out manager at
// publish time and backs Last-Event-ID replay.
type Event struct {
	AnswerID   string                `json:"answer_id"`
	Type       EventType             `json:"type"`
	Channel    Channel               `json:"channel,omitempty"`
	Text       string                `json:"text,omitempty"`
	Ref        int                   `json:"ref,omitempty"`
	Quote      string                `json:"quote,omitempty"`
	References []references.Resolved `json:"references,omitempty"`
	Enhanced   []references.Enhanced `json:"enhanced,omitempty"`
	Timestamp  time.Time             `json:"timestamp"`
	Seq        uint64                `json:"seq"`
}

// Marshal returns the event's JSON for SSE payloads and logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}
