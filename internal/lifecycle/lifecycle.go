// Package lifecycle turns block boundaries into well-formed citation
// open/close events. At most one reference is displayed at a time; every
// open is paired with a close before the next open, and the stream always
// ends closed.
package lifecycle

import "github.com/openclass-ai/citestream/internal/blocks"

// EventKind discriminates lifecycle events.
type EventKind int

const (
	// EventOpen starts displaying a reference.
	EventOpen EventKind = iota
	// EventClose stops displaying the currently shown reference.
	EventClose
)

// Event is one citation display transition, in emission order.
type Event struct {
	Kind  EventKind
	Ref   int
	Quote string
}

// Tracker is the per-answer citation state machine. Not safe for concurrent
// use; each in-flight answer owns its own.
type Tracker struct {
	active int // 0 when idle
	cited  []int
	quotes map[int][]string
	seen   map[int]struct{}
	done   bool
}

// NewTracker returns an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{
		quotes: map[int][]string{},
		seen:   map[int]struct{}{},
	}
}

// Boundary advances the machine by one block and returns the transitions it
// produced. closePrev is the previous block's close request, open the new
// block's open request, c its citation (nil when uncited).
func (t *Tracker) Boundary(c *blocks.Citation, open, closePrev bool) []Event {
	if t.done {
		return nil
	}
	var events []Event

	if closePrev && t.active != 0 {
		events = append(events, Event{Kind: EventClose, Ref: t.active})
		t.active = 0
	}
	if c == nil {
		return events
	}
	t.record(c)

	switch {
	case t.active == c.ID:
		// Same reference continues across blocks.
	case t.active != 0:
		// A different reference while one is shown: never display two at
		// once.
		events = append(events,
			Event{Kind: EventClose, Ref: t.active},
			Event{Kind: EventOpen, Ref: c.ID, Quote: c.Quote},
		)
		t.active = c.ID
	case open:
		events = append(events, Event{Kind: EventOpen, Ref: c.ID, Quote: c.Quote})
		t.active = c.ID
	}
	return events
}

// Finish closes any still-open reference and seals the tracker. Safe to
// call more than once; only the first call can produce an event.
func (t *Tracker) Finish() []Event {
	if t.done {
		return nil
	}
	t.done = true
	if t.active == 0 {
		return nil
	}
	ev := Event{Kind: EventClose, Ref: t.active}
	t.active = 0
	return []Event{ev}
}

// Active returns the currently displayed reference, if any.
func (t *Tracker) Active() (int, bool) {
	return t.active, t.active != 0
}

// Cited returns every reference number that carried a citation, in
// first-seen order, whether or not it was ever displayed.
func (t *Tracker) Cited() []int {
	out := make([]int, len(t.cited))
	copy(out, t.cited)
	return out
}

// Quotes returns the quoted fragments recorded for a reference, in arrival
// order.
func (t *Tracker) Quotes(ref int) []string {
	qs := t.quotes[ref]
	out := make([]string, len(qs))
	copy(out, qs)
	return out
}

func (t *Tracker) record(c *blocks.Citation) {
	if _, ok := t.seen[c.ID]; !ok {
		t.seen[c.ID] = struct{}{}
		t.cited = append(t.cited, c.ID)
	}
	qs := t.quotes[c.ID]
	for _, q := range qs {
		if q == c.Quote {
			return
		}
	}
	t.quotes[c.ID] = append(qs, c.Quote)
}
