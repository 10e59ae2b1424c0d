// Package streaming fans answer events out to SSE and WebSocket
// subscribers. A per-answer ring buffer keeps recent events for
// Last-Event-ID replay.
package streaming

import (
	"sync"

	"github.com/openclass-ai/citestream/internal/pipeline"
)

const defaultCapacity = 256

// Manager provides in-memory pub/sub for answer events. Safe for
// concurrent use.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan pipeline.Event]struct{}
	history     map[string]*ring
	capacity    int
}

// NewManager returns a manager whose per-answer replay rings hold capacity
// events; capacity <= 0 selects the default.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Manager{
		subscribers: make(map[string]map[chan pipeline.Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// Subscribe adds a subscriber channel for an answer; the caller must drain
// it and call Unsubscribe when done.
func (m *Manager) Subscribe(answerID string, buffer int) chan pipeline.Event {
	ch := make(chan pipeline.Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[answerID]
	if subs == nil {
		subs = make(map[chan pipeline.Event]struct{})
		m.subscribers[answerID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(answerID string, ch chan pipeline.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[answerID]; ok {
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(m.subscribers, answerID)
		}
	}
}

// Publish assigns the event its sequence number, records it for replay, and
// delivers it to every subscriber of the answer. Slow subscribers are
// skipped, never blocked on.
func (m *Manager) Publish(answerID string, evt pipeline.Event) pipeline.Event {
	m.mu.Lock()
	rg := m.history[answerID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[answerID] = rg
	}
	rg.nextSeq++
	evt.Seq = rg.nextSeq
	rg.push(evt)
	subs := m.subscribers[answerID]
	chans := make([]chan pipeline.Event, 0, len(subs))
	for ch := range subs {
		chans = append(chans, ch)
	}
	m.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- evt:
		default:
		}
	}
	return evt
}

// ReplaySince returns the buffered events with Seq > since, best effort
// within ring capacity.
func (m *Manager) ReplaySince(answerID string, since uint64) []pipeline.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[answerID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Drop discards an answer's replay history once no listener can need it.
func (m *Manager) Drop(answerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, answerID)
}

// ring is a fixed-capacity ring buffer of events.
type ring struct {
	buf     []pipeline.Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]pipeline.Event, capacity)} }

func (r *ring) push(e pipeline.Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []pipeline.Event {
	if r.count == 0 {
		return nil
	}
	out := make([]pipeline.Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
