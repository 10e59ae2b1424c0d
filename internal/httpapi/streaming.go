// Package httpapi exposes the service over HTTP: fragment ingestion,
// document layout management, and event fan-out over SSE and WebSocket.
package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openclass-ai/citestream/internal/metrics"
	"github.com/openclass-ai/citestream/internal/pipeline"
	"github.com/openclass-ai/citestream/internal/streaming"
)

// StreamingHandler serves the SSE and WebSocket event endpoints.
type StreamingHandler struct {
	mgr       *streaming.Manager
	logger    *zap.Logger
	heartbeat time.Duration
	buffer    int
}

// NewStreamingHandler returns a handler fanning out from mgr. heartbeat
// keeps idle connections alive through proxies.
func NewStreamingHandler(mgr *streaming.Manager, heartbeat time.Duration, buffer int, logger *zap.Logger) *StreamingHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &StreamingHandler{mgr: mgr, logger: logger, heartbeat: heartbeat, buffer: buffer}
}

// RegisterRoutes registers the streaming routes on mux.
func (h *StreamingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/stream/sse", h.handleSSE)
	mux.HandleFunc("/stream/ws", h.handleWS)
}

// parseFilter reads the optional comma-separated event type filter.
func parseFilter(r *http.Request) map[pipeline.EventType]struct{} {
	s := r.URL.Query().Get("types")
	if s == "" {
		return nil
	}
	filter := map[pipeline.EventType]struct{}{}
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter[pipeline.EventType(t)] = struct{}{}
		}
	}
	return filter
}

func wants(filter map[pipeline.EventType]struct{}, t pipeline.EventType) bool {
	if len(filter) == 0 {
		return true
	}
	_, ok := filter[t]
	return ok
}

// lastEventID reads the replay cursor from the Last-Event-ID header or the
// last_event_id query parameter.
func lastEventID(r *http.Request) uint64 {
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			return n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// handleSSE streams an answer's events as Server-Sent Events.
// GET /stream/sse?answer_id=<id>[&types=...][&last_event_id=N]
func (h *StreamingHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	answerID := r.URL.Query().Get("answer_id")
	if answerID == "" {
		http.Error(w, `{"error":"answer_id required"}`, http.StatusBadRequest)
		return
	}
	filter := parseFilter(r)

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch := h.mgr.Subscribe(answerID, h.buffer)
	defer h.mgr.Unsubscribe(answerID, ch)
	metrics.SSESubscribers.Inc()
	defer metrics.SSESubscribers.Dec()

	fmt.Fprintf(w, ": connected to answer %s\n\n", answerID)
	flusher.Flush()

	if since := lastEventID(r); since > 0 {
		for _, ev := range h.mgr.ReplaySince(answerID, since) {
			if wants(filter, ev.Type) {
				writeSSE(w, ev)
			}
		}
		flusher.Flush()
	}

	hb := time.NewTicker(h.heartbeat)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("sse client disconnected", zap.String("answer_id", answerID))
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if wants(filter, ev.Type) {
				writeSSE(w, ev)
				flusher.Flush()
			}
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev pipeline.Event) {
	if ev.Seq > 0 {
		fmt.Fprintf(w, "id: %d\n", ev.Seq)
	}
	fmt.Fprintf(w, "event: %s\n", ev.Type)
	fmt.Fprintf(w, "data: %s\n\n", ev.Marshal())
}
