package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openclass-ai/citestream/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 20 * time.Second
)

// handleWS streams an answer's events over a WebSocket connection.
// GET /stream/ws?answer_id=<id>[&types=...][&last_event_id=N]
func (h *StreamingHandler) handleWS(w http.ResponseWriter, r *http.Request) {
	answerID := r.URL.Query().Get("answer_id")
	if answerID == "" {
		http.Error(w, `{"error":"answer_id required"}`, http.StatusBadRequest)
		return
	}
	filter := parseFilter(r)
	since := lastEventID(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch := h.mgr.Subscribe(answerID, h.buffer)
	defer h.mgr.Unsubscribe(answerID, ch)
	metrics.WSSubscribers.Inc()
	defer metrics.WSSubscribers.Dec()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	// Drain the read side so pongs and close frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if since > 0 {
		for _, ev := range h.mgr.ReplaySince(answerID, since) {
			if !wants(filter, ev.Type) {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			h.logger.Debug("websocket client disconnected", zap.String("answer_id", answerID))
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if !wants(filter, ev.Type) {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
