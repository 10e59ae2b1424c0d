package httpapi

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/openclass-ai/citestream/internal/blocks"
	"github.com/openclass-ai/citestream/internal/config"
	"github.com/openclass-ai/citestream/internal/guard"
	"github.com/openclass-ai/citestream/internal/pipeline"
	"github.com/openclass-ai/citestream/internal/references"
	"github.com/openclass-ai/citestream/internal/resolver"
	"github.com/openclass-ai/citestream/internal/streaming"
)

const maxFragmentBytes = 1 << 20 // 1MB

// Idle limiters hold a full token bucket again, so dropping them loses
// nothing; pruning kicks in once the map passes limiterMapMax.
const (
	limiterIdleAfter = 10 * time.Minute
	limiterMapMax    = 1024
)

type clientLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// AnswerHandler owns the in-flight answer drivers and the ingestion
// endpoints that feed them.
type AnswerHandler struct {
	mgr     *streaming.Manager
	indexes pipeline.IndexProvider
	logger  *zap.Logger

	ingestRate  float64
	ingestBurst int

	tunables atomic.Pointer[config.Tunables]

	mu       sync.Mutex
	drivers  map[string]*pipeline.Driver
	limiters map[string]*clientLimiter
}

// NewAnswerHandler wires answer ingestion to the fan-out manager. indexes
// may be nil when no document store is configured; reconciliation then
// proceeds without sentence detail.
func NewAnswerHandler(mgr *streaming.Manager, indexes pipeline.IndexProvider, cfg config.ServerConfig, tun config.Tunables, logger *zap.Logger) *AnswerHandler {
	h := &AnswerHandler{
		mgr:         mgr,
		indexes:     indexes,
		logger:      logger,
		ingestRate:  cfg.IngestRate,
		ingestBurst: cfg.IngestBurst,
		drivers:     make(map[string]*pipeline.Driver),
		limiters:    make(map[string]*clientLimiter),
	}
	h.tunables.Store(&tun)
	return h
}

// SetTunables swaps the guard and resolver settings used for answers
// created from now on; in-flight answers keep their settings.
func (h *AnswerHandler) SetTunables(t config.Tunables) error {
	h.tunables.Store(&t)
	h.logger.Info("tunables updated",
		zap.Int("guard_words", len(t.Guard.Words)),
		zap.Float64("resolver_threshold", t.Resolver.Threshold))
	return nil
}

// RegisterRoutes registers the answer routes on mux.
func (h *AnswerHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/answers", h.handleCreate)
	mux.HandleFunc("POST /v1/answers/{id}/fragments", h.handleFragment)
	mux.HandleFunc("POST /v1/answers/{id}/close", h.handleClose)
	mux.HandleFunc("POST /v1/answers/{id}/cancel", h.handleCancel)
}

type createRequest struct {
	AnswerID   string                 `json:"answer_id"`
	Format     string                 `json:"format"`
	Mode       string                 `json:"mode"`
	References []references.Reference `json:"references"`
}

type createResponse struct {
	AnswerID string `json:"answer_id"`
}

// handleCreate registers a new answer and its driver.
func (h *AnswerHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFragmentBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AnswerID == "" {
		req.AnswerID = uuid.New().String()
	}

	tun := h.tunables.Load()
	g, err := guard.New(guard.Config{Words: tun.Guard.Words, TailWindow: tun.Guard.TailWindow})
	if err != nil {
		h.logger.Error("guard config rejected", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.mu.Lock()
	if _, exists := h.drivers[req.AnswerID]; exists {
		h.mu.Unlock()
		writeError(w, http.StatusConflict, "answer already exists")
		return
	}
	h.drivers[req.AnswerID] = pipeline.New(pipeline.Config{
		AnswerID:   req.AnswerID,
		Format:     pipeline.ParseFormat(req.Format),
		Mode:       blocks.ParseMode(req.Mode),
		References: req.References,
		Indexes:    h.indexes,
		Guard:      g,
		Resolver:   resolver.NewTuned(tun.Resolver.Threshold, tun.Resolver.EndWindow),
		Logger:     h.logger,
	})
	h.mu.Unlock()

	h.logger.Info("answer created",
		zap.String("answer_id", req.AnswerID),
		zap.String("format", req.Format),
		zap.String("mode", req.Mode),
		zap.Int("references", len(req.References)))

	writeJSON(w, http.StatusCreated, createResponse{AnswerID: req.AnswerID})
}

type fragmentRequest struct {
	Text string `json:"text"`
}

// handleFragment feeds one stream fragment into an answer's driver.
func (h *AnswerHandler) handleFragment(w http.ResponseWriter, r *http.Request) {
	if !h.allow(r) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	id := r.PathValue("id")
	var req fragmentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFragmentBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.mu.Lock()
	drv, ok := h.drivers[id]
	if !ok {
		h.mu.Unlock()
		writeError(w, http.StatusNotFound, "unknown answer")
		return
	}
	events := drv.Feed(req.Text)
	h.mu.Unlock()

	h.publish(id, events)
	w.WriteHeader(http.StatusAccepted)
}

// handleClose ends an answer's stream: corrections, reconciliation, and
// the done event are published before the driver is discarded.
func (h *AnswerHandler) handleClose(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	h.mu.Lock()
	drv, ok := h.drivers[id]
	if !ok {
		h.mu.Unlock()
		writeError(w, http.StatusNotFound, "unknown answer")
		return
	}
	events := drv.Finish(r.Context())
	delete(h.drivers, id)
	h.mu.Unlock()

	h.publish(id, events)
	h.logger.Info("answer closed", zap.String("answer_id", id), zap.Int("events", len(events)))
	w.WriteHeader(http.StatusOK)
}

// handleCancel aborts an answer without reconciliation.
func (h *AnswerHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	h.mu.Lock()
	drv, ok := h.drivers[id]
	if !ok {
		h.mu.Unlock()
		writeError(w, http.StatusNotFound, "unknown answer")
		return
	}
	events := drv.Cancel()
	delete(h.drivers, id)
	h.mu.Unlock()

	h.publish(id, events)
	h.logger.Info("answer cancelled", zap.String("answer_id", id))
	w.WriteHeader(http.StatusOK)
}

func (h *AnswerHandler) publish(answerID string, events []pipeline.Event) {
	for _, ev := range events {
		h.mgr.Publish(answerID, ev)
	}
}

// allow applies the per-client ingest rate limit, keyed by remote host.
func (h *AnswerHandler) allow(r *http.Request) bool {
	if h.ingestRate <= 0 {
		return true
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	now := time.Now()
	h.mu.Lock()
	cl, ok := h.limiters[host]
	if !ok {
		if len(h.limiters) >= limiterMapMax {
			h.pruneLimitersLocked(now)
		}
		cl = &clientLimiter{lim: rate.NewLimiter(rate.Limit(h.ingestRate), h.ingestBurst)}
		h.limiters[host] = cl
	}
	cl.lastSeen = now
	h.mu.Unlock()
	return cl.lim.Allow()
}

func (h *AnswerHandler) pruneLimitersLocked(now time.Time) {
	for host, cl := range h.limiters {
		if now.Sub(cl.lastSeen) > limiterIdleAfter {
			delete(h.limiters, host)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
