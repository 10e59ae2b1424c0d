package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openclass-ai/citestream/internal/docstore"
	"github.com/openclass-ai/citestream/internal/sentences"
)

const maxLayoutBytes = 10 << 20 // 10MB

// LayoutStore persists document layouts.
type LayoutStore interface {
	SaveLayout(ctx context.Context, docID uuid.UUID, records []sentences.LayoutRecord) error
	DeleteLayout(ctx context.Context, docID uuid.UUID) error
}

// Invalidator drops cached indexes after a layout changes.
type Invalidator interface {
	Invalidate(ctx context.Context, docID uuid.UUID)
}

// DocumentHandler serves document layout ingestion.
type DocumentHandler struct {
	store  LayoutStore
	caches Invalidator
	logger *zap.Logger
}

// NewDocumentHandler returns a handler writing through store. caches may
// be nil when no index cache is configured.
func NewDocumentHandler(store LayoutStore, caches Invalidator, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{store: store, caches: caches, logger: logger}
}

// RegisterRoutes registers the document routes on mux.
func (h *DocumentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("PUT /v1/documents/{id}/layout", h.handlePut)
	mux.HandleFunc("DELETE /v1/documents/{id}/layout", h.handleDelete)
}

// handlePut stores a document's layout records and invalidates any cached
// index built from the previous layout.
func (h *DocumentHandler) handlePut(w http.ResponseWriter, r *http.Request) {
	docID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	var records []sentences.LayoutRecord
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLayoutBytes)).Decode(&records); err != nil {
		writeError(w, http.StatusBadRequest, "invalid layout body")
		return
	}
	if len(records) == 0 {
		writeError(w, http.StatusBadRequest, "layout is empty")
		return
	}
	if err := h.store.SaveLayout(r.Context(), docID, records); err != nil {
		h.logger.Error("layout save failed", zap.String("doc_id", docID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "layout save failed")
		return
	}
	if h.caches != nil {
		h.caches.Invalidate(r.Context(), docID)
	}
	h.logger.Info("layout stored",
		zap.String("doc_id", docID.String()),
		zap.Int("records", len(records)))
	writeJSON(w, http.StatusOK, map[string]any{"doc_id": docID.String(), "records": len(records)})
}

// handleDelete removes a document's layout and drops its cached index.
func (h *DocumentHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	docID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	if err := h.store.DeleteLayout(r.Context(), docID); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown document")
			return
		}
		h.logger.Error("layout delete failed", zap.String("doc_id", docID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "layout delete failed")
		return
	}
	if h.caches != nil {
		h.caches.Invalidate(r.Context(), docID)
	}
	h.logger.Info("layout deleted", zap.String("doc_id", docID.String()))
	w.WriteHeader(http.StatusNoContent)
}
