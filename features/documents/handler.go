package documents

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"lorekeep/internal/config"
	"lorekeep/internal/ingest"
	"lorekeep/internal/middleware"
)

// TaskPublisher pushes ingestion payloads onto the message queue.
// Satisfied by *nsq.Producer.
type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

type Handler struct {
	pub TaskPublisher
}

func NewHandler(pub TaskPublisher) *Handler {
	return &Handler{pub: pub}
}

// Enqueue accepts a document and queues it for ingestion. Chunking,
// enrichment and embedding happen asynchronously in the consumer.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	var doc ingest.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		h.writeError(ctx, w, "INVALID_BODY", err.Error(), http.StatusBadRequest)
		return
	}

	if doc.SourceRef == "" {
		h.writeError(ctx, w, "VALIDATION_ERROR", "sourceRef is required", http.StatusBadRequest)
		return
	}
	if doc.Collection == "" {
		h.writeError(ctx, w, "VALIDATION_ERROR", "collection is required", http.StatusBadRequest)
		return
	}
	if doc.Text == "" {
		h.writeError(ctx, w, "VALIDATION_ERROR", "text is required", http.StatusBadRequest)
		return
	}

	doc.CorrelationID = correlationID

	payload, err := json.Marshal(doc)
	if err != nil {
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to encode task", http.StatusInternalServerError)
		return
	}

	if err := h.pub.Publish(config.TopicIngestTask, payload); err != nil {
		slog.ErrorContext(ctx, "failed to publish ingest task", "error", err, "sourceRef", doc.SourceRef, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to queue document", http.StatusInternalServerError)
		return
	}

	slog.InfoContext(ctx, "document queued for ingestion", "sourceRef", doc.SourceRef, "collection", doc.Collection, "correlationId", correlationID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	resp := map[string]interface{}{
		"data": map[string]string{
			"status":    "queued",
			"sourceRef": doc.SourceRef,
		},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
