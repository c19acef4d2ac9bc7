package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"lorekeep/internal/fts"
	"lorekeep/internal/middleware"
	"lorekeep/internal/vector"
)

type VectorStore interface {
	List(ctx context.Context) ([]vector.Collection, error)
	Count(ctx context.Context, name string) (int, error)
}

type SourceStore interface {
	CountRows(ctx context.Context, sourceType string) (int, error)
}

type Handler struct {
	vectorStore VectorStore
	sourceStore SourceStore
}

func NewHandler(v VectorStore, s SourceStore) *Handler {
	return &Handler{vectorStore: v, sourceStore: s}
}

type CollectionStats struct {
	Name   string `json:"name"`
	Chunks int    `json:"chunks"`
}

type StatsResponse struct {
	Collections []CollectionStats `json:"collections"`
	Sources     map[string]int    `json:"sources"`
	TotalChunks int               `json:"total_chunks"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	collections, err := h.vectorStore.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list collections", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to list collections", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Collections: make([]CollectionStats, 0, len(collections)),
		Sources:     make(map[string]int),
	}

	for _, c := range collections {
		count, err := h.vectorStore.Count(ctx, c.Name)
		if err != nil {
			slog.ErrorContext(ctx, "failed to count collection", "collection", c.Name, "error", err, "correlationId", correlationID)
			h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count collection", http.StatusInternalServerError)
			return
		}
		resp.Collections = append(resp.Collections, CollectionStats{Name: c.Name, Chunks: count})
		resp.TotalChunks += count
	}

	for _, st := range fts.SourceTypes() {
		count, err := h.sourceStore.CountRows(ctx, st)
		if err != nil {
			slog.ErrorContext(ctx, "failed to count source rows", "sourceType", st, "error", err, "correlationId", correlationID)
			h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count source rows", http.StatusInternalServerError)
			return
		}
		resp.Sources[st] = count
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
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
