package collections

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"lorekeep/internal/middleware"
	"lorekeep/internal/vector"
)

type CollectionStore interface {
	List(ctx context.Context) ([]vector.Collection, error)
	Count(ctx context.Context, name string) (int, error)
	Reset(ctx context.Context, name string) error
}

type Handler struct {
	store CollectionStore
}

func NewHandler(store CollectionStore) *Handler {
	return &Handler{store: store}
}

type collectionResponse struct {
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	collections, err := h.store.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list collections", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to list collections", http.StatusInternalServerError)
		return
	}

	resp := make([]collectionResponse, len(collections))
	for i, c := range collections {
		resp[i] = collectionResponse{
			Name:      c.Name,
			Provider:  c.Provider,
			Model:     c.Model,
			Dimension: c.Dimension,
			Metric:    c.Metric,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) Count(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")

	count, err := h.store.Count(ctx, name)
	if err != nil {
		var notFound *vector.NotFoundError
		if errors.As(err, &notFound) {
			h.writeError(ctx, w, "NOT_FOUND", notFound.Error(), http.StatusNotFound)
			return
		}
		slog.ErrorContext(ctx, "failed to count collection", "collection", name, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count collection", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{
		"name":  name,
		"count": count,
	}}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "resetting collection", "collection", name, "correlationId", correlationID)

	if err := h.store.Reset(ctx, name); err != nil {
		var notFound *vector.NotFoundError
		if errors.As(err, &notFound) {
			h.writeError(ctx, w, "NOT_FOUND", notFound.Error(), http.StatusNotFound)
			return
		}
		slog.ErrorContext(ctx, "failed to reset collection", "collection", name, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to reset collection", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
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
