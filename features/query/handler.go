package query

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"lorekeep/internal/fts"
	"lorekeep/internal/llm"
	"lorekeep/internal/middleware"
	"lorekeep/internal/retrieval"
)

type QueryService interface {
	Query(ctx context.Context, req retrieval.Request) (*retrieval.Response, error)
}

type Handler struct {
	svc QueryService
}

func NewHandler(svc QueryService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	var req retrieval.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "INVALID_BODY", "request body must be valid JSON", http.StatusBadRequest)
		return
	}

	slog.InfoContext(ctx, "retrieval query",
		"backend", req.Backend,
		"sourceTypes", req.SourceTypes,
		"rerank", req.Rerank,
		"correlationId", correlationID)

	resp, err := h.svc.Query(ctx, req)
	if err != nil {
		var unknownBackend *llm.UnknownBackendError
		var unsupportedType *fts.UnsupportedSourceTypeError
		switch {
		case errors.As(err, &unknownBackend):
			h.writeError(ctx, w, "UNKNOWN_BACKEND", unknownBackend.Error(), http.StatusBadRequest)
		case errors.As(err, &unsupportedType):
			h.writeError(ctx, w, "UNSUPPORTED_SOURCE_TYPE", unsupportedType.Error(), http.StatusBadRequest)
		case errors.Is(err, retrieval.ErrEmptyQuery):
			h.writeError(ctx, w, "EMPTY_QUERY", err.Error(), http.StatusBadRequest)
		default:
			slog.ErrorContext(ctx, "query failed", "error", err, "correlationId", correlationID)
			h.writeError(ctx, w, "INTERNAL_ERROR", "query failed", http.StatusInternalServerError)
		}
		return
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
