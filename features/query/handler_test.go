package query_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lorekeep/features/query"
	"lorekeep/internal/fts"
	"lorekeep/internal/llm"
	"lorekeep/internal/retrieval"
)

type MockQueryService struct {
	mock.Mock
}

func (m *MockQueryService) Query(ctx context.Context, req retrieval.Request) (*retrieval.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*retrieval.Response), args.Error(1)
}

func postQuery(t *testing.T, h *query.Handler, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/query", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h.Query(rec, req)
	return rec
}

func TestHandler_Query(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		svc := new(MockQueryService)
		h := query.NewHandler(svc)

		svc.On("Query", mock.Anything, mock.MatchedBy(func(r retrieval.Request) bool {
			return r.Query == "what is reentry" && r.Backend == "openai"
		})).Return(&retrieval.Response{Answer: "a", Context: "c"}, nil)

		rec := postQuery(t, h, retrieval.Request{Query: "what is reentry", Backend: "openai"})
		assert.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Data retrieval.Response `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "a", body.Data.Answer)
		assert.Equal(t, "c", body.Data.Context)
		svc.AssertExpectations(t)
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		h := query.NewHandler(new(MockQueryService))

		req := httptest.NewRequest("POST", "/query", bytes.NewReader([]byte("{")))
		rec := httptest.NewRecorder()
		h.Query(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "INVALID_BODY")
	})

	t.Run("Empty Query Is 400", func(t *testing.T) {
		svc := new(MockQueryService)
		h := query.NewHandler(svc)
		svc.On("Query", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("validate request: %w", retrieval.ErrEmptyQuery))

		rec := postQuery(t, h, retrieval.Request{Query: "  ", Backend: "openai"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "EMPTY_QUERY")
	})

	t.Run("Unknown Backend Is 400", func(t *testing.T) {
		svc := new(MockQueryService)
		h := query.NewHandler(svc)
		svc.On("Query", mock.Anything, mock.Anything).
			Return(nil, &llm.UnknownBackendError{Backend: "claude"})

		rec := postQuery(t, h, retrieval.Request{Query: "q", Backend: "claude"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "UNKNOWN_BACKEND")
	})

	t.Run("Unsupported Source Type Is 400", func(t *testing.T) {
		svc := new(MockQueryService)
		h := query.NewHandler(svc)
		svc.On("Query", mock.Anything, mock.Anything).
			Return(nil, &fts.UnsupportedSourceTypeError{SourceType: "emails"})

		rec := postQuery(t, h, retrieval.Request{Query: "q", Backend: "openai", SourceTypes: []string{"emails"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "UNSUPPORTED_SOURCE_TYPE")
	})

	t.Run("Internal Error Is 500", func(t *testing.T) {
		svc := new(MockQueryService)
		h := query.NewHandler(svc)
		svc.On("Query", mock.Anything, mock.Anything).
			Return(nil, assert.AnError)

		rec := postQuery(t, h, retrieval.Request{Query: "q", Backend: "openai"})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
	})
}
