package app

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"lorekeep/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		DefaultBackend:       "openai",
		OpenAIAPIKey:         "test-key",
		OpenAIModel:          "gpt-4o-mini",
		RerankProvider:       "none",
		EmbedRateLimitCalls:  300,
		EmbedRateLimitPeriod: 60,
		EmbedMaxRetries:      3,
		QueryTimeoutSeconds:  30,
		EnrichConcurrency:    4,
		ServerPort:           8081,
		QueryLogPath:         os.DevNull,
	}
}

func TestNew(t *testing.T) {
	// 1. Mock DB
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// 2. Mock Weaviate
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	wCfg := weaviate.Config{
		Host:   server.URL[7:],
		Scheme: "http",
	}
	wClient, err := weaviate.NewClient(wCfg)
	require.NoError(t, err)

	// 3. NSQ producer, does not connect until first publish
	producer, err := nsq.NewProducer("localhost:4150", nsq.NewConfig())
	require.NoError(t, err)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	application, err := New(testConfig(), db, wClient, producer, logger)
	require.NoError(t, err)
	assert.NotNil(t, application)
	assert.NotNil(t, application.Handler)
	assert.NotNil(t, application.RetrievalService)
	assert.NotNil(t, application.IngestConsumer)

	// Verify route wiring
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	application.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Unknown route
	req = httptest.NewRequest("GET", "/nope", nil)
	w = httptest.NewRecorder()
	application.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEmbeddingFactory(t *testing.T) {
	cfg := testConfig()
	cfg.GeminiAPIKey = "gem-key"
	cfg.LocalEmbedURL = "http://localhost:9099"
	factory := embeddingFactory(cfg)

	t.Run("OpenAI", func(t *testing.T) {
		p, err := factory(t.Context(), "openai", "text-embedding-3-small")
		require.NoError(t, err)
		assert.Equal(t, "openai", p.Name())
		assert.Equal(t, "text-embedding-3-small", p.Model())
	})

	t.Run("Local", func(t *testing.T) {
		p, err := factory(t.Context(), "local", "mini")
		require.NoError(t, err)
		assert.Equal(t, "local", p.Name())
		assert.Equal(t, "mini", p.Model())
	})

	t.Run("LocalDefaultModel", func(t *testing.T) {
		cfg := testConfig()
		cfg.LocalEmbedURL = "http://localhost:9099"
		cfg.LocalEmbedModel = "default-embed"
		factory := embeddingFactory(cfg)
		p, err := factory(t.Context(), "local", "")
		require.NoError(t, err)
		assert.Equal(t, "default-embed", p.Model())
	})

	t.Run("LocalSharesProvider", func(t *testing.T) {
		a, err := factory(t.Context(), "local", "m1")
		require.NoError(t, err)
		b, err := factory(t.Context(), "local", "m2")
		require.NoError(t, err)
		assert.Equal(t, "m1", a.Model())
		assert.Equal(t, "m2", b.Model())
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := factory(t.Context(), "anthropic", "m")
		assert.ErrorContains(t, err, "unknown embedding provider")
	})
}
