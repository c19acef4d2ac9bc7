package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type localServer struct {
	mu      sync.Mutex
	loads   []string
	unloads []string
	embeds  int
}

func (s *localServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/models/load", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		s.mu.Lock()
		s.loads = append(s.loads, body["model"])
		s.mu.Unlock()
	})
	mux.HandleFunc("/models/unload", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		s.mu.Lock()
		s.unloads = append(s.unloads, body["model"])
		s.mu.Unlock()
	})
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req localEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		s.mu.Lock()
		s.embeds++
		s.mu.Unlock()
		resp := localEmbedResponse{Embeddings: make([][]float32, len(req.Texts))}
		for i := range req.Texts {
			resp.Embeddings[i] = []float32{0.1, 0.2}
		}
		json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func (s *localServer) snapshot() (loads, unloads []string, embeds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.loads...), append([]string(nil), s.unloads...), s.embeds
}

func TestLocalProviderLoadsOnFirstEmbed(t *testing.T) {
	fake := &localServer{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	p := NewLocalProvider(srv.URL, "", "e5-small", time.Minute)
	defer p.Close()

	vecs, err := p.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)

	_, err = p.Embed(context.Background(), []string{"c"})
	require.NoError(t, err)

	loads, _, embeds := fake.snapshot()
	assert.Equal(t, []string{"e5-small"}, loads, "model loads once across calls")
	assert.Equal(t, 2, embeds)
}

func TestLocalProviderSwapUnloadsPrevious(t *testing.T) {
	fake := &localServer{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	p := NewLocalProvider(srv.URL, "", "small", time.Minute)
	defer p.Close()

	_, err := p.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)

	require.NoError(t, p.SwapModel(context.Background(), "large"))
	assert.Equal(t, "large", p.Model())

	_, err = p.Embed(context.Background(), []string{"b"})
	require.NoError(t, err)

	loads, unloads, _ := fake.snapshot()
	assert.Equal(t, []string{"small", "large"}, loads)
	assert.Equal(t, []string{"small"}, unloads)
}

func TestLocalProviderPinnedViewsShareOneSlot(t *testing.T) {
	fake := &localServer{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	p := NewLocalProvider(srv.URL, "", "small", time.Minute)
	defer p.Close()

	small := p.ForModel("small")
	large := p.ForModel("large")
	assert.Equal(t, "small", small.Model())
	assert.Equal(t, "large", large.Model())

	_, err := small.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)

	// Switching views unloads the previous model before loading the next.
	_, err = large.Embed(context.Background(), []string{"b"})
	require.NoError(t, err)

	_, err = small.Embed(context.Background(), []string{"c"})
	require.NoError(t, err)

	loads, unloads, embeds := fake.snapshot()
	assert.Equal(t, []string{"small", "large", "small"}, loads)
	assert.Equal(t, []string{"small", "large"}, unloads)
	assert.Equal(t, 3, embeds)
}

func TestLocalProviderForModelEmptyPinsCurrent(t *testing.T) {
	p := NewLocalProvider("http://localhost:9099", "", "small", time.Minute)
	view := p.ForModel("")
	assert.Equal(t, "small", view.Model())
}

func TestLocalProviderSwapToSameModelIsNoop(t *testing.T) {
	fake := &localServer{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	p := NewLocalProvider(srv.URL, "", "small", time.Minute)
	defer p.Close()

	_, err := p.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	require.NoError(t, p.SwapModel(context.Background(), "small"))

	_, unloads, _ := fake.snapshot()
	assert.Empty(t, unloads)
}

func TestLocalProviderIdleEvictionAndReload(t *testing.T) {
	fake := &localServer{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	p := NewLocalProvider(srv.URL, "", "small", 30*time.Millisecond)
	defer p.Close()

	_, err := p.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, unloads, _ := fake.snapshot()
		return len(unloads) == 1
	}, time.Second, 5*time.Millisecond, "idle timeout unloads the model")

	// Next call reloads transparently.
	_, err = p.Embed(context.Background(), []string{"b"})
	require.NoError(t, err)

	loads, _, _ := fake.snapshot()
	assert.Equal(t, []string{"small", "small"}, loads)
}

func TestLocalProviderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewLocalProvider(srv.URL, "", "missing", time.Minute)
	_, err := p.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "load model missing")
}
