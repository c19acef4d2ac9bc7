package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lorekeep/internal/embedding"
	"lorekeep/internal/fts"
	"lorekeep/internal/text"
	"lorekeep/internal/vector"
)

type stubProvider struct {
	name  string
	model string
	dim   int
	calls [][]string
}

func (p *stubProvider) Name() string  { return p.name }
func (p *stubProvider) Model() string { return p.model }

func (p *stubProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	p.calls = append(p.calls, texts)
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, p.dim)
		vec[0] = float32(i)
		out[i] = vec
	}
	return out, nil
}

type recordingStore struct {
	mu         sync.Mutex
	ensured    []vector.Collection
	collection string
	ids        []string
	vectors    [][]float32
	documents  []string
	metadatas  []map[string]interface{}
	upsertErr  error
}

func (s *recordingStore) EnsureCollection(ctx context.Context, c vector.Collection) (*vector.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensured = append(s.ensured, c)
	return &c, nil
}

func (s *recordingStore) Upsert(ctx context.Context, collection string, ids []string, vectors [][]float32, documents []string, metadatas []map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.collection = collection
	s.ids = ids
	s.vectors = vectors
	s.documents = documents
	s.metadatas = metadatas
	return nil
}

type recordingMedia struct {
	items    []fts.MediaItem
	keywords map[string][]string
}

func (m *recordingMedia) UpsertMedia(ctx context.Context, item fts.MediaItem) error {
	m.items = append(m.items, item)
	return nil
}

func (m *recordingMedia) ReplaceKeywords(ctx context.Context, mediaID string, keywords []string) error {
	if m.keywords == nil {
		m.keywords = make(map[string][]string)
	}
	m.keywords[mediaID] = keywords
	return nil
}

func testPool(p *stubProvider) *embedding.Pool {
	factory := func(ctx context.Context, provider, model string) (embedding.Provider, error) {
		return p, nil
	}
	return embedding.NewPool(factory, nil, 1, time.Millisecond)
}

func testDoc() Document {
	return Document{
		SourceRef:  "m1",
		Collection: "doc_1",
		Title:      "Three Paragraphs",
		Text:       "First paragraph about orbits.\n\nSecond paragraph about fuel.\n\nThird paragraph about reentry.",
		Provider:   "stub",
		Keywords:   []string{"space"},
		ChunkOptions: text.Options{
			Method:  text.MethodSentences,
			MaxSize: 50,
			Overlap: 10,
		},
	}
}

func TestPipeline_Process(t *testing.T) {
	provider := &stubProvider{name: "stub", model: "stub-model", dim: 4}
	store := &recordingStore{}
	media := &recordingMedia{}
	pipeline := NewPipeline(testPool(provider), store, media, nil, 2)

	err := pipeline.Process(context.Background(), testDoc())
	require.NoError(t, err)

	require.NotEmpty(t, store.ids)
	assert.Equal(t, "doc_1", store.collection)
	assert.Equal(t, "m1_chunk_1", store.ids[0])
	assert.Equal(t, fmt.Sprintf("m1_chunk_%d", len(store.ids)), store.ids[len(store.ids)-1])
	assert.Len(t, store.vectors, len(store.ids))
	assert.Len(t, store.documents, len(store.ids))

	require.Len(t, store.ensured, 1)
	assert.Equal(t, "doc_1", store.ensured[0].Name)
	assert.Equal(t, "stub", store.ensured[0].Provider)
	assert.Equal(t, "stub-model", store.ensured[0].Model)
	assert.Equal(t, 4, store.ensured[0].Dimension)

	meta := store.metadatas[0]
	assert.Equal(t, "m1", meta["media_id"])
	assert.Equal(t, 1, meta["chunk_index"])
	assert.Equal(t, len(store.ids), meta["total_chunks"])
	assert.Equal(t, "Three Paragraphs", meta["file_name"])
	assert.Equal(t, false, meta["contextualized"])
	assert.Equal(t, store.documents[0], meta["original_text"])

	require.Len(t, media.items, 1)
	assert.Equal(t, "m1", media.items[0].ID)
	assert.Equal(t, []string{"space"}, media.keywords["m1"])
}

func TestPipeline_ProcessContextualized(t *testing.T) {
	provider := &stubProvider{name: "stub", model: "stub-model", dim: 4}
	store := &recordingStore{}
	generate := func(ctx context.Context, prompt, systemPrompt string) (string, error) {
		return "situating summary", nil
	}
	pipeline := NewPipeline(testPool(provider), store, nil, generate, 2)

	doc := testDoc()
	doc.Contextualize = true
	require.NoError(t, pipeline.Process(context.Background(), doc))

	require.NotEmpty(t, store.documents)
	for i, stored := range store.documents {
		assert.True(t, strings.HasSuffix(stored, "\n\nContextual Summary: situating summary"), "chunk %d", i)
		assert.Equal(t, true, store.metadatas[i]["contextualized"])
		assert.Equal(t, "situating summary", store.metadatas[i]["contextual_summary"])
		original := store.metadatas[i]["original_text"].(string)
		assert.NotContains(t, original, "Contextual Summary:")
	}

	// The embedded text is the contextualized form.
	require.NotEmpty(t, provider.calls)
	assert.Contains(t, provider.calls[0][0], "Contextual Summary:")
}

func TestPipeline_SituateRetries(t *testing.T) {
	provider := &stubProvider{name: "stub", model: "stub-model", dim: 4}
	store := &recordingStore{}

	var mu sync.Mutex
	failures := map[string]bool{}
	generate := func(ctx context.Context, prompt, systemPrompt string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if !failures[prompt] {
			failures[prompt] = true
			return "", errors.New("transient")
		}
		return "summary", nil
	}

	pipeline := NewPipeline(testPool(provider), store, nil, generate, 2)
	pipeline.retryDelay = time.Millisecond

	doc := testDoc()
	doc.Contextualize = true
	require.NoError(t, pipeline.Process(context.Background(), doc))
	assert.Equal(t, true, store.metadatas[0]["contextualized"])
}

func TestPipeline_SituatePermanentFailure(t *testing.T) {
	provider := &stubProvider{name: "stub", model: "stub-model", dim: 4}
	store := &recordingStore{}
	generate := func(ctx context.Context, prompt, systemPrompt string) (string, error) {
		return "", errors.New("model gone")
	}

	pipeline := NewPipeline(testPool(provider), store, nil, generate, 2)
	pipeline.retryDelay = time.Millisecond

	doc := testDoc()
	doc.Contextualize = true
	err := pipeline.Process(context.Background(), doc)
	require.Error(t, err)
	assert.ErrorContains(t, err, "situate chunk")
	assert.Empty(t, store.ids, "nothing stored when enrichment fails")
}

func TestPipeline_ContextualizeWithoutBackend(t *testing.T) {
	provider := &stubProvider{name: "stub", model: "stub-model", dim: 4}
	pipeline := NewPipeline(testPool(provider), &recordingStore{}, nil, nil, 2)

	doc := testDoc()
	doc.Contextualize = true
	err := pipeline.Process(context.Background(), doc)
	assert.ErrorContains(t, err, "no generation backend")
}

func TestPipeline_Validation(t *testing.T) {
	provider := &stubProvider{name: "stub", model: "stub-model", dim: 4}
	pipeline := NewPipeline(testPool(provider), &recordingStore{}, nil, nil, 2)

	err := pipeline.Process(context.Background(), Document{Collection: "doc_1"})
	assert.ErrorContains(t, err, "sourceRef")

	doc := testDoc()
	doc.ChunkOptions.MaxSize = 0
	err = pipeline.Process(context.Background(), doc)
	var chunkErr *text.ChunkingError
	assert.ErrorAs(t, err, &chunkErr)
}

func TestPipeline_EmptyDocumentIsNoop(t *testing.T) {
	provider := &stubProvider{name: "stub", model: "stub-model", dim: 4}
	store := &recordingStore{}
	pipeline := NewPipeline(testPool(provider), store, nil, nil, 2)

	doc := testDoc()
	doc.Text = ""
	require.NoError(t, pipeline.Process(context.Background(), doc))
	assert.Empty(t, store.ids)
	assert.Empty(t, store.ensured)
}
