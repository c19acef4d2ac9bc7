package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"lorekeep/internal/embedding"
	"lorekeep/internal/enrich"
	"lorekeep/internal/fts"
	"lorekeep/internal/text"
	"lorekeep/internal/vector"
)

// Document is one ingestion unit: a full source text to chunk, embed
// and index under a collection.
type Document struct {
	SourceRef     string       `json:"sourceRef"`
	Collection    string       `json:"collection"`
	Title         string       `json:"title,omitempty"`
	Text          string       `json:"text"`
	Keywords      []string     `json:"keywords,omitempty"`
	Contextualize bool         `json:"contextualize,omitempty"`
	Provider      string       `json:"provider"`
	Model         string       `json:"model,omitempty"`
	ChunkOptions  text.Options `json:"chunkOptions"`
	CorrelationID string       `json:"correlationId,omitempty"`
}

type VectorStore interface {
	EnsureCollection(ctx context.Context, c vector.Collection) (*vector.Collection, error)
	Upsert(ctx context.Context, collection string, ids []string, vectors [][]float32, documents []string, metadatas []map[string]interface{}) error
}

type MediaStore interface {
	UpsertMedia(ctx context.Context, item fts.MediaItem) error
	ReplaceKeywords(ctx context.Context, mediaID string, keywords []string) error
}

type Pipeline struct {
	pool     *embedding.Pool
	store    VectorStore
	media    MediaStore
	generate   enrich.GenerateFunc
	limit      int
	retryDelay time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPipeline wires the ingestion flow. limit bounds the concurrent
// situating calls per document.
func NewPipeline(pool *embedding.Pool, store VectorStore, media MediaStore, generate enrich.GenerateFunc, limit int) *Pipeline {
	if limit <= 0 {
		limit = 4
	}
	return &Pipeline{
		pool:       pool,
		store:      store,
		media:      media,
		generate:   generate,
		limit:      limit,
		retryDelay: time.Second,
		locks:      make(map[string]*sync.Mutex),
	}
}

// collectionLock serializes writes per collection so concurrent
// ingestion cannot interleave partial batches.
func (p *Pipeline) collectionLock(collection string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[collection]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[collection] = lock
	}
	return lock
}

// Process chunks the document, optionally situates every chunk,
// embeds the batch and stores it in the vector index and the media
// full-text table.
func (p *Pipeline) Process(ctx context.Context, doc Document) error {
	if doc.SourceRef == "" || doc.Collection == "" {
		return fmt.Errorf("document needs sourceRef and collection")
	}

	chunks, err := text.Split(doc.Text, doc.SourceRef, doc.ChunkOptions)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	if doc.Contextualize {
		if err := p.situateChunks(ctx, doc.Text, chunks); err != nil {
			return err
		}
	}

	embedTexts := make([]string, len(chunks))
	for i, c := range chunks {
		if c.ContextualSummary != "" {
			embedTexts[i] = enrich.Contextualize(c.Text, c.ContextualSummary)
		} else {
			embedTexts[i] = c.Text
		}
	}

	svc, err := p.pool.Get(ctx, doc.Provider, doc.Model)
	if err != nil {
		return fmt.Errorf("embedder for %s: %w", doc.Provider, err)
	}
	vectors, err := svc.Embed(ctx, embedTexts)
	if err != nil {
		return err
	}

	ids := make([]string, len(chunks))
	documents := make([]string, len(chunks))
	metadatas := make([]map[string]interface{}, len(chunks))
	for i, c := range chunks {
		ids[i] = fmt.Sprintf("%s_chunk_%d", doc.SourceRef, i+1)
		documents[i] = embedTexts[i]
		metadatas[i] = map[string]interface{}{
			"media_id":          doc.SourceRef,
			"chunk_index":       i + 1,
			"total_chunks":      len(chunks),
			"start_index":       c.StartIndex,
			"end_index":         c.EndIndex,
			"file_name":         doc.Title,
			"relative_position": c.RelativePosition,
			"contextualized":    c.ContextualSummary != "",
			"original_text":     c.Text,
		}
		if c.ContextualSummary != "" {
			metadatas[i]["contextual_summary"] = c.ContextualSummary
		}
	}

	lock := p.collectionLock(doc.Collection)
	lock.Lock()
	defer lock.Unlock()

	if _, err := p.store.EnsureCollection(ctx, vector.Collection{
		Name:      doc.Collection,
		Provider:  svc.Provider().Name(),
		Model:     svc.Provider().Model(),
		Dimension: len(vectors[0]),
	}); err != nil {
		return err
	}
	if err := p.store.Upsert(ctx, doc.Collection, ids, vectors, documents, metadatas); err != nil {
		return err
	}

	if p.media != nil {
		if err := p.media.UpsertMedia(ctx, fts.MediaItem{ID: doc.SourceRef, Title: doc.Title, Content: doc.Text}); err != nil {
			return err
		}
		if err := p.media.ReplaceKeywords(ctx, doc.SourceRef, doc.Keywords); err != nil {
			return err
		}
	}

	slog.InfoContext(ctx, "document ingested",
		"sourceRef", doc.SourceRef,
		"collection", doc.Collection,
		"chunks", len(chunks),
		"contextualized", doc.Contextualize)
	return nil
}

// situateChunks fills in ContextualSummary for every chunk, in
// parallel up to the pipeline limit. Each chunk gets one retry before
// the document fails.
func (p *Pipeline) situateChunks(ctx context.Context, documentText string, chunks []text.Chunk) error {
	if p.generate == nil {
		return fmt.Errorf("contextualize requested but no generation backend configured")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limit)
	for i := range chunks {
		i := i
		g.Go(func() error {
			var lastErr error
			for attempt := 0; attempt < 2; attempt++ {
				summary, err := enrich.Situate(gctx, documentText, chunks[i].Text, p.generate)
				if err == nil {
					chunks[i].ContextualSummary = summary
					return nil
				}
				lastErr = err
				if attempt == 0 {
					select {
					case <-gctx.Done():
						return gctx.Err()
					case <-time.After(p.retryDelay):
					}
				}
			}
			return fmt.Errorf("situate chunk %d: %w", i+1, lastErr)
		})
	}
	return g.Wait()
}
