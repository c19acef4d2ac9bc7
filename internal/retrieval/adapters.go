package retrieval

import (
	"context"
	"fmt"

	"lorekeep/internal/embedding"
	"lorekeep/internal/fts"
	"lorekeep/internal/reranker"
	"lorekeep/internal/vector"
)

// VectorAdapter searches one collection by embedding the query with
// the provider and model registered for that collection.
type VectorAdapter struct {
	store *vector.Store
	pool  *embedding.Pool
}

func NewVectorAdapter(store *vector.Store, pool *embedding.Pool) *VectorAdapter {
	return &VectorAdapter{store: store, pool: pool}
}

func (a *VectorAdapter) Collections(ctx context.Context) ([]string, error) {
	collections, err := a.store.Registry().List(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(collections))
	for i, c := range collections {
		names[i] = c.Name
	}
	return names, nil
}

func (a *VectorAdapter) Search(ctx context.Context, collection, query string, topK int) ([]Candidate, error) {
	reg, err := a.store.Registry().Get(ctx, collection)
	if err != nil {
		return nil, err
	}
	svc, err := a.pool.Get(ctx, reg.Provider, reg.Model)
	if err != nil {
		return nil, fmt.Errorf("embedder for %s/%s: %w", reg.Provider, reg.Model, err)
	}
	vectors, err := svc.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	results, err := a.store.Query(ctx, collection, vectors[0], topK, nil)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, len(results))
	for i, r := range results {
		candidates[i] = Candidate{
			Content:  r.Content,
			Metadata: r.Metadata,
			Origin:   "vector:" + collection,
			Score:    r.Score,
		}
	}
	return candidates, nil
}

// FullTextAdapter exposes the Postgres full-text store through the
// orchestrator's searcher interface.
type FullTextAdapter struct {
	store *fts.Store
}

func NewFullTextAdapter(store *fts.Store) *FullTextAdapter {
	return &FullTextAdapter{store: store}
}

func (a *FullTextAdapter) Search(ctx context.Context, query, sourceType string, idFilter []string, topK int) ([]Candidate, error) {
	results, err := a.store.SearchFullText(ctx, query, sourceType, idFilter, topK)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, len(results))
	for i, r := range results {
		candidates[i] = Candidate{
			Content: r.Content,
			Metadata: map[string]interface{}{
				"id":          r.ID,
				"title":       r.Title,
				"source_type": r.SourceType,
			},
			Origin: "fts:" + sourceType,
			Score:  r.Rank,
		}
	}
	return candidates, nil
}

func (a *FullTextAdapter) ResolveIDs(ctx context.Context, sourceType string, keywords []string) ([]string, error) {
	return a.store.ResolveIDs(ctx, sourceType, keywords)
}

func (a *FullTextAdapter) Supported(sourceType string) bool {
	return fts.Supported(sourceType)
}

// RerankerAdapter bridges the HTTP reranker client.
type RerankerAdapter struct {
	client *reranker.Client
}

func NewRerankerAdapter(client *reranker.Client) *RerankerAdapter {
	return &RerankerAdapter{client: client}
}

func (a *RerankerAdapter) Rerank(ctx context.Context, query string, docs []string) ([]ScoredIndex, error) {
	scored, err := a.client.Rerank(ctx, query, docs)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredIndex, len(scored))
	for i, s := range scored {
		out[i] = ScoredIndex{Index: s.Index, Score: s.Score}
	}
	return out, nil
}
