package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"lorekeep/internal/fts"
	"lorekeep/internal/llm"
)

const (
	defaultTopK    = 10
	defaultTimeout = 30 * time.Second

	degradedAnswerPrefix  = "No relevant information based on your query and keywords were found in the database. Your query has been directly passed to the LLM, and here is its answer: \n\n"
	degradedContextPrefix = "No relevant information based on your query and keywords were found in the database. The only context used was your query: \n\n"
)

// ErrEmptyQuery is returned when a request carries a blank query string.
var ErrEmptyQuery = errors.New("query must not be empty")

// Request is one retrieval query.
type Request struct {
	Query       string   `json:"query"`
	Backend     string   `json:"backend"`
	Keywords    []string `json:"keywords,omitempty"`
	SourceTypes []string `json:"sourceTypes,omitempty"`
	TopK        int      `json:"topK,omitempty"`
	Rerank      bool     `json:"rerank,omitempty"`
}

// Response always carries the context the answer was generated from,
// even when retrieval degraded to the query alone.
type Response struct {
	Answer  string `json:"answer"`
	Context string `json:"context"`
}

// Candidate is one retrieved passage, from either search arm.
type Candidate struct {
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Origin   string                 `json:"origin"`
	Score    float32                `json:"score"`
}

// ScoredIndex is a reranker verdict for one candidate position.
type ScoredIndex struct {
	Index int
	Score float64
}

type VectorSearcher interface {
	Collections(ctx context.Context) ([]string, error)
	Search(ctx context.Context, collection, query string, topK int) ([]Candidate, error)
}

type FullTextSearcher interface {
	Search(ctx context.Context, query, sourceType string, idFilter []string, topK int) ([]Candidate, error)
	ResolveIDs(ctx context.Context, sourceType string, keywords []string) ([]string, error)
	Supported(sourceType string) bool
}

type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string) ([]ScoredIndex, error)
}

// AnswerGenerator is the closed backend registry. llm.Registry
// satisfies it.
type AnswerGenerator interface {
	Has(backend string) bool
	Generate(ctx context.Context, backend string, req llm.Request) (string, error)
}

type Service struct {
	vector    VectorSearcher
	fulltext  FullTextSearcher
	reranker  Reranker
	generator AnswerGenerator
	logger    *QueryLogger
	timeout   time.Duration
}

func NewService(v VectorSearcher, f FullTextSearcher, r Reranker, g AnswerGenerator, l *QueryLogger, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Service{vector: v, fulltext: f, reranker: r, generator: g, logger: l, timeout: timeout}
}

// backendResult is one fan-out arm's outcome. Failures are collected,
// never propagated, so one bad backend cannot sink the query.
type backendResult struct {
	origin     string
	candidates []Candidate
	err        error
}

// Query runs the full pipeline: keyword resolve, parallel vector and
// full-text fan-out, merge, optional rerank, truncate, generate.
func (s *Service) Query(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	if !s.generator.Has(req.Backend) {
		return nil, &llm.UnknownBackendError{Backend: req.Backend}
	}
	for _, st := range req.SourceTypes {
		if !s.fulltext.Supported(st) {
			return nil, &fts.UnsupportedSourceTypeError{SourceType: st}
		}
	}
	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	searchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	idFilters := s.resolveKeywords(searchCtx, req)
	results := s.parallelSearch(searchCtx, req, idFilters, topK)

	merged := mergeCandidates(results)
	degraded := len(merged) == 0
	for _, r := range results {
		if r.err != nil {
			slog.WarnContext(ctx, "search backend failed",
				"origin", r.origin, "error", r.err)
		}
	}

	if req.Rerank && s.reranker != nil && len(merged) > 0 {
		merged = s.rerank(searchCtx, req.Query, merged)
	}

	if len(merged) > topK {
		merged = merged[:topK]
	}
	contents := make([]string, len(merged))
	for i, c := range merged {
		contents[i] = c.Content
	}
	contextStr := strings.Join(contents, "\n")

	answer, err := s.GenerateAnswer(ctx, req.Backend, contextStr, req.Query)
	if err != nil {
		return nil, err
	}

	resp := &Response{Answer: answer, Context: contextStr}
	if degraded {
		resp.Answer = degradedAnswerPrefix + answer
		resp.Context = degradedContextPrefix + req.Query
	}

	if s.logger != nil {
		s.logger.Log(QueryLogEntry{
			Query:      req.Query,
			Backend:    req.Backend,
			NumResults: len(merged),
			Degraded:   degraded,
			Duration:   time.Since(start),
		})
	}
	return resp, nil
}

// resolveKeywords maps the request keywords to per-source-type id
// filters. A failed resolution leaves that source type unfiltered.
func (s *Service) resolveKeywords(ctx context.Context, req Request) map[string][]string {
	filters := make(map[string][]string, len(req.SourceTypes))
	if len(req.Keywords) == 0 {
		return filters
	}
	for _, st := range req.SourceTypes {
		ids, err := s.fulltext.ResolveIDs(ctx, st, req.Keywords)
		if err != nil {
			slog.WarnContext(ctx, "keyword resolution failed, searching unfiltered",
				"sourceType", st, "error", err)
			continue
		}
		if ids == nil {
			ids = []string{}
		}
		filters[st] = ids
	}
	return filters
}

// parallelSearch fans out one task per collection and one per source
// type, all bounded by the query deadline, and joins their results.
func (s *Service) parallelSearch(ctx context.Context, req Request, idFilters map[string][]string, topK int) []backendResult {
	var tasks []func(ctx context.Context) backendResult

	collections, err := s.vector.Collections(ctx)
	if err != nil {
		tasks = append(tasks, func(ctx context.Context) backendResult {
			return backendResult{origin: "vector", err: fmt.Errorf("list collections: %w", err)}
		})
	} else {
		sort.Strings(collections)
		for _, collection := range collections {
			collection := collection
			tasks = append(tasks, func(ctx context.Context) backendResult {
				candidates, err := s.vector.Search(ctx, collection, req.Query, topK)
				return backendResult{origin: "vector:" + collection, candidates: candidates, err: err}
			})
		}
	}

	for _, st := range req.SourceTypes {
		st := st
		tasks = append(tasks, func(ctx context.Context) backendResult {
			filter, ok := idFilters[st]
			if !ok {
				filter = nil
			}
			candidates, err := s.fulltext.Search(ctx, req.Query, st, filter, topK)
			return backendResult{origin: "fts:" + st, candidates: candidates, err: err}
		})
	}

	results := make([]backendResult, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task func(ctx context.Context) backendResult) {
			defer wg.Done()
			results[i] = task(ctx)
		}(i, task)
	}
	wg.Wait()
	return results
}

// mergeCandidates concatenates successful arms, vector results first,
// and drops exact content duplicates.
func mergeCandidates(results []backendResult) []Candidate {
	var vectorHits, ftsHits []Candidate
	for _, r := range results {
		if r.err != nil {
			continue
		}
		if strings.HasPrefix(r.origin, "vector") {
			vectorHits = append(vectorHits, r.candidates...)
		} else {
			ftsHits = append(ftsHits, r.candidates...)
		}
	}

	seen := make(map[string]bool)
	merged := make([]Candidate, 0, len(vectorHits)+len(ftsHits))
	for _, c := range append(vectorHits, ftsHits...) {
		if seen[c.Content] {
			continue
		}
		seen[c.Content] = true
		merged = append(merged, c)
	}
	return merged
}

// rerank reorders the merged list by reranker score. A reranker
// failure keeps the merge order.
func (s *Service) rerank(ctx context.Context, query string, merged []Candidate) []Candidate {
	docs := make([]string, len(merged))
	for i, c := range merged {
		docs[i] = c.Content
	}
	scored, err := s.reranker.Rerank(ctx, query, docs)
	if err != nil {
		slog.WarnContext(ctx, "rerank failed, keeping merge order", "error", err)
		return merged
	}

	reranked := make([]Candidate, 0, len(merged))
	for _, sc := range scored {
		if sc.Index >= 0 && sc.Index < len(merged) {
			c := merged[sc.Index]
			c.Score = float32(sc.Score)
			reranked = append(reranked, c)
		}
	}
	if len(reranked) != len(merged) {
		return merged
	}
	return reranked
}

// GenerateAnswer dispatches to the named backend. An empty context
// produces a prompt that says so, keeping the model from inventing
// sources.
func (s *Service) GenerateAnswer(ctx context.Context, backend, contextStr, query string) (string, error) {
	var prompt string
	if strings.TrimSpace(contextStr) == "" {
		prompt = fmt.Sprintf("No supporting context was found for this question. Answer from general knowledge and say so explicitly.\n\nQuestion: %s", query)
	} else {
		prompt = fmt.Sprintf("Context: %s\n\nQuestion: %s", contextStr, query)
	}
	return s.generator.Generate(ctx, backend, llm.Request{Prompt: prompt, Temperature: 0.7})
}
