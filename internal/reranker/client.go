package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"time"
)

// Scored is one document after reranking: its position in the input
// list and the relevance the model assigned it.
type Scored struct {
	Index int
	Score float64
}

type Client struct {
	apiKey   string
	provider string
	client   *http.Client
	baseURL  string
}

func NewClient(provider, apiKey string) *Client {
	return &Client{
		provider: provider,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

// Rerank scores every document against the query and returns them in
// descending score order. The sort is stable: equal scores keep the
// input order. An unknown provider is the identity reranker.
func (c *Client) Rerank(ctx context.Context, query string, docs []string) ([]Scored, error) {
	var scores map[int]float64
	var err error

	switch c.provider {
	case "jina":
		scores, err = c.rerankJina(ctx, query, docs)
	case "cohere":
		scores, err = c.rerankCohere(ctx, query, docs)
	default:
		scores = map[int]float64{}
	}
	if err != nil {
		return nil, err
	}

	ordered := make([]Scored, len(docs))
	for i := range docs {
		score, ok := scores[i]
		if !ok && len(scores) > 0 {
			// Documents the provider dropped sink to the bottom.
			score = -math.MaxFloat64
		}
		ordered[i] = Scored{Index: i, Score: score}
	}
	sort.SliceStable(ordered, func(a, b int) bool {
		return ordered[a].Score > ordered[b].Score
	})
	return ordered, nil
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"relevance_score"`
	} `json:"results"`
}

func (c *Client) rerankJina(ctx context.Context, query string, docs []string) (map[int]float64, error) {
	url := "https://api.jina.ai/v1/rerank"
	if c.baseURL != "" {
		url = c.baseURL
	}

	reqBody := map[string]interface{}{
		"model":     "jina-reranker-v1-base-en",
		"query":     query,
		"documents": docs,
	}
	return c.post(ctx, "jina", url, reqBody, len(docs))
}

func (c *Client) rerankCohere(ctx context.Context, query string, docs []string) (map[int]float64, error) {
	url := "https://api.cohere.ai/v1/rerank"
	if c.baseURL != "" {
		url = c.baseURL
	}

	reqBody := map[string]interface{}{
		"model":            "rerank-english-v3.0",
		"query":            query,
		"documents":        docs,
		"top_n":            len(docs),
		"return_documents": false,
	}
	return c.post(ctx, "cohere", url, reqBody, len(docs))
}

func (c *Client) post(ctx context.Context, provider, url string, reqBody map[string]interface{}, docCount int) (map[int]float64, error) {
	jsonBody, _ := json.Marshal(reqBody)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s api error: %d %s", provider, resp.StatusCode, string(body))
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	scores := make(map[int]float64, len(result.Results))
	for _, r := range result.Results {
		if r.Index >= 0 && r.Index < docCount {
			scores[r.Index] = r.Score
		}
	}
	return scores, nil
}
