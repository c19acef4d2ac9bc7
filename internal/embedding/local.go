package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// LocalProvider talks to a locally-hosted embedding model server. The
// model is an explicit resource: it is loaded on first use, unloaded
// after an idle timeout to bound memory, and reloaded transparently on
// the next call. Load, unload and inference are serialized; the server
// hosts a single mutable model slot.
type LocalProvider struct {
	mu          sync.Mutex
	baseURL     string
	apiKey      string
	model       string
	idleTimeout time.Duration
	client      *http.Client

	loaded    bool
	idleTimer *time.Timer
}

func NewLocalProvider(baseURL, apiKey, model string, idleTimeout time.Duration) *LocalProvider {
	if idleTimeout <= 0 {
		idleTimeout = 2 * time.Minute
	}
	return &LocalProvider{
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		idleTimeout: idleTimeout,
		client:      &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) Model() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model
}

type localEmbedRequest struct {
	Model string   `json:"model"`
	Texts []string `json:"texts"`
}

type localEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.embedLocked(ctx, texts)
}

func (p *LocalProvider) embedLocked(ctx context.Context, texts []string) ([][]float32, error) {
	if err := p.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(localEmbedRequest{Model: p.model, Texts: texts})
	if err != nil {
		return nil, err
	}

	var out localEmbedResponse
	if err := p.post(ctx, "/embeddings", body, &out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("local server returned %d embeddings for %d texts", len(out.Embeddings), len(texts))
	}

	p.resetIdleTimerLocked()
	return out.Embeddings, nil
}

// SwapModel switches the hosted model. The previous model is unloaded
// first; the new one loads lazily on the next Embed.
func (p *LocalProvider) SwapModel(ctx context.Context, model string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.swapLocked(ctx, model)
}

func (p *LocalProvider) swapLocked(ctx context.Context, model string) error {
	if model == p.model {
		return nil
	}
	if p.loaded {
		if err := p.unloadLocked(ctx); err != nil {
			return fmt.Errorf("unload %s before swap: %w", p.model, err)
		}
	}
	p.model = model
	return nil
}

// ForModel returns a Provider pinned to model. All pinned views share
// the provider's single model slot: embedding through a view swaps the
// hosted model first when a different one is loaded, under the same
// mutex that serializes load, unload and inference.
func (p *LocalProvider) ForModel(model string) Provider {
	if model == "" {
		return p
	}
	return &pinnedLocalModel{provider: p, model: model}
}

type pinnedLocalModel struct {
	provider *LocalProvider
	model    string
}

func (v *pinnedLocalModel) Name() string  { return "local" }
func (v *pinnedLocalModel) Model() string { return v.model }

func (v *pinnedLocalModel) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	v.provider.mu.Lock()
	defer v.provider.mu.Unlock()
	if err := v.provider.swapLocked(ctx, v.model); err != nil {
		return nil, err
	}
	return v.provider.embedLocked(ctx, texts)
}

// Close unloads the model and stops the idle timer.
func (p *LocalProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.loaded {
		return nil
	}
	return p.unloadLocked(context.Background())
}

func (p *LocalProvider) ensureLoadedLocked(ctx context.Context) error {
	if p.loaded {
		return nil
	}
	body, _ := json.Marshal(map[string]string{"model": p.model})
	if err := p.post(ctx, "/models/load", body, nil); err != nil {
		return fmt.Errorf("load model %s: %w", p.model, err)
	}
	p.loaded = true
	slog.InfoContext(ctx, "local embedding model loaded", "model", p.model)
	return nil
}

func (p *LocalProvider) unloadLocked(ctx context.Context) error {
	if p.idleTimer != nil {
		p.idleTimer.Stop()
		p.idleTimer = nil
	}
	body, _ := json.Marshal(map[string]string{"model": p.model})
	if err := p.post(ctx, "/models/unload", body, nil); err != nil {
		return err
	}
	p.loaded = false
	slog.InfoContext(ctx, "local embedding model unloaded", "model", p.model)
	return nil
}

func (p *LocalProvider) resetIdleTimerLocked() {
	if p.idleTimer != nil {
		p.idleTimer.Stop()
	}
	p.idleTimer = time.AfterFunc(p.idleTimeout, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if !p.loaded {
			return
		}
		if err := p.unloadLocked(context.Background()); err != nil {
			slog.Warn("idle unload failed", "model", p.model, "error", err)
		}
	})
}

func (p *LocalProvider) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("local server %s: status %d: %s", path, resp.StatusCode, string(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
