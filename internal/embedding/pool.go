package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Factory builds a Provider for a (provider, model) pair. Pools use it to
// construct backends lazily as collections reference them.
type Factory func(ctx context.Context, provider, model string) (Provider, error)

// Pool hands out one Service per (provider, model) pair, all sharing a
// single process-wide rate limiter so the aggregate call rate stays
// bounded across ingestion and query-time embedding.
type Pool struct {
	mu         sync.Mutex
	services   map[string]*Service
	factory    Factory
	limiter    *RateLimiter
	maxRetries int
	baseDelay  time.Duration
}

func NewPool(factory Factory, limiter *RateLimiter, maxRetries int, baseDelay time.Duration) *Pool {
	return &Pool{
		services:   make(map[string]*Service),
		factory:    factory,
		limiter:    limiter,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
	}
}

// Get returns the Service for the given provider/model, constructing it
// on first use.
func (p *Pool) Get(ctx context.Context, provider, model string) (*Service, error) {
	key := provider + "/" + model

	p.mu.Lock()
	defer p.mu.Unlock()

	if svc, ok := p.services[key]; ok {
		return svc, nil
	}

	prov, err := p.factory(ctx, provider, model)
	if err != nil {
		return nil, fmt.Errorf("build embedding provider %s: %w", key, err)
	}
	svc := NewService(prov, p.limiter, p.maxRetries, p.baseDelay)
	p.services[key] = svc
	return svc, nil
}
