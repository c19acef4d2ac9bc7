// Package embedding turns batches of texts into fixed-dimension vectors
// through interchangeable providers, with a shared blocking rate limiter
// and exponential-backoff retry around every provider call.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Provider is a single embedding backend. Embed must return one vector
// per input text, in order, or fail the whole batch.
type Provider interface {
	Name() string
	Model() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Service wraps a Provider with rate limiting and retry. A batch either
// succeeds as a unit or fails as a unit; partial results are never
// returned.
type Service struct {
	provider   Provider
	limiter    *RateLimiter
	maxRetries int
	baseDelay  time.Duration
}

// NewService builds a Service. limiter may be shared process-wide with
// other services; maxRetries < 1 defaults to 3.
func NewService(provider Provider, limiter *RateLimiter, maxRetries int, baseDelay time.Duration) *Service {
	if maxRetries < 1 {
		maxRetries = 3
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &Service{
		provider:   provider,
		limiter:    limiter,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
	}
}

// Provider exposes the wrapped provider, mainly so callers can record
// which provider/model produced a collection's vectors.
func (s *Service) Provider() Provider {
	return s.provider
}

// Embed converts texts into vectors. All texts succeed or the call fails
// as a unit with the final attempt's error wrapped in
// ErrProviderUnavailable.
func (s *Service) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		vectors, err := s.provider.Embed(ctx, texts)
		if err == nil {
			if err := validateBatch(texts, vectors); err != nil {
				return nil, err
			}
			return vectors, nil
		}

		lastErr = err
		if attempt < s.maxRetries-1 {
			delay := s.baseDelay * (1 << attempt)
			slog.WarnContext(ctx, "embedding attempt failed, retrying",
				"provider", s.provider.Name(),
				"attempt", attempt+1,
				"delay", delay,
				"error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return nil, fmt.Errorf("%w: %s after %d attempts: %v",
		ErrProviderUnavailable, s.provider.Name(), s.maxRetries, lastErr)
}

// validateBatch checks the provider honored the batch contract: one
// vector per text, all non-empty and of equal dimension.
func validateBatch(texts []string, vectors [][]float32) error {
	if len(vectors) != len(texts) {
		return fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), len(texts))
	}
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	if dim == 0 {
		return fmt.Errorf("provider returned an empty vector")
	}
	for _, v := range vectors[1:] {
		if len(v) != dim {
			return &DimensionError{Want: dim, Got: len(v)}
		}
	}
	return nil
}
