package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name    string
	model   string
	calls   int
	failFor int
	vectors [][]float32
	err     error
}

func (f *fakeProvider) Name() string  { return f.name }
func (f *fakeProvider) Model() string { return f.model }

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.calls <= f.failFor {
		if f.err != nil {
			return nil, f.err
		}
		return nil, errors.New("transient failure")
	}
	if f.vectors != nil {
		return f.vectors, nil
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}

func TestServiceEmbed(t *testing.T) {
	t.Run("Success First Attempt", func(t *testing.T) {
		p := &fakeProvider{name: "fake", model: "m"}
		svc := NewService(p, nil, 3, time.Millisecond)

		vecs, err := svc.Embed(context.Background(), []string{"a", "b"})
		require.NoError(t, err)
		assert.Len(t, vecs, 2)
		assert.Equal(t, 1, p.calls)
	})

	t.Run("Retries Then Succeeds", func(t *testing.T) {
		p := &fakeProvider{name: "fake", model: "m", failFor: 2}
		svc := NewService(p, nil, 3, time.Millisecond)

		vecs, err := svc.Embed(context.Background(), []string{"a"})
		require.NoError(t, err)
		assert.Len(t, vecs, 1)
		assert.Equal(t, 3, p.calls)
	})

	t.Run("Final Failure Surfaced As Unavailable", func(t *testing.T) {
		p := &fakeProvider{name: "fake", model: "m", failFor: 10, err: errors.New("connection refused")}
		svc := NewService(p, nil, 3, time.Millisecond)

		_, err := svc.Embed(context.Background(), []string{"a"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrProviderUnavailable)
		assert.ErrorContains(t, err, "connection refused")
		assert.Equal(t, 3, p.calls)
	})

	t.Run("Batch Is All Or Nothing", func(t *testing.T) {
		// Provider returns fewer vectors than texts: whole call fails.
		p := &fakeProvider{name: "fake", model: "m", vectors: [][]float32{{1}}}
		svc := NewService(p, nil, 3, time.Millisecond)

		_, err := svc.Embed(context.Background(), []string{"a", "b"})
		assert.ErrorContains(t, err, "2 texts")
	})

	t.Run("Mixed Dimensions Rejected", func(t *testing.T) {
		p := &fakeProvider{name: "fake", model: "m", vectors: [][]float32{{1, 2}, {1, 2, 3}}}
		svc := NewService(p, nil, 3, time.Millisecond)

		_, err := svc.Embed(context.Background(), []string{"a", "b"})
		var de *DimensionError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, 2, de.Want)
		assert.Equal(t, 3, de.Got)
	})

	t.Run("Empty Input", func(t *testing.T) {
		p := &fakeProvider{name: "fake", model: "m"}
		svc := NewService(p, nil, 3, time.Millisecond)

		vecs, err := svc.Embed(context.Background(), nil)
		require.NoError(t, err)
		assert.Nil(t, vecs)
		assert.Equal(t, 0, p.calls)
	})
}

// fakeClock replaces the limiter's time source so that rate and backoff
// behavior can be asserted without wall-clock sleeps. Sleeping advances
// the clock instead of blocking.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) install(r *RateLimiter) {
	r.now = c.now
	r.sleep = c.sleep
}

func TestRateLimiterBoundsThroughput(t *testing.T) {
	// 2 calls per 100ms: issuing 4 calls must consume at least one full
	// period on the limiter's clock.
	clock := &fakeClock{t: time.Unix(0, 0)}
	limiter := NewRateLimiter(2, 100*time.Millisecond)
	clock.install(limiter)
	p := &fakeProvider{name: "fake", model: "m"}
	svc := NewService(p, limiter, 1, time.Millisecond)

	start := clock.now()
	for i := 0; i < 4; i++ {
		_, err := svc.Embed(context.Background(), []string{"x"})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, clock.now().Sub(start), 100*time.Millisecond)
	assert.Equal(t, 4, p.calls)
}

func TestRateLimiterBackoffWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	limiter := NewRateLimiter(100, time.Second)
	clock.install(limiter)
	limiter.RecordRateLimitError(50 * time.Millisecond)

	start := clock.now()
	require.NoError(t, limiter.Wait(context.Background()))
	assert.GreaterOrEqual(t, clock.now().Sub(start), 50*time.Millisecond)
}

func TestRateLimiterBackoffDefaultsTo30s(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	limiter := NewRateLimiter(100, time.Second)
	clock.install(limiter)
	limiter.RecordRateLimitError(0)

	require.NoError(t, limiter.Wait(context.Background()))
	assert.GreaterOrEqual(t, clock.now().Sub(time.Unix(0, 0)), 30*time.Second)
}

func TestRateLimiterContextCancel(t *testing.T) {
	limiter := NewRateLimiter(1, time.Hour)
	require.NoError(t, limiter.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := limiter.Wait(ctx)
	assert.Error(t, err)
}

func TestPoolSharesServices(t *testing.T) {
	built := 0
	factory := func(ctx context.Context, provider, model string) (Provider, error) {
		built++
		return &fakeProvider{name: provider, model: model}, nil
	}
	pool := NewPool(factory, nil, 3, time.Millisecond)

	a, err := pool.Get(context.Background(), "fake", "m1")
	require.NoError(t, err)
	b, err := pool.Get(context.Background(), "fake", "m1")
	require.NoError(t, err)
	c, err := pool.Get(context.Background(), "fake", "m2")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, built)
}
