package ai_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-ingest/internal/config"
	"doc-ingest/internal/domain"
	ai "doc-ingest/internal/infra/adapters/ai"
)

type stubEmbedder struct {
	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
	err      error
}

func (s *stubEmbedder) Dimensions() int { return 2 }

func (s *stubEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls.Add(1)
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxSeen.Load()
		if n <= m || s.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(s.delay)
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type stubLimiter struct {
	allow bool
	err   error
}

func (l *stubLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return l.allow, l.err
}

func TestHashEmbedderIsDeterministic(t *testing.T) {
	e := ai.NewHashEmbedder(16)
	a, err := e.EmbedTexts(context.Background(), []string{"Hello world", "hello   WORLD", "other text"})
	require.NoError(t, err)
	require.Len(t, a, 3)
	assert.Equal(t, a[0], a[1])
	assert.NotEqual(t, a[0], a[2])
	assert.Len(t, a[0], 16)
	assert.Equal(t, 16, e.Dimensions())
}

func TestLimitedEmbedderCapsConcurrency(t *testing.T) {
	inner := &stubEmbedder{delay: 20 * time.Millisecond}
	e := ai.NewLimitedEmbedder(inner, 2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.EmbedTexts(context.Background(), []string{"x"})
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 8, inner.calls.Load())
	assert.LessOrEqual(t, inner.maxSeen.Load(), int32(2))
}

func TestLimitedEmbedderHonoursContext(t *testing.T) {
	inner := &stubEmbedder{delay: 200 * time.Millisecond}
	e := ai.NewLimitedEmbedder(inner, 1)
	go func() { _, _ = e.EmbedTexts(context.Background(), []string{"x"}) }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := e.EmbedTexts(ctx, []string{"y"})
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}

func TestRateLimitedEmbedder(t *testing.T) {
	inner := &stubEmbedder{}

	denied := ai.NewRateLimitedEmbedder(inner, &stubLimiter{allow: false}, "k", 10)
	_, err := denied.EmbedTexts(context.Background(), []string{"x"})
	assert.True(t, errors.Is(err, domain.ErrRateLimited))
	assert.Equal(t, domain.KindTransient, domain.KindOf(err))
	assert.Zero(t, inner.calls.Load())

	allowed := ai.NewRateLimitedEmbedder(inner, &stubLimiter{allow: true}, "k", 10)
	_, err = allowed.EmbedTexts(context.Background(), []string{"x"})
	assert.NoError(t, err)

	passthrough := ai.NewRateLimitedEmbedder(inner, nil, "k", 10)
	assert.Same(t, inner, passthrough)
}

func TestBreakerOpensOnTransientFailures(t *testing.T) {
	logger := zerolog.Nop()
	inner := &stubEmbedder{err: domain.Transient("provider", errors.New("503"))}
	e := ai.NewBreakerEmbedder(inner, "test", &logger)

	for i := 0; i < 5; i++ {
		_, err := e.EmbedTexts(context.Background(), []string{"x"})
		require.Error(t, err)
	}
	calls := inner.calls.Load()
	_, err := e.EmbedTexts(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, calls, inner.calls.Load(), "open breaker must not reach the provider")
	assert.True(t, domain.IsRetryable(err))
}

func TestBreakerIgnoresStructuralFailures(t *testing.T) {
	logger := zerolog.Nop()
	inner := &stubEmbedder{err: domain.Structural("provider", errors.New("bad input"))}
	e := ai.NewBreakerEmbedder(inner, "test", &logger)

	for i := 0; i < 10; i++ {
		_, err := e.EmbedTexts(context.Background(), []string{"x"})
		assert.Equal(t, domain.KindStructural, domain.KindOf(err))
	}
	assert.EqualValues(t, 10, inner.calls.Load())
}

func TestNewEmbedder(t *testing.T) {
	logger := zerolog.Nop()
	e, err := ai.NewEmbedder(context.Background(), config.EmbeddingConfig{Provider: "hash", Dimensions: 8, ConcurrentLimit: 2}, nil, &logger)
	require.NoError(t, err)
	v, err := e.EmbedTexts(context.Background(), []string{"a b c"})
	require.NoError(t, err)
	assert.Len(t, v[0], 8)

	_, err = ai.NewEmbedder(context.Background(), config.EmbeddingConfig{Provider: "nope"}, nil, &logger)
	assert.Error(t, err)

	_, err = ai.NewEmbedder(context.Background(), config.EmbeddingConfig{Provider: "openai"}, nil, &logger)
	assert.Error(t, err, "missing key must fail at startup")
}
