package embedding

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/clock"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/errs"
)

func TestSyntheticEmbedderIsDeterministic(t *testing.T) {
	e := NewSyntheticEmbedder(128)
	a, err := e.Embed(context.Background(), "the quick brown fox", "episodic")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "the quick brown fox", "episodic")
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, a, 128)
}

func TestSyntheticEmbedderIsUnitNorm(t *testing.T) {
	e := NewSyntheticEmbedder(64)
	v, err := e.Embed(context.Background(), "salience decay and waypoint graphs", "")
	require.NoError(t, err)
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	require.InDelta(t, 1.0, math.Sqrt(norm), 1e-3)
}

func TestSyntheticEmbedderSectorHintChangesVector(t *testing.T) {
	e := NewSyntheticEmbedder(64)
	a, _ := e.Embed(context.Background(), "same text", "episodic")
	b, _ := e.Embed(context.Background(), "same text", "semantic")
	require.NotEqual(t, a, b)
}

func TestSyntheticEmbedderHasNoChat(t *testing.T) {
	e := NewSyntheticEmbedder(16)
	_, err := e.Chat(context.Background(), "hello")
	require.ErrorIs(t, err, ErrNotSupported)
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	now := time.Unix(1000, 0)
	clk := clock.Clock(func() time.Time { return now })
	b := NewCircuitBreaker(clk, 3, 30*time.Second)

	for i := 0; i < 3; i++ {
		require.True(t, b.Allow())
		b.RecordFailure()
	}
	require.False(t, b.Allow(), "circuit should be OPEN after threshold failures")

	// After resetTimeout the breaker half-opens and admits a single probe.
	now = now.Add(31 * time.Second)
	require.True(t, b.Allow())
	require.False(t, b.Allow(), "only one HALF_OPEN probe at a time")

	b.RecordSuccess()
	require.True(t, b.Allow(), "HALF_OPEN success closes the circuit")
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(1000, 0)
	clk := clock.Clock(func() time.Time { return now })
	b := NewCircuitBreaker(clk, 2, 10*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	require.False(t, b.Allow())

	now = now.Add(11 * time.Second)
	require.True(t, b.Allow())
	b.RecordFailure()
	require.False(t, b.Allow(), "HALF_OPEN failure reopens immediately")
}

// failingEmbedder always errors, to exercise the failover chain.
type failingEmbedder struct{ err error }

func (f failingEmbedder) Name() string { return "failing" }
func (f failingEmbedder) Chat(context.Context, string) (string, error) {
	return "", f.err
}
func (f failingEmbedder) ChatJSON(context.Context, string) (string, error) {
	return "", f.err
}
func (f failingEmbedder) Embed(context.Context, string, string) ([]float32, error) {
	return nil, f.err
}
func (f failingEmbedder) EmbedBatch(_ context.Context, texts []string, _ string) ([][]float32, error) {
	return nil, f.err
}

func TestChainFallsBackToSynthetic(t *testing.T) {
	boom := errors.New("remote down")
	chain := NewChain(failingEmbedder{err: boom}, []Embedder{failingEmbedder{err: boom}}, NewSyntheticEmbedder(32))

	v, err := chain.Embed(context.Background(), "some text", "semantic")
	require.NoError(t, err)
	require.Len(t, v, 32)

	vs, err := chain.EmbedBatch(context.Background(), []string{"a", "b"}, "")
	require.NoError(t, err)
	require.Len(t, vs, 2)
}

func TestChainChatSkipsUnsupportedProviders(t *testing.T) {
	// Synthetic can't chat; a chain of only chat-incapable providers
	// surfaces ErrNotSupported rather than a hard failure.
	chain := NewChain(nil, nil, NewSyntheticEmbedder(16))
	_, err := chain.Chat(context.Background(), "hi")
	require.ErrorIs(t, err, ErrNotSupported)
}

func TestRetryStopsImmediatelyOnAuthError(t *testing.T) {
	calls := 0
	authErr := &errs.ProviderError{Code: errs.ProviderAuth, Retryable: false, Model: "m", Err: errors.New("401")}
	err := withRetry(context.Background(), retryConfig{retries: 5}, func() error {
		calls++
		return authErr
	})
	require.Error(t, err)
	require.Equal(t, 1, calls, "non-retryable auth errors must not be retried")
}

func TestGuardedFastFailsWhenCircuitOpen(t *testing.T) {
	now := time.Unix(0, 0)
	clk := clock.Clock(func() time.Time { return now })
	b := NewCircuitBreaker(clk, 1, time.Hour)
	b.RecordFailure()

	g := NewGuarded(failingEmbedder{err: errors.New("unreachable")}, b)
	_, err := g.Embed(context.Background(), "text", "")
	require.ErrorIs(t, err, errs.ErrCircuitOpen)
}

func TestProviderErrorClassification(t *testing.T) {
	cases := []struct {
		status    int
		code      errs.ProviderCode
		retryable bool
	}{
		{401, errs.ProviderAuth, false},
		{403, errs.ProviderAuth, false},
		{429, errs.ProviderRateLimit, true},
		{500, errs.ProviderServer, true},
		{503, errs.ProviderServer, true},
		{408, errs.ProviderTimeout, true},
	}
	for _, c := range cases {
		pe := errs.NewProviderError("m", c.status, errors.New("x"))
		require.Equal(t, c.code, pe.Code, "status %d", c.status)
		require.Equal(t, c.retryable, pe.Retryable, "status %d", c.status)
	}
}
