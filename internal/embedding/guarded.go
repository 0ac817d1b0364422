package embedding

import "context"

// Guarded wraps any Embedder with a CircuitBreaker + Retry, the standard
// composition around every remote adapter.
type Guarded struct {
	inner   Embedder
	breaker *CircuitBreaker
	retry   retryConfig
}

// NewGuarded wraps inner with breaker using the default retry policy.
func NewGuarded(inner Embedder, breaker *CircuitBreaker) *Guarded {
	return &Guarded{inner: inner, breaker: breaker, retry: defaultRetryConfig()}
}

func (g *Guarded) Name() string { return g.inner.Name() }

func (g *Guarded) call(ctx context.Context, fn func() error) error {
	if !g.breaker.Allow() {
		return ErrOpen(g.inner.Name())
	}
	err := withRetry(ctx, g.retry, fn)
	if err != nil {
		g.breaker.RecordFailure()
		return err
	}
	g.breaker.RecordSuccess()
	return nil
}

func (g *Guarded) Chat(ctx context.Context, prompt string) (string, error) {
	var out string
	err := g.call(ctx, func() error {
		var innerErr error
		out, innerErr = g.inner.Chat(ctx, prompt)
		return innerErr
	})
	return out, err
}

func (g *Guarded) ChatJSON(ctx context.Context, prompt string) (string, error) {
	var out string
	err := g.call(ctx, func() error {
		var innerErr error
		out, innerErr = g.inner.ChatJSON(ctx, prompt)
		return innerErr
	})
	return out, err
}

func (g *Guarded) Embed(ctx context.Context, text string, sector string) ([]float32, error) {
	var out []float32
	err := g.call(ctx, func() error {
		var innerErr error
		out, innerErr = g.inner.Embed(ctx, text, sector)
		return innerErr
	})
	return out, err
}

func (g *Guarded) EmbedBatch(ctx context.Context, texts []string, sector string) ([][]float32, error) {
	var out [][]float32
	err := g.call(ctx, func() error {
		var innerErr error
		out, innerErr = g.inner.EmbedBatch(ctx, texts, sector)
		return innerErr
	})
	return out, err
}
