package embedding

import (
	"context"
)

// Chain tries Primary, then each of Secondaries in order, then Synthetic as
// the mandatory fallback. Each
// adapter is expected to already be wrapped in a Guarded if it talks to a
// remote service; Chain itself adds no retry/breaker logic of its own.
type Chain struct {
	Primary    Embedder
	Secondaries []Embedder
	Synthetic  Embedder
}

// NewChain builds a failover chain. synthetic must be non-nil; it is the
// fallback of last resort and never fails.
func NewChain(primary Embedder, secondaries []Embedder, synthetic Embedder) *Chain {
	return &Chain{Primary: primary, Secondaries: secondaries, Synthetic: synthetic}
}

func (c *Chain) Name() string {
	if c.Primary != nil {
		return "chain:" + c.Primary.Name()
	}
	return "chain:synthetic"
}

func (c *Chain) ordered() []Embedder {
	out := make([]Embedder, 0, len(c.Secondaries)+2)
	if c.Primary != nil {
		out = append(out, c.Primary)
	}
	out = append(out, c.Secondaries...)
	if c.Synthetic != nil {
		out = append(out, c.Synthetic)
	}
	return out
}

// Embed tries each adapter in order, returning the first success.
func (c *Chain) Embed(ctx context.Context, text string, sector string) ([]float32, error) {
	var lastErr error
	for _, e := range c.ordered() {
		vec, err := e.Embed(ctx, text, sector)
		if err == nil {
			return vec, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// EmbedBatch mirrors Embed's failover order for the batch call.
func (c *Chain) EmbedBatch(ctx context.Context, texts []string, sector string) ([][]float32, error) {
	var lastErr error
	for _, e := range c.ordered() {
		vecs, err := e.EmbedBatch(ctx, texts, sector)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Chat tries each adapter capable of chat, in the same failover order.
// Adapters that return ErrNotSupported (e.g. embeddings-only providers) are
// skipped without counting as a hard failure.
func (c *Chain) Chat(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for _, e := range c.ordered() {
		out, err := e.Chat(ctx, prompt)
		if err == nil {
			return out, nil
		}
		if err != ErrNotSupported {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = ErrNotSupported
	}
	return "", lastErr
}

func (c *Chain) ChatJSON(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for _, e := range c.ordered() {
		out, err := e.ChatJSON(ctx, prompt)
		if err == nil {
			return out, nil
		}
		if err != ErrNotSupported {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = ErrNotSupported
	}
	return "", lastErr
}
