// Package embedding implements the EmbeddingProvider trait:
// a synthetic deterministic fallback, remote adapters wrapped in a
// per-model circuit breaker + exponential-backoff retry, and a failover
// chain (primary -> secondaries -> synthetic).
//
package embedding

import "context"

// Embedder is the provider trait: chat, chat-JSON, embed and embed-batch.
type Embedder interface {
	// Chat returns a free-text completion, used by the reflection
	// synthesizer's optional LLM-backed summarizer.
	Chat(ctx context.Context, prompt string) (string, error)
	// ChatJSON returns a completion the caller parses as JSON.
	ChatJSON(ctx context.Context, prompt string) (string, error)
	// Embed produces a dense vector for text, optionally hinted by sector.
	Embed(ctx context.Context, text string, sector string) ([]float32, error)
	// EmbedBatch embeds multiple texts in one call where the provider
	// supports batching; callers MUST NOT assume atomicity across entries.
	EmbedBatch(ctx context.Context, texts []string, sector string) ([][]float32, error)
	// Name identifies the provider/model for logging and circuit-breaker keys.
	Name() string
}

// ErrNotSupported is returned by adapters that don't implement a given
// trait method (e.g. Claude has no embeddings).
var ErrNotSupported = errNotSupported{}

type errNotSupported struct{}

func (errNotSupported) Error() string { return "embeddings not supported by this provider" }
