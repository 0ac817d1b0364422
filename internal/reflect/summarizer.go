// Package reflect clusters near-duplicate memories per sector and
// synthesizes a reflective memory summarizing each cluster.
//
// Summarization is pluggable: HeuristicSummarizer concatenates cluster
// members, ChatSummarizer defers to an embedding.Embedder's chat trait
// when one is configured.
package reflect

import (
	"context"
	"fmt"
	"strings"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/embedding"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
)

// summaryByteLimit bounds a synthesized summary's length.
const summaryByteLimit = 600

// snippetLen and joinedLimit shape the heuristic pattern line: the first 60
// characters of each member, joined, capped at 200.
const (
	snippetLen  = 60
	joinedLimit = 200
)

// Summarizer abstracts cluster summarization backends (LLMs or heuristics).
type Summarizer interface {
	Summarize(ctx context.Context, cluster []*model.Memory) (string, error)
}

// HeuristicSummarizer renders a "N <sector> pattern: ..." line from the
// leading characters of each cluster member.
type HeuristicSummarizer struct{}

func (HeuristicSummarizer) Summarize(_ context.Context, cluster []*model.Memory) (string, error) {
	if len(cluster) == 0 {
		return "", nil
	}
	snippets := make([]string, 0, len(cluster))
	for _, m := range cluster {
		c := m.Content
		if len(c) > snippetLen {
			c = c[:snippetLen]
		}
		snippets = append(snippets, c)
	}
	joined := strings.Join(snippets, "; ")
	if len(joined) > joinedLimit {
		joined = joined[:joinedLimit]
	}
	return fmt.Sprintf("%d %s pattern: %s", len(cluster), cluster[0].Primary, joined), nil
}

// ChatSummarizer asks a chat-capable embedding.Embedder to synthesize the
// cluster instead of naively concatenating it. Falls back to
// HeuristicSummarizer if the provider returns embedding.ErrNotSupported or
// any other error.
type ChatSummarizer struct {
	Chat     embedding.Embedder
	fallback HeuristicSummarizer
}

func (s ChatSummarizer) Summarize(ctx context.Context, cluster []*model.Memory) (string, error) {
	if s.Chat == nil || len(cluster) == 0 {
		return s.fallback.Summarize(ctx, cluster)
	}
	var b strings.Builder
	b.WriteString("Summarize the shared theme across these related memories in one or two sentences:\n")
	for i, m := range cluster {
		b.WriteString("- ")
		b.WriteString(m.Content)
		if i < len(cluster)-1 {
			b.WriteString("\n")
		}
	}
	out, err := s.Chat.Chat(ctx, b.String())
	if err != nil {
		return s.fallback.Summarize(ctx, cluster)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return s.fallback.Summarize(ctx, cluster)
	}
	if len(out) > summaryByteLimit {
		out = out[:summaryByteLimit]
	}
	return out, nil
}
