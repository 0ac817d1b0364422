package hsg

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/config"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
)

const summaryScanLimit = 200

// refreshUserSummaryAsync recomputes userID's profile rollup from its most
// recent memories and persists it, swallowing all errors: this runs as a
// detached goroutine after Store returns, so there is no caller left to
// report failure to.
func (e *Engine) refreshUserSummaryAsync(userID string) {
	ctx := context.Background()
	memories, err := e.store.ListByUser(ctx, userID, summaryScanLimit, 0)
	if err != nil {
		e.logger.Warnw("user summary refresh: list failed", "user_id", userID, "err", err)
		return
	}
	if len(memories) == 0 {
		return
	}

	summary := ""
	if e.cfg.Tier == config.TierSmart {
		summary = e.buildChatSummary(ctx, userID, memories)
	}
	if summary == "" {
		summary = buildHeuristicSummary(memories)
	}

	now := e.clk().UnixMilli()
	existing, err := e.store.GetUserProfile(ctx, userID)
	if err != nil {
		e.logger.Warnw("user summary refresh: load profile failed", "user_id", userID, "err", err)
		existing = nil
	}
	profile := &model.UserProfile{UserID: userID, CreatedAt: now}
	if existing != nil {
		profile.CreatedAt = existing.CreatedAt
		profile.ReflectionCount = existing.ReflectionCount
		profile.Metadata = existing.Metadata
	}
	profile.Summary = summary
	profile.UpdatedAt = now

	if err := e.store.PutUserProfile(ctx, profile); err != nil {
		e.logger.Warnw("user summary refresh: persist failed", "user_id", userID, "err", err)
	}
}

// chatSummaryContextLimit bounds how many memories feed the model-backed
// profile prompt on tier=smart.
const chatSummaryContextLimit = 50

// buildChatSummary asks the chat-capable embedder for a high-level profile
// paragraph. Returns "" (falling back to the heuristic rollup) when the
// provider has no chat support or the call fails.
func (e *Engine) buildChatSummary(ctx context.Context, userID string, memories []*model.Memory) string {
	var b strings.Builder
	n := 0
	for _, m := range memories {
		if n >= chatSummaryContextLimit {
			break
		}
		plain, err := e.box.Decrypt(m.Content)
		if err != nil {
			continue
		}
		if len(plain) > 200 {
			plain = plain[:200]
		}
		fmt.Fprintf(&b, "- [%s] %s\n", m.Primary, plain)
		n++
	}
	prompt := fmt.Sprintf(`You are analyzing the memory stream of user %q.
Based on the following %d recent memory fragments, generate a concise,
high-level profile summary: active projects and topics, key goals, and
recurring patterns. Keep it under 100 words.

Memories:
%s`, userID, n, b.String())

	out, err := e.embedder.Chat(ctx, prompt)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// buildHeuristicSummary produces a one-paragraph natural-language rollup
// from sector counts and the most frequent tags rather than a model
// call, since this runs on every ingest and must stay cheap.
func buildHeuristicSummary(memories []*model.Memory) string {
	sectorCounts := make(map[model.Sector]int, len(model.AllSectors))
	tagCounts := make(map[string]int)
	for _, m := range memories {
		sectorCounts[m.Primary]++
		for _, t := range m.Tags {
			tagCounts[t]++
		}
	}

	type sc struct {
		sector model.Sector
		count  int
	}
	ranked := make([]sc, 0, len(sectorCounts))
	for s, c := range sectorCounts {
		ranked = append(ranked, sc{s, c})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].count > ranked[j].count })

	topTags := topN(tagCounts, 5)

	summary := fmt.Sprintf("%d stored memories.", len(memories))
	if len(ranked) > 0 {
		summary += fmt.Sprintf(" Most active sector: %s (%d).", ranked[0].sector, ranked[0].count)
	}
	if len(topTags) > 0 {
		summary += fmt.Sprintf(" Frequent tags: %v.", topTags)
	}
	return summary
}

func topN(counts map[string]int, n int) []string {
	type kv struct {
		k string
		v int
	}
	items := make([]kv, 0, len(counts))
	for k, v := range counts {
		items = append(items, kv{k, v})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].v != items[j].v {
			return items[i].v > items[j].v
		}
		return items[i].k < items[j].k
	})
	if len(items) > n {
		items = items[:n]
	}
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.k
	}
	return out
}
