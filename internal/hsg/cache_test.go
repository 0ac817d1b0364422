package hsg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueryCacheExpiresAfterTTL(t *testing.T) {
	c := newQueryCache(10, 60*time.Second)
	now := time.Unix(1000, 0)
	c.put("k", []SearchResult{{Score: 1}}, now)

	got, ok := c.get("k", now.Add(30*time.Second))
	require.True(t, ok)
	require.Len(t, got, 1)

	_, ok = c.get("k", now.Add(61*time.Second))
	require.False(t, ok, "entries older than the TTL must miss")
}

func TestQueryCacheEvictsOldestBeyondCap(t *testing.T) {
	c := newQueryCache(2, time.Hour)
	now := time.Unix(1000, 0)
	c.put("a", nil, now)
	c.put("b", nil, now)
	c.put("c", nil, now)

	_, okA := c.get("a", now)
	require.False(t, okA, "the least recently used entry is evicted")
	_, okB := c.get("b", now)
	require.True(t, okB)
	_, okC := c.get("c", now)
	require.True(t, okC)
}

func TestCacheKeyIsOrderInsensitiveForFilters(t *testing.T) {
	a := cacheKey("q", 5, SearchFilters{Tags: []string{"x", "y"}})
	b := cacheKey("q", 5, SearchFilters{Tags: []string{"y", "x"}})
	require.Equal(t, a, b)

	c := cacheKey("q", 5, SearchFilters{Tags: []string{"z"}})
	require.NotEqual(t, a, c)
}

func TestCoactBufferDrainsInBatches(t *testing.T) {
	b := newCoactBuffer(50)
	for i := 0; i < 120; i++ {
		b.push(coactPair{UserID: "u1", A: "a", B: "b"})
	}

	require.Len(t, b.drainBatch(), 50)
	require.Len(t, b.drainBatch(), 50)
	require.Len(t, b.drainBatch(), 20)
	require.Nil(t, b.drainBatch())
}

func TestEssenceKeepsOriginalSentenceOrder(t *testing.T) {
	content := "First sentence sets the scene. Filler text of no note here. We decided to ship the release in 2024. Closing thought ends it."
	out := essence(content, 90)
	require.LessOrEqual(t, len(out), 90+1)
	// Whatever was selected must appear in source order.
	lastIdx := -1
	for _, s := range splitSentences(out) {
		idx := indexOfSentence(content, s)
		require.Greater(t, idx, lastIdx, "sentence %q out of order", s)
		lastIdx = idx
	}
}

func indexOfSentence(content, s string) int {
	for i := 0; i+len(s) <= len(content); i++ {
		if content[i:i+len(s)] == s {
			return i
		}
	}
	return -1
}

func TestEssenceShortContentPassesThrough(t *testing.T) {
	require.Equal(t, "short note", essence("short note", 1000))
}

func TestChunkContentSplitsLongText(t *testing.T) {
	var b []byte
	sentence := "This is one sentence with roughly ten words in total here. "
	for i := 0; i < 300; i++ {
		b = append(b, sentence...)
	}
	chunks := chunkContent(string(b))
	require.Greater(t, len(chunks), 1, "3000 words must split past the 768-word target")
	for _, c := range chunks {
		require.NotEmpty(t, c)
	}
}

func TestChunkContentShortTextIsOneChunk(t *testing.T) {
	chunks := chunkContent("A single short paragraph. Two sentences only.")
	require.Len(t, chunks, 1)
}
