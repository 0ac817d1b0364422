package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultsMatchSpecConstants(t *testing.T) {
	c := Default()
	require.Equal(t, 5*time.Minute, c.DecayInterval)
	require.InDelta(t, 0.03, c.DecayRatio, 1e-9)
	require.InDelta(t, 0.3, c.DecayColdThreshold, 1e-9)
	require.Equal(t, 30, c.StatsRetentionDays)
	require.InDelta(t, 1.0, c.Scoring.Similarity, 1e-9)
	require.InDelta(t, 0.5, c.Scoring.Overlap, 1e-9)
	require.InDelta(t, 0.3, c.Scoring.Waypoint, 1e-9)
	require.InDelta(t, 0.2, c.Scoring.Recency, 1e-9)
	require.InDelta(t, 0.4, c.Scoring.Tag, 1e-9)
	require.InDelta(t, 0.18, c.Reinforcement.TraceBoost, 1e-9)
	require.Equal(t, time.Hour, c.Reinforcement.CoactivationTau)
	require.Equal(t, TierHybrid, c.Tier)
	require.False(t, c.EncryptionEnabled)
}

func TestLoadReadsEnvironmentOverrides(t *testing.T) {
	t.Setenv("db_url", "postgres://localhost/test")
	t.Setenv("emb_kind", "ollama")
	t.Setenv("embedding_fallback", "openai, synthetic")
	t.Setenv("vec_dim", "384")
	t.Setenv("tier", "smart")
	t.Setenv("decay_ratio", "0.1")
	t.Setenv("decay_episodic", "0.2")
	t.Setenv("encryption_enabled", "true")
	t.Setenv("encryption_key", "a-long-enough-key")
	t.Setenv("auto_reflect", "false")

	c := Load()
	require.Equal(t, "postgres://localhost/test", c.DBURL)
	require.Equal(t, EmbedOllama, c.EmbedKind)
	require.Equal(t, []EmbedKind{EmbedOpenAI, EmbedSynthetic}, c.EmbeddingFallback)
	require.Equal(t, 384, c.VecDim)
	require.Equal(t, TierSmart, c.Tier)
	require.InDelta(t, 0.1, c.DecayRatio, 1e-9)
	require.InDelta(t, 0.2, c.DecaySectorLambdas["episodic"], 1e-9)
	require.True(t, c.EncryptionEnabled)
	require.Equal(t, "a-long-enough-key", c.EncryptionKey)
	require.False(t, c.AutoReflect)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("vec_dim", "not-a-number")
	t.Setenv("decay_ratio", "also-not")
	c := Load()
	require.Equal(t, Default().VecDim, c.VecDim)
	require.InDelta(t, Default().DecayRatio, c.DecayRatio, 1e-9)
}
