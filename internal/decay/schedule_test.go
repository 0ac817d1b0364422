package decay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/clock"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/config"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/persistence"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/vectorstore"
)

// TestDecayDefersWhileQueriesActive: a decay pass observing
// active_queries > 0 does no work.
func TestDecayDefersWhileQueriesActive(t *testing.T) {
	active := int32(1)
	e := NewEngine(persistence.NewMemStore(), vectorstore.NewMemStore(), clock.Real(), config.Default(), &active)

	require.False(t, e.ShouldRun())
	processed, compressed, fingerprinted, err := e.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, processed)
	require.Zero(t, compressed)
	require.Zero(t, fingerprinted)

	active = 0
	require.True(t, e.ShouldRun())
}

func TestDecayHonorsCooldownBetweenRuns(t *testing.T) {
	now := time.Unix(10_000, 0)
	clk := clock.Clock(func() time.Time { return now })
	active := int32(0)
	e := NewEngine(persistence.NewMemStore(), vectorstore.NewMemStore(), clk, config.Default(), &active)

	_, _, _, err := e.RunOnce(context.Background())
	require.NoError(t, err)

	require.False(t, e.ShouldRun(), "a second run within the 60s cooldown must defer")
	now = now.Add(61 * time.Second)
	require.True(t, e.ShouldRun())
}
