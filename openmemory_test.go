package openmemory

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/config"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/crypto"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/hsg"
)

func newTestClient(t *testing.T, mutate func(*config.Config)) *Client {
	t.Helper()
	cfg := config.Default()
	cfg.DBURL = "file:" + filepath.Join(t.TempDir(), "openmemory.db")
	cfg.VecDim = 64
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestAddGetRoundTrip(t *testing.T) {
	c := newTestClient(t, nil)
	ctx := context.Background()

	item, err := c.Add(ctx, "u1", "I went to Paris yesterday and loved the Eiffel Tower", nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, item.ID)
	require.Equal(t, "episodic", string(item.Primary), "went/yesterday are episodic markers")

	got, err := c.Get(ctx, item.ID, "u1")
	require.NoError(t, err)
	require.Equal(t, "I went to Paris yesterday and loved the Eiffel Tower", got.Content)

	// Ownership: another user cannot read the row.
	_, err = c.Get(ctx, item.ID, "u2")
	require.Error(t, err)
}

func TestSearchReturnsStoredMemory(t *testing.T) {
	c := newTestClient(t, nil)
	ctx := context.Background()

	_, err := c.Add(ctx, "u1", "I went to Paris last spring for a travel adventure", nil, nil)
	require.NoError(t, err)
	_, err = c.Add(ctx, "u1", "Watering the garden plants is my morning routine", nil, nil)
	require.NoError(t, err)

	results, err := c.Search(ctx, "u1", "Paris travel experience", 5, hsg.SearchFilters{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		require.Equal(t, "u1", r.Memory.UserID)
		require.Greater(t, r.Score, 0.0)
	}
}

func TestUpdateRewritesContentAndBumpsVersion(t *testing.T) {
	c := newTestClient(t, nil)
	ctx := context.Background()

	item, err := c.Add(ctx, "u1", "original note about databases", nil, nil)
	require.NoError(t, err)

	newContent := "revised note about vector databases"
	updated, err := c.Update(ctx, item.ID, "u1", &newContent, []string{"db"}, nil)
	require.NoError(t, err)
	require.Equal(t, newContent, updated.Content)
	require.Equal(t, item.Version+1, updated.Version)
	require.Equal(t, []string{"db"}, updated.Tags)
}

func TestDeleteAllScopesToUser(t *testing.T) {
	c := newTestClient(t, nil)
	ctx := context.Background()

	_, err := c.Add(ctx, "u1", "first note about goats", nil, nil)
	require.NoError(t, err)
	_, err = c.Add(ctx, "u1", "second note about sheep", nil, nil)
	require.NoError(t, err)
	_, err = c.Add(ctx, "u2", "unrelated note about cows", nil, nil)
	require.NoError(t, err)

	n, err := c.DeleteAll(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	users, err := c.ListUsers(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"u2"}, users)
}

func TestStatsReportsUserCounts(t *testing.T) {
	c := newTestClient(t, nil)
	ctx := context.Background()

	_, err := c.Add(ctx, "u1", "a memory for the stats counter", nil, nil)
	require.NoError(t, err)

	s, err := c.Stats(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, s.MemoryCount)
	require.Equal(t, int64(1), s.Stored)
}

// TestRotateKeyDecryptsUnderNewPrimaryAlone: after rotate_key every
// ciphertext opens under the new primary key with no secondary configured.
func TestRotateKeyDecryptsUnderNewPrimaryAlone(t *testing.T) {
	const oldKey = "the-original-primary-key"
	const newKey = "the-replacement-primary-key"

	c := newTestClient(t, func(cfg *config.Config) {
		cfg.EncryptionEnabled = true
		cfg.EncryptionKey = oldKey
	})
	ctx := context.Background()

	item, err := c.Add(ctx, "u1", "secret travel plans for October", nil, nil)
	require.NoError(t, err)

	res, err := c.RotateKey(ctx, "u1", newKey)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 1, res.RotatedCount)

	// The client still reads plaintext through its rotated box.
	got, err := c.Get(ctx, item.ID, "u1")
	require.NoError(t, err)
	require.Equal(t, "secret travel plans for October", got.Content)

	// The stored envelope opens under the new primary key alone.
	raw, err := c.store.GetMemory(ctx, item.ID, "u1")
	require.NoError(t, err)
	freshBox, err := crypto.NewBox(true, newKey, nil)
	require.NoError(t, err)
	plain, err := freshBox.Decrypt(raw.Content)
	require.NoError(t, err)
	require.Equal(t, "secret travel plans for October", plain)
}

// TestParallelSearchesNeverError: concurrent searches all complete
// without error.
func TestParallelSearchesNeverError(t *testing.T) {
	c := newTestClient(t, nil)
	ctx := context.Background()

	for _, content := range []string{
		"notes from the conference in Berlin",
		"how to configure the backup scheduler",
		"feeling great about the product launch",
	} {
		_, err := c.Add(ctx, "u1", content, nil, nil)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Search(ctx, "u1", "conference backup launch", 5, hsg.SearchFilters{}); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("parallel search failed: %v", err)
	}
}
