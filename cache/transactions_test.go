package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omni/vault-custody/cache"
	"github.com/omni/vault-custody/entity"
	"github.com/omni/vault-custody/kvstore"
	"github.com/omni/vault-custody/logging"
)

var baseTime = time.Date(2022, 9, 1, 12, 0, 0, 0, time.UTC)

func historyEntry(hash string, minutes int) *entity.HistoryEntry {
	return &entity.HistoryEntry{
		Hash:        hash,
		ChainID:     1,
		BlockNumber: uint64(1000 + minutes),
		Status:      "success",
		CreatedAt:   baseTime.Add(time.Duration(minutes) * time.Minute),
		Transfers: []entity.Transfer{
			{AssetID: "DAI", From: "0xfrom", To: testVault, Amount: "100"},
		},
	}
}

func keysOf(entries []*entity.HistoryEntry) []string {
	res := make([]string, 0, len(entries))
	for _, e := range entries {
		res = append(res, e.Key())
	}
	return res
}

func newTransactionCache(t *testing.T) (*cache.TransactionCache, kvstore.Store) {
	t.Helper()
	store := kvstore.NewMemoryStore()
	return cache.NewTransactionCache(logging.NewDiscard(), store, testCacheConfig()), store
}

func TestTransactionCache_Cold(t *testing.T) {
	t.Parallel()

	c, _ := newTransactionCache(t)
	res := c.GetWithRefreshCheck(context.Background(), testVault, 1)
	require.True(t, res.NeedsIncrementalFetch)
	require.NotNil(t, res.Transactions)
	require.Empty(t, res.Transactions)
	require.Empty(t, res.KnownHashes)
	require.EqualValues(t, 1, c.Metrics().Stats().Misses)
}

func TestTransactionCache_FreshAndFlagged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, _ := newTransactionCache(t)
	entries := []*entity.HistoryEntry{historyEntry("0xb", 2), historyEntry("0xa", 1)}

	c.Set(ctx, testVault, entries, 1)
	res := c.GetWithRefreshCheck(ctx, testVault, 1)
	require.False(t, res.NeedsIncrementalFetch)
	require.Equal(t, []string{"0xb", "0xa"}, keysOf(res.Transactions))
	require.Equal(t, map[string]struct{}{"0xa": {}, "0xb": {}}, res.KnownHashes)
	require.EqualValues(t, 1, c.Metrics().Stats().Hits)

	c.MarkForRefresh(ctx, testVault, 1)
	res = c.GetWithRefreshCheck(ctx, testVault, 1)
	require.True(t, res.NeedsIncrementalFetch)
	require.Equal(t, []string{"0xb", "0xa"}, keysOf(res.Transactions))
	require.Len(t, res.KnownHashes, 2)

	merged := cache.MergeTransactions(res.Transactions, []*entity.HistoryEntry{historyEntry("0xc", 3)}, res.KnownHashes)
	c.Set(ctx, testVault, merged, 1)
	res = c.GetWithRefreshCheck(ctx, testVault, 1)
	require.False(t, res.NeedsIncrementalFetch)
	require.Equal(t, []string{"0xc", "0xb", "0xa"}, keysOf(res.Transactions))
}

func TestTransactionCache_MarkVaultForRefresh(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, _ := newTransactionCache(t)
	c.Set(ctx, testVault, []*entity.HistoryEntry{historyEntry("0xa", 1)}, 1)
	c.Set(ctx, testVault, []*entity.HistoryEntry{historyEntry("0xb", 1)}, 100)

	c.MarkVaultForRefresh(ctx, testVault)
	for _, chainID := range []uint64{1, 100} {
		res := c.GetWithRefreshCheck(ctx, testVault, chainID)
		require.True(t, res.NeedsIncrementalFetch)
		require.Len(t, res.Transactions, 1)
	}

	// refreshing one chain leaves the other flagged
	c.Set(ctx, testVault, []*entity.HistoryEntry{historyEntry("0xa", 1)}, 1)
	require.False(t, c.GetWithRefreshCheck(ctx, testVault, 1).NeedsIncrementalFetch)
	require.True(t, c.GetWithRefreshCheck(ctx, testVault, 100).NeedsIncrementalFetch)

	stats := c.Stats(ctx)
	require.Equal(t, 2, stats.TotalKeys)
	require.Equal(t, map[uint64]int{1: 1, 100: 1}, stats.KeysByChain)
	require.Equal(t, 1, stats.RefreshFlags)
}

func TestTransactionCache_ForceDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, store := newTransactionCache(t)
	c.Set(ctx, testVault, []*entity.HistoryEntry{historyEntry("0xa", 1)}, 1)
	c.Set(ctx, testVault, []*entity.HistoryEntry{historyEntry("0xb", 1)}, 100)
	c.MarkForRefresh(ctx, testVault, 1)

	require.Equal(t, 2, c.ForceDelete(ctx, testVault, 1))
	res := c.GetWithRefreshCheck(ctx, testVault, 1)
	require.True(t, res.NeedsIncrementalFetch)
	require.Empty(t, res.Transactions)

	c.MarkVaultForRefresh(ctx, testVault)
	require.Equal(t, 3, c.ForceDeleteVault(ctx, testVault))
	keys, err := store.Keys(ctx, "*")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestTransactionCache_StoreFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := cache.NewTransactionCache(logging.NewDiscard(), brokenStore{}, testCacheConfig())

	c.Set(ctx, testVault, []*entity.HistoryEntry{historyEntry("0xa", 1)}, 1)
	res := c.GetWithRefreshCheck(ctx, testVault, 1)
	require.True(t, res.NeedsIncrementalFetch)
	require.Empty(t, res.Transactions)

	stats := c.Metrics().Stats()
	require.EqualValues(t, 2, stats.Errors)
	require.EqualValues(t, 1, stats.Misses)
}

func TestTransactionCache_MalformedEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, store := newTransactionCache(t)
	require.NoError(t, store.SetWithTTL(ctx, "transactions:"+testVault+":1", "{", 0))

	res := c.GetWithRefreshCheck(ctx, testVault, 1)
	require.True(t, res.NeedsIncrementalFetch)
	require.Empty(t, res.Transactions)
}
