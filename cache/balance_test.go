package cache_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omni/vault-custody/cache"
	"github.com/omni/vault-custody/entity"
	"github.com/omni/vault-custody/kvstore"
	"github.com/omni/vault-custody/logging"
)

const testVault = "0x1111111111111111111111111111111111111111"

func newBalanceCache(t *testing.T) (*cache.BalanceCache, kvstore.Store) {
	t.Helper()
	store := kvstore.NewMemoryStore()
	return cache.NewBalanceCache(logging.NewDiscard(), store, testCacheConfig()), store
}

func testBalances(t *testing.T) []entity.Balance {
	t.Helper()
	huge, ok := new(big.Int).SetString("123456789012345678901234567890123456789", 10)
	require.True(t, ok)
	return []entity.Balance{
		{AssetID: "native", Amount: big.NewInt(1)},
		{AssetID: "DAI", Amount: huge},
		{AssetID: "USDC", Amount: big.NewInt(0)},
	}
}

func requireBalancesEqual(t *testing.T, expected, actual []entity.Balance) {
	t.Helper()
	require.Len(t, actual, len(expected))
	for i := range expected {
		require.Equal(t, expected[i].AssetID, actual[i].AssetID)
		require.Zero(t, expected[i].Amount.Cmp(actual[i].Amount), "amount of %s", expected[i].AssetID)
	}
}

func TestBalanceCache_GetMiss(t *testing.T) {
	t.Parallel()

	c, _ := newBalanceCache(t)
	entry, ok := c.Get(context.Background(), testVault, 1)
	require.False(t, ok)
	require.Nil(t, entry)
	require.EqualValues(t, 1, c.Metrics().Stats().Misses)
	require.EqualValues(t, 0, c.Metrics().Stats().Hits)
}

func TestBalanceCache_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, _ := newBalanceCache(t)
	balances := testBalances(t)

	c.Set(ctx, testVault, balances, 100, "https://rpc.gnosischain.com")
	entry, ok := c.Get(ctx, testVault, 100)
	require.True(t, ok)
	requireBalancesEqual(t, balances, entry.Balances)
	require.Equal(t, "https://rpc.gnosischain.com", entry.NetworkURL)
	require.False(t, entry.Timestamp.IsZero())
	require.EqualValues(t, 1, c.Metrics().Stats().Hits)

	_, ok = c.Get(ctx, testVault, 1)
	require.False(t, ok)
}

func TestBalanceCache_VaultFlagTakesPrecedence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, store := newBalanceCache(t)
	balances := testBalances(t)

	c.Set(ctx, testVault, balances, 0, "")
	c.InvalidateVault(ctx, testVault)

	_, ok := c.Get(ctx, testVault, 0)
	require.False(t, ok)

	// the entry reappears behind the flag, e.g. from a lost write race
	require.NoError(t, store.SetWithTTL(ctx, "balance:"+testVault+":0", `{"balances":[],"timestamp":1}`, 0))
	_, ok = c.Get(ctx, testVault, 0)
	require.False(t, ok)
	require.EqualValues(t, 2, c.Metrics().Stats().Misses)

	c.Set(ctx, testVault, balances, 0, "")
	entry, ok := c.Get(ctx, testVault, 0)
	require.True(t, ok)
	requireBalancesEqual(t, balances, entry.Balances)
}

func TestBalanceCache_Invalidate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, store := newBalanceCache(t)
	balances := testBalances(t)

	c.Set(ctx, testVault, balances, 1, "")
	c.Set(ctx, testVault, balances, 100, "")

	c.Invalidate(ctx, testVault, 1)
	require.EqualValues(t, 1, c.Metrics().Stats().Invalidations)

	_, ok := c.Get(ctx, testVault, 1)
	require.False(t, ok)
	_, ok = c.Get(ctx, testVault, 100)
	require.True(t, ok)

	ttl, err := store.TTL(ctx, "balance_invalidated:"+testVault+":1")
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))

	// nothing left to remove still counts as one invalidation
	c.Invalidate(ctx, testVault, 1)
	require.EqualValues(t, 2, c.Metrics().Stats().Invalidations)

	c.InvalidateVault(ctx, testVault)
	require.EqualValues(t, 3, c.Metrics().Stats().Invalidations)
	_, ok = c.Get(ctx, testVault, 100)
	require.False(t, ok)
}

func TestBalanceCache_InvalidateByUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, _ := newBalanceCache(t)
	vaults := []string{testVault, "0x2222222222222222222222222222222222222222"}
	for _, vault := range vaults {
		c.Set(ctx, vault, testBalances(t), 1, "")
	}

	n, err := c.InvalidateByUser(ctx, "0xuser", func(_ context.Context, userID string) ([]string, error) {
		require.Equal(t, "0xuser", userID)
		return vaults, nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	for _, vault := range vaults {
		_, ok := c.Get(ctx, vault, 1)
		require.False(t, ok)
	}

	resolverErr := errors.New("db is down")
	_, err = c.InvalidateByUser(ctx, "0xuser", func(context.Context, string) ([]string, error) {
		return nil, resolverErr
	})
	require.ErrorIs(t, err, resolverErr)
}

func TestBalanceCache_InvalidateAllAndStats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, _ := newBalanceCache(t)
	c.Set(ctx, testVault, testBalances(t), 1, "")
	c.Set(ctx, testVault, testBalances(t), 100, "")
	c.Set(ctx, "0x2222222222222222222222222222222222222222", testBalances(t), 100, "")

	stats := c.Stats(ctx)
	require.True(t, stats.Enabled)
	require.Equal(t, 3, stats.TotalKeys)
	require.Equal(t, map[uint64]int{1: 1, 100: 2}, stats.KeysByChain)

	require.Equal(t, 3, c.InvalidateAll(ctx))
	stats = c.Stats(ctx)
	require.Zero(t, stats.TotalKeys)
	require.Empty(t, stats.KeysByChain)
}

func TestBalanceCache_MalformedEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, store := newBalanceCache(t)
	for _, blob := range []string{
		"not json",
		`{"balances":[{"assetId":"DAI","amount":"1.5"}],"timestamp":1}`,
	} {
		require.NoError(t, store.SetWithTTL(ctx, "balance:"+testVault+":1", blob, 0))
		_, ok := c.Get(ctx, testVault, 1)
		require.False(t, ok)
	}
	require.EqualValues(t, 2, c.Metrics().Stats().Misses)
}

func TestBalanceCache_StoreFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := cache.NewBalanceCache(logging.NewDiscard(), brokenStore{}, testCacheConfig())

	c.Set(ctx, testVault, testBalances(t), 1, "")
	_, ok := c.Get(ctx, testVault, 1)
	require.False(t, ok)
	c.Invalidate(ctx, testVault, 1)

	stats := c.Stats(ctx)
	require.EqualValues(t, 1, stats.Metrics.Misses)
	require.EqualValues(t, 5, stats.Metrics.Errors)
	require.EqualValues(t, 1, stats.Metrics.Invalidations)
}

func TestBalanceCache_Disabled(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testCacheConfig()
	disabled := false
	cfg.Enabled = &disabled
	store := kvstore.NewMemoryStore()
	c := cache.NewBalanceCache(logging.NewDiscard(), store, cfg)

	c.Set(ctx, testVault, testBalances(t), 1, "")
	_, ok := c.Get(ctx, testVault, 1)
	require.False(t, ok)

	keys, err := store.Keys(ctx, "*")
	require.NoError(t, err)
	require.Empty(t, keys)
	require.False(t, c.Stats(ctx).Enabled)
}
