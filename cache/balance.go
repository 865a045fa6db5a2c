package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/omni/vault-custody/config"
	"github.com/omni/vault-custody/entity"
	"github.com/omni/vault-custody/kvstore"
	"github.com/omni/vault-custody/logging"
)

var errMalformedEntry = errors.New("malformed cache entry")

// VaultResolver lists the vault addresses a user is a member of.
type VaultResolver func(ctx context.Context, userID string) ([]string, error)

type BalanceEntry struct {
	Balances   []entity.Balance
	Timestamp  time.Time
	NetworkURL string
}

type balanceRecord struct {
	AssetID string `json:"assetId"`
	Amount  string `json:"amount"`
}

type balanceEntryRecord struct {
	Balances   []balanceRecord `json:"balances"`
	Timestamp  int64           `json:"timestamp"`
	NetworkURL string          `json:"networkUrl,omitempty"`
}

type BalanceStats struct {
	Enabled     bool            `json:"enabled"`
	Metrics     MetricsSnapshot `json:"metrics"`
	TotalKeys   int             `json:"totalKeys"`
	KeysByChain map[uint64]int  `json:"keysByChain"`
}

type BalanceCache struct {
	logger          logging.Logger
	store           kvstore.Store
	metrics         *Metrics
	enabled         bool
	ttl             time.Duration
	invalidationTTL time.Duration
}

func NewBalanceCache(logger logging.Logger, store kvstore.Store, cfg *config.CacheConfig) *BalanceCache {
	return &BalanceCache{
		logger:          logger,
		store:           store,
		metrics:         NewMetrics("balance"),
		enabled:         cfg.IsEnabled(),
		ttl:             cfg.BalanceTTL,
		invalidationTTL: cfg.InvalidationTTL,
	}
}

func (c *BalanceCache) Metrics() *Metrics {
	return c.metrics
}

// Get returns cached balances unless the entry is absent, malformed or
// shadowed by a chain or vault invalidation flag.
func (c *BalanceCache) Get(ctx context.Context, vault string, chainID uint64) (*BalanceEntry, bool) {
	if !c.enabled {
		return nil, false
	}
	logger := c.logger.WithFields(logrus.Fields{"vault": vault, "chain_id": chainID})

	for _, flag := range []string{scopedKey(balanceFlagPrefix, vault, chainID), vaultKey(balanceFlagPrefix, vault)} {
		flagged, err := c.store.Exists(ctx, flag)
		if err != nil {
			c.fail(logger, err, "can't check invalidation flag")
			c.metrics.Miss()
			return nil, false
		}
		if flagged {
			c.metrics.Miss()
			return nil, false
		}
	}

	raw, err := c.store.Get(ctx, scopedKey(balancePrefix, vault, chainID))
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		c.metrics.Miss()
		return nil, false
	}
	if err != nil {
		c.fail(logger, err, "can't read balance entry")
		c.metrics.Miss()
		return nil, false
	}
	entry, err := decodeBalanceEntry(raw)
	if err != nil {
		logger.WithError(err).Warn("dropping malformed balance entry")
		c.metrics.Miss()
		return nil, false
	}
	c.metrics.Hit()
	return entry, true
}

// Set stores balances and clears pending invalidation flags for the vault.
func (c *BalanceCache) Set(ctx context.Context, vault string, balances []entity.Balance, chainID uint64, networkURL string) {
	if !c.enabled {
		return
	}
	logger := c.logger.WithFields(logrus.Fields{"vault": vault, "chain_id": chainID})

	record := balanceEntryRecord{
		Balances:   make([]balanceRecord, 0, len(balances)),
		Timestamp:  time.Now().UnixMilli(),
		NetworkURL: networkURL,
	}
	for _, b := range balances {
		amount := "0"
		if b.Amount != nil {
			amount = b.Amount.String()
		}
		record.Balances = append(record.Balances, balanceRecord{AssetID: b.AssetID, Amount: amount})
	}
	blob, err := json.Marshal(record)
	if err != nil {
		c.fail(logger, err, "can't encode balance entry")
		return
	}
	if err = c.store.SetWithTTL(ctx, scopedKey(balancePrefix, vault, chainID), string(blob), c.ttl); err != nil {
		c.fail(logger, err, "can't write balance entry")
		return
	}
	if _, err = c.store.Del(ctx, scopedKey(balanceFlagPrefix, vault, chainID), vaultKey(balanceFlagPrefix, vault)); err != nil {
		c.fail(logger, err, "can't clear invalidation flags")
	}
}

// Invalidate drops the entry for one chain and flags it as stale.
func (c *BalanceCache) Invalidate(ctx context.Context, vault string, chainID uint64) {
	if !c.enabled {
		return
	}
	logger := c.logger.WithFields(logrus.Fields{"vault": vault, "chain_id": chainID})

	n, err := c.store.Del(ctx, scopedKey(balancePrefix, vault, chainID))
	if err != nil {
		c.fail(logger, err, "can't delete balance entry")
	}
	c.setFlag(ctx, logger, scopedKey(balanceFlagPrefix, vault, chainID))
	c.metrics.Invalidate(n)
}

// InvalidateVault drops the entries of every chain and flags the whole vault as stale.
func (c *BalanceCache) InvalidateVault(ctx context.Context, vault string) {
	if !c.enabled {
		return
	}
	logger := c.logger.WithField("vault", vault)

	n, err := c.store.DelByPattern(ctx, vaultPattern(balancePrefix, vault))
	if err != nil {
		c.fail(logger, err, "can't delete balance entries")
	}
	c.setFlag(ctx, logger, vaultKey(balanceFlagPrefix, vault))
	c.metrics.Invalidate(n)
}

// InvalidateByUser invalidates every vault returned by resolve and reports how many there were.
func (c *BalanceCache) InvalidateByUser(ctx context.Context, userID string, resolve VaultResolver) (int, error) {
	vaults, err := resolve(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("can't resolve vaults of user %s: %w", userID, err)
	}
	for _, vault := range vaults {
		c.InvalidateVault(ctx, vault)
	}
	return len(vaults), nil
}

func (c *BalanceCache) InvalidateAll(ctx context.Context) int {
	n, err := c.store.DelByPattern(ctx, balancePrefix+":*")
	if err != nil {
		c.fail(c.logger, err, "can't delete balance entries")
	}
	c.metrics.Invalidate(n)
	c.logger.WithField("count", n).Info("invalidated all balance entries")
	return n
}

func (c *BalanceCache) Stats(ctx context.Context) BalanceStats {
	stats := BalanceStats{
		Enabled:     c.enabled,
		KeysByChain: map[uint64]int{},
	}
	keys, err := c.store.Keys(ctx, balancePrefix+":*")
	if err != nil {
		c.logger.WithError(err).Error("can't list balance keys")
		c.metrics.Error()
	} else {
		stats.TotalKeys = len(keys)
		stats.KeysByChain = countByChain(keys)
	}
	stats.Metrics = c.metrics.Stats()
	return stats
}

func (c *BalanceCache) setFlag(ctx context.Context, logger logging.Logger, key string) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := c.store.SetWithTTL(ctx, key, now, c.invalidationTTL); err != nil {
		c.fail(logger, err, "can't set invalidation flag")
	}
}

func (c *BalanceCache) fail(logger logging.Logger, err error, msg string) {
	logger.WithError(err).Error(msg)
	c.metrics.Error()
}

func decodeBalanceEntry(raw string) (*BalanceEntry, error) {
	var record balanceEntryRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("%w: %s", errMalformedEntry, err)
	}
	entry := &BalanceEntry{
		Balances:   make([]entity.Balance, 0, len(record.Balances)),
		Timestamp:  time.UnixMilli(record.Timestamp),
		NetworkURL: record.NetworkURL,
	}
	for _, b := range record.Balances {
		amount, ok := new(big.Int).SetString(b.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("%w: invalid amount %q for asset %s", errMalformedEntry, b.Amount, b.AssetID)
		}
		entry.Balances = append(entry.Balances, entity.Balance{AssetID: b.AssetID, Amount: amount})
	}
	return entry, nil
}
