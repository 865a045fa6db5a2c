package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/omni/vault-custody/config"
	"github.com/omni/vault-custody/entity"
	"github.com/omni/vault-custody/kvstore"
	"github.com/omni/vault-custody/logging"
)

// RefreshCheck is the outcome of a history lookup. NeedsIncrementalFetch is
// set both for a cold cache (empty Transactions) and for a flagged entry
// (cached Transactions kept).
type RefreshCheck struct {
	Transactions          []*entity.HistoryEntry
	NeedsIncrementalFetch bool
	KnownHashes           map[string]struct{}
}

type transactionsEntryRecord struct {
	Transactions []*entity.HistoryEntry `json:"transactions"`
	KnownHashes  []string               `json:"knownHashes"`
	Timestamp    int64                  `json:"timestamp"`
}

type TransactionStats struct {
	Metrics      MetricsSnapshot `json:"metrics"`
	TotalKeys    int             `json:"totalKeys"`
	KeysByChain  map[uint64]int  `json:"keysByChain"`
	RefreshFlags int             `json:"refreshFlags"`
}

type TransactionCache struct {
	logger  logging.Logger
	store   kvstore.Store
	metrics *Metrics
	ttl     time.Duration
}

func NewTransactionCache(logger logging.Logger, store kvstore.Store, cfg *config.CacheConfig) *TransactionCache {
	return &TransactionCache{
		logger:  logger,
		store:   store,
		metrics: NewMetrics("transactions"),
		ttl:     cfg.TransactionTTL,
	}
}

func (c *TransactionCache) Metrics() *Metrics {
	return c.metrics
}

func (c *TransactionCache) GetWithRefreshCheck(ctx context.Context, vault string, chainID uint64) RefreshCheck {
	logger := c.logger.WithFields(logrus.Fields{"vault": vault, "chain_id": chainID})
	cold := RefreshCheck{
		Transactions:          []*entity.HistoryEntry{},
		NeedsIncrementalFetch: true,
		KnownHashes:           map[string]struct{}{},
	}

	raw, err := c.store.Get(ctx, scopedKey(transactionsPrefix, vault, chainID))
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		c.metrics.Miss()
		return cold
	}
	if err != nil {
		c.fail(logger, err, "can't read transactions entry")
		c.metrics.Miss()
		return cold
	}
	var record transactionsEntryRecord
	if err = json.Unmarshal([]byte(raw), &record); err != nil {
		logger.WithError(err).Warn("dropping malformed transactions entry")
		c.metrics.Miss()
		return cold
	}

	res := RefreshCheck{
		Transactions: record.Transactions,
		KnownHashes:  make(map[string]struct{}, len(record.KnownHashes)),
	}
	if res.Transactions == nil {
		res.Transactions = []*entity.HistoryEntry{}
	}
	for _, hash := range record.KnownHashes {
		res.KnownHashes[hash] = struct{}{}
	}

	for _, flag := range []string{scopedKey(transactionsFlagPrefix, vault, chainID), vaultKey(transactionsFlagPrefix, vault)} {
		flagged, err := c.store.Exists(ctx, flag)
		if err != nil {
			c.fail(logger, err, "can't check refresh flag")
			flagged = true
		}
		if flagged {
			res.NeedsIncrementalFetch = true
			c.metrics.Miss()
			return res
		}
	}
	c.metrics.Hit()
	return res
}

// Set stores the history for one chain and clears its refresh flags.
func (c *TransactionCache) Set(ctx context.Context, vault string, entries []*entity.HistoryEntry, chainID uint64) {
	logger := c.logger.WithFields(logrus.Fields{"vault": vault, "chain_id": chainID})

	if entries == nil {
		entries = []*entity.HistoryEntry{}
	}
	blob, err := json.Marshal(transactionsEntryRecord{
		Transactions: entries,
		KnownHashes:  knownHashesOf(entries),
		Timestamp:    time.Now().UnixMilli(),
	})
	if err != nil {
		c.fail(logger, err, "can't encode transactions entry")
		return
	}
	if err = c.store.SetWithTTL(ctx, scopedKey(transactionsPrefix, vault, chainID), string(blob), c.ttl); err != nil {
		c.fail(logger, err, "can't write transactions entry")
		return
	}
	if _, err = c.store.Del(ctx, scopedKey(transactionsFlagPrefix, vault, chainID), vaultKey(transactionsFlagPrefix, vault)); err != nil {
		c.fail(logger, err, "can't clear refresh flags")
	}
}

func (c *TransactionCache) MarkForRefresh(ctx context.Context, vault string, chainID uint64) {
	logger := c.logger.WithFields(logrus.Fields{"vault": vault, "chain_id": chainID})
	c.setFlag(ctx, logger, scopedKey(transactionsFlagPrefix, vault, chainID))
	c.metrics.Invalidate(1)
}

// MarkVaultForRefresh flags every cached chain of the vault, and the vault as a whole.
func (c *TransactionCache) MarkVaultForRefresh(ctx context.Context, vault string) {
	logger := c.logger.WithField("vault", vault)

	keys, err := c.store.Keys(ctx, vaultPattern(transactionsPrefix, vault))
	if err != nil {
		c.fail(logger, err, "can't list cached chains")
	}
	for _, key := range keys {
		if chainID, ok := chainIDFromKey(key); ok {
			c.setFlag(ctx, logger, scopedKey(transactionsFlagPrefix, vault, chainID))
		}
	}
	c.setFlag(ctx, logger, vaultKey(transactionsFlagPrefix, vault))
	c.metrics.Invalidate(len(keys))
}

// ForceDelete removes the history of one chain together with its refresh flag.
func (c *TransactionCache) ForceDelete(ctx context.Context, vault string, chainID uint64) int {
	n, err := c.store.Del(ctx, scopedKey(transactionsPrefix, vault, chainID), scopedKey(transactionsFlagPrefix, vault, chainID))
	if err != nil {
		c.fail(c.logger.WithFields(logrus.Fields{"vault": vault, "chain_id": chainID}), err, "can't delete transactions entry")
	}
	c.metrics.Invalidate(n)
	return n
}

// ForceDeleteVault removes the history of every chain of the vault and all its refresh flags.
func (c *TransactionCache) ForceDeleteVault(ctx context.Context, vault string) int {
	logger := c.logger.WithField("vault", vault)
	total := 0
	for _, pattern := range []string{
		vaultPattern(transactionsPrefix, vault),
		vaultPattern(transactionsFlagPrefix, vault),
		vaultKey(transactionsFlagPrefix, vault),
	} {
		n, err := c.store.DelByPattern(ctx, pattern)
		if err != nil {
			c.fail(logger, err, "can't delete transactions entries")
			continue
		}
		total += n
	}
	c.metrics.Invalidate(total)
	return total
}

func (c *TransactionCache) Stats(ctx context.Context) TransactionStats {
	stats := TransactionStats{KeysByChain: map[uint64]int{}}
	keys, err := c.store.Keys(ctx, transactionsPrefix+":*")
	if err != nil {
		c.fail(c.logger, err, "can't list transactions keys")
	} else {
		stats.TotalKeys = len(keys)
		stats.KeysByChain = countByChain(keys)
	}
	flags, err := c.store.Keys(ctx, transactionsFlagPrefix+":*")
	if err != nil {
		c.fail(c.logger, err, "can't list refresh flags")
	} else {
		stats.RefreshFlags = len(flags)
	}
	stats.Metrics = c.metrics.Stats()
	return stats
}

func (c *TransactionCache) setFlag(ctx context.Context, logger logging.Logger, key string) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := c.store.SetWithTTL(ctx, key, now, c.ttl); err != nil {
		c.fail(logger, err, "can't set refresh flag")
	}
}

func (c *TransactionCache) fail(logger logging.Logger, err error, msg string) {
	logger.WithError(err).Error(msg)
	c.metrics.Error()
}
