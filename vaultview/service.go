package vaultview

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/omni/vault-custody/cache"
	"github.com/omni/vault-custody/entity"
	"github.com/omni/vault-custody/logging"
	"github.com/omni/vault-custody/provider"
)

const sharedFetchTimeout = time.Minute

var ErrUnknownChain = errors.New("unknown chain")

// Service serves vault balances and history through the caches, falling back
// to the chain provider on a miss or a pending refresh.
type Service struct {
	logger       logging.Logger
	providers    map[uint64]provider.Provider
	balances     *cache.BalanceCache
	transactions *cache.TransactionCache
	pageSize     int
	group        singleflight.Group
}

func NewService(logger logging.Logger, providers []provider.Provider, balances *cache.BalanceCache, transactions *cache.TransactionCache, pageSize int) *Service {
	byChain := make(map[uint64]provider.Provider, len(providers))
	for _, p := range providers {
		byChain[p.ChainID()] = p
	}
	return &Service{
		logger:       logger,
		providers:    byChain,
		balances:     balances,
		transactions: transactions,
		pageSize:     pageSize,
	}
}

func (s *Service) provider(chainID uint64) (provider.Provider, error) {
	p, ok := s.providers[chainID]
	if !ok {
		return nil, fmt.Errorf("chain %d: %w", chainID, ErrUnknownChain)
	}
	return p, nil
}

func (s *Service) Balances(ctx context.Context, vault string, chainID uint64) ([]entity.Balance, error) {
	p, err := s.provider(chainID)
	if err != nil {
		return nil, err
	}
	if entry, ok := s.balances.Get(ctx, vault, chainID); ok {
		return entry.Balances, nil
	}

	key := "balances:" + vault + ":" + strconv.FormatUint(chainID, 10)
	res, shared, err := s.share(ctx, key, func(ctx context.Context) (interface{}, error) {
		balances, err := p.GetBalances(ctx, vault)
		if err != nil {
			return nil, err
		}
		s.balances.Set(ctx, vault, balances, chainID, p.NetworkURL())
		return balances, nil
	})
	if err != nil {
		return nil, fmt.Errorf("can't fetch balances of %s on chain %d: %w", vault, chainID, err)
	}
	if shared {
		s.logger.WithField("vault", vault).Debug("balances fetch shared with concurrent request")
	}
	return res.([]entity.Balance), nil
}

func (s *Service) History(ctx context.Context, vault string, chainID uint64) ([]*entity.HistoryEntry, error) {
	p, err := s.provider(chainID)
	if err != nil {
		return nil, err
	}
	check := s.transactions.GetWithRefreshCheck(ctx, vault, chainID)
	if !check.NeedsIncrementalFetch {
		return check.Transactions, nil
	}

	key := "history:" + vault + ":" + strconv.FormatUint(chainID, 10)
	res, _, err := s.share(ctx, key, func(ctx context.Context) (interface{}, error) {
		return s.reconcile(ctx, p, vault, check)
	})
	if err != nil {
		return nil, fmt.Errorf("can't fetch history of %s on chain %d: %w", vault, chainID, err)
	}
	return res.([]*entity.HistoryEntry), nil
}

// share runs fetch once per key for all concurrent callers. The fetch gets its
// own context, so a caller that gives up does not fail the others.
func (s *Service) share(ctx context.Context, key string, fetch func(ctx context.Context) (interface{}, error)) (interface{}, bool, error) {
	ch := s.group.DoChan(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.Background(), sharedFetchTimeout)
		defer cancel()
		return fetch(fetchCtx)
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	}
}

// reconcile pages through the provider from the block after the newest cached
// one and merges everything it finds into the cached history. Pages hold whole
// blocks, so the cursor always moves past the last block of a page.
func (s *Service) reconcile(ctx context.Context, p provider.Provider, vault string, check cache.RefreshCheck) ([]*entity.HistoryEntry, error) {
	merged := check.Transactions
	known := check.KnownHashes
	var cursor uint64
	if len(merged) > 0 {
		cursor = highestBlock(merged) + 1
	}

	fetched := 0
	for {
		page, err := p.FetchTransactionsSince(ctx, vault, cursor, s.pageSize)
		if err != nil {
			return nil, err
		}
		before := len(merged)
		merged = cache.MergeTransactions(merged, page, known)
		fetched += len(merged) - before
		if len(page) == 0 || len(page) < s.pageSize {
			break
		}
		cursor = highestBlock(page) + 1
	}

	s.logger.WithFields(logrus.Fields{
		"vault":    vault,
		"chain_id": p.ChainID(),
		"new":      fetched,
		"total":    len(merged),
	}).Info("reconciled vault history")
	s.transactions.Set(ctx, vault, merged, p.ChainID())
	return merged, nil
}

func highestBlock(entries []*entity.HistoryEntry) uint64 {
	var res uint64
	for _, e := range entries {
		if e.BlockNumber > res {
			res = e.BlockNumber
		}
	}
	return res
}
