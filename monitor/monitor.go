package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/omni/vault-custody/config"
	"github.com/omni/vault-custody/ethclient"
	"github.com/omni/vault-custody/logging"
	"github.com/omni/vault-custody/repository"
)

var ErrUnknownChain = errors.New("chain is not watched")

// Monitor runs one DepositWatcher per configured chain.
type Monitor struct {
	logger   logging.Logger
	watchers map[uint64]*DepositWatcher
}

func NewMonitor(ctx context.Context, logger logging.Logger, repo *repository.Repo, cfg *config.Config, clients map[uint64]ethclient.Client, balances BalanceInvalidator, history HistoryRefresher) (*Monitor, error) {
	logger.Info("initializing deposit monitor")
	watchers := make(map[uint64]*DepositWatcher, len(cfg.Chains))
	for name, chainCfg := range cfg.Chains {
		if chainCfg.DisableWatcher {
			continue
		}
		client, ok := clients[chainCfg.ChainID]
		if !ok {
			return nil, fmt.Errorf("no rpc client for chain %s: %w", name, ErrUnknownChain)
		}
		w, err := NewDepositWatcher(ctx, logger.WithField("chain", name), repo, chainCfg, client, balances, history)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize %s watcher: %w", name, err)
		}
		watchers[chainCfg.ChainID] = w
	}
	return &Monitor{
		logger:   logger,
		watchers: watchers,
	}, nil
}

func (m *Monitor) Start(ctx context.Context) {
	m.logger.WithField("chains", len(m.watchers)).Info("starting deposit monitor")
	for _, w := range m.watchers {
		go w.Start(ctx)
	}
}

func (m *Monitor) ProcessBlockRange(ctx context.Context, chainID uint64, fromBlock, toBlock uint64) error {
	w, ok := m.watchers[chainID]
	if !ok {
		return fmt.Errorf("chain %d: %w", chainID, ErrUnknownChain)
	}
	return w.ProcessBlockRange(ctx, fromBlock, toBlock)
}

func (m *Monitor) IsSynced() bool {
	for _, w := range m.watchers {
		if !w.IsSynced() {
			return false
		}
	}
	return true
}
