package monitor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/omni/vault-custody/config"
	"github.com/omni/vault-custody/contract"
	"github.com/omni/vault-custody/contract/abi"
	"github.com/omni/vault-custody/db"
	"github.com/omni/vault-custody/entity"
	"github.com/omni/vault-custody/ethclient"
	"github.com/omni/vault-custody/logging"
	"github.com/omni/vault-custody/repository"
	"github.com/omni/vault-custody/utils"
)

const defaultSyncedThreshold = 10

type BalanceInvalidator interface {
	Invalidate(ctx context.Context, vault string, chainID uint64)
}

type HistoryRefresher interface {
	MarkForRefresh(ctx context.Context, vault string, chainID uint64)
}

// DepositWatcher follows token transfers on a single chain and drops cached
// views of every vault a transfer touches.
type DepositWatcher struct {
	cfg        *config.ChainConfig
	logger     logging.Logger
	repo       *repository.Repo
	client     ethclient.Client
	balances   BalanceInvalidator
	history    HistoryRefresher
	logsCursor *entity.LogsCursor
	headBlock  uint64
	isSynced   atomic.Bool

	syncedMetric         prometheus.Gauge
	headBlockMetric      prometheus.Gauge
	processedBlockMetric prometheus.Gauge
	touchedVaultsMetric  prometheus.Counter
}

func NewDepositWatcher(ctx context.Context, logger logging.Logger, repo *repository.Repo, cfg *config.ChainConfig, client ethclient.Client, balances BalanceInvalidator, history HistoryRefresher) (*DepositWatcher, error) {
	logsCursor, err := repo.LogsCursors.GetByChainID(ctx, cfg.ChainID)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("failed to read logs cursor: %w", err)
		}
		logger.WithFields(logrus.Fields{
			"chain_id":    cfg.ChainID,
			"start_block": cfg.StartBlock,
		}).Warn("logs cursor is not present, starting indexing from scratch")
		var last uint64
		if cfg.StartBlock > 0 {
			last = cfg.StartBlock - 1
		}
		logsCursor = &entity.LogsCursor{
			ChainID:            cfg.ChainID,
			LastFetchedBlock:   last,
			LastProcessedBlock: last,
		}
	}
	labels := prometheus.Labels{"chain_id": strconv.FormatUint(cfg.ChainID, 10)}
	return &DepositWatcher{
		cfg:                  cfg,
		logger:               logger,
		repo:                 repo,
		client:               client,
		balances:             balances,
		history:              history,
		logsCursor:           logsCursor,
		syncedMetric:         SyncedChain.With(labels),
		headBlockMetric:      LatestHeadBlock.With(labels),
		processedBlockMetric: LatestProcessedBlock.With(labels),
		touchedVaultsMetric:  TouchedVaults.With(labels),
	}, nil
}

func (w *DepositWatcher) IsSynced() bool {
	return w.isSynced.Load()
}

func (w *DepositWatcher) LastProcessedBlock() uint64 {
	return w.logsCursor.LastProcessedBlock
}

// Start polls the chain head until ctx is canceled. Failed ranges are retried
// on the next tick from the persisted cursor.
func (w *DepositWatcher) Start(ctx context.Context) {
	w.logger.Info("starting deposit watcher")
	for {
		head, err := w.client.BlockNumber(ctx)
		if err != nil {
			w.logger.WithError(err).Error("can't fetch latest block number")
		} else if head > w.cfg.BlockConfirmations {
			head -= w.cfg.BlockConfirmations
			w.recordHeadBlockNumber(head)

			if err = w.ProcessBlockRange(ctx, w.logsCursor.LastProcessedBlock+1, head); err != nil {
				w.logger.WithError(err).Error("failed to process new blocks, retrying later")
			}
		}

		if !utils.ContextSleep(ctx, w.cfg.BlockIndexInterval) {
			return
		}
	}
}

// ProcessBlockRange scans [fromBlock, toBlock] in chunks and advances the
// cursor after every chunk. The cursor never moves backwards, so ranges below
// it can be rescanned safely.
func (w *DepositWatcher) ProcessBlockRange(ctx context.Context, fromBlock, toBlock uint64) error {
	if fromBlock > toBlock {
		return nil
	}
	vaults, err := w.vaultsByAddress(ctx)
	if err != nil {
		return err
	}
	for _, r := range utils.SplitBlockRange(fromBlock, toBlock, w.cfg.MaxBlockRangeSize) {
		if len(vaults) > 0 && len(w.cfg.Tokens) > 0 {
			if err = w.processRange(ctx, vaults, r); err != nil {
				return err
			}
		}
		if err = w.recordProcessedBlockNumber(ctx, r.To); err != nil {
			return err
		}
	}
	return nil
}

func (w *DepositWatcher) vaultsByAddress(ctx context.Context) (map[common.Address]string, error) {
	vaults, err := w.repo.Vaults.FindByChainID(ctx, w.cfg.ChainID)
	if err != nil {
		return nil, fmt.Errorf("can't load chain vaults: %w", err)
	}
	res := make(map[common.Address]string, len(vaults))
	for _, v := range vaults {
		if !common.IsHexAddress(v.Address) {
			w.logger.WithField("vault", v.Address).Warn("skipping vault with non-hex address")
			continue
		}
		res[common.HexToAddress(v.Address)] = v.Address
	}
	return res, nil
}

func (w *DepositWatcher) processRange(ctx context.Context, vaults map[common.Address]string, r *utils.BlocksRange) error {
	topics := make([]common.Hash, 0, len(vaults))
	for addr := range vaults {
		topics = append(topics, addr.Hash())
	}
	queries := [][][]common.Hash{
		{{abi.TransferEventSignature}, topics},
		{{abi.TransferEventSignature}, nil, topics},
	}

	touched := make(map[string]struct{})
	for _, q := range queries {
		logs, err := w.client.FilterLogsSafe(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(r.From),
			ToBlock:   new(big.Int).SetUint64(r.To),
			Addresses: w.cfg.TokenAddresses(),
			Topics:    q,
		})
		if err != nil {
			return fmt.Errorf("can't get transfer logs in blocks %d-%d: %w", r.From, r.To, err)
		}
		for i := range logs {
			if logs[i].Removed {
				continue
			}
			transfer, err := contract.ParseTransfer(&logs[i])
			if err != nil {
				w.logger.WithError(err).WithField("tx_hash", logs[i].TxHash).Warn("skipping undecodable log")
				continue
			}
			if vault, ok := vaults[transfer.From]; ok {
				touched[vault] = struct{}{}
			}
			if vault, ok := vaults[transfer.To]; ok {
				touched[vault] = struct{}{}
			}
		}
	}

	w.logger.WithFields(logrus.Fields{
		"from_block": r.From,
		"to_block":   r.To,
		"vaults":     len(touched),
	}).Debug("processed block range")
	for vault := range touched {
		w.logger.WithField("vault", vault).Info("vault balance changed on chain, dropping cached views")
		w.balances.Invalidate(ctx, vault, w.cfg.ChainID)
		w.history.MarkForRefresh(ctx, vault, w.cfg.ChainID)
		w.touchedVaultsMetric.Inc()
	}
	return nil
}

func (w *DepositWatcher) recordHeadBlockNumber(blockNumber uint64) {
	if blockNumber < w.headBlock {
		return
	}

	w.headBlock = blockNumber
	w.headBlockMetric.Set(float64(blockNumber))
	w.recordIsSynced()
}

func (w *DepositWatcher) recordIsSynced() {
	synced := w.logsCursor.LastProcessedBlock+defaultSyncedThreshold > w.headBlock
	w.isSynced.Store(synced)
	if synced {
		w.syncedMetric.Set(1)
	} else {
		w.syncedMetric.Set(0)
	}
}

func (w *DepositWatcher) recordProcessedBlockNumber(ctx context.Context, blockNumber uint64) error {
	if blockNumber < w.logsCursor.LastProcessedBlock {
		return nil
	}

	cursor := *w.logsCursor
	cursor.LastFetchedBlock = blockNumber
	cursor.LastProcessedBlock = blockNumber
	if err := w.repo.LogsCursors.Ensure(ctx, &cursor); err != nil {
		return fmt.Errorf("can't save logs cursor: %w", err)
	}
	w.logsCursor = &cursor
	w.processedBlockMetric.Set(float64(blockNumber))
	w.recordIsSynced()
	return nil
}
