package provider

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/omni/vault-custody/config"
	"github.com/omni/vault-custody/contract"
	"github.com/omni/vault-custody/contract/abi"
	"github.com/omni/vault-custody/entity"
	"github.com/omni/vault-custody/ethclient"
	"github.com/omni/vault-custody/logging"
	"github.com/omni/vault-custody/utils"
)

const statusSuccess = "success"

var ErrInvalidAddress = errors.New("invalid vault address")

// Provider is the source of truth for vault balances and history on one chain.
type Provider interface {
	ChainID() uint64
	NetworkURL() string
	GetBalances(ctx context.Context, vault string) ([]entity.Balance, error)
	// FetchTransactionsSince returns transactions touching the vault in blocks
	// starting at cursor, oldest first. Only whole blocks are returned: a page
	// holds at least limit entries unless history is exhausted, and may exceed
	// limit to finish its last block. A zero cursor starts from the beginning of
	// the indexed history.
	FetchTransactionsSince(ctx context.Context, vault string, cursor uint64, limit int) ([]*entity.HistoryEntry, error)
}

type EthProvider struct {
	logger logging.Logger
	client ethclient.Client
	cfg    *config.ChainConfig
	tokens []*contract.ERC20
}

func NewEthProvider(logger logging.Logger, client ethclient.Client, cfg *config.ChainConfig) *EthProvider {
	tokens := make([]*contract.ERC20, 0, len(cfg.Tokens))
	for _, token := range cfg.Tokens {
		tokens = append(tokens, contract.NewERC20(client, token.Address))
	}
	return &EthProvider{
		logger: logger.WithField("chain_id", cfg.ChainID),
		client: client,
		cfg:    cfg,
		tokens: tokens,
	}
}

func (p *EthProvider) ChainID() uint64 {
	return p.cfg.ChainID
}

func (p *EthProvider) NetworkURL() string {
	return p.client.URL()
}

func (p *EthProvider) GetBalances(ctx context.Context, vault string) ([]entity.Balance, error) {
	owner, err := parseAddress(vault)
	if err != nil {
		return nil, err
	}

	balances := make([]entity.Balance, 0, len(p.tokens)+1)
	native, err := p.client.BalanceAt(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("can't get native balance of %s: %w", vault, err)
	}
	balances = append(balances, entity.Balance{AssetID: p.cfg.NativeAssetID, Amount: native})

	for _, token := range p.tokens {
		amount, err := token.BalanceOf(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("can't get %s balance of %s: %w", p.cfg.AssetID(token.Address()), vault, err)
		}
		balances = append(balances, entity.Balance{AssetID: p.cfg.AssetID(token.Address()), Amount: amount})
	}
	return balances, nil
}

func (p *EthProvider) FetchTransactionsSince(ctx context.Context, vault string, cursor uint64, limit int) ([]*entity.HistoryEntry, error) {
	owner, err := parseAddress(vault)
	if err != nil {
		return nil, err
	}
	if len(p.tokens) == 0 || limit <= 0 {
		return []*entity.HistoryEntry{}, nil
	}

	head, err := p.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("can't get head block: %w", err)
	}
	if head < p.cfg.BlockConfirmations {
		return []*entity.HistoryEntry{}, nil
	}
	head -= p.cfg.BlockConfirmations

	from := cursor
	if from < p.cfg.StartBlock {
		from = p.cfg.StartBlock
	}

	var transfers []*contract.TransferEvent
	seen := make(map[common.Hash]bool)
	for _, r := range utils.SplitBlockRange(from, head, p.cfg.MaxBlockRangeSize) {
		batch, err := p.fetchTransfers(ctx, owner, r)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, batch...)
		for _, t := range batch {
			seen[t.TxHash] = true
		}
		if len(seen) >= limit {
			break
		}
	}

	entries, err := p.groupTransfers(ctx, transfers)
	if err != nil {
		return nil, err
	}
	return wholeBlocks(entries, limit), nil
}

// wholeBlocks cuts entries after the first limit ones, keeping the rest of the
// block the limit falls into.
func wholeBlocks(entries []*entity.HistoryEntry, limit int) []*entity.HistoryEntry {
	if len(entries) <= limit {
		return entries
	}
	last := entries[limit-1].BlockNumber
	n := limit
	for n < len(entries) && entries[n].BlockNumber == last {
		n++
	}
	return entries[:n]
}

// fetchTransfers loads transfers of tracked tokens sent from or to owner within r.
func (p *EthProvider) fetchTransfers(ctx context.Context, owner common.Address, r *utils.BlocksRange) ([]*contract.TransferEvent, error) {
	ownerTopic := []common.Hash{owner.Hash()}
	queries := [][][]common.Hash{
		{{abi.TransferEventSignature}, ownerTopic},
		{{abi.TransferEventSignature}, nil, ownerTopic},
	}

	res := make([]*contract.TransferEvent, 0)
	dedup := make(map[string]bool)
	for _, topics := range queries {
		logs, err := p.client.FilterLogsSafe(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(r.From),
			ToBlock:   new(big.Int).SetUint64(r.To),
			Addresses: p.cfg.TokenAddresses(),
			Topics:    topics,
		})
		if err != nil {
			return nil, fmt.Errorf("can't get transfer logs in blocks %d-%d: %w", r.From, r.To, err)
		}
		for i := range logs {
			log := &logs[i]
			key := fmt.Sprintf("%s:%d", log.TxHash, log.Index)
			if log.Removed || dedup[key] {
				continue
			}
			dedup[key] = true
			transfer, err := contract.ParseTransfer(log)
			if err != nil {
				p.logger.WithError(err).WithField("tx_hash", log.TxHash).Warn("skipping undecodable log")
				continue
			}
			res = append(res, transfer)
		}
	}
	return res, nil
}

func (p *EthProvider) groupTransfers(ctx context.Context, transfers []*contract.TransferEvent) ([]*entity.HistoryEntry, error) {
	sort.Slice(transfers, func(i, j int) bool {
		if transfers[i].BlockNumber != transfers[j].BlockNumber {
			return transfers[i].BlockNumber < transfers[j].BlockNumber
		}
		return transfers[i].LogIndex < transfers[j].LogIndex
	})

	timestamps := make(map[uint64]time.Time)
	byHash := make(map[common.Hash]*entity.HistoryEntry)
	entries := make([]*entity.HistoryEntry, 0)
	for _, t := range transfers {
		entry, ok := byHash[t.TxHash]
		if !ok {
			ts, err := p.blockTime(ctx, timestamps, t.BlockNumber)
			if err != nil {
				return nil, err
			}
			entry = &entity.HistoryEntry{
				Hash:        t.TxHash.String(),
				ChainID:     p.cfg.ChainID,
				BlockNumber: t.BlockNumber,
				Status:      statusSuccess,
				CreatedAt:   ts,
				Transfers:   []entity.Transfer{},
			}
			byHash[t.TxHash] = entry
			entries = append(entries, entry)
		}
		entry.Transfers = append(entry.Transfers, entity.Transfer{
			AssetID: p.cfg.AssetID(t.Token),
			From:    t.From.String(),
			To:      t.To.String(),
			Amount:  t.Value.String(),
		})
	}
	return entries, nil
}

func (p *EthProvider) blockTime(ctx context.Context, cache map[uint64]time.Time, n uint64) (time.Time, error) {
	if ts, ok := cache[n]; ok {
		return ts, nil
	}
	header, err := p.client.HeaderByNumber(ctx, n)
	if err != nil {
		return time.Time{}, fmt.Errorf("can't get header of block %d: %w", n, err)
	}
	ts := headerTime(header)
	cache[n] = ts
	return ts, nil
}

func headerTime(header *types.Header) time.Time {
	return time.Unix(int64(header.Time), 0).UTC()
}

func parseAddress(vault string) (common.Address, error) {
	if !common.IsHexAddress(vault) {
		return common.Address{}, fmt.Errorf("%q: %w", vault, ErrInvalidAddress)
	}
	return common.HexToAddress(vault), nil
}
