package presenter

import (
	"time"

	"github.com/omni/vault-custody/cache"
	"github.com/omni/vault-custody/entity"
)

type CreateTransactionRequest struct {
	Hash      string   `json:"hash"`
	Witnesses []string `json:"witnesses"`
}

type SignWitnessRequest struct {
	Account   string `json:"account"`
	Signature string `json:"signature"`
	Approve   bool   `json:"approve"`
}

type CancelTransactionRequest struct {
	Hash    string `json:"hash"`
	Account string `json:"account"`
}

type ConfirmSendRequest struct {
	GasUsed string `json:"gasUsed"`
	Success bool   `json:"success"`
	Summary string `json:"summary"`
}

type TransactionInfo struct {
	ID        uint                     `json:"id"`
	Hash      string                   `json:"hash"`
	VaultID   uint                     `json:"vaultId"`
	Status    entity.TransactionStatus `json:"status"`
	Resume    *string                  `json:"resume,omitempty"`
	GasUsed   *string                  `json:"gasUsed,omitempty"`
	CreatedAt *time.Time               `json:"createdAt,omitempty"`
	UpdatedAt *time.Time               `json:"updatedAt,omitempty"`
}

type SignWitnessResult struct {
	TransactionID uint                     `json:"transactionId"`
	Status        entity.TransactionStatus `json:"status"`
}

type BalanceInfo struct {
	AssetID string `json:"assetId"`
	Amount  string `json:"amount"`
}

type BalancesResult struct {
	Vault    string         `json:"vault"`
	ChainID  uint64         `json:"chainId"`
	Balances []*BalanceInfo `json:"balances"`
}

type HistoryResult struct {
	Vault        string                 `json:"vault"`
	ChainID      uint64                 `json:"chainId"`
	Transactions []*entity.HistoryEntry `json:"transactions"`
}

type CacheStatsResult struct {
	Balances     cache.BalanceStats     `json:"balances"`
	Transactions cache.TransactionStats `json:"transactions"`
}

type InvalidationResult struct {
	Vault   string  `json:"vault,omitempty"`
	ChainID *uint64 `json:"chainId,omitempty"`
	User    string  `json:"user,omitempty"`
	Vaults  *int    `json:"vaults,omitempty"`
	Keys    *int    `json:"keys,omitempty"`
}
