package entity

import (
	"math/big"
	"time"
)

type Balance struct {
	AssetID string
	Amount  *big.Int
}

type Transfer struct {
	AssetID string `json:"assetId"`
	From    string `json:"from"`
	To      string `json:"to"`
	Amount  string `json:"amount"`
}

// HistoryEntry is one confirmed on-chain transaction touching a vault.
type HistoryEntry struct {
	ID          string     `json:"id,omitempty"`
	Hash        string     `json:"hash,omitempty"`
	ChainID     uint64     `json:"chainId"`
	BlockNumber uint64     `json:"blockNumber"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	Transfers   []Transfer `json:"transfers"`
}

// Key identifies the entry for deduplication: its hash, or its id when the
// hash is unknown.
func (e *HistoryEntry) Key() string {
	if e.Hash != "" {
		return e.Hash
	}
	return e.ID
}
