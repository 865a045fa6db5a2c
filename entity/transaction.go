package entity

import (
	"context"
	"time"
)

type TransactionStatus string

const (
	TransactionAwaitRequirements TransactionStatus = "await_requirements"
	TransactionPendingSender     TransactionStatus = "pending_sender"
	TransactionSuccess           TransactionStatus = "success"
	TransactionFailed            TransactionStatus = "failed"
	TransactionCanceled          TransactionStatus = "canceled"
)

// IsTerminal reports whether no further witness activity can change the status.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionSuccess || s == TransactionFailed || s == TransactionCanceled
}

type Transaction struct {
	ID        uint              `db:"id"`
	Hash      string            `db:"hash"`
	VaultID   uint              `db:"vault_id"`
	Status    TransactionStatus `db:"status"`
	Resume    *string           `db:"resume"`
	GasUsed   *string           `db:"gas_used"`
	Version   uint              `db:"version"`
	CreatedAt *time.Time        `db:"created_at"`
	UpdatedAt *time.Time        `db:"updated_at"`
}

type TransactionsRepo interface {
	// Create inserts the transaction together with its witness ledger atomically.
	Create(ctx context.Context, tx *Transaction, witnesses []*Witness) error
	GetByID(ctx context.Context, id uint) (*Transaction, error)
	FindByHash(ctx context.Context, vaultID uint, hash string) ([]*Transaction, error)
	FindActiveByHash(ctx context.Context, hash string) ([]*Transaction, error)
	// Update persists status, gas and resume if tx.Version still matches the
	// stored row, and increments tx.Version on success.
	Update(ctx context.Context, tx *Transaction) error
}
