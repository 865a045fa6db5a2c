package entity

import (
	"context"
	"time"
)

type WitnessStatus string

const (
	WitnessPending  WitnessStatus = "pending"
	WitnessDone     WitnessStatus = "done"
	WitnessRejected WitnessStatus = "rejected"
	WitnessCanceled WitnessStatus = "canceled"
)

type Witness struct {
	ID            uint          `db:"id"`
	TransactionID uint          `db:"transaction_id"`
	Account       string        `db:"account"`
	Signature     *string       `db:"signature"`
	Status        WitnessStatus `db:"status"`
	CreatedAt     *time.Time    `db:"created_at"`
	UpdatedAt     *time.Time    `db:"updated_at"`
}

type WitnessesRepo interface {
	FindByTransactionID(ctx context.Context, transactionID uint) ([]*Witness, error)
	// Resolve moves a pending witness into status. It fails with db.ErrConflict
	// when the row is no longer pending.
	Resolve(ctx context.Context, id uint, status WitnessStatus, signature *string) error
}
