package entity

import (
	"context"
	"time"
)

type LogsCursor struct {
	ChainID            uint64     `db:"chain_id"`
	LastFetchedBlock   uint64     `db:"last_fetched_block"`
	LastProcessedBlock uint64     `db:"last_processed_block"`
	CreatedAt          *time.Time `db:"created_at"`
	UpdatedAt          *time.Time `db:"updated_at"`
}

type LogsCursorsRepo interface {
	Ensure(ctx context.Context, cursor *LogsCursor) error
	GetByChainID(ctx context.Context, chainID uint64) (*LogsCursor, error)
}
