package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/omni/vault-custody/db"
	"github.com/omni/vault-custody/entity"
)

type logsCursorsRepo basePostgresRepo

func NewLogsCursorRepo(table string, db *db.DB) entity.LogsCursorsRepo {
	return (*logsCursorsRepo)(newBasePostgresRepo(table, db))
}

func (r *logsCursorsRepo) Ensure(ctx context.Context, cursor *entity.LogsCursor) error {
	q, args, err := sq.Insert(r.table).
		Columns("chain_id", "last_fetched_block", "last_processed_block").
		Values(cursor.ChainID, cursor.LastFetchedBlock, cursor.LastProcessedBlock).
		Suffix("ON CONFLICT (chain_id) DO UPDATE SET updated_at = NOW(), last_fetched_block = EXCLUDED.last_fetched_block, last_processed_block = EXCLUDED.last_processed_block").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("can't insert logs cursor: %w", err)
	}
	return nil
}

func (r *logsCursorsRepo) GetByChainID(ctx context.Context, chainID uint64) (*entity.LogsCursor, error) {
	cursor := new(entity.LogsCursor)
	if err := getOne(ctx, r.db, cursor, r.table, sq.Eq{"chain_id": chainID}); err != nil {
		return nil, fmt.Errorf("can't get logs cursor by chain_id: %w", err)
	}
	return cursor, nil
}
