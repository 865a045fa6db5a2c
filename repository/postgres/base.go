package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/omni/vault-custody/db"
)

type basePostgresRepo struct {
	table string
	db    *db.DB
}

func newBasePostgresRepo(table string, db *db.DB) *basePostgresRepo {
	return &basePostgresRepo{
		table: table,
		db:    db,
	}
}

// getOne loads the single row of table matching pred into dest.
// A missing row surfaces as db.ErrNotFound.
func getOne(ctx context.Context, q db.Querier, dest interface{}, table string, pred sq.Eq) error {
	query, args, err := sq.Select("*").
		From(table).
		Where(pred).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	return q.GetContext(ctx, dest, query, args...)
}
