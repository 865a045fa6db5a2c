package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/omni/vault-custody/db"
	"github.com/omni/vault-custody/entity"
)

type witnessesRepo basePostgresRepo

func NewWitnessesRepo(table string, db *db.DB) entity.WitnessesRepo {
	return (*witnessesRepo)(newBasePostgresRepo(table, db))
}

func (r *witnessesRepo) FindByTransactionID(ctx context.Context, transactionID uint) ([]*entity.Witness, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"transaction_id": transactionID}).
		OrderBy("id").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	witnesses := make([]*entity.Witness, 0, 4)
	err = r.db.SelectContext(ctx, &witnesses, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't get witnesses: %w", err)
	}
	return witnesses, nil
}

func (r *witnessesRepo) Resolve(ctx context.Context, id uint, status entity.WitnessStatus, signature *string) error {
	q, args, err := sq.Update(r.table).
		Set("status", status).
		Set("signature", signature).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id, "status": entity.WitnessPending}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("can't resolve witness: %w", err)
	}
	if err = db.ExpectAffected(res); err != nil {
		return fmt.Errorf("witness %d is no longer pending: %w", id, err)
	}
	return nil
}
