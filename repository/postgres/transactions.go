package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/omni/vault-custody/db"
	"github.com/omni/vault-custody/entity"
)

type transactionsRepo struct {
	*basePostgresRepo
	witnessesTable string
}

func NewTransactionsRepo(table, witnessesTable string, db *db.DB) entity.TransactionsRepo {
	return &transactionsRepo{
		basePostgresRepo: newBasePostgresRepo(table, db),
		witnessesTable:   witnessesTable,
	}
}

func (r *transactionsRepo) Create(ctx context.Context, tx *entity.Transaction, witnesses []*entity.Witness) error {
	return r.db.WithTx(ctx, func(dbTx db.Querier) error {
		q, args, err := sq.Insert(r.table).
			Columns("hash", "vault_id", "status", "resume").
			Values(tx.Hash, tx.VaultID, tx.Status, tx.Resume).
			Suffix("RETURNING id, version, created_at, updated_at").
			PlaceholderFormat(sq.Dollar).
			ToSql()
		if err != nil {
			return fmt.Errorf("can't build query: %w", err)
		}
		err = dbTx.GetContext(ctx, tx, q, args...)
		if err != nil {
			return fmt.Errorf("can't insert transaction: %w", err)
		}

		if len(witnesses) == 0 {
			return nil
		}
		builder := sq.Insert(r.witnessesTable).
			Columns("transaction_id", "account", "signature", "status")
		for _, w := range witnesses {
			w.TransactionID = tx.ID
			builder = builder.Values(w.TransactionID, w.Account, w.Signature, w.Status)
		}
		q, args, err = builder.
			Suffix("RETURNING id").
			PlaceholderFormat(sq.Dollar).
			ToSql()
		if err != nil {
			return fmt.Errorf("can't build query: %w", err)
		}
		ids := make([]uint, 0, len(witnesses))
		err = dbTx.SelectContext(ctx, &ids, q, args...)
		if err != nil {
			return fmt.Errorf("can't insert witnesses: %w", err)
		}
		if len(ids) != len(witnesses) {
			return fmt.Errorf("returned different number of ids then inserted, expected %d, got %d", len(witnesses), len(ids))
		}
		for i, id := range ids {
			witnesses[i].ID = id
		}
		return nil
	})
}

func (r *transactionsRepo) GetByID(ctx context.Context, id uint) (*entity.Transaction, error) {
	tx := new(entity.Transaction)
	if err := getOne(ctx, r.db, tx, r.table, sq.Eq{"id": id}); err != nil {
		return nil, fmt.Errorf("can't get transaction by id: %w", err)
	}
	return tx, nil
}

func (r *transactionsRepo) FindByHash(ctx context.Context, vaultID uint, hash string) ([]*entity.Transaction, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"vault_id": vaultID, "hash": hash}).
		OrderBy("id DESC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	txs := make([]*entity.Transaction, 0, 2)
	err = r.db.SelectContext(ctx, &txs, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't get transactions by hash: %w", err)
	}
	return txs, nil
}

func (r *transactionsRepo) FindActiveByHash(ctx context.Context, hash string) ([]*entity.Transaction, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"hash": hash}).
		Where(sq.NotEq{"status": entity.TransactionCanceled}).
		OrderBy("id DESC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	txs := make([]*entity.Transaction, 0, 1)
	err = r.db.SelectContext(ctx, &txs, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't get active transactions by hash: %w", err)
	}
	return txs, nil
}

func (r *transactionsRepo) Update(ctx context.Context, tx *entity.Transaction) error {
	q, args, err := sq.Update(r.table).
		Set("status", tx.Status).
		Set("gas_used", tx.GasUsed).
		Set("resume", tx.Resume).
		Set("version", sq.Expr("version + 1")).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": tx.ID, "version": tx.Version}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("can't update transaction: %w", err)
	}
	if err = db.ExpectAffected(res); err != nil {
		return fmt.Errorf("transaction %d was modified concurrently: %w", tx.ID, err)
	}
	tx.Version++
	return nil
}
