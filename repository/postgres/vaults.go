package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/omni/vault-custody/db"
	"github.com/omni/vault-custody/entity"
)

type vaultsRepo basePostgresRepo

func NewVaultsRepo(table string, db *db.DB) entity.VaultsRepo {
	return (*vaultsRepo)(newBasePostgresRepo(table, db))
}

func (r *vaultsRepo) Ensure(ctx context.Context, vault *entity.Vault) error {
	q, args, err := sq.Insert(r.table).
		Columns("address", "chain_id", "min_signers", "members").
		Values(vault.Address, vault.ChainID, vault.MinSigners, vault.Members).
		Suffix("ON CONFLICT (address, chain_id) DO UPDATE SET updated_at = NOW()").
		Suffix("RETURNING id").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	err = r.db.GetContext(ctx, &vault.ID, q, args...)
	if err != nil {
		return fmt.Errorf("can't insert vault: %w", err)
	}
	return nil
}

func (r *vaultsRepo) GetByID(ctx context.Context, id uint) (*entity.Vault, error) {
	vault := new(entity.Vault)
	if err := getOne(ctx, r.db, vault, r.table, sq.Eq{"id": id}); err != nil {
		return nil, fmt.Errorf("can't get vault by id: %w", err)
	}
	return vault, nil
}

func (r *vaultsRepo) GetByAddress(ctx context.Context, address string, chainID uint64) (*entity.Vault, error) {
	vault := new(entity.Vault)
	if err := getOne(ctx, r.db, vault, r.table, sq.Eq{"address": address, "chain_id": chainID}); err != nil {
		return nil, fmt.Errorf("can't get vault by address: %w", err)
	}
	return vault, nil
}

func (r *vaultsRepo) FindByChainID(ctx context.Context, chainID uint64) ([]*entity.Vault, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"chain_id": chainID}).
		OrderBy("id").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	vaults := make([]*entity.Vault, 0, 10)
	err = r.db.SelectContext(ctx, &vaults, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't get vaults by chain id: %w", err)
	}
	return vaults, nil
}

func (r *vaultsRepo) FindAddressesByMember(ctx context.Context, account string) ([]string, error) {
	q, args, err := sq.Select("DISTINCT address").
		From(r.table).
		Where("? = ANY(members)", account).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	addresses := make([]string, 0, 4)
	err = r.db.SelectContext(ctx, &addresses, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't get vault addresses by member: %w", err)
	}
	return addresses, nil
}
