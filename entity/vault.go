package entity

import (
	"context"
	"time"

	"github.com/lib/pq"
)

type Vault struct {
	ID         uint           `db:"id"`
	Address    string         `db:"address"`
	ChainID    uint64         `db:"chain_id"`
	MinSigners uint           `db:"min_signers"`
	Members    pq.StringArray `db:"members"`
	CreatedAt  *time.Time     `db:"created_at"`
	UpdatedAt  *time.Time     `db:"updated_at"`
}

// IsMember reports whether account is one of the vault signers.
func (v *Vault) IsMember(account string) bool {
	for _, m := range v.Members {
		if m == account {
			return true
		}
	}
	return false
}

type VaultsRepo interface {
	Ensure(ctx context.Context, vault *Vault) error
	GetByID(ctx context.Context, id uint) (*Vault, error)
	GetByAddress(ctx context.Context, address string, chainID uint64) (*Vault, error)
	FindByChainID(ctx context.Context, chainID uint64) ([]*Vault, error)
	FindAddressesByMember(ctx context.Context, account string) ([]string, error)
}
