package repository

import (
	"github.com/omni/vault-custody/db"
	"github.com/omni/vault-custody/entity"
	"github.com/omni/vault-custody/repository/postgres"
)

type Repo struct {
	Vaults       entity.VaultsRepo
	Transactions entity.TransactionsRepo
	Witnesses    entity.WitnessesRepo
	LogsCursors  entity.LogsCursorsRepo
}

func NewRepo(db *db.DB) *Repo {
	return &Repo{
		Vaults:       postgres.NewVaultsRepo("vaults", db),
		Transactions: postgres.NewTransactionsRepo("transactions", "witnesses", db),
		Witnesses:    postgres.NewWitnessesRepo("witnesses", db),
		LogsCursors:  postgres.NewLogsCursorRepo("logs_cursors", db),
	}
}
