package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/omni/vault-custody/db"
	"github.com/omni/vault-custody/entity"
	"github.com/omni/vault-custody/logging"
	"github.com/omni/vault-custody/repository"
)

const maxStatusUpdateAttempts = 3

type BalanceInvalidator interface {
	InvalidateVault(ctx context.Context, vault string)
}

type HistoryRefresher interface {
	MarkVaultForRefresh(ctx context.Context, vault string)
}

// SendResult is the outcome of submitting a transaction on chain.
type SendResult struct {
	Success bool
	Summary string
}

type Service struct {
	logger   logging.Logger
	repo     *repository.Repo
	balances BalanceInvalidator
	history  HistoryRefresher
	locks    *keyedMutex
}

func NewService(logger logging.Logger, repo *repository.Repo, balances BalanceInvalidator, history HistoryRefresher) *Service {
	return &Service{
		logger:   logger,
		repo:     repo,
		balances: balances,
		history:  history,
		locks:    newKeyedMutex(),
	}
}

// SignWitness records the approval or rejection of account on the transaction
// and returns the resulting transaction status.
func (s *Service) SignWitness(ctx context.Context, transactionID uint, account, signature string, approve bool) (entity.TransactionStatus, error) {
	unlock := s.locks.Lock(transactionID)
	defer unlock()

	tx, err := s.repo.Transactions.GetByID(ctx, transactionID)
	if err != nil {
		return "", translateError(err, "can't get transaction %d", transactionID)
	}
	if tx.Status.IsTerminal() {
		return "", fmt.Errorf("transaction %d is already %s: %w", tx.ID, tx.Status, ErrConflict)
	}
	witnesses, err := s.repo.Witnesses.FindByTransactionID(ctx, tx.ID)
	if err != nil {
		return "", translateError(err, "can't get witnesses of transaction %d", tx.ID)
	}
	w := findWitness(witnesses, account)
	if w == nil {
		return "", fmt.Errorf("account %s is not a witness of transaction %d: %w", account, tx.ID, ErrNotFound)
	}
	if w.Status != entity.WitnessPending {
		// The status may lag behind the witnesses after a lost update.
		if _, err = s.settleStatus(ctx, tx); err != nil {
			return "", err
		}
		return "", fmt.Errorf("witness %s of transaction %d is already %s: %w", account, tx.ID, w.Status, ErrConflict)
	}

	status := entity.WitnessRejected
	if approve {
		status = entity.WitnessDone
	}
	var sig *string
	if signature != "" {
		sig = &signature
	}
	if err = s.repo.Witnesses.Resolve(ctx, w.ID, status, sig); err != nil {
		return "", translateError(err, "can't resolve witness %s of transaction %d", account, tx.ID)
	}

	prev := tx.Status
	tx, err = s.settleStatus(ctx, tx)
	if err != nil {
		return "", err
	}

	s.logger.WithFields(logrus.Fields{
		"tx_id":          tx.ID,
		"account":        account,
		"witness_status": status,
		"prev_status":    prev,
		"status":         tx.Status,
	}).Info("witness resolved")
	return tx.Status, nil
}

// settleStatus recomputes the quorum status of tx from its witness rows and
// flags the vault history when the status moved.
func (s *Service) settleStatus(ctx context.Context, tx *entity.Transaction) (*entity.Transaction, error) {
	vault, err := s.repo.Vaults.GetByID(ctx, tx.VaultID)
	if err != nil {
		return nil, translateError(err, "can't get vault %d", tx.VaultID)
	}
	prev := tx.Status
	tx, err = s.recomputeStatus(ctx, tx, vault)
	if err != nil {
		return nil, err
	}
	if tx.Status != prev {
		s.history.MarkVaultForRefresh(ctx, vault.Address)
	}
	return tx, nil
}

// recomputeStatus persists the quorum status of tx, retrying when the row was
// concurrently modified.
func (s *Service) recomputeStatus(ctx context.Context, tx *entity.Transaction, vault *entity.Vault) (*entity.Transaction, error) {
	for attempt := 1; ; attempt++ {
		witnesses, err := s.repo.Witnesses.FindByTransactionID(ctx, tx.ID)
		if err != nil {
			return nil, translateError(err, "can't get witnesses of transaction %d", tx.ID)
		}
		next := ComputeStatus(witnesses, vault.MinSigners)
		if next == tx.Status {
			return tx, nil
		}
		updated := *tx
		updated.Status = next
		err = s.repo.Transactions.Update(ctx, &updated)
		if err == nil {
			return &updated, nil
		}
		if !errors.Is(err, db.ErrConflict) || attempt >= maxStatusUpdateAttempts {
			return nil, translateError(err, "can't update status of transaction %d", tx.ID)
		}
		s.logger.WithField("tx_id", tx.ID).WithField("attempt", attempt).Warn("transaction modified concurrently, retrying")

		tx, err = s.repo.Transactions.GetByID(ctx, tx.ID)
		if err != nil {
			return nil, translateError(err, "can't get transaction %d", updated.ID)
		}
		if tx.Status.IsTerminal() {
			return nil, fmt.Errorf("transaction %d became %s: %w", tx.ID, tx.Status, ErrConflict)
		}
	}
}

// Cancel cancels the active transaction with the given hash on behalf of
// account. Only the witness row of account is marked as canceled.
func (s *Service) Cancel(ctx context.Context, hash, account string) (*entity.Transaction, error) {
	txs, err := s.repo.Transactions.FindActiveByHash(ctx, hash)
	if err != nil {
		return nil, translateError(err, "can't find transactions by hash %s", hash)
	}
	for _, tx := range txs {
		witnesses, err := s.repo.Witnesses.FindByTransactionID(ctx, tx.ID)
		if err != nil {
			return nil, translateError(err, "can't get witnesses of transaction %d", tx.ID)
		}
		if w := findWitness(witnesses, account); w != nil {
			return s.cancel(ctx, tx.ID, w)
		}
	}
	return nil, fmt.Errorf("no active transaction %s with witness %s: %w", hash, account, ErrNotFound)
}

func (s *Service) cancel(ctx context.Context, transactionID uint, w *entity.Witness) (*entity.Transaction, error) {
	unlock := s.locks.Lock(transactionID)
	defer unlock()

	tx, err := s.repo.Transactions.GetByID(ctx, transactionID)
	if err != nil {
		return nil, translateError(err, "can't get transaction %d", transactionID)
	}
	switch tx.Status {
	case entity.TransactionCanceled:
		return nil, fmt.Errorf("transaction %d is no longer active: %w", tx.ID, ErrNotFound)
	case entity.TransactionSuccess, entity.TransactionFailed:
		return nil, fmt.Errorf("transaction %d is already %s: %w", tx.ID, tx.Status, ErrConflict)
	}

	tx.Status = entity.TransactionCanceled
	if err = s.repo.Transactions.Update(ctx, tx); err != nil {
		return nil, translateError(err, "can't cancel transaction %d", tx.ID)
	}
	if w.Status == entity.WitnessPending {
		err = s.repo.Witnesses.Resolve(ctx, w.ID, entity.WitnessCanceled, nil)
		if err != nil && !errors.Is(err, db.ErrConflict) {
			return nil, translateError(err, "can't cancel witness %s of transaction %d", w.Account, tx.ID)
		}
	}

	vault, err := s.repo.Vaults.GetByID(ctx, tx.VaultID)
	if err != nil {
		return nil, translateError(err, "can't get vault %d", tx.VaultID)
	}
	s.logger.WithFields(logrus.Fields{
		"tx_id":   tx.ID,
		"hash":    tx.Hash,
		"account": w.Account,
	}).Info("transaction canceled")
	s.history.MarkVaultForRefresh(ctx, vault.Address)
	return tx, nil
}

// CreateOrSupersede creates a transaction with a fresh witness ledger, unless
// a non-canceled transaction with the same hash already exists for the vault.
func (s *Service) CreateOrSupersede(ctx context.Context, hash, vaultAddress string, chainID uint64, witnessAccounts []string) (*entity.Transaction, error) {
	vault, err := s.repo.Vaults.GetByAddress(ctx, vaultAddress, chainID)
	if err != nil {
		return nil, translateError(err, "can't get vault %s on chain %d", vaultAddress, chainID)
	}
	if len(witnessAccounts) > 0 && !sameMembers(vault.Members, witnessAccounts) {
		return nil, fmt.Errorf("vault %s: %w", vaultAddress, ErrInvalidWitnessSet)
	}

	existing, err := s.repo.Transactions.FindByHash(ctx, vault.ID, hash)
	if err != nil {
		return nil, translateError(err, "can't find transactions by hash %s", hash)
	}
	superseded := 0
	for _, tx := range existing {
		if tx.Status != entity.TransactionCanceled {
			return nil, fmt.Errorf("transaction %s is already %s: %w", hash, tx.Status, ErrConflict)
		}
		superseded++
	}

	witnesses := make([]*entity.Witness, 0, len(vault.Members))
	for _, member := range vault.Members {
		witnesses = append(witnesses, &entity.Witness{
			Account: member,
			Status:  entity.WitnessPending,
		})
	}
	tx := &entity.Transaction{
		Hash:    hash,
		VaultID: vault.ID,
		Status:  ComputeStatus(witnesses, vault.MinSigners),
	}
	if err = s.repo.Transactions.Create(ctx, tx, witnesses); err != nil {
		return nil, translateError(err, "can't create transaction %s", hash)
	}

	s.logger.WithFields(logrus.Fields{
		"tx_id":      tx.ID,
		"hash":       hash,
		"vault":      vault.Address,
		"superseded": superseded,
	}).Info("transaction created")
	s.history.MarkVaultForRefresh(ctx, vault.Address)
	return tx, nil
}

// ConfirmSend moves a transaction awaiting its sender into success or failed.
func (s *Service) ConfirmSend(ctx context.Context, transactionID uint, gasUsed string, result SendResult) (*entity.Transaction, error) {
	unlock := s.locks.Lock(transactionID)
	defer unlock()

	tx, err := s.repo.Transactions.GetByID(ctx, transactionID)
	if err != nil {
		return nil, translateError(err, "can't get transaction %d", transactionID)
	}
	if tx.Status != entity.TransactionPendingSender {
		return nil, fmt.Errorf("transaction %d is %s, not %s: %w", tx.ID, tx.Status, entity.TransactionPendingSender, ErrConflict)
	}

	tx.Status = entity.TransactionFailed
	if result.Success {
		tx.Status = entity.TransactionSuccess
	}
	if gasUsed != "" {
		tx.GasUsed = &gasUsed
	}
	if result.Summary != "" {
		tx.Resume = &result.Summary
	}
	if err = s.repo.Transactions.Update(ctx, tx); err != nil {
		return nil, translateError(err, "can't confirm transaction %d", tx.ID)
	}

	vault, err := s.repo.Vaults.GetByID(ctx, tx.VaultID)
	if err != nil {
		return nil, translateError(err, "can't get vault %d", tx.VaultID)
	}
	s.logger.WithFields(logrus.Fields{
		"tx_id":  tx.ID,
		"status": tx.Status,
	}).Info("transaction send confirmed")
	s.balances.InvalidateVault(ctx, vault.Address)
	s.history.MarkVaultForRefresh(ctx, vault.Address)
	return tx, nil
}

func findWitness(witnesses []*entity.Witness, account string) *entity.Witness {
	for _, w := range witnesses {
		if w.Account == account {
			return w
		}
	}
	return nil
}

func sameMembers(members, accounts []string) bool {
	if len(members) != len(accounts) {
		return false
	}
	set := make(map[string]bool, len(members))
	for _, m := range members {
		set[m] = true
	}
	for _, a := range accounts {
		if !set[a] {
			return false
		}
		delete(set, a)
	}
	return true
}
