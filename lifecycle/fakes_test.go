package lifecycle_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/omni/vault-custody/db"
	"github.com/omni/vault-custody/entity"
	"github.com/omni/vault-custody/repository"
)

// memDB is an in-memory stand-in for the postgres repositories, with the same
// conflict semantics: version checked updates, pending-only witness
// resolution and a unique active hash per vault.
type memDB struct {
	mu        sync.Mutex
	nextID    uint
	vaults    map[uint]*entity.Vault
	txs       map[uint]*entity.Transaction
	witnesses map[uint]*entity.Witness

	// failUpdates makes the next n transaction updates lose their version check.
	failUpdates int
}

func newMemDB() *memDB {
	return &memDB{
		vaults:    make(map[uint]*entity.Vault),
		txs:       make(map[uint]*entity.Transaction),
		witnesses: make(map[uint]*entity.Witness),
	}
}

func (m *memDB) repo() *repository.Repo {
	return &repository.Repo{
		Vaults:       (*memVaults)(m),
		Transactions: (*memTransactions)(m),
		Witnesses:    (*memWitnesses)(m),
	}
}

func (m *memDB) id() uint {
	m.nextID++
	return m.nextID
}

func (m *memDB) addVault(address string, minSigners uint, members ...string) *entity.Vault {
	return m.addChainVault(address, 1, minSigners, members...)
}

func (m *memDB) addChainVault(address string, chainID uint64, minSigners uint, members ...string) *entity.Vault {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := &entity.Vault{
		ID:         m.id(),
		Address:    address,
		ChainID:    chainID,
		MinSigners: minSigners,
		Members:    members,
	}
	m.vaults[v.ID] = v
	return v
}

func (m *memDB) transaction(id uint) entity.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.txs[id]
}

func (m *memDB) witnessStatuses(txID uint) map[string]entity.WitnessStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make(map[string]entity.WitnessStatus)
	for _, w := range m.witnesses {
		if w.TransactionID == txID {
			res[w.Account] = w.Status
		}
	}
	return res
}

type memVaults memDB

func (r *memVaults) Ensure(_ context.Context, vault *entity.Vault) error {
	m := (*memDB)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	vault.ID = m.id()
	v := *vault
	m.vaults[v.ID] = &v
	return nil
}

func (r *memVaults) GetByID(_ context.Context, id uint) (*entity.Vault, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.vaults[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	res := *v
	return &res, nil
}

func (r *memVaults) GetByAddress(_ context.Context, address string, chainID uint64) (*entity.Vault, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.vaults {
		if v.Address == address && v.ChainID == chainID {
			res := *v
			return &res, nil
		}
	}
	return nil, db.ErrNotFound
}

func (r *memVaults) FindByChainID(_ context.Context, chainID uint64) ([]*entity.Vault, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]*entity.Vault, 0)
	for _, v := range r.vaults {
		if v.ChainID == chainID {
			c := *v
			res = append(res, &c)
		}
	}
	return res, nil
}

func (r *memVaults) FindAddressesByMember(_ context.Context, account string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]string, 0)
	for _, v := range r.vaults {
		if v.IsMember(account) {
			res = append(res, v.Address)
		}
	}
	return res, nil
}

type memTransactions memDB

func (r *memTransactions) Create(_ context.Context, tx *entity.Transaction, witnesses []*entity.Witness) error {
	m := (*memDB)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.txs {
		if other.VaultID == tx.VaultID && other.Hash == tx.Hash && other.Status != entity.TransactionCanceled {
			return fmt.Errorf("transactions_active_hash_idx: %w", db.ErrConflict)
		}
	}
	now := time.Now()
	tx.ID = m.id()
	tx.CreatedAt = &now
	stored := *tx
	m.txs[tx.ID] = &stored
	for _, w := range witnesses {
		w.ID = m.id()
		w.TransactionID = tx.ID
		sw := *w
		m.witnesses[w.ID] = &sw
	}
	return nil
}

func (r *memTransactions) GetByID(_ context.Context, id uint) (*entity.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	res := *tx
	return &res, nil
}

func (r *memTransactions) find(match func(tx *entity.Transaction) bool) []*entity.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]*entity.Transaction, 0)
	for _, tx := range r.txs {
		if match(tx) {
			c := *tx
			res = append(res, &c)
		}
	}
	return res
}

func (r *memTransactions) FindByHash(_ context.Context, vaultID uint, hash string) ([]*entity.Transaction, error) {
	return r.find(func(tx *entity.Transaction) bool {
		return tx.VaultID == vaultID && tx.Hash == hash
	}), nil
}

func (r *memTransactions) FindActiveByHash(_ context.Context, hash string) ([]*entity.Transaction, error) {
	return r.find(func(tx *entity.Transaction) bool {
		return tx.Hash == hash && tx.Status != entity.TransactionCanceled
	}), nil
}

func (r *memTransactions) Update(_ context.Context, tx *entity.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.txs[tx.ID]
	if !ok {
		return db.ErrNotFound
	}
	if r.failUpdates > 0 {
		r.failUpdates--
		stored.Version++
	}
	if stored.Version != tx.Version {
		return fmt.Errorf("version mismatch: %w", db.ErrConflict)
	}
	tx.Version++
	res := *tx
	r.txs[tx.ID] = &res
	return nil
}

type memWitnesses memDB

func (r *memWitnesses) FindByTransactionID(_ context.Context, transactionID uint) ([]*entity.Witness, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]*entity.Witness, 0)
	for _, w := range r.witnesses {
		if w.TransactionID == transactionID {
			c := *w
			res = append(res, &c)
		}
	}
	return res, nil
}

func (r *memWitnesses) Resolve(_ context.Context, id uint, status entity.WitnessStatus, signature *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.witnesses[id]
	if !ok || w.Status != entity.WitnessPending {
		return db.ErrConflict
	}
	w.Status = status
	w.Signature = signature
	return nil
}

type cacheRecorder struct {
	mu          sync.Mutex
	invalidated []string
	refreshed   []string
}

func (r *cacheRecorder) InvalidateVault(_ context.Context, vault string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, vault)
}

func (r *cacheRecorder) MarkVaultForRefresh(_ context.Context, vault string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshed = append(r.refreshed, vault)
}

func (r *cacheRecorder) refreshCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.refreshed)
}
