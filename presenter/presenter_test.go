package presenter_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omni/vault-custody/cache"
	"github.com/omni/vault-custody/config"
	"github.com/omni/vault-custody/entity"
	"github.com/omni/vault-custody/kvstore"
	"github.com/omni/vault-custody/lifecycle"
	"github.com/omni/vault-custody/logging"
	"github.com/omni/vault-custody/presenter"
	"github.com/omni/vault-custody/provider"
	"github.com/omni/vault-custody/vaultview"
)

const testVault = "0x1111111111111111111111111111111111111111"

var errBoom = errors.New("boom")

type fakeLifecycle struct {
	err      error
	panicMsg string
	calls    []string
}

func (l *fakeLifecycle) result(call string, tx *entity.Transaction) (*entity.Transaction, error) {
	l.calls = append(l.calls, call)
	if l.panicMsg != "" {
		panic(l.panicMsg)
	}
	if l.err != nil {
		return nil, l.err
	}
	return tx, nil
}

func (l *fakeLifecycle) CreateOrSupersede(_ context.Context, hash, vault string, chainID uint64, witnesses []string) (*entity.Transaction, error) {
	return l.result(fmt.Sprintf("create %s %s %d %d", hash, vault, chainID, len(witnesses)), &entity.Transaction{
		ID:     7,
		Hash:   hash,
		Status: entity.TransactionAwaitRequirements,
	})
}

func (l *fakeLifecycle) SignWitness(_ context.Context, id uint, account, signature string, approve bool) (entity.TransactionStatus, error) {
	tx, err := l.result(fmt.Sprintf("sign %d %s %s %t", id, account, signature, approve), &entity.Transaction{
		Status: entity.TransactionPendingSender,
	})
	if err != nil {
		return "", err
	}
	return tx.Status, nil
}

func (l *fakeLifecycle) Cancel(_ context.Context, hash, account string) (*entity.Transaction, error) {
	return l.result(fmt.Sprintf("cancel %s %s", hash, account), &entity.Transaction{
		ID:     7,
		Hash:   hash,
		Status: entity.TransactionCanceled,
	})
}

func (l *fakeLifecycle) ConfirmSend(_ context.Context, id uint, gasUsed string, res lifecycle.SendResult) (*entity.Transaction, error) {
	return l.result(fmt.Sprintf("confirm %d %s %t", id, gasUsed, res.Success), &entity.Transaction{
		ID:      id,
		Status:  entity.TransactionSuccess,
		GasUsed: &gasUsed,
		Resume:  &res.Summary,
	})
}

type fakeViews struct {
	err error
}

func (v *fakeViews) Balances(context.Context, string, uint64) ([]entity.Balance, error) {
	if v.err != nil {
		return nil, v.err
	}
	huge, _ := new(big.Int).SetString("100000000000000000000000", 10)
	return []entity.Balance{
		{AssetID: "xDAI", Amount: big.NewInt(5)},
		{AssetID: "DAI", Amount: huge},
	}, nil
}

func (v *fakeViews) History(_ context.Context, _ string, chainID uint64) ([]*entity.HistoryEntry, error) {
	if v.err != nil {
		return nil, v.err
	}
	return []*entity.HistoryEntry{{Hash: "0x01", ChainID: chainID, BlockNumber: 10, Status: "success"}}, nil
}

type testEnv struct {
	handler      http.Handler
	lifecycle    *fakeLifecycle
	views        *fakeViews
	balances     *cache.BalanceCache
	transactions *cache.TransactionCache
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Chains: map[string]*config.ChainConfig{
			"xdai": {ChainID: 100},
		},
		Cache: &config.CacheConfig{
			BalanceTTL:      time.Minute,
			InvalidationTTL: 30 * time.Second,
			TransactionTTL:  time.Hour,
		},
	}
	store := kvstore.NewMemoryStore()
	env := &testEnv{
		lifecycle:    &fakeLifecycle{},
		views:        &fakeViews{},
		balances:     cache.NewBalanceCache(logging.NewDiscard(), store, cfg.Cache),
		transactions: cache.NewTransactionCache(logging.NewDiscard(), store, cfg.Cache),
	}
	resolve := func(_ context.Context, user string) ([]string, error) {
		if user == "broken" {
			return nil, errBoom
		}
		return []string{testVault, "0x2222222222222222222222222222222222222222"}, nil
	}
	env.handler = presenter.NewPresenter(logging.NewDiscard(), cfg, env.lifecycle, env.views, env.balances, env.transactions, resolve)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	res := make(map[string]interface{})
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	}
	return rec.Code, res
}

func TestPresenter_Transactions(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	code, res := env.do(t, http.MethodPost, "/vaults/"+testVault+"/chains/100/transactions", `{"hash":"0xabc","witnesses":["a","b"]}`)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, "await_requirements", res["status"])
	require.Equal(t, "0xabc", res["hash"])

	code, res = env.do(t, http.MethodPost, "/transactions/7/witnesses", `{"account":"a","signature":"sig","approve":true}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "pending_sender", res["status"])
	require.EqualValues(t, 7, res["transactionId"])

	code, res = env.do(t, http.MethodPost, "/transactions/7/confirm", `{"gasUsed":"21000","success":true,"summary":"sent"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "21000", res["gasUsed"])
	require.Equal(t, "sent", res["resume"])

	code, res = env.do(t, http.MethodPost, "/transactions/cancel", `{"hash":"0xabc","account":"a"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "canceled", res["status"])

	require.Equal(t, []string{
		"create 0xabc " + testVault + " 100 2",
		"sign 7 a sig true",
		"confirm 7 21000 true",
		"cancel 0xabc a",
	}, env.lifecycle.calls)
}

func TestPresenter_TransactionErrors(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		Name     string
		Err      error
		Expected int
	}{
		{"Not found", fmt.Errorf("can't get transaction 1: %w", lifecycle.ErrNotFound), http.StatusNotFound},
		{"Conflict", fmt.Errorf("already done: %w", lifecycle.ErrConflict), http.StatusConflict},
		{"Invalid witness set", lifecycle.ErrInvalidWitnessSet, http.StatusBadRequest},
		{"Unexpected", errBoom, http.StatusInternalServerError},
	} {
		t.Logf("Running sub-test %q", test.Name)
		env := newTestEnv(t)
		env.lifecycle.err = test.Err

		code, res := env.do(t, http.MethodPost, "/transactions/1/witnesses", `{"account":"a","approve":false}`)
		require.Equal(t, test.Expected, code, "Failed %s", test.Name)
		require.Contains(t, res["error"], test.Err.Error(), "Failed %s", test.Name)
	}
}

func TestPresenter_BadRequests(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	for _, test := range []struct {
		Name     string
		Method   string
		Path     string
		Body     string
		Expected int
	}{
		{"Malformed body", http.MethodPost, "/vaults/v/chains/100/transactions", `{"hash":`, http.StatusBadRequest},
		{"Unknown field", http.MethodPost, "/vaults/v/chains/100/transactions", `{"hash":"0x1","extra":1}`, http.StatusBadRequest},
		{"Missing hash", http.MethodPost, "/vaults/v/chains/100/transactions", `{}`, http.StatusBadRequest},
		{"Missing account", http.MethodPost, "/transactions/1/witnesses", `{"approve":true}`, http.StatusBadRequest},
		{"Missing cancel account", http.MethodPost, "/transactions/cancel", `{"hash":"0x1"}`, http.StatusBadRequest},
		{"Non numeric id", http.MethodPost, "/transactions/abc/witnesses", `{"account":"a"}`, http.StatusNotFound},
		{"Id out of range", http.MethodPost, "/transactions/99999999999/confirm", `{}`, http.StatusBadRequest},
		{"Unknown chain", http.MethodGet, "/vaults/v/chains/5/balances", ``, http.StatusNotFound},
		{"Unknown transaction chain", http.MethodPost, "/vaults/v/chains/5/transactions", `{"hash":"0x1"}`, http.StatusNotFound},
		{"Unknown chain query", http.MethodPost, "/cache/vaults/v/invalidate?chainId=5", ``, http.StatusNotFound},
		{"Invalid chain query", http.MethodPost, "/cache/vaults/v/invalidate?chainId=x", ``, http.StatusBadRequest},
	} {
		t.Logf("Running sub-test %q", test.Name)
		code, _ := env.do(t, test.Method, test.Path, test.Body)
		require.Equal(t, test.Expected, code, "Failed %s", test.Name)
	}
	require.Empty(t, env.lifecycle.calls)
}

func TestPresenter_Views(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	code, res := env.do(t, http.MethodGet, "/vaults/"+testVault+"/chains/100/balances", "")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 100, res["chainId"])
	require.Equal(t, []interface{}{
		map[string]interface{}{"assetId": "xDAI", "amount": "5"},
		map[string]interface{}{"assetId": "DAI", "amount": "100000000000000000000000"},
	}, res["balances"])

	code, res = env.do(t, http.MethodGet, "/vaults/"+testVault+"/chains/100/history", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, res["transactions"], 1)

	for _, test := range []struct {
		Name     string
		Err      error
		Expected int
	}{
		{"Invalid address", fmt.Errorf("wrapped: %w", provider.ErrInvalidAddress), http.StatusBadRequest},
		{"Unknown chain", vaultview.ErrUnknownChain, http.StatusNotFound},
		{"Provider failure", errBoom, http.StatusInternalServerError},
	} {
		t.Logf("Running sub-test %q", test.Name)
		env.views.err = test.Err
		code, _ = env.do(t, http.MethodGet, "/vaults/v/chains/100/history", "")
		require.Equal(t, test.Expected, code, "Failed %s", test.Name)
	}
}

func TestPresenter_CacheAdmin(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	balances := []entity.Balance{{AssetID: "xDAI", Amount: big.NewInt(1)}}

	env.balances.Set(ctx, testVault, balances, 100, "http://node")
	_, ok := env.balances.Get(ctx, testVault, 100)
	require.True(t, ok)

	code, res := env.do(t, http.MethodPost, "/cache/vaults/"+testVault+"/invalidate?chainId=100", "")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 100, res["chainId"])
	_, ok = env.balances.Get(ctx, testVault, 100)
	require.False(t, ok)

	env.balances.Set(ctx, testVault, balances, 100, "http://node")
	code, res = env.do(t, http.MethodPost, "/cache/vaults/"+testVault+"/invalidate", "")
	require.Equal(t, http.StatusOK, code)
	require.Nil(t, res["chainId"])
	_, ok = env.balances.Get(ctx, testVault, 100)
	require.False(t, ok)

	code, res = env.do(t, http.MethodPost, "/cache/users/alice/invalidate", "")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 2, res["vaults"])

	code, _ = env.do(t, http.MethodPost, "/cache/users/broken/invalidate", "")
	require.Equal(t, http.StatusInternalServerError, code)

	env.balances.Set(ctx, "0x3333333333333333333333333333333333333333", balances, 100, "http://node")
	code, res = env.do(t, http.MethodDelete, "/cache/balances", "")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, res["keys"])

	code, res = env.do(t, http.MethodGet, "/cache/stats", "")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, res, "balances")
	require.Contains(t, res, "transactions")
	balanceStats, ok := res["balances"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, true, balanceStats["enabled"])
	require.EqualValues(t, 0, balanceStats["totalKeys"])
}

func TestPresenter_Recoverer(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.lifecycle.panicMsg = "unexpected"

	code, res := env.do(t, http.MethodPost, "/transactions/cancel", `{"hash":"0x1","account":"a"}`)
	require.Equal(t, http.StatusInternalServerError, code)
	require.Equal(t, "internal server error", res["error"])
}
