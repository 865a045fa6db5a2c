package presenter

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/omni/vault-custody/cache"
	"github.com/omni/vault-custody/config"
	"github.com/omni/vault-custody/entity"
	"github.com/omni/vault-custody/lifecycle"
	"github.com/omni/vault-custody/logging"
	"github.com/omni/vault-custody/presenter/http/middleware"
	"github.com/omni/vault-custody/presenter/http/render"
)

type Lifecycle interface {
	CreateOrSupersede(ctx context.Context, hash, vaultAddress string, chainID uint64, witnessAccounts []string) (*entity.Transaction, error)
	SignWitness(ctx context.Context, transactionID uint, account, signature string, approve bool) (entity.TransactionStatus, error)
	Cancel(ctx context.Context, hash, account string) (*entity.Transaction, error)
	ConfirmSend(ctx context.Context, transactionID uint, gasUsed string, result lifecycle.SendResult) (*entity.Transaction, error)
}

type VaultView interface {
	Balances(ctx context.Context, vault string, chainID uint64) ([]entity.Balance, error)
	History(ctx context.Context, vault string, chainID uint64) ([]*entity.HistoryEntry, error)
}

type Presenter struct {
	logger       logging.Logger
	cfg          *config.Config
	lifecycle    Lifecycle
	views        VaultView
	balances     *cache.BalanceCache
	transactions *cache.TransactionCache
	resolve      cache.VaultResolver
	root         chi.Router
}

func NewPresenter(logger logging.Logger, cfg *config.Config, lc Lifecycle, views VaultView, balances *cache.BalanceCache, transactions *cache.TransactionCache, resolve cache.VaultResolver) *Presenter {
	p := &Presenter{
		logger:       logger,
		cfg:          cfg,
		lifecycle:    lc,
		views:        views,
		balances:     balances,
		transactions: transactions,
		resolve:      resolve,
		root:         chi.NewMux(),
	}
	p.registerRoutes()
	return p
}

func (p *Presenter) registerRoutes() {
	p.root.Use(chimiddleware.Throttle(20))
	p.root.Use(chimiddleware.RequestID)
	p.root.Use(middleware.NewLoggerMiddleware(p.logger))
	p.root.Use(middleware.Recoverer)

	p.root.Route("/vaults/{vault}", func(r chi.Router) {
		r.Route("/chains/{chainID:[0-9]+}", func(r chi.Router) {
			r.Use(middleware.GetChainConfigMiddleware(p.cfg))
			r.Post("/transactions", p.wrapJSONHandler(http.StatusCreated, p.CreateTransaction))
			r.Get("/balances", p.wrapJSONHandler(http.StatusOK, p.GetBalances))
			r.Get("/history", p.wrapJSONHandler(http.StatusOK, p.GetHistory))
		})
	})
	p.root.Route("/transactions", func(r chi.Router) {
		r.Post("/cancel", p.wrapJSONHandler(http.StatusOK, p.CancelTransaction))
		r.Post("/{transactionID:[0-9]+}/witnesses", p.wrapJSONHandler(http.StatusOK, p.SignWitness))
		r.Post("/{transactionID:[0-9]+}/confirm", p.wrapJSONHandler(http.StatusOK, p.ConfirmSend))
	})
	p.root.Route("/cache", func(r chi.Router) {
		r.Get("/stats", p.wrapJSONHandler(http.StatusOK, p.GetCacheStats))
		r.Delete("/balances", p.wrapJSONHandler(http.StatusOK, p.InvalidateAllBalances))
		r.With(middleware.GetChainConfigMiddleware(p.cfg)).
			Post("/vaults/{vault}/invalidate", p.wrapJSONHandler(http.StatusOK, p.InvalidateVault))
		r.Post("/users/{userID}/invalidate", p.wrapJSONHandler(http.StatusOK, p.InvalidateUser))
	})
}

func (p *Presenter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.root.ServeHTTP(w, r)
}

func (p *Presenter) Serve(addr string) error {
	p.logger.WithField("addr", addr).Info("starting presenter service")
	return http.ListenAndServe(addr, p.root)
}

func (p *Presenter) wrapJSONHandler(status int, handler func(r *http.Request) (interface{}, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := handler(r)
		if err != nil {
			render.Error(w, r, errorStatus(err), err)
			return
		}
		render.JSON(w, r, status, res)
	}
}

func (p *Presenter) CreateTransaction(r *http.Request) (interface{}, error) {
	var req CreateTransactionRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if err := requireField("hash", req.Hash); err != nil {
		return nil, err
	}

	ctx := r.Context()
	chainID := middleware.ChainConfig(ctx).ChainID
	tx, err := p.lifecycle.CreateOrSupersede(ctx, req.Hash, chi.URLParam(r, "vault"), chainID, req.Witnesses)
	if err != nil {
		return nil, err
	}
	return transactionToInfo(tx), nil
}

func (p *Presenter) SignWitness(r *http.Request) (interface{}, error) {
	id, err := transactionIDParam(r)
	if err != nil {
		return nil, err
	}
	var req SignWitnessRequest
	if err = decodeBody(r, &req); err != nil {
		return nil, err
	}
	if err = requireField("account", req.Account); err != nil {
		return nil, err
	}

	status, err := p.lifecycle.SignWitness(r.Context(), id, req.Account, req.Signature, req.Approve)
	if err != nil {
		return nil, err
	}
	return &SignWitnessResult{TransactionID: id, Status: status}, nil
}

func (p *Presenter) CancelTransaction(r *http.Request) (interface{}, error) {
	var req CancelTransactionRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if err := requireField("hash", req.Hash); err != nil {
		return nil, err
	}
	if err := requireField("account", req.Account); err != nil {
		return nil, err
	}

	tx, err := p.lifecycle.Cancel(r.Context(), req.Hash, req.Account)
	if err != nil {
		return nil, err
	}
	return transactionToInfo(tx), nil
}

func (p *Presenter) ConfirmSend(r *http.Request) (interface{}, error) {
	id, err := transactionIDParam(r)
	if err != nil {
		return nil, err
	}
	var req ConfirmSendRequest
	if err = decodeBody(r, &req); err != nil {
		return nil, err
	}

	tx, err := p.lifecycle.ConfirmSend(r.Context(), id, req.GasUsed, lifecycle.SendResult{
		Success: req.Success,
		Summary: req.Summary,
	})
	if err != nil {
		return nil, err
	}
	return transactionToInfo(tx), nil
}

func (p *Presenter) GetBalances(r *http.Request) (interface{}, error) {
	ctx := r.Context()
	vault := chi.URLParam(r, "vault")
	chainID := middleware.ChainConfig(ctx).ChainID

	balances, err := p.views.Balances(ctx, vault, chainID)
	if err != nil {
		return nil, err
	}
	return &BalancesResult{
		Vault:    vault,
		ChainID:  chainID,
		Balances: balancesToInfo(balances),
	}, nil
}

func (p *Presenter) GetHistory(r *http.Request) (interface{}, error) {
	ctx := r.Context()
	vault := chi.URLParam(r, "vault")
	chainID := middleware.ChainConfig(ctx).ChainID

	entries, err := p.views.History(ctx, vault, chainID)
	if err != nil {
		return nil, err
	}
	return &HistoryResult{
		Vault:        vault,
		ChainID:      chainID,
		Transactions: entries,
	}, nil
}

func (p *Presenter) GetCacheStats(r *http.Request) (interface{}, error) {
	ctx := r.Context()
	return &CacheStatsResult{
		Balances:     p.balances.Stats(ctx),
		Transactions: p.transactions.Stats(ctx),
	}, nil
}

// InvalidateVault drops cached views of a vault, on a single chain when the
// chainId query parameter is present.
func (p *Presenter) InvalidateVault(r *http.Request) (interface{}, error) {
	ctx := r.Context()
	vault := chi.URLParam(r, "vault")

	if chainCfg := middleware.ChainConfig(ctx); chainCfg != nil {
		p.balances.Invalidate(ctx, vault, chainCfg.ChainID)
		p.transactions.MarkForRefresh(ctx, vault, chainCfg.ChainID)
		return &InvalidationResult{Vault: vault, ChainID: &chainCfg.ChainID}, nil
	}
	p.balances.InvalidateVault(ctx, vault)
	p.transactions.MarkVaultForRefresh(ctx, vault)
	return &InvalidationResult{Vault: vault}, nil
}

func (p *Presenter) InvalidateUser(r *http.Request) (interface{}, error) {
	ctx := r.Context()
	user := chi.URLParam(r, "userID")

	n, err := p.balances.InvalidateByUser(ctx, user, p.resolve)
	if err != nil {
		return nil, err
	}
	return &InvalidationResult{User: user, Vaults: &n}, nil
}

func (p *Presenter) InvalidateAllBalances(r *http.Request) (interface{}, error) {
	n := p.balances.InvalidateAll(r.Context())
	return &InvalidationResult{Keys: &n}, nil
}
