package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/omni/vault-custody/config"
	"github.com/omni/vault-custody/presenter/http/render"
)

type ctxKey int

const chainCfgCtxKey ctxKey = iota

var ErrUnknownChain = errors.New("unknown chain")

// GetChainConfigMiddleware resolves the chainID url parameter, or the chainId
// query parameter when the route has none. Requests without either pass through.
func GetChainConfigMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := chi.URLParam(r, "chainID")
			if raw == "" {
				raw = r.URL.Query().Get("chainId")
				if raw == "" {
					next.ServeHTTP(w, r)
					return
				}
			}

			chainID, err := config.ParseChainID(raw)
			if err != nil {
				render.Error(w, r, http.StatusBadRequest, err)
				return
			}
			chainCfg := cfg.GetChainConfig(chainID)
			if chainCfg == nil {
				render.Error(w, r, http.StatusNotFound, fmt.Errorf("chain with id %d not found: %w", chainID, ErrUnknownChain))
				return
			}

			ctx := context.WithValue(r.Context(), chainCfgCtxKey, chainCfg)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ChainConfig returns the chain resolved by GetChainConfigMiddleware, if any.
func ChainConfig(ctx context.Context) *config.ChainConfig {
	if cfg, ok := ctx.Value(chainCfgCtxKey).(*config.ChainConfig); ok {
		return cfg
	}
	return nil
}
