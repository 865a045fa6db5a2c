package presenter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/omni/vault-custody/entity"
	"github.com/omni/vault-custody/lifecycle"
	"github.com/omni/vault-custody/presenter/http/middleware"
	"github.com/omni/vault-custody/provider"
	"github.com/omni/vault-custody/vaultview"
)

var ErrBadRequest = errors.New("bad request")

func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, lifecycle.ErrInvalidWitnessSet),
		errors.Is(err, provider.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrNotFound),
		errors.Is(err, vaultview.ErrUnknownChain),
		errors.Is(err, middleware.ErrUnknownChain):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("can't decode request body (%v): %w", err, ErrBadRequest)
	}
	return nil
}

func transactionIDParam(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "transactionID"), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid transaction id (%v): %w", err, ErrBadRequest)
	}
	return uint(id), nil
}

func requireField(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required: %w", name, ErrBadRequest)
	}
	return nil
}

func transactionToInfo(tx *entity.Transaction) *TransactionInfo {
	return &TransactionInfo{
		ID:        tx.ID,
		Hash:      tx.Hash,
		VaultID:   tx.VaultID,
		Status:    tx.Status,
		Resume:    tx.Resume,
		GasUsed:   tx.GasUsed,
		CreatedAt: tx.CreatedAt,
		UpdatedAt: tx.UpdatedAt,
	}
}

func balancesToInfo(balances []entity.Balance) []*BalanceInfo {
	res := make([]*BalanceInfo, 0, len(balances))
	for _, b := range balances {
		amount := "0"
		if b.Amount != nil {
			amount = b.Amount.String()
		}
		res = append(res, &BalanceInfo{AssetID: b.AssetID, Amount: amount})
	}
	return res
}
