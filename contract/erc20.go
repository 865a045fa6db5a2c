package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/omni/vault-custody/contract/abi"
	"github.com/omni/vault-custody/ethclient"
)

var ErrNotTransfer = errors.New("log is not an ERC20 transfer")

type ERC20 struct {
	*Contract
}

func NewERC20(client ethclient.Client, addr common.Address) *ERC20 {
	return &ERC20{NewContract(client, addr, abi.ERC20ABI)}
}

func (c *ERC20) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	res, err := c.Call(ctx, "balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("cannot obtain balance of %s: %w", owner, err)
	}
	if len(res) != 1 {
		return nil, fmt.Errorf("unexpected balanceOf result length %d", len(res))
	}
	balance, ok := res[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", res[0])
	}
	return balance, nil
}

// TransferEvent is a decoded ERC20 Transfer log.
type TransferEvent struct {
	Token       common.Address
	From        common.Address
	To          common.Address
	Value       *big.Int
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
}

func ParseTransfer(log *types.Log) (*TransferEvent, error) {
	event, data, err := abi.ERC20ABI.ParseLog(log)
	if err != nil {
		return nil, fmt.Errorf("can't parse log %s:%d: %w", log.TxHash, log.Index, err)
	}
	if event != abi.Transfer {
		return nil, ErrNotTransfer
	}
	from, ok1 := data["from"].(common.Address)
	to, ok2 := data["to"].(common.Address)
	value, ok3 := data["value"].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("unexpected transfer arguments in log %s:%d: %w", log.TxHash, log.Index, ErrNotTransfer)
	}
	return &TransferEvent{
		Token:       log.Address,
		From:        from,
		To:          to,
		Value:       value,
		TxHash:      log.TxHash,
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
	}, nil
}
