package ethclient

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestToFilterArg(t *testing.T) {
	t.Parallel()

	token := common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	arg, err := toFilterArg(ethereum.FilterQuery{
		FromBlock: big.NewInt(16),
		ToBlock:   big.NewInt(255),
		Addresses: []common.Address{token},
	})
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{
		"address":   []common.Address{token},
		"topics":    [][]common.Hash(nil),
		"fromBlock": "0x10",
		"toBlock":   "0xff",
	}, arg)

	arg, err = toFilterArg(ethereum.FilterQuery{ToBlock: big.NewInt(1)})
	require.NoError(t, err)
	require.Equal(t, "0x0", arg.(map[string]interface{})["fromBlock"])

	_, err = toFilterArg(ethereum.FilterQuery{FromBlock: big.NewInt(1)})
	require.ErrorIs(t, err, ErrInvalidLogsQuery)

	hash := common.HexToHash("0x01")
	_, err = toFilterArg(ethereum.FilterQuery{BlockHash: &hash, ToBlock: big.NewInt(1)})
	require.ErrorIs(t, err, ErrInvalidLogsQuery)
}

func TestRPCClient_RateLimit(t *testing.T) {
	t.Parallel()

	require.Nil(t, newLimiter(0))

	c := &rpcClient{chainID: 1, url: "test", limiter: newLimiter(1)}
	require.NoError(t, c.wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, c.wait(ctx))
}
