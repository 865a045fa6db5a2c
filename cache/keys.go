package cache

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	balancePrefix          = "balance"
	balanceFlagPrefix      = "balance_invalidated"
	transactionsPrefix     = "transactions"
	transactionsFlagPrefix = "transactions_refresh"
)

func scopedKey(prefix, vault string, chainID uint64) string {
	return fmt.Sprintf("%s:%s:%d", prefix, vault, chainID)
}

func vaultKey(prefix, vault string) string {
	return prefix + ":" + vault
}

func vaultPattern(prefix, vault string) string {
	return prefix + ":" + vault + ":*"
}

// chainIDFromKey extracts the trailing chain id of a <prefix>:<vault>:<chainId> key.
func chainIDFromKey(key string) (uint64, bool) {
	i := strings.LastIndexByte(key, ':')
	if i < 0 {
		return 0, false
	}
	chainID, err := strconv.ParseUint(key[i+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return chainID, true
}

func countByChain(keys []string) map[uint64]int {
	res := make(map[uint64]int)
	for _, key := range keys {
		if chainID, ok := chainIDFromKey(key); ok {
			res[chainID]++
		}
	}
	return res
}
