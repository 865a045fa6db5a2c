package main

import (
	"context"
	"flag"

	"github.com/sirupsen/logrus"

	"github.com/omni/vault-custody/cache"
	"github.com/omni/vault-custody/config"
	"github.com/omni/vault-custody/kvstore"
	"github.com/omni/vault-custody/logging"
)

var (
	vault   = flag.String("vault", "", "vault address to flush")
	chainID = flag.Uint64("chainId", 0, "flush only entries of this chain")
	all     = flag.Bool("all", false, "flush cached balances of every vault")
)

func main() {
	flag.Parse()

	logger := logging.New()

	cfg, err := config.ReadConfigFromFile("config.yml")
	if err != nil {
		logger.WithError(err).Fatal("can't read config")
	}
	logger.SetLevel(cfg.LogLevel)

	if (*vault == "") == !*all {
		logger.Fatal("exactly one of --vault or --all should be specified")
	}
	if cfg.Redis.Addr == "" {
		logger.Fatal("redis address is not configured, nothing to flush")
	}

	ctx := context.Background()
	store, err := kvstore.NewRedisStore(ctx, cfg.Redis)
	if err != nil {
		logger.WithError(err).Fatal("can't connect to redis")
	}
	defer store.Close()

	balances := cache.NewBalanceCache(logger.WithField("service", "balance_cache"), store, cfg.Cache)
	transactions := cache.NewTransactionCache(logger.WithField("service", "transaction_cache"), store, cfg.Cache)

	if *all {
		n := balances.InvalidateAll(ctx)
		logger.WithField("count", n).Info("flushed all cached balances")
		return
	}

	if *chainID != 0 {
		balances.Invalidate(ctx, *vault, *chainID)
		n := transactions.ForceDelete(ctx, *vault, *chainID)
		logger.WithFields(logrus.Fields{
			"vault":    *vault,
			"chain_id": *chainID,
			"count":    n,
		}).Info("flushed vault cache on chain")
		return
	}
	balances.InvalidateVault(ctx, *vault)
	n := transactions.ForceDeleteVault(ctx, *vault)
	logger.WithFields(logrus.Fields{
		"vault": *vault,
		"count": n,
	}).Info("flushed vault cache")
}
