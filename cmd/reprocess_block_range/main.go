package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"

	"github.com/omni/vault-custody/cache"
	"github.com/omni/vault-custody/config"
	"github.com/omni/vault-custody/db"
	"github.com/omni/vault-custody/ethclient"
	"github.com/omni/vault-custody/kvstore"
	"github.com/omni/vault-custody/logging"
	"github.com/omni/vault-custody/monitor"
	"github.com/omni/vault-custody/repository"
)

var (
	chainID   = flag.Uint64("chainId", 0, "chain id to rescan")
	fromBlock = flag.Uint64("fromBlock", 0, "starting block")
	toBlock   = flag.Uint64("toBlock", 0, "ending block")
)

func main() {
	flag.Parse()

	logger := logging.New()

	cfg, err := config.ReadConfigFromFile("config.yml")
	if err != nil {
		logger.WithError(err).Fatal("can't read config")
	}
	logger.SetLevel(cfg.LogLevel)

	chainCfg := cfg.GetChainConfig(*chainID)
	if chainCfg == nil {
		logger.WithField("chain_id", *chainID).Fatal("chain config for given chainId is not found")
	}
	if *fromBlock < chainCfg.StartBlock {
		fromBlock = &chainCfg.StartBlock
	}
	if *toBlock == 0 {
		logger.Fatal("toBlock is not specified")
	}
	if *toBlock < *fromBlock {
		logger.WithFields(logrus.Fields{
			"from_block": *fromBlock,
			"to_block":   *toBlock,
		}).Fatal("toBlock < fromBlock")
	}

	dbConn, err := db.NewDB(cfg.DBConfig)
	if err != nil {
		logger.WithError(err).Fatal("can't connect to database")
	}
	defer dbConn.Close()

	if err = dbConn.Migrate(); err != nil {
		logger.WithError(err).Fatal("can't run database migrations")
	}

	ctx, cancel := context.WithCancel(context.Background())
	repo := repository.NewRepo(dbConn)
	if cfg.Redis.Addr == "" {
		logger.Fatal("redis address is not configured, nothing to invalidate")
	}
	store, err := kvstore.NewRedisStore(ctx, cfg.Redis)
	if err != nil {
		logger.WithError(err).Fatal("can't connect to redis")
	}
	defer store.Close()

	client, err := ethclient.NewClient(chainCfg.RPC, chainCfg.ChainID)
	if err != nil {
		logger.WithError(err).Fatal("can't dial rpc client")
	}

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt)
		for range c {
			cancel()
			logger.Warn("caught CTRL-C, gracefully terminating")
			return
		}
	}()

	chainCfg.DisableWatcher = false
	watcherCfg := &config.Config{Chains: map[string]*config.ChainConfig{"target": chainCfg}}
	balances := cache.NewBalanceCache(logger.WithField("service", "balance_cache"), store, cfg.Cache)
	transactions := cache.NewTransactionCache(logger.WithField("service", "transaction_cache"), store, cfg.Cache)
	m, err := monitor.NewMonitor(ctx, logger, repo, watcherCfg, map[uint64]ethclient.Client{chainCfg.ChainID: client}, balances, transactions)
	if err != nil {
		logger.WithError(err).Fatal("can't initialize deposit monitor")
	}

	err = m.ProcessBlockRange(ctx, chainCfg.ChainID, *fromBlock, *toBlock)
	if err != nil {
		logger.WithError(err).Fatal("can't manually process block range")
	}
}
