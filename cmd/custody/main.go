package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omni/vault-custody/cache"
	"github.com/omni/vault-custody/config"
	"github.com/omni/vault-custody/db"
	"github.com/omni/vault-custody/ethclient"
	"github.com/omni/vault-custody/kvstore"
	"github.com/omni/vault-custody/lifecycle"
	"github.com/omni/vault-custody/logging"
	"github.com/omni/vault-custody/monitor"
	"github.com/omni/vault-custody/presenter"
	"github.com/omni/vault-custody/provider"
	"github.com/omni/vault-custody/repository"
	"github.com/omni/vault-custody/vaultview"
)

func main() {
	logger := logging.New()

	cfg, err := config.ReadConfigFromFile("config.yml")
	if err != nil {
		logger.WithError(err).Fatal("can't read config")
	}
	logger.SetLevel(cfg.LogLevel)

	dbConn, err := db.ConnectToDBAndMigrate(cfg.DBConfig)
	if err != nil {
		logger.WithError(err).Fatal("can't connect to database and apply migrations")
	}
	defer dbConn.Close()

	http.Handle("/metrics", promhttp.Handler())
	go func() {
		err := http.ListenAndServe(":2112", nil)
		if err != nil {
			logger.WithError(err).Fatal("can't start listener for prometheus metrics")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	repo := repository.NewRepo(dbConn)

	var store kvstore.Store
	if cfg.Redis.Addr != "" {
		store, err = kvstore.NewRedisStore(ctx, cfg.Redis)
		if err != nil {
			logger.WithError(err).Fatal("can't connect to redis")
		}
	} else {
		logger.Warn("redis address is not configured, using in-process cache store")
		store = kvstore.NewMemoryStore()
	}
	defer store.Close()

	balances := cache.NewBalanceCache(logger.WithField("service", "balance_cache"), store, cfg.Cache)
	transactions := cache.NewTransactionCache(logger.WithField("service", "transaction_cache"), store, cfg.Cache)

	clients := make(map[uint64]ethclient.Client, len(cfg.Chains))
	providers := make([]provider.Provider, 0, len(cfg.Chains))
	for name, chainCfg := range cfg.Chains {
		chainLogger := logger.WithField("chain", name)
		client, err2 := ethclient.NewClient(chainCfg.RPC, chainCfg.ChainID)
		if err2 != nil {
			chainLogger.WithError(err2).Fatal("can't dial rpc client")
		}
		clients[chainCfg.ChainID] = client
		providers = append(providers, provider.NewEthProvider(chainLogger.WithField("service", "provider"), client, chainCfg))
	}

	views := vaultview.NewService(logger.WithField("service", "vaultview"), providers, balances, transactions, cfg.Cache.IncrementalPageSize)
	lc := lifecycle.NewService(logger.WithField("service", "lifecycle"), repo, balances, transactions)

	m, err := monitor.NewMonitor(ctx, logger.WithField("service", "monitor"), repo, cfg, clients, balances, transactions)
	if err != nil {
		logger.WithError(err).Fatal("can't initialize deposit monitor")
	}
	m.Start(ctx)

	if cfg.Presenter != nil {
		pr := presenter.NewPresenter(logger.WithField("service", "presenter"), cfg, lc, views, balances, transactions, repo.Vaults.FindAddressesByMember)
		go func() {
			err := pr.Serve(cfg.Presenter.Host)
			if err != nil {
				logger.WithError(err).Fatal("can't serve presenter")
			}
		}()
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	for range c {
		cancel()
		logger.Warn("caught CTRL-C, gracefully terminating")
		return
	}
}
