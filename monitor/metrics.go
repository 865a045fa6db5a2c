package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LatestHeadBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "custody",
		Subsystem: "watcher",
		Name:      "latest_head_block",
		Help:      "Shows the latest confirmed head block seen on the chain. Blocks up to this one are waiting to be scanned.",
	}, []string{"chain_id"})
	LatestProcessedBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "custody",
		Subsystem: "watcher",
		Name:      "latest_processed_block",
		Help:      "Shows the latest block scanned for vault transfers. Cached views are already invalidated up to this block.",
	}, []string{"chain_id"})
	SyncedChain = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "custody",
		Subsystem: "watcher",
		Name:      "synced",
		Help:      "Shows 1 if the watcher is considered as synced up to chain head.",
	}, []string{"chain_id"})
	TouchedVaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody",
		Subsystem: "watcher",
		Name:      "touched_vaults_total",
		Help:      "Number of vault cache invalidations caused by on-chain transfers.",
	}, []string{"chain_id"})
)
