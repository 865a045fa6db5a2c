package config_test

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/omni/vault-custody/config"
)

const testCfg = `
chains:
  mainnet:
    rpc:
      host: https://mainnet.infura.io/v3/${INFURA_PROJECT_KEY}
      timeout: 30s
      rps: 10
    chain_id: 1
    block_time: 15s
    block_index_interval: 60s
    start_block: 15000000
    block_confirmations: 12
    tokens:
      - address: 0x6B175474E89094C44Da98b954EedeAC495271d0F
        asset_id: DAI
  xdai:
    rpc:
      host: https://rpc.ankr.com/gnosis
      rps: 5
    chain_id: 100
    max_block_range_size: 2000
    native_asset_id: xDAI
    tokens:
      - address: 0x4ECaBa5870353805a9F068101A40E0f32ed605C6
postgres:
  user: test_user
  password: test_password
  host: test_host
  port: 5432
  database: test_db
redis:
  addr: localhost:6379
  db: 2
cache:
  enabled: false
  invalidation_ttl: 10s
  incremental_page_size: 25
log_level: info
presenter:
  host: 0.0.0.0:3333
`

//nolint:paralleltest
func TestReadConfigWithEnv(t *testing.T) {
	t.Setenv("INFURA_PROJECT_KEY", "12345678")
	cfg, err := config.ReadConfigWithEnv([]byte(testCfg))
	require.NoError(t, err)

	disabled := false
	require.Equal(t, &config.Config{
		Chains: map[string]*config.ChainConfig{
			"mainnet": {
				RPC: &config.RPCConfig{
					Host:    "https://mainnet.infura.io/v3/12345678",
					Timeout: 30 * time.Second,
					RPS:     10,
				},
				ChainID:            1,
				BlockTime:          15 * time.Second,
				BlockIndexInterval: 60 * time.Second,
				StartBlock:         15000000,
				BlockConfirmations: 12,
				MaxBlockRangeSize:  1000,
				NativeAssetID:      "native",
				Tokens: []*config.TokenConfig{
					{
						Address: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"),
						AssetID: "DAI",
					},
				},
			},
			"xdai": {
				RPC: &config.RPCConfig{
					Host:    "https://rpc.ankr.com/gnosis",
					Timeout: 30 * time.Second,
					RPS:     5,
				},
				ChainID:            100,
				BlockIndexInterval: time.Minute,
				MaxBlockRangeSize:  2000,
				NativeAssetID:      "xDAI",
				Tokens: []*config.TokenConfig{
					{
						Address: common.HexToAddress("0x4ECaBa5870353805a9F068101A40E0f32ed605C6"),
						AssetID: "0x4ECaBa5870353805a9F068101A40E0f32ed605C6",
					},
				},
			},
		},
		DBConfig: &config.DBConfig{
			User:     "test_user",
			Password: "test_password",
			Host:     "test_host",
			Port:     5432,
			DB:       "test_db",
		},
		Redis: &config.RedisConfig{
			Addr:    "localhost:6379",
			DB:      2,
			Timeout: 3 * time.Second,
		},
		Cache: &config.CacheConfig{
			Enabled:             &disabled,
			BalanceTTL:          5 * time.Minute,
			InvalidationTTL:     10 * time.Second,
			TransactionTTL:      24 * time.Hour,
			IncrementalPageSize: 25,
		},
		LogLevel: logrus.InfoLevel,
		Presenter: &config.PresenterConfig{
			Host: "0.0.0.0:3333",
		},
	}, cfg)
	require.False(t, cfg.Cache.IsEnabled())
}

func TestReadConfig_CacheDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.ReadConfig([]byte("log_level: debug\n"))
	require.NoError(t, err)
	require.True(t, cfg.Cache.IsEnabled())
	require.Equal(t, 5*time.Minute, cfg.Cache.BalanceTTL)
	require.Equal(t, 30*time.Second, cfg.Cache.InvalidationTTL)
	require.Equal(t, 24*time.Hour, cfg.Cache.TransactionTTL)
	require.Equal(t, 50, cfg.Cache.IncrementalPageSize)
	require.Equal(t, logrus.DebugLevel, cfg.LogLevel)
}

func TestReadConfig_Invalid(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		Name string
		Blob string
	}{
		{
			Name: "Unknown field",
			Blob: "unknown_section: true\n",
		},
		{
			Name: "Missing rpc host",
			Blob: "chains:\n  mainnet:\n    chain_id: 1\n",
		},
		{
			Name: "Missing chain id",
			Blob: "chains:\n  mainnet:\n    rpc:\n      host: http://localhost:8545\n",
		},
		{
			Name: "Duplicate chain id",
			Blob: `
chains:
  a:
    rpc:
      host: http://localhost:8545
    chain_id: 1
  b:
    rpc:
      host: http://localhost:8546
    chain_id: 1
`,
		},
	} {
		t.Logf("Running sub-test %q", test.Name)
		_, err := config.ReadConfig([]byte(test.Blob))
		require.Error(t, err, "Failed %s", test.Name)
	}
}

func TestConfig_GetChainConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.ReadConfig([]byte(testCfg))
	require.NoError(t, err)
	require.Equal(t, cfg.Chains["xdai"], cfg.GetChainConfig(100))
	require.Nil(t, cfg.GetChainConfig(5))

	chainCfg := cfg.GetChainConfig(1)
	require.Equal(t, "DAI", chainCfg.AssetID(common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")))
	require.Equal(t, []common.Address{common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")}, chainCfg.TokenAddresses())
}
