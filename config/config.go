package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	defaultBalanceTTL          = 5 * time.Minute
	defaultInvalidationTTL     = 30 * time.Second
	defaultTransactionTTL      = 24 * time.Hour
	defaultIncrementalPageSize = 50
	defaultMaxBlockRangeSize   = 1000
	defaultBlockIndexInterval  = time.Minute
	defaultNativeAssetID       = "native"
)

var ErrInvalidConfig = errors.New("invalid config")

type RPCConfig struct {
	Host    string        `yaml:"host"`
	Timeout time.Duration `yaml:"timeout"`
	RPS     float64       `yaml:"rps"`
}

type TokenConfig struct {
	Address common.Address `yaml:"address"`
	AssetID string         `yaml:"asset_id"`
}

type ChainConfig struct {
	RPC                *RPCConfig     `yaml:"rpc"`
	ChainID            uint64         `yaml:"chain_id"`
	BlockTime          time.Duration  `yaml:"block_time"`
	BlockIndexInterval time.Duration  `yaml:"block_index_interval"`
	StartBlock         uint64         `yaml:"start_block"`
	BlockConfirmations uint64         `yaml:"block_confirmations"`
	MaxBlockRangeSize  uint64         `yaml:"max_block_range_size"`
	NativeAssetID      string         `yaml:"native_asset_id"`
	Tokens             []*TokenConfig `yaml:"tokens"`
	DisableWatcher     bool           `yaml:"disable_watcher"`
}

// TokenAddresses returns addresses of all ERC20 tokens tracked on the chain.
func (cfg *ChainConfig) TokenAddresses() []common.Address {
	addresses := make([]common.Address, 0, len(cfg.Tokens))
	for _, token := range cfg.Tokens {
		addresses = append(addresses, token.Address)
	}
	return addresses
}

// AssetID resolves the asset identifier reported for the given token contract.
func (cfg *ChainConfig) AssetID(token common.Address) string {
	for _, t := range cfg.Tokens {
		if t.Address == token {
			return t.AssetID
		}
	}
	return token.String()
}

type DBConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       string `yaml:"database"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Timeout  time.Duration `yaml:"timeout"`
}

type CacheConfig struct {
	Enabled             *bool         `yaml:"enabled"`
	BalanceTTL          time.Duration `yaml:"balance_ttl"`
	InvalidationTTL     time.Duration `yaml:"invalidation_ttl"`
	TransactionTTL      time.Duration `yaml:"transaction_ttl"`
	IncrementalPageSize int           `yaml:"incremental_page_size"`
}

// IsEnabled reports whether the balance cache is enabled, defaulting to true.
func (cfg *CacheConfig) IsEnabled() bool {
	return cfg.Enabled == nil || *cfg.Enabled
}

type PresenterConfig struct {
	Host string `yaml:"host"`
}

type Config struct {
	Chains    map[string]*ChainConfig `yaml:"chains"`
	DBConfig  *DBConfig               `yaml:"postgres"`
	Redis     *RedisConfig            `yaml:"redis"`
	Cache     *CacheConfig            `yaml:"cache"`
	LogLevel  logrus.Level            `yaml:"log_level"`
	Presenter *PresenterConfig        `yaml:"presenter"`
}

// GetChainConfig looks up chain configuration by its numeric chain id.
func (cfg *Config) GetChainConfig(chainID uint64) *ChainConfig {
	for _, chainCfg := range cfg.Chains {
		if chainCfg.ChainID == chainID {
			return chainCfg
		}
	}
	return nil
}

// ParseChainID parses a decimal chain id, as it appears in URLs and cache keys.
func ParseChainID(s string) (uint64, error) {
	chainID, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("can't parse chain id %q: %w", s, err)
	}
	return chainID, nil
}

// readYamlConfig decodes blob strictly, rejecting unknown sections and fields.
func readYamlConfig(blob []byte) (*Config, error) {
	cfg := new(Config)
	dec := yaml.NewDecoder(bytes.NewReader(blob))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("can't parse yaml: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) init() error {
	if cfg.Cache == nil {
		cfg.Cache = new(CacheConfig)
	}
	if cfg.Cache.BalanceTTL == 0 {
		cfg.Cache.BalanceTTL = defaultBalanceTTL
	}
	if cfg.Cache.InvalidationTTL == 0 {
		cfg.Cache.InvalidationTTL = defaultInvalidationTTL
	}
	if cfg.Cache.TransactionTTL == 0 {
		cfg.Cache.TransactionTTL = defaultTransactionTTL
	}
	if cfg.Cache.IncrementalPageSize <= 0 {
		cfg.Cache.IncrementalPageSize = defaultIncrementalPageSize
	}
	if cfg.Redis == nil {
		cfg.Redis = new(RedisConfig)
	}
	if cfg.Redis.Timeout == 0 {
		cfg.Redis.Timeout = 3 * time.Second
	}

	seen := make(map[uint64]string, len(cfg.Chains))
	for name, chain := range cfg.Chains {
		if chain.RPC == nil || chain.RPC.Host == "" {
			return fmt.Errorf("chain %s has no rpc host: %w", name, ErrInvalidConfig)
		}
		if chain.ChainID == 0 {
			return fmt.Errorf("chain %s has no chain_id: %w", name, ErrInvalidConfig)
		}
		if other, ok := seen[chain.ChainID]; ok {
			return fmt.Errorf("chains %s and %s share chain_id %d: %w", name, other, chain.ChainID, ErrInvalidConfig)
		}
		seen[chain.ChainID] = name
		if chain.RPC.Timeout == 0 {
			chain.RPC.Timeout = 30 * time.Second
		}
		if chain.MaxBlockRangeSize == 0 {
			chain.MaxBlockRangeSize = defaultMaxBlockRangeSize
		}
		if chain.BlockIndexInterval == 0 {
			chain.BlockIndexInterval = defaultBlockIndexInterval
		}
		if chain.NativeAssetID == "" {
			chain.NativeAssetID = defaultNativeAssetID
		}
		for _, token := range chain.Tokens {
			if token.AssetID == "" {
				token.AssetID = token.Address.String()
			}
		}
	}
	return nil
}

func ReadConfig(blob []byte) (*Config, error) {
	cfg, err := readYamlConfig(blob)
	if err != nil {
		return nil, err
	}
	if err = cfg.init(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ReadConfigWithEnv(blob []byte) (*Config, error) {
	return ReadConfig([]byte(os.ExpandEnv(string(blob))))
}

func ReadConfigFromFile(path string) (*Config, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("can't read config file: %w", err)
	}
	return ReadConfigWithEnv(blob)
}
