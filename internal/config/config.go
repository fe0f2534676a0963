package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// AuthConfig gates the admin HTTP surface with a single gateway API key;
// there is no multi-tenant routing in this core (SPEC_FULL.md's ambient
// HTTP surface decision).
type AuthConfig struct {
	RequireAPIKey bool   `mapstructure:"require_api_key"`
	APIKey        string `mapstructure:"api_key"`
}

// DatabaseConfig configures the optional gorm/postgres-backed KVStore.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig configures the optional go-redis-backed KVStore.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ChainConfig struct {
	RPCURL      string `mapstructure:"rpc_url"`
	WSURL       string `mapstructure:"ws_url"`
	StoreBackend string `mapstructure:"store_backend"` // "memory" | "redis" | "postgres"
}

// PipelineConfig carries the Transaction Pipeline's tunables (spec §6).
type PipelineConfig struct {
	GasPrice           string `mapstructure:"gas_price"` // decimal string, parsed as *big.Int
	GasLimit           uint64 `mapstructure:"gas_limit"`
	ChainID            int64  `mapstructure:"chain_id"`
	TxMiningTimeoutSec int64  `mapstructure:"tx_mining_timeout_seconds"`
	TxSigningTimeoutMs int64  `mapstructure:"tx_signing_timeout_ms"`
	LockAcquireMs      int64  `mapstructure:"lock_acquire_timeout_ms"`
	LockCheckMs        int64  `mapstructure:"lock_check_interval_ms"`
	LockTimeoutMs      int64  `mapstructure:"lock_timeout_ms"`
	PreloadContracts   bool   `mapstructure:"preload_contracts"`
	ContractsDir       string `mapstructure:"contracts_dir"`
	ContractsURL       string `mapstructure:"contracts_url"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// e.g. TXPIPELINE_CHAIN_RPC_URL
	viper.SetEnvPrefix("txpipeline")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("auth.require_api_key", false)
	viper.SetDefault("auth.api_key", "")

	viper.SetDefault("chain.store_backend", "memory")

	viper.SetDefault("pipeline.gas_price", "0")
	viper.SetDefault("pipeline.gas_limit", 300_000)
	viper.SetDefault("pipeline.chain_id", 0)
	viper.SetDefault("pipeline.tx_mining_timeout_seconds", 120)
	viper.SetDefault("pipeline.tx_signing_timeout_ms", 60_000)
	viper.SetDefault("pipeline.lock_acquire_timeout_ms", 45_000)
	viper.SetDefault("pipeline.lock_check_interval_ms", 100)
	viper.SetDefault("pipeline.lock_timeout_ms", 5_000)
	viper.SetDefault("pipeline.preload_contracts", true)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
