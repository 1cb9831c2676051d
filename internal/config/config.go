// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Chain         ChainConfig        `mapstructure:"chain"`
	Reconcile     ReconcileConfig    `mapstructure:"reconcile"`
	Marketplace   MarketplaceConfig  `mapstructure:"marketplace"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Cache         CacheConfig        `mapstructure:"cache"`
	Pinning       PinningConfig      `mapstructure:"pinning"`
	Monitor       MonitorConfig      `mapstructure:"monitor"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Server        ServerConfig       `mapstructure:"server"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ChainConfig contains EVM node and contract configuration
type ChainConfig struct {
	NodeURL        string        `mapstructure:"node_url"`
	ChainID        int64         `mapstructure:"chain_id"`
	BackupNodes    []string      `mapstructure:"backup_nodes"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`

	MarketplaceAddress  string `mapstructure:"marketplace_address"`
	FactoryAddress      string `mapstructure:"factory_address"`
	PrivateKey          string `mapstructure:"private_key"`
	CreateAgentGasLimit uint64 `mapstructure:"create_agent_gas_limit"`
	TxGasLimit          uint64 `mapstructure:"tx_gas_limit"`
	BuyGasLimit         uint64 `mapstructure:"buy_gas_limit"`
	// CreationFee is the createAgent value in ether, used when the factory view is unavailable.
	CreationFee string `mapstructure:"creation_fee"`
}

// ReconcileConfig contains receipt polling and heuristic settings
type ReconcileConfig struct {
	ReceiptAttempts int           `mapstructure:"receipt_attempts"`
	ReceiptDelay    time.Duration `mapstructure:"receipt_delay"`
	MaxPlausibleID  uint64        `mapstructure:"max_plausible_id"`
}

// MarketplaceConfig contains the fee schedule used by the local state machine
type MarketplaceConfig struct {
	FeeBps       uint64 `mapstructure:"fee_bps"`
	FeeRecipient string `mapstructure:"fee_recipient"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres, memory
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
	EnableFallback   bool          `mapstructure:"enable_fallback"`
}

// CacheConfig contains the agent read cache settings
type CacheConfig struct {
	TTL    time.Duration `mapstructure:"ttl"`
	SizeMB int           `mapstructure:"size_mb"`
}

// PinningConfig contains metadata upload settings
type PinningConfig struct {
	Provider  string        `mapstructure:"provider"` // pinata, ipfs, none
	Endpoint  string        `mapstructure:"endpoint"`
	JWT       string        `mapstructure:"jwt"`
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	IPFSURL   string        `mapstructure:"ipfs_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// MonitorConfig contains marketplace event sync configuration
type MonitorConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	BatchSize          uint64        `mapstructure:"batch_size"`
	ConfirmationBlocks uint64        `mapstructure:"confirmation_blocks"`
	StartBlock         uint64        `mapstructure:"start_block"`
}

// NotificationConfig contains operator alert configuration
type NotificationConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, stderr, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("INFT_MARKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logrus.Debug("Config file not found, using defaults and environment variables")
		} else if configPath != "" && os.IsNotExist(err) {
			return nil, fmt.Errorf("config file %s does not exist", configPath)
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if nodeURL := os.Getenv("CHAIN_NODE_URL"); nodeURL != "" {
		config.Chain.NodeURL = nodeURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
	}
	if jwt := os.Getenv("PINATA_JWT"); jwt != "" {
		config.Pinning.JWT = jwt
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "inft-marketplace")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	// 0G Galileo testnet, the network the contracts were deployed on
	v.SetDefault("chain.node_url", "https://evmrpc-testnet.0g.ai")
	v.SetDefault("chain.chain_id", 16601)
	v.SetDefault("chain.request_timeout", "30s")
	v.SetDefault("chain.retry_attempts", 3)
	v.SetDefault("chain.retry_delay", "5s")
	v.SetDefault("chain.create_agent_gas_limit", 5000000)
	v.SetDefault("chain.tx_gas_limit", 500000)
	v.SetDefault("chain.buy_gas_limit", 500000)
	v.SetDefault("chain.creation_fee", "0.01")

	v.SetDefault("reconcile.receipt_attempts", 4)
	v.SetDefault("reconcile.receipt_delay", "5s")
	v.SetDefault("reconcile.max_plausible_id", 1000000)

	v.SetDefault("marketplace.fee_bps", 250)

	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.connection_string", "./data/agents.db")
	v.SetDefault("storage.max_connections", 25)
	v.SetDefault("storage.max_idle_time", "15m")
	v.SetDefault("storage.enable_fallback", true)

	v.SetDefault("cache.ttl", "60s")
	v.SetDefault("cache.size_mb", 8)

	v.SetDefault("pinning.provider", "pinata")
	v.SetDefault("pinning.endpoint", "https://api.pinata.cloud")
	v.SetDefault("pinning.ipfs_url", "localhost:5001")
	v.SetDefault("pinning.timeout", "5s")

	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.poll_interval", "15s")
	v.SetDefault("monitor.batch_size", 500)
	v.SetDefault("monitor.confirmation_blocks", 2)
	v.SetDefault("monitor.start_block", 0)

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.timeout", "10s")
	v.SetDefault("notifications.max_retries", 3)
	v.SetDefault("notifications.retry_delay", "2s")

	v.SetDefault("server.port", 8081)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.enable_health", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "sqlite", "postgres":
		if c.Storage.ConnectionString == "" {
			return fmt.Errorf("storage connection string is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}
	if c.Marketplace.FeeBps > 10000 {
		return fmt.Errorf("marketplace fee_bps must not exceed 10000")
	}
	if c.Reconcile.ReceiptAttempts <= 0 {
		return fmt.Errorf("reconcile receipt_attempts must be positive")
	}
	if c.Reconcile.ReceiptDelay < 0 {
		return fmt.Errorf("reconcile receipt_delay must not be negative")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}
	switch c.Pinning.Provider {
	case "pinata", "ipfs", "none", "":
	default:
		return fmt.Errorf("unsupported pinning provider: %s", c.Pinning.Provider)
	}
	if c.Monitor.Enabled && c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("monitor poll interval must be positive")
	}
	return nil
}

// ChainEnabled reports whether enough chain settings are present to talk to contracts.
func (c *Config) ChainEnabled() bool {
	return c.Chain.NodeURL != "" && c.Chain.MarketplaceAddress != ""
}
