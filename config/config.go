// Package config provides configuration management and environment variable handling for the application
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the settlement engine
type Config struct {
	Database   DatabaseConfig   `json:"database"`
	Redis      RedisConfig      `json:"redis"`
	Chain      ChainConfig      `json:"chain"`
	Oracle     OracleConfig     `json:"oracle"`
	Gateway    GatewayConfig    `json:"gateway"`
	Email      EmailConfig      `json:"email"`
	Bot        BotConfig        `json:"bot"`
	Settlement SettlementConfig `json:"settlement"`
	Logging    LoggingConfig    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// DSN builds the postgres connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type ChainConfig struct {
	RPCURL            string `json:"rpc_url"`
	MainWalletAddress string `json:"main_wallet_address"`
	BlockWindow       uint64 `json:"block_window"`
}

type OracleConfig struct {
	BaseURL  string        `json:"base_url"`
	APIKey   string        `json:"api_key"`
	Symbol   string        `json:"symbol"`
	Currency string        `json:"currency"`
	Timeout  time.Duration `json:"timeout"`
	CacheTTL time.Duration `json:"cache_ttl"`
}

type GatewayConfig struct {
	Secret     string        `json:"secret"`
	MinAmount  uint64        `json:"min_amount"`
	RequestTTL time.Duration `json:"request_ttl"`
}

type EmailConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	FromEmail string `json:"from_email"`
	OpsEmail  string `json:"ops_email"`
}

type BotConfig struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token"`
}

type SettlementConfig struct {
	MonitorInterval time.Duration `json:"monitor_interval"`
	MonitorWorkers  int           `json:"monitor_workers"`
	SweepInterval   time.Duration `json:"sweep_interval"`
	WalletTTL       time.Duration `json:"wallet_ttl"`
	MinFiatAmount   uint64        `json:"min_fiat_amount"`
}

type LoggingConfig struct {
	Dir string `json:"dir"`
}

type MetricsConfig struct {
	Enabled    bool   `json:"enabled"`
	ListenAddr string `json:"listen_addr"`
}

// Load reads configuration from the environment, with .env as a convenience
// overlay for local development.
func Load() (*Config, error) {
	// Absence of a .env file is normal in production
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "simurgh"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnvString("REDIS_ADDR", "localhost:6379"),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Chain: ChainConfig{
			RPCURL:            getEnvString("CHAIN_RPC_URL", "http://localhost:8545"),
			MainWalletAddress: getEnvString("CHAIN_MAIN_WALLET", ""),
			BlockWindow:       uint64(getEnvInt("CHAIN_BLOCK_WINDOW", 50)),
		},
		Oracle: OracleConfig{
			BaseURL:  getEnvString("ORACLE_BASE_URL", ""),
			APIKey:   getEnvString("ORACLE_API_KEY", ""),
			Symbol:   getEnvString("ORACLE_SYMBOL", "ETH"),
			Currency: getEnvString("ORACLE_CURRENCY", "TMN"),
			Timeout:  getEnvDuration("ORACLE_TIMEOUT", 10*time.Second),
			CacheTTL: getEnvDuration("ORACLE_CACHE_TTL", 5*time.Minute),
		},
		Gateway: GatewayConfig{
			Secret:     getEnvString("GATEWAY_SECRET", ""),
			MinAmount:  uint64(getEnvInt("GATEWAY_MIN_AMOUNT", 10000)),
			RequestTTL: getEnvDuration("GATEWAY_REQUEST_TTL", time.Hour),
		},
		Email: EmailConfig{
			Host:      getEnvString("EMAIL_HOST", "localhost"),
			Port:      getEnvInt("EMAIL_PORT", 587),
			Username:  getEnvString("EMAIL_USERNAME", ""),
			Password:  getEnvString("EMAIL_PASSWORD", ""),
			FromEmail: getEnvString("EMAIL_FROM_EMAIL", "noreply@simurgh.local"),
			OpsEmail:  getEnvString("EMAIL_OPS_EMAIL", ""),
		},
		Bot: BotConfig{
			BaseURL: getEnvString("BOT_BASE_URL", ""),
			Token:   getEnvString("BOT_TOKEN", ""),
		},
		Settlement: SettlementConfig{
			MonitorInterval: getEnvDuration("MONITOR_INTERVAL", 15*time.Second),
			MonitorWorkers:  getEnvInt("MONITOR_WORKERS", 4),
			SweepInterval:   getEnvDuration("SWEEP_INTERVAL", 60*time.Second),
			WalletTTL:       getEnvDuration("WALLET_TTL", 24*time.Hour),
			MinFiatAmount:   uint64(getEnvInt("MIN_FIAT_AMOUNT", 10000)),
		},
		Logging: LoggingConfig{
			Dir: getEnvString("LOG_DIR", "logs"),
		},
		Metrics: MetricsConfig{
			Enabled:    getEnvBool("METRICS_ENABLED", true),
			ListenAddr: getEnvString("METRICS_LISTEN_ADDR", ":9090"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings that have no sane default
func (c *Config) Validate() error {
	var problems []string

	if c.Chain.MainWalletAddress == "" {
		problems = append(problems, "CHAIN_MAIN_WALLET is required")
	}
	if c.Gateway.Secret == "" {
		problems = append(problems, "GATEWAY_SECRET is required")
	}
	if c.Oracle.BaseURL == "" {
		problems = append(problems, "ORACLE_BASE_URL is required")
	}
	if c.Settlement.MonitorInterval <= 0 {
		problems = append(problems, "MONITOR_INTERVAL must be positive")
	}
	if c.Settlement.SweepInterval <= 0 {
		problems = append(problems, "SWEEP_INTERVAL must be positive")
	}
	if c.Settlement.WalletTTL <= 0 {
		problems = append(problems, "WALLET_TTL must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
