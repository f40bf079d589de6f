package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Cards    CardConfig     `mapstructure:"cards"`
	Payer    PayerConfig    `mapstructure:"payer"`
	Throttle ThrottleConfig `mapstructure:"throttle"`
	Donation DonationConfig `mapstructure:"donation"`
	Withdraw WithdrawConfig `mapstructure:"withdraw"`
	Wallet   WalletConfig   `mapstructure:"wallet"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Mode       string `mapstructure:"mode"`        // debug, release, test
	BaseURL    string `mapstructure:"base_url"`    // public URL used in LNURL callbacks
	AdminToken string `mapstructure:"admin_token"` // empty disables the admin API
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

// CardConfig holds NFC card key material settings.
type CardConfig struct {
	// MasterSecret is a hex-encoded 16- or 32-byte secret from which all
	// per-card keys are derived. Missing or malformed is a startup failure.
	MasterSecret string `mapstructure:"master_secret"`
}

// PayerConfig points at the external Lightning payer service.
type PayerConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"` // bounded wait before a payment counts as deferred
}

// ThrottleConfig tunes the replenishment curve. The fill ratio climbs
// linearly from 0 to 1 over TimeToFull, measured from the more recent of
// the location's last refill and last withdrawal.
type ThrottleConfig struct {
	TimeToFull time.Duration `mapstructure:"time_to_full"`
}

type DonationConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	InvoiceTTL    time.Duration `mapstructure:"invoice_ttl"`     // created donations time out after this
	MaxAmountMsat int64         `mapstructure:"max_amount_msat"` // zero disables the cap
}

type WithdrawConfig struct {
	ChallengeTTL    time.Duration `mapstructure:"challenge_ttl"`  // lifetime of the k1 challenge token
	SweepInterval   time.Duration `mapstructure:"sweep_interval"` // reconciliation period for stuck withdrawals
	PendingGrace    time.Duration `mapstructure:"pending_grace"`  // age before a pending withdrawal is swept
	MinWithdrawMsat int64         `mapstructure:"min_withdraw_msat"`
}

// WalletConfig tunes the custodial wallet.
type WalletConfig struct {
	CollectCapMsat int64         `mapstructure:"collect_cap_msat"` // zero means the full available amount
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`   // reconciliation period for stuck custodial withdraws
	PendingGrace   time.Duration `mapstructure:"pending_grace"`    // age before a pending custodial withdraw is swept
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: SH_ (SatsHunt).
// Nested keys use underscore: SH_DATABASE_HOST, SH_CARDS_MASTER_SECRET, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "satshunt")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "satshunt")
	v.SetDefault("cards.master_secret", "")
	v.SetDefault("payer.base_url", "http://localhost:5000")
	v.SetDefault("payer.api_key", "")
	v.SetDefault("payer.timeout", "15s")
	v.SetDefault("throttle.time_to_full", "504h") // 21 days
	v.SetDefault("donation.poll_interval", "30s")
	v.SetDefault("donation.invoice_ttl", "24h")
	v.SetDefault("donation.max_amount_msat", 0)
	v.SetDefault("withdraw.challenge_ttl", "5m")
	v.SetDefault("withdraw.sweep_interval", "1m")
	v.SetDefault("withdraw.pending_grace", "30s")
	v.SetDefault("withdraw.min_withdraw_msat", 1000)
	v.SetDefault("wallet.collect_cap_msat", 0)
	v.SetDefault("wallet.sweep_interval", "1m")
	v.SetDefault("wallet.pending_grace", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: SH_DATABASE_HOST -> database.host
	v.SetEnvPrefix("SH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file. Not required, env vars can suffice.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
