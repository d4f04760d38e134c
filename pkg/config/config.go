// Package config loads solanapay settings from a YAML file, a .env file and
// SOLANAPAY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	solanapay "github.com/coinbase/solanapay"
	"github.com/coinbase/solanapay/mechanisms/svm"
)

// EnvPrefix prefixes every environment override, e.g. SOLANAPAY_MERCHANT_RECIPIENT
const EnvPrefix = "SOLANAPAY"

// Event drivers
const (
	EventsDriverNone  = "none"
	EventsDriverLog   = "log"
	EventsDriverKafka = "kafka"
	EventsDriverRedis = "redis"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Merchant MerchantConfig `mapstructure:"merchant"`
	Solana   SolanaConfig   `mapstructure:"solana"`
	Polling  PollingConfig  `mapstructure:"polling"`
	Events   EventsConfig   `mapstructure:"events"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	HTTPAddr string `mapstructure:"http_addr"`
}

type MerchantConfig struct {
	Recipient string `mapstructure:"recipient"`
	// SPLToken is a mint address or a known symbol such as USDC; empty selects SOL
	SPLToken string `mapstructure:"spl_token"`
	Label    string `mapstructure:"label"`
	Message  string `mapstructure:"message"`
}

type SolanaConfig struct {
	Network           string  `mapstructure:"network"`
	RPCURL            string  `mapstructure:"rpc_url"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	FetchConcurrency  int     `mapstructure:"fetch_concurrency"`
	Commitment        string  `mapstructure:"commitment"`
	SignatureLimit    int     `mapstructure:"signature_limit"`
	MaxConfirmations  uint64  `mapstructure:"max_confirmations"`
}

type PollingConfig struct {
	SessionInterval time.Duration `mapstructure:"session_interval"`
	BaseDelay       time.Duration `mapstructure:"base_delay"`
	MaxDelay        time.Duration `mapstructure:"max_delay"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
	ValidateAmount  bool          `mapstructure:"validate_amount"`
}

type EventsConfig struct {
	Driver string      `mapstructure:"driver"`
	Topic  string      `mapstructure:"topic"`
	Kafka  KafkaConfig `mapstructure:"kafka"`
	Redis  RedisConfig `mapstructure:"redis"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Load reads configuration. path may be empty, in which case config.yaml is
// looked up in . and ./config and a missing file is not an error.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "")
	v.SetDefault("app.http_addr", ":8080")

	v.SetDefault("merchant.recipient", "")
	v.SetDefault("merchant.spl_token", "")
	v.SetDefault("merchant.label", "")
	v.SetDefault("merchant.message", "")

	v.SetDefault("solana.network", svm.SolanaMainnetCAIP2)
	v.SetDefault("solana.rpc_url", "")
	v.SetDefault("solana.requests_per_second", svm.DefaultRequestsPerSecond)
	v.SetDefault("solana.burst", svm.DefaultRequestBurst)
	v.SetDefault("solana.fetch_concurrency", svm.DefaultTransactionFetchConcurrency)
	v.SetDefault("solana.commitment", string(solanapay.CommitmentConfirmed))
	v.SetDefault("solana.signature_limit", solanapay.DefaultSignatureLimit)
	v.SetDefault("solana.max_confirmations", svm.DefaultMaxConfirmations)

	v.SetDefault("polling.session_interval", solanapay.DefaultSessionPollInterval)
	v.SetDefault("polling.base_delay", solanapay.DefaultBackoffBaseDelay)
	v.SetDefault("polling.max_delay", solanapay.DefaultBackoffMaxDelay)
	v.SetDefault("polling.max_attempts", solanapay.DefaultBackoffMaxAttempts)
	v.SetDefault("polling.session_ttl", 30*time.Minute)
	v.SetDefault("polling.validate_amount", false)

	v.SetDefault("events.driver", EventsDriverLog)
	v.SetDefault("events.topic", "solanapay.events")
	v.SetDefault("events.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("events.redis.addr", "localhost:6379")
	v.SetDefault("events.redis.password", "")
	v.SetDefault("events.redis.db", 0)
}

// Validate checks the fields the core cannot run without
func (c *Config) Validate() error {
	if err := svm.ValidateSolanaAddress(c.Merchant.Recipient); err != nil {
		return fmt.Errorf("merchant.recipient: %w", err)
	}
	if !svm.IsValidNetwork(c.Solana.Network) {
		return fmt.Errorf("solana.network: unsupported network %q", c.Solana.Network)
	}
	if _, err := c.MerchantConfig(); err != nil {
		return err
	}

	switch solanapay.Commitment(c.Solana.Commitment) {
	case solanapay.CommitmentProcessed, solanapay.CommitmentConfirmed, solanapay.CommitmentFinalized:
	default:
		return fmt.Errorf("solana.commitment: unknown commitment %q", c.Solana.Commitment)
	}

	if c.Polling.SessionInterval <= 0 {
		return errors.New("polling.session_interval must be positive")
	}
	if c.Polling.BaseDelay <= 0 || c.Polling.MaxDelay < c.Polling.BaseDelay {
		return errors.New("polling.base_delay must be positive and not exceed polling.max_delay")
	}
	if c.Polling.MaxAttempts < 1 {
		return errors.New("polling.max_attempts must be at least 1")
	}

	switch c.Events.Driver {
	case EventsDriverNone, EventsDriverLog:
	case EventsDriverKafka:
		if len(c.Events.Kafka.Brokers) == 0 {
			return errors.New("events.kafka.brokers is required for the kafka driver")
		}
	case EventsDriverRedis:
		if c.Events.Redis.Addr == "" {
			return errors.New("events.redis.addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("events.driver: unknown driver %q", c.Events.Driver)
	}
	return nil
}

// MerchantConfig resolves the merchant section. A spl_token symbol is looked
// up in the network's asset table.
func (c *Config) MerchantConfig() (solanapay.MerchantConfig, error) {
	recipient, err := solana.PublicKeyFromBase58(c.Merchant.Recipient)
	if err != nil {
		return solanapay.MerchantConfig{}, fmt.Errorf("merchant.recipient: %w", err)
	}

	merchant := solanapay.MerchantConfig{
		Recipient: recipient,
		Label:     c.Merchant.Label,
		Message:   c.Merchant.Message,
	}
	if c.Merchant.SPLToken == "" {
		return merchant, nil
	}

	mint, err := solana.PublicKeyFromBase58(c.Merchant.SPLToken)
	if err != nil {
		asset, assetErr := svm.GetAssetInfo(c.Solana.Network, c.Merchant.SPLToken)
		if assetErr != nil {
			return solanapay.MerchantConfig{}, fmt.Errorf("merchant.spl_token: %w", assetErr)
		}
		mint = solana.MustPublicKeyFromBase58(asset.Address)
	}
	merchant.SPLToken = &mint
	return merchant, nil
}

// ClientConfig returns the ledger client settings
func (c *Config) ClientConfig() svm.ClientConfig {
	return svm.ClientConfig{
		Network:           c.Solana.Network,
		RPCURL:            c.Solana.RPCURL,
		RequestsPerSecond: c.Solana.RequestsPerSecond,
		Burst:             c.Solana.Burst,
		FetchConcurrency:  c.Solana.FetchConcurrency,
		Commitment:        solanapay.Commitment(c.Solana.Commitment),
	}
}

// BackoffPolicy returns the polling retry policy
func (c *Config) BackoffPolicy() solanapay.BackoffPolicy {
	return solanapay.BackoffPolicy{
		BaseDelay:   c.Polling.BaseDelay,
		MaxDelay:    c.Polling.MaxDelay,
		MaxAttempts: c.Polling.MaxAttempts,
	}
}
