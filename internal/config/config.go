// Package config loads the raffle daemon configuration: a YAML file layered
// over defaults, then environment variables (optionally from a .env file).
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/raffle/internal/automation"
	"github.com/R3E-Network/raffle/internal/raffle"
	"github.com/R3E-Network/raffle/internal/vrf"
	"github.com/R3E-Network/raffle/pkg/logger"
)

// Config is the full daemon configuration.
type Config struct {
	Raffle     RaffleConfig         `yaml:"raffle"`
	VRF        VRFConfig            `yaml:"vrf"`
	Automation AutomationConfig     `yaml:"automation"`
	HTTP       HTTPConfig           `yaml:"http"`
	Storage    StorageConfig        `yaml:"storage"`
	Redis      RedisConfig          `yaml:"redis"`
	Log        logger.LoggingConfig `yaml:"log"`
}

// RaffleConfig holds the immutable raffle parameters.
type RaffleConfig struct {
	EntranceFee          int64  `yaml:"entrance_fee" env:"RAFFLE_ENTRANCE_FEE"`
	IntervalSeconds      int64  `yaml:"interval_seconds" env:"RAFFLE_INTERVAL_SECONDS"`
	KeyHash              string `yaml:"key_hash" env:"RAFFLE_KEY_HASH"`
	SubscriptionID       uint64 `yaml:"subscription_id" env:"RAFFLE_SUBSCRIPTION_ID"` // 0 creates one on startup
	RequestConfirmations uint16 `yaml:"request_confirmations" env:"RAFFLE_REQUEST_CONFIRMATIONS"`
	CallbackGasLimit     uint32 `yaml:"callback_gas_limit" env:"RAFFLE_CALLBACK_GAS_LIMIT"`
	NumWords             uint32 `yaml:"num_words" env:"RAFFLE_NUM_WORDS"`
}

// VRFConfig prices the local coordinator. Amounts are juels in decimal.
type VRFConfig struct {
	BaseFee              string `yaml:"base_fee" env:"VRF_BASE_FEE"`
	GasPriceLink         string `yaml:"gas_price_link" env:"VRF_GAS_PRICE_LINK"`
	SubscriptionFunding  string `yaml:"subscription_funding" env:"VRF_SUBSCRIPTION_FUNDING"`
	AutoFulfill          bool   `yaml:"auto_fulfill" env:"VRF_AUTO_FULFILL"`
	FulfillDelaySeconds  int    `yaml:"fulfill_delay_seconds" env:"VRF_FULFILL_DELAY_SECONDS"`
	RetryIntervalSeconds int    `yaml:"retry_interval_seconds" env:"VRF_RETRY_INTERVAL_SECONDS"`
}

// AutomationConfig controls the upkeep keeper.
type AutomationConfig struct {
	Enabled  bool   `yaml:"enabled" env:"AUTOMATION_ENABLED"`
	Schedule string `yaml:"schedule" env:"AUTOMATION_SCHEDULE"`
}

// HTTPConfig controls the API server.
type HTTPConfig struct {
	ListenAddr string  `yaml:"listen_addr" env:"HTTP_LISTEN_ADDR"`
	RateLimit  float64 `yaml:"rate_limit" env:"HTTP_RATE_LIMIT"` // requests per second per client
	Burst      int     `yaml:"burst" env:"HTTP_BURST"`
}

// StorageConfig selects the round history backend.
type StorageConfig struct {
	Driver string `yaml:"driver" env:"STORAGE_DRIVER"` // memory|postgres
	DSN    string `yaml:"dsn" env:"DATABASE_URL"`
}

// RedisConfig enables event fan-out when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	Channel  string `yaml:"channel" env:"REDIS_CHANNEL"`
}

// Default returns the local development configuration.
func Default() *Config {
	return &Config{
		Raffle: RaffleConfig{
			EntranceFee:          raffle.DefaultEntranceFee,
			IntervalSeconds:      int64(raffle.DefaultInterval / time.Second),
			KeyHash:              raffle.DefaultKeyHash,
			RequestConfirmations: raffle.DefaultRequestConfirmations,
			CallbackGasLimit:     raffle.DefaultCallbackGasLimit,
			NumWords:             raffle.DefaultNumWords,
		},
		VRF: VRFConfig{
			BaseFee:              vrf.DefaultBaseFee.String(),
			GasPriceLink:         vrf.DefaultGasPriceLink.String(),
			SubscriptionFunding:  "10000000000000000000", // 10 LINK
			AutoFulfill:          true,
			FulfillDelaySeconds:  1,
			RetryIntervalSeconds: int(vrf.DefaultRetryInterval / time.Second),
		},
		Automation: AutomationConfig{
			Enabled:  true,
			Schedule: automation.DefaultSchedule,
		},
		HTTP: HTTPConfig{
			ListenAddr: ":8080",
			RateLimit:  20,
			Burst:      40,
		},
		Storage: StorageConfig{
			Driver: "memory",
		},
		Redis: RedisConfig{
			Channel: "raffle:events",
		},
		Log: logger.LoggingConfig{
			Level:      "info",
			Format:     "text",
			FilePrefix: "raffled",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at path
// and the environment. Missing .env files are ignored.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := loadDotEnv(envFiles...); err != nil {
		return nil, err
	}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		// Variables already set in the environment win.
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if _, err := c.Raffle.ToRaffle(); err != nil {
		return err
	}
	if _, err := c.VRF.Coordinator(); err != nil {
		return err
	}
	if _, err := c.VRF.Funding(); err != nil {
		return err
	}
	switch strings.ToLower(c.Storage.Driver) {
	case "", "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage: dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage: unknown driver %q", c.Storage.Driver)
	}
	if c.HTTP.RateLimit < 0 || c.HTTP.Burst < 0 {
		return fmt.Errorf("http: rate limit and burst must not be negative")
	}
	return nil
}

// ToRaffle converts the raffle section into a raffle.Config.
func (r RaffleConfig) ToRaffle() (raffle.Config, error) {
	cfg := raffle.DefaultConfig()
	cfg.EntranceFee = r.EntranceFee
	cfg.Interval = time.Duration(r.IntervalSeconds) * time.Second
	cfg.KeyHash = r.KeyHash
	cfg.SubscriptionID = vrf.SubscriptionID(r.SubscriptionID)
	cfg.RequestConfirmations = r.RequestConfirmations
	cfg.CallbackGasLimit = r.CallbackGasLimit
	cfg.NumWords = r.NumWords
	if err := cfg.Validate(); err != nil {
		return raffle.Config{}, err
	}
	return cfg, nil
}

// Coordinator converts the vrf section into coordinator pricing.
func (v VRFConfig) Coordinator() (vrf.CoordinatorConfig, error) {
	cfg := vrf.DefaultCoordinatorConfig()
	var err error
	if cfg.BaseFee, err = parseJuels("vrf.base_fee", v.BaseFee); err != nil {
		return vrf.CoordinatorConfig{}, err
	}
	if cfg.GasPriceLink, err = parseJuels("vrf.gas_price_link", v.GasPriceLink); err != nil {
		return vrf.CoordinatorConfig{}, err
	}
	return cfg, nil
}

// Funding returns the amount deposited into a newly created subscription.
func (v VRFConfig) Funding() (*big.Int, error) {
	return parseJuels("vrf.subscription_funding", v.SubscriptionFunding)
}

// FulfillDelay returns the delay before the first delivery of a request.
func (v VRFConfig) FulfillDelay() time.Duration {
	return time.Duration(v.FulfillDelaySeconds) * time.Second
}

// RetryInterval returns the redelivery interval for failed callbacks.
func (v VRFConfig) RetryInterval() time.Duration {
	return time.Duration(v.RetryIntervalSeconds) * time.Second
}

func parseJuels(field, s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("%s: invalid amount %q", field, s)
	}
	return n, nil
}
