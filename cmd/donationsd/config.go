package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goliatone/go-donations/api"
	"github.com/goliatone/go-donations/core"
	"github.com/goliatone/go-donations/openpayments"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const (
	envPrefix      = "DONATIONS_"
	envNestingSep  = "__"
	configDelim    = "."
	configFileFlag = "config"
	listSeparator  = ","
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreRedis    = "redis"
)

const (
	PurgeModeJanitor = "janitor"
	PurgeModeJob     = "job"
)

type AppConfig struct {
	Donations    core.Config         `koanf:"donations"`
	OpenPayments openpayments.Config `koanf:"openpayments"`
	HTTP         api.Config          `koanf:"http"`
	Store        StoreConfig         `koanf:"store"`
	Purge        PurgeConfig         `koanf:"purge"`
	Security     SecurityConfig      `koanf:"security"`
	Log          LogConfig           `koanf:"log"`
	Metrics      MetricsConfig       `koanf:"metrics"`
}

type StoreConfig struct {
	Driver     string `koanf:"driver"`
	DSN        string `koanf:"dsn"`
	Migrate    bool   `koanf:"migrate"`
	RedisAddr  string `koanf:"redis_addr"`
	RedisDB    int    `koanf:"redis_db"`
	RedisPass  string `koanf:"redis_password"`
	KeyPrefix  string `koanf:"key_prefix"`
	MaxEntries int    `koanf:"max_entries"`
}

// PurgeConfig picks how expired pending grants are cleaned up. The janitor
// runs inside each process; job mode schedules go-job purge jobs on a redis
// queue at store.redis_addr so one replica handles each tick.
type PurgeConfig struct {
	Mode         string `koanf:"mode"`
	QueuePrefix  string `koanf:"queue_prefix"`
	PollInterval string `koanf:"poll_interval"`
	RetryDelay   string `koanf:"retry_delay"`
	MaxAttempts  int    `koanf:"max_attempts"`
}

func (c PurgeConfig) ModeName() string {
	mode := strings.ToLower(strings.TrimSpace(c.Mode))
	if mode == "" {
		return PurgeModeJanitor
	}
	return mode
}

func (c PurgeConfig) PollIntervalDuration() time.Duration {
	return parseDurationOr(c.PollInterval, time.Second)
}

func (c PurgeConfig) RetryDelayDuration() time.Duration {
	return parseDurationOr(c.RetryDelay, 30*time.Second)
}

func (c PurgeConfig) Validate() error {
	switch c.ModeName() {
	case PurgeModeJanitor, PurgeModeJob:
	default:
		return fmt.Errorf("config: purge.mode %q is not supported", c.Mode)
	}
	for name, raw := range map[string]string{"poll_interval": c.PollInterval, "retry_delay": c.RetryDelay} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if d, err := time.ParseDuration(strings.TrimSpace(raw)); err != nil || d <= 0 {
			return fmt.Errorf("config: purge.%s %q must be a positive duration", name, raw)
		}
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("config: purge.max_attempts must not be negative")
	}
	return nil
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

type KeyConfig struct {
	ID        string `koanf:"id"`
	Material  string `koanf:"material"`
	Version   int    `koanf:"version"`
	NotBefore string `koanf:"not_before"`
	NotAfter  string `koanf:"not_after"`
}

// SecurityConfig holds the keys that seal continuation tokens at rest. The
// active key seals; retired keys only open.
type SecurityConfig struct {
	Active  KeyConfig   `koanf:"active"`
	Retired []KeyConfig `koanf:"retired"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Namespace string `koanf:"namespace"`
}

func DefaultAppConfig() AppConfig {
	return AppConfig{
		Donations: core.DefaultConfig(),
		HTTP:      api.DefaultConfig(),
		Store: StoreConfig{
			Driver:    StoreMemory,
			Migrate:   true,
			RedisAddr: "localhost:6379",
			KeyPrefix: "donations",
		},
		Purge: PurgeConfig{
			Mode:         PurgeModeJanitor,
			QueuePrefix:  "donations:jobs",
			PollInterval: "1s",
			RetryDelay:   "30s",
			MaxAttempts:  5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "donations",
		},
	}
}

func (c AppConfig) Validate() error {
	if err := c.Donations.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.OpenPayments.ClientWalletAddress) == "" {
		return fmt.Errorf("config: openpayments.client_wallet_address is required")
	}
	switch c.StoreDriver() {
	case StoreMemory, StoreRedis:
	case StorePostgres, StoreSQLite:
		if strings.TrimSpace(c.Store.DSN) == "" {
			return fmt.Errorf("config: store.dsn is required for the %s driver", c.StoreDriver())
		}
	default:
		return fmt.Errorf("config: store.driver %q is not supported", c.Store.Driver)
	}
	if c.StoreDriver() != StoreMemory && strings.TrimSpace(c.Security.Active.Material) == "" {
		return fmt.Errorf("config: security.active.material is required for durable stores")
	}
	if err := c.Purge.Validate(); err != nil {
		return err
	}
	if c.Purge.ModeName() == PurgeModeJob && strings.TrimSpace(c.Store.RedisAddr) == "" {
		return fmt.Errorf("config: store.redis_addr is required for purge.mode %q", PurgeModeJob)
	}
	return nil
}

func (c AppConfig) StoreDriver() string {
	driver := strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if driver == "" {
		return StoreMemory
	}
	return driver
}

// Redacted masks secrets so the config can be printed.
func (c AppConfig) Redacted() AppConfig {
	out := c
	out.Security.Active.Material = mask(c.Security.Active.Material)
	out.Security.Retired = make([]KeyConfig, len(c.Security.Retired))
	for i, key := range c.Security.Retired {
		key.Material = mask(key.Material)
		out.Security.Retired[i] = key
	}
	out.Store.DSN = mask(c.Store.DSN)
	out.Store.RedisPass = mask(c.Store.RedisPass)
	return out
}

func mask(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "****"
}

// LoadConfig layers defaults, the optional yaml file, DONATIONS_ environment
// variables and explicitly set flags, in that order.
func LoadConfig(flags *pflag.FlagSet) (AppConfig, error) {
	k := koanf.New(configDelim)
	if err := k.Load(structs.Provider(DefaultAppConfig(), "koanf"), nil); err != nil {
		return AppConfig{}, fmt.Errorf("config: load defaults: %w", err)
	}
	if err := loadFromFile(k, configFilePath(flags)); err != nil {
		return AppConfig{}, err
	}
	if err := loadFromEnv(k); err != nil {
		return AppConfig{}, err
	}
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, configDelim, k), nil); err != nil {
			return AppConfig{}, fmt.Errorf("config: load flags: %w", err)
		}
	}

	var cfg AppConfig
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return AppConfig{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func configFilePath(flags *pflag.FlagSet) string {
	if flags != nil {
		if path, err := flags.GetString(configFileFlag); err == nil && strings.TrimSpace(path) != "" {
			return path
		}
	}
	return os.Getenv(envPrefix + "CONFIG")
}

func loadFromFile(k *koanf.Koanf, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// loadFromEnv maps DONATIONS_STORE__DRIVER to store.driver. Single
// underscores stay inside key names.
func loadFromEnv(k *koanf.Koanf) error {
	provider := env.ProviderWithValue(envPrefix, configDelim, func(rawKey string, rawValue string) (string, any) {
		key := strings.ToLower(strings.TrimPrefix(rawKey, envPrefix))
		if key == "config" {
			return "", nil
		}
		key = strings.ReplaceAll(key, envNestingSep, configDelim)
		if strings.Contains(rawValue, listSeparator) && strings.HasSuffix(key, "allowed_origins") {
			values := strings.Split(rawValue, listSeparator)
			for i, value := range values {
				values[i] = strings.TrimSpace(value)
			}
			return key, values
		}
		return key, rawValue
	})
	if err := k.Load(provider, nil); err != nil {
		return fmt.Errorf("config: load env: %w", err)
	}
	return nil
}
