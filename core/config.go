package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultServiceName     = "donations"
	defaultDonationAmount  = "1000"
	defaultPendingGrantTTL = time.Hour
	defaultPurgeInterval   = 5 * time.Minute
)

type Config struct {
	ServiceName           string `koanf:"service_name" mapstructure:"service_name"`
	DefaultAmount         string `koanf:"default_amount" mapstructure:"default_amount"`
	DefaultReceiverWallet string `koanf:"default_receiver_wallet" mapstructure:"default_receiver_wallet"`
	CorrelationKeyMode    string `koanf:"correlation_key_mode" mapstructure:"correlation_key_mode"`
	PendingGrantTTL       string `koanf:"pending_grant_ttl" mapstructure:"pending_grant_ttl"`
	PurgeInterval         string `koanf:"purge_interval" mapstructure:"purge_interval"`
	InteractFinishURI     string `koanf:"interact_finish_uri" mapstructure:"interact_finish_uri"`
	// DiscardOnIncomplete drops the pending record when continuation reports
	// the grant is still pending, instead of storing the refreshed handle.
	DiscardOnIncomplete bool `koanf:"discard_on_incomplete" mapstructure:"discard_on_incomplete"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:        defaultServiceName,
		DefaultAmount:      defaultDonationAmount,
		CorrelationKeyMode: string(CorrelationKeyWallet),
		PendingGrantTTL:    defaultPendingGrantTTL.String(),
		PurgeInterval:      defaultPurgeInterval.String(),
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if _, err := ParseMinorUnits(c.DefaultAmount); err != nil {
		return fmt.Errorf("core: default_amount is invalid: %w", err)
	}
	switch c.KeyMode() {
	case CorrelationKeyWallet, CorrelationKeyFlow:
	default:
		return fmt.Errorf("core: correlation_key_mode %q is invalid", c.CorrelationKeyMode)
	}
	if _, err := parseOptionalDuration(c.PendingGrantTTL); err != nil {
		return fmt.Errorf("core: pending_grant_ttl is invalid: %w", err)
	}
	if _, err := parseOptionalDuration(c.PurgeInterval); err != nil {
		return fmt.Errorf("core: purge_interval is invalid: %w", err)
	}
	return nil
}

func (c Config) KeyMode() CorrelationKeyMode {
	mode := strings.TrimSpace(strings.ToLower(c.CorrelationKeyMode))
	if mode == "" {
		return CorrelationKeyWallet
	}
	return CorrelationKeyMode(mode)
}

func (c Config) PendingGrantTTLDuration() time.Duration {
	ttl, err := parseOptionalDuration(c.PendingGrantTTL)
	if err != nil || ttl <= 0 {
		return defaultPendingGrantTTL
	}
	return ttl
}

func (c Config) PurgeIntervalDuration() time.Duration {
	interval, err := parseOptionalDuration(c.PurgeInterval)
	if err != nil || interval <= 0 {
		return defaultPurgeInterval
	}
	return interval
}

func parseOptionalDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if duration < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", value)
	}
	return duration, nil
}
