package openpayments

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-donations/core"
)

const (
	defaultRequestTimeout      = 15 * time.Second
	defaultWalletRetryAttempts = 3
	defaultWalletRetryDelay    = 200 * time.Millisecond
	defaultMaxResponseBytes    = 1 << 20
)

// Config describes how the client identifies itself to authorization servers
// and how patient it is with wallet address lookups.
type Config struct {
	ClientWalletAddress  string `koanf:"client_wallet_address" json:"client_wallet_address"`
	RequestTimeout       string `koanf:"request_timeout" json:"request_timeout"`
	WalletRetryAttempts  uint   `koanf:"wallet_retry_attempts" json:"wallet_retry_attempts"`
	WalletRetryDelay     string `koanf:"wallet_retry_delay" json:"wallet_retry_delay"`
	MaxResponseBodyBytes int64  `koanf:"max_response_body_bytes" json:"max_response_body_bytes"`
}

func (c Config) normalized() (Config, error) {
	out := c
	client, err := core.NormalizeWalletAddress(c.ClientWalletAddress)
	if err != nil {
		return Config{}, fmt.Errorf("openpayments: client wallet address: %w", err)
	}
	out.ClientWalletAddress = client
	if out.WalletRetryAttempts == 0 {
		out.WalletRetryAttempts = defaultWalletRetryAttempts
	}
	if out.MaxResponseBodyBytes <= 0 {
		out.MaxResponseBodyBytes = defaultMaxResponseBytes
	}
	if _, err := parseDuration(out.RequestTimeout, defaultRequestTimeout); err != nil {
		return Config{}, fmt.Errorf("openpayments: request_timeout: %w", err)
	}
	if _, err := parseDuration(out.WalletRetryDelay, defaultWalletRetryDelay); err != nil {
		return Config{}, fmt.Errorf("openpayments: wallet_retry_delay: %w", err)
	}
	return out, nil
}

func (c Config) requestTimeout() time.Duration {
	d, _ := parseDuration(c.RequestTimeout, defaultRequestTimeout)
	return d
}

func (c Config) walletRetryDelay() time.Duration {
	d, _ := parseDuration(c.WalletRetryDelay, defaultWalletRetryDelay)
	return d
}

func parseDuration(raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", raw)
	}
	return d, nil
}
