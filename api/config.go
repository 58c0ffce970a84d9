package api

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultAddress         = ":8080"
	defaultShutdownTimeout = 10 * time.Second
	defaultBodyLimit       = "64K"
)

type Config struct {
	Address         string   `koanf:"address" json:"address"`
	AllowedOrigins  []string `koanf:"allowed_origins" json:"allowed_origins"`
	ShutdownTimeout string   `koanf:"shutdown_timeout" json:"shutdown_timeout"`
	BodyLimit       string   `koanf:"body_limit" json:"body_limit"`
}

func DefaultConfig() Config {
	return Config{
		Address:         defaultAddress,
		AllowedOrigins:  []string{"*"},
		ShutdownTimeout: defaultShutdownTimeout.String(),
		BodyLimit:       defaultBodyLimit,
	}
}

func (c Config) normalized() (Config, error) {
	defaults := DefaultConfig()
	c.Address = strings.TrimSpace(c.Address)
	if c.Address == "" {
		c.Address = defaults.Address
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = defaults.AllowedOrigins
	}
	c.BodyLimit = strings.TrimSpace(c.BodyLimit)
	if c.BodyLimit == "" {
		c.BodyLimit = defaults.BodyLimit
	}
	if strings.TrimSpace(c.ShutdownTimeout) == "" {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if _, err := c.shutdownTimeout(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) shutdownTimeout() (time.Duration, error) {
	value := strings.TrimSpace(c.ShutdownTimeout)
	if value == "" {
		return defaultShutdownTimeout, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("api: invalid shutdown timeout %q", c.ShutdownTimeout)
	}
	return parsed, nil
}
