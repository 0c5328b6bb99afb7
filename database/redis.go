// Package database connects picker hosts to the Redis instance they share
// for geocode rate limiting.
package database

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/mycobrun/cobrun-picker/logging"
)

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host        string
	Port        int
	Password    string
	DB          int
	TLSEnabled  bool
	PoolSize    int
	MinIdleConn int

	// Retry governs the connection check at startup.
	Retry RetryConfig
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Port:        6380, // Azure Redis uses 6380 for TLS
		TLSEnabled:  true,
		PoolSize:    20,
		MinIdleConn: 2,
		Retry:       DefaultRetryConfig(),
	}
}

// Addr returns host:port.
func (c RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Options converts the config to go-redis options.
func (c RedisConfig) Options() *redis.Options {
	opts := &redis.Options{
		Addr:         c.Addr(),
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConn,
	}
	if c.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: c.Host,
		}
	}
	return opts
}

// NewRedisClient creates a client and waits until Redis answers a PING,
// retrying transient failures. The client is closed if it never does.
func NewRedisClient(ctx context.Context, config RedisConfig, logger *logging.Logger) (*redis.Client, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("redis host is required")
	}
	if logger == nil {
		logger = logging.Discard()
	}

	client := redis.NewClient(config.Options())

	attempt := 0
	err := Retry(ctx, config.Retry, func() error {
		attempt++
		err := client.Ping(ctx).Err()
		if err != nil {
			logger.WarnContext(ctx, "redis ping failed",
				"addr", config.Addr(),
				"attempt", attempt,
				"error", err)
		}
		return err
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Addr(), err)
	}

	logger.InfoContext(ctx, "redis connected", "addr", config.Addr(), "tls", config.TLSEnabled)
	return client, nil
}
