package database

import (
	"context"
	"crypto/tls"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRedisConfig(t *testing.T) {
	c := DefaultRedisConfig()
	assert.Equal(t, 6380, c.Port)
	assert.True(t, c.TLSEnabled)
	assert.Equal(t, 20, c.PoolSize)
}

func TestRedisConfig_Options(t *testing.T) {
	c := DefaultRedisConfig()
	c.Host = "picker.redis.cache.windows.net"
	c.Password = "secret"
	c.DB = 2

	opts := c.Options()
	assert.Equal(t, "picker.redis.cache.windows.net:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	require.NotNil(t, opts.TLSConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), opts.TLSConfig.MinVersion)
	assert.Equal(t, "picker.redis.cache.windows.net", opts.TLSConfig.ServerName)

	c.TLSEnabled = false
	assert.Nil(t, c.Options().TLSConfig)
}

func TestRedisConfig_AddrIPv6(t *testing.T) {
	c := RedisConfig{Host: "::1", Port: 6379}
	assert.Equal(t, "[::1]:6379", c.Addr())
}

func TestNewRedisClient_RequiresHost(t *testing.T) {
	_, err := NewRedisClient(context.Background(), RedisConfig{}, nil)
	assert.Error(t, err)
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	c := RedisConfig{Host: "127.0.0.1", Port: 1, Retry: quickRetry(1)}

	client, err := NewRedisClient(context.Background(), c, nil)
	require.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
}
