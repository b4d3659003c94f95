package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDSN = "postgres://u:p@db:5432/consult?sslmode=disable"

func TestPoolConfigDefaults(t *testing.T) {
	cfg, err := poolConfig(testDSN, PoolOptions{})
	require.NoError(t, err)

	assert.Equal(t, int32(20), cfg.MaxConns)
	assert.Equal(t, int32(2), cfg.MinConns)
	assert.Equal(t, time.Hour, cfg.MaxConnLifetime)
	assert.Equal(t, 15*time.Minute, cfg.MaxConnIdleTime)
	assert.Equal(t, 30*time.Second, cfg.HealthCheckPeriod)
}

func TestPoolConfigOverrides(t *testing.T) {
	cfg, err := poolConfig(testDSN, PoolOptions{
		MaxConns:        50,
		MinConns:        5,
		MaxConnLifetime: 10 * time.Minute,
		MaxConnIdleTime: time.Minute,
	})
	require.NoError(t, err)

	assert.Equal(t, int32(50), cfg.MaxConns)
	assert.Equal(t, int32(5), cfg.MinConns)
	assert.Equal(t, 10*time.Minute, cfg.MaxConnLifetime)
	assert.Equal(t, time.Minute, cfg.MaxConnIdleTime)
	assert.Equal(t, "db", cfg.ConnConfig.Host)
}

func TestPoolConfigRejects(t *testing.T) {
	_, err := poolConfig(testDSN, PoolOptions{MaxConns: 4, MinConns: 8})
	assert.ErrorContains(t, err, "exceeds max conns")

	_, err = poolConfig("postgres://u:p@db:notaport/consult", PoolOptions{})
	assert.ErrorContains(t, err, "parse postgres dsn")
}
