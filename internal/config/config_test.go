package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORAGE", "memory")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 10*time.Minute, cfg.HoldTTL)
	assert.Equal(t, 168*time.Hour, cfg.WalletHoldPeriod)
	assert.Equal(t, 24*time.Hour, cfg.CancellationWindow)
	assert.Equal(t, "0.10", cfg.PlatformFeeRate)
	assert.Equal(t, int64(100), cfg.MinWithdrawalMinor)
	assert.Equal(t, "INR", cfg.DefaultCurrency)
	assert.Equal(t, "@every 30s", cfg.SweepSchedule)
	assert.Equal(t, 10*time.Minute, cfg.PayoutRetryAfter)
	assert.Equal(t, 72*time.Hour, cfg.PayoutFailAfter)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL())
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTTL())
	assert.True(t, cfg.Cache.Methods["GET"])
	assert.Equal(t, 60, cfg.RateLimit.Capacity)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STORAGE", "memory")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("HOLD_TTL", "90s")
	t.Setenv("SWEEP_BATCH", "5")
	t.Setenv("RATE_LIMIT_BURST", "7")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6380")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.HoldTTL)
	assert.Equal(t, 5, cfg.SweepBatch)
	assert.Equal(t, 7, cfg.RateLimit.Capacity)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
}

func TestLoad_MySQLRequiresCredentials(t *testing.T) {
	t.Setenv("STORAGE", "mysql")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DB_USER", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_USER")
}

func TestLoad_RejectsUnknownStorage(t *testing.T) {
	t.Setenv("STORAGE", "mongo")
	t.Setenv("JWT_SECRET", "s3cret")

	_, err := Load()
	require.Error(t, err)
}
