package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":3000", cfg.ServerAddr)
	assert.Equal(t, BidModeQueue, cfg.BidMode)
	assert.Equal(t, 5*time.Second, cfg.CloseInterval)
	assert.Equal(t, 20, cfg.CloseBatch)
	assert.Equal(t, 30*time.Second, cfg.StaleClosing)
	assert.Equal(t, 10, cfg.Prefetch)
	assert.Equal(t, 3, cfg.MaxConnsPerIP)
	assert.Equal(t, 3, cfg.MaxConnsPerUser)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":9999")
	t.Setenv("BID_MODE", BidModeSync)
	t.Setenv("CLOSE_INTERVAL", "10s")
	t.Setenv("CLOSE_BATCH", "50")
	t.Setenv("CONSUMER_PREFETCH", "1")

	cfg := Load()

	assert.Equal(t, ":9999", cfg.ServerAddr)
	assert.Equal(t, BidModeSync, cfg.BidMode)
	assert.Equal(t, 10*time.Second, cfg.CloseInterval)
	assert.Equal(t, 50, cfg.CloseBatch)
	assert.Equal(t, 1, cfg.Prefetch)
}

func TestGetEnvIntBadValueFallsBack(t *testing.T) {
	t.Setenv("CLOSE_BATCH", "lots")
	assert.Equal(t, 20, Load().CloseBatch)
}

func TestGetEnvDurationBadValueFallsBack(t *testing.T) {
	t.Setenv("CLOSE_INTERVAL", "soon")
	assert.Equal(t, 5*time.Second, Load().CloseInterval)
}
