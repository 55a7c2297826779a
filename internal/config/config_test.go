package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HTTP_PORT", "")
	t.Setenv("BACKEND_URL", "")
	t.Setenv("REQUEST_TIMEOUT_MS", "")

	cfg := Load()
	assert.Equal(t, 8000, cfg.HTTPPort)
	assert.Equal(t, "http://localhost:8000/api", cfg.BackendURL)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.False(t, cfg.UsesFixture())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9100")
	t.Setenv("BACKEND_URL", "Fixture")
	t.Setenv("SEED_DEMO", "false")
	t.Setenv("REQUEST_TIMEOUT_MS", "250")
	t.Setenv("UI_PORT", "not-a-number")

	cfg := Load()
	assert.Equal(t, 9100, cfg.HTTPPort)
	assert.Equal(t, 8001, cfg.UIPort)
	assert.True(t, cfg.UsesFixture())
	assert.False(t, cfg.SeedDemo)
	assert.Equal(t, 250*time.Millisecond, cfg.RequestTimeout)
}
