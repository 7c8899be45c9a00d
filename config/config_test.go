package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DEV_MODE", "true")
	t.Setenv("JWT_SECRET", "c2VjcmV0")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("HOST_PORT", "")
	t.Setenv("ALLOWED_ORIGINS", "")
	t.Setenv("SESSION_WRITE_TIMEOUT_MS", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.DevMode)
	assert.Equal(t, BackendSQLite, cfg.StoreBackend)
	assert.Equal(t, defaultHostPort, cfg.HostPort)
	assert.Equal(t, []string{defaultAllowedOrigin}, cfg.AllowedOrigins)
	assert.Equal(t, []byte("secret"), cfg.JWTSecret)
	assert.Equal(t, 5*time.Second, cfg.SessionWriteTimeout)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("DEV_MODE", "false")
	t.Setenv("JWT_SECRET", "c2VjcmV0")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("SESSION_WRITE_TIMEOUT_MS", "250")
	t.Setenv("SESSION_QUEUE_SIZE", "not-a-number")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, BackendDynamo, cfg.StoreBackend)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 250*time.Millisecond, cfg.SessionWriteTimeout)
	assert.Equal(t, defaultSessionQueueSize, cfg.SessionQueueSize)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "%%%")
	_, err = LoadConfig()
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "c2VjcmV0")
	t.Setenv("STORE_BACKEND", "postgres")
	_, err = LoadConfig()
	assert.Error(t, err)
}
