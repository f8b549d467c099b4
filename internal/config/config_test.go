package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Address)
	assert.Equal(t, DriverBolt, cfg.Store.Driver)
	assert.Equal(t, "limitpaste.db", cfg.Store.Path)
	assert.Equal(t, 5*time.Second, cfg.Store.Timeout)
	assert.Equal(t, 1<<20, cfg.MaxBytes)
	assert.Equal(t, []string{"*"}, cfg.HTTP.CORSOrigins)
	assert.False(t, cfg.TestMode)
	assert.Empty(t, cfg.HTTP.BaseURL)
}

func TestLoadFromPrefixedEnv(t *testing.T) {
	t.Setenv("LIMITPASTE_STORE_DRIVER", "Redis")
	t.Setenv("LIMITPASTE_STORE_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("LIMITPASTE_PASTE_MAX_BYTES", "2048")
	t.Setenv("LIMITPASTE_HTTP_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LIMITPASTE_STORE_TIMEOUT", "750ms")

	cfg, err := Load(NewViper())
	require.NoError(t, err)
	assert.Equal(t, DriverRedis, cfg.Store.Driver)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Store.RedisURL)
	assert.Equal(t, 2048, cfg.MaxBytes)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, 750*time.Millisecond, cfg.Store.Timeout)
}

func TestLoadLegacyEnv(t *testing.T) {
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")
	t.Setenv("LIMITPASTE_STORE_DRIVER", "mongo")
	t.Setenv("APP_URL", "paste.example.com/")
	t.Setenv("FRONTEND_URL", "http://localhost:5173/")
	t.Setenv("TEST_MODE", "1")
	t.Setenv("PORT", "5000")

	cfg, err := Load(NewViper())
	require.NoError(t, err)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Store.MongoURI)
	assert.Empty(t, cfg.Store.MongoDatabase, "database comes from the uri unless set")
	assert.Equal(t, "https://paste.example.com", cfg.HTTP.BaseURL)
	assert.Equal(t, "http://localhost:5173", cfg.HTTP.FrontendURL)
	assert.True(t, cfg.TestMode)
	assert.Equal(t, ":5000", cfg.HTTP.Address)
}

func TestPrefixedEnvBeatsLegacy(t *testing.T) {
	t.Setenv("APP_URL", "https://legacy.example")
	t.Setenv("LIMITPASTE_HTTP_BASE_URL", "https://new.example")

	cfg, err := Load(NewViper())
	require.NoError(t, err)
	assert.Equal(t, "https://new.example", cfg.HTTP.BaseURL)
}

func TestValidate(t *testing.T) {
	cases := map[string]map[string]any{
		"unknown driver":    {"store.driver": "cassandra"},
		"mongo without uri": {"store.driver": DriverMongo},
		"redis without url": {"store.driver": DriverRedis},
		"empty bolt path":   {"store.path": " "},
		"zero max bytes":    {"paste.max_bytes": 0},
		"zero timeout":      {"store.timeout": "0s"},
		"bad base url":      {"http.base_url": "https://"},
		"empty address":     {"http.address": ""},
	}
	for name, overrides := range cases {
		t.Run(name, func(t *testing.T) {
			v := NewViper()
			for k, val := range overrides {
				v.Set(k, val)
			}
			_, err := Load(v)
			assert.Error(t, err)
		})
	}
}

func TestMemoryDriverNeedsNothing(t *testing.T) {
	v := NewViper()
	v.Set("store.driver", DriverMemory)
	v.Set("store.path", "")
	_, err := Load(v)
	assert.NoError(t, err)
}

func TestLoadDotEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, ".env.local")
	shared := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(local, []byte("LIMITPASTE_DOTENV_A=local\n"), 0o600))
	require.NoError(t, os.WriteFile(shared, []byte("LIMITPASTE_DOTENV_A=shared\nLIMITPASTE_DOTENV_B=shared\n"), 0o600))
	t.Setenv("LIMITPASTE_DOTENV_A", "")
	t.Setenv("LIMITPASTE_DOTENV_B", "")
	os.Unsetenv("LIMITPASTE_DOTENV_A")
	os.Unsetenv("LIMITPASTE_DOTENV_B")

	require.NoError(t, LoadDotEnv(local, filepath.Join(dir, "missing.env"), shared))
	assert.Equal(t, "local", os.Getenv("LIMITPASTE_DOTENV_A"))
	assert.Equal(t, "shared", os.Getenv("LIMITPASTE_DOTENV_B"))
}
