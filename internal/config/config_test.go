package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{
		"LEDGER_ENV", "LEDGER_DB_DSN", "LEDGER_DB_MIGRATE", "LEDGER_DB_MAX_CONNS",
		"LEDGER_HTTP_ADDR", "LEDGER_HTTP_MAX_INFLIGHT", "LEDGER_REDIS_ADDR", "LEDGER_REDIS_CHANNEL", "LEDGER_SEED_FILE",
	} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.False(t, cfg.DBMigrate)
	assert.Equal(t, 64, cfg.HTTPMaxInflight)
	assert.GreaterOrEqual(t, cfg.DBMaxConns, 4)
	assert.LessOrEqual(t, cfg.DBMaxConns, 50)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, "ledger.transfers", cfg.RedisChannel)
	assert.Empty(t, cfg.SeedFile)
	assert.False(t, cfg.UseMemoryStore())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LEDGER_ENV", "DEV")
	t.Setenv("LEDGER_DB_DSN", MemoryDSN)
	t.Setenv("LEDGER_DB_MIGRATE", "1")
	t.Setenv("LEDGER_DB_MAX_CONNS", "7")
	t.Setenv("LEDGER_HTTP_MAX_INFLIGHT", "-3")
	t.Setenv("LEDGER_REDIS_ADDR", "localhost:6379")

	cfg := Load()
	assert.True(t, cfg.IsDev())
	assert.True(t, cfg.UseMemoryStore())
	assert.True(t, cfg.DBMigrate)
	assert.Equal(t, 7, cfg.DBMaxConns)
	assert.Equal(t, 64, cfg.HTTPMaxInflight)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestLoad_FromDotEnv(t *testing.T) {
	t.Setenv("LEDGER_HTTP_ADDR", "")
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("LEDGER_HTTP_ADDR=:9090\n"), 0o600))

	// godotenv never overrides variables that are already set, and t.Setenv("")
	// counts as set, so clear it for the duration of the test.
	require.NoError(t, os.Unsetenv("LEDGER_HTTP_ADDR"))
	require.NoError(t, godotenv.Load(path))
	t.Cleanup(func() { _ = os.Unsetenv("LEDGER_HTTP_ADDR") })

	assert.Equal(t, ":9090", Load().HTTPAddr)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 4, clamp(1, 4, 50))
	assert.Equal(t, 50, clamp(80, 4, 50))
	assert.Equal(t, 16, clamp(16, 4, 50))
}
