package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsetEnv clears keys for the test; a variable set to "" still counts as
// present to envconfig.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadDefaults(t *testing.T) {
	unsetEnv(t, "PORT", "BANCART_PORT", "DATABASE_URL", "BANCART_DATABASE_URL", "STORE_BACKEND", "BANCART_STORE_BACKEND",
		"TAB_COUNT", "BANCART_TAB_COUNT", "LOW_STOCK_THRESHOLD", "BANCART_LOW_STOCK_THRESHOLD", "CATALOG_CACHE_TTL",
		"BANCART_CATALOG_CACHE_TTL", "BACKUP_SCHEDULE", "BANCART_BACKUP_SCHEDULE", "REPORT_SCHEDULE", "BANCART_REPORT_SCHEDULE")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, 20, cfg.TabCount)
	assert.Equal(t, 5, cfg.LowStockThreshold)
	assert.Equal(t, 2*time.Second, cfg.CatalogCacheTTL)
	assert.Equal(t, "@daily", cfg.BackupSchedule)
	assert.Equal(t, "55 23 * * *", cfg.ReportSchedule)
	assert.Equal(t, BackendBolt, cfg.Backend())
}

func TestLoadPrefixedWinsOverBare(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("BANCART_PORT", "9100")
	unsetEnv(t, "BANCART_TAB_COUNT")
	t.Setenv("TAB_COUNT", "12")
	t.Setenv("BANCART_CATALOG_CACHE_TTL", "500ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, 12, cfg.TabCount)
	assert.Equal(t, 500*time.Millisecond, cfg.CatalogCacheTTL)
}

func TestBackendSelection(t *testing.T) {
	assert.Equal(t, BackendPostgres, Config{DatabaseURL: "postgres://localhost/bancart"}.Backend())
	assert.Equal(t, BackendMemory, Config{StoreBackend: BackendMemory, DatabaseURL: "postgres://x"}.Backend())
	assert.Equal(t, BackendBolt, Config{}.Backend())
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("BANCART_TAB_COUNT", "twenty")

	_, err := Load()
	assert.Error(t, err)
}

func TestLocation(t *testing.T) {
	loc, err := Config{}.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	loc, err = Config{Timezone: "UTC"}.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())

	_, err = Config{Timezone: "Mars/Olympus"}.Location()
	assert.Error(t, err)
}
