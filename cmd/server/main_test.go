package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bancart/internal/config"
	"bancart/internal/domain"
	boltstore "bancart/internal/store/bolt"
)

func validConfig() config.Config {
	return config.Config{
		Port:            "8080",
		TabCount:        20,
		BackupKeep:      14,
		BackupSchedule:  "@daily",
		ReportSchedule:  "55 23 * * *",
		CartIdleTimeout: 4 * time.Hour,
		StoreBackend:    config.BackendMemory,
	}
}

func TestValidateConfigAcceptsDefaults(t *testing.T) {
	assert.NoError(t, validateConfig(validConfig()))
}

func TestValidateConfigRejectsBadValues(t *testing.T) {
	cases := map[string]func(*config.Config){
		"zero tabs":       func(c *config.Config) { c.TabCount = 0 },
		"too many tabs":   func(c *config.Config) { c.TabCount = maxTabCount + 1 },
		"negative stock":  func(c *config.Config) { c.LowStockThreshold = -1 },
		"keep zero":       func(c *config.Config) { c.BackupKeep = 0 },
		"no idle timeout": func(c *config.Config) { c.CartIdleTimeout = 0 },
		"bad backend":     func(c *config.Config) { c.StoreBackend = "sqlite" },
		"bad backup cron": func(c *config.Config) { c.BackupSchedule = "whenever" },
		"bad report cron": func(c *config.Config) { c.ReportSchedule = "99 99 * * *" },
		"bad timezone":    func(c *config.Config) { c.Timezone = "Nowhere/Land" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			assert.Error(t, validateConfig(cfg))
		})
	}
}

func TestOpenBackendMemory(t *testing.T) {
	be, err := openBackend(context.Background(), validConfig())
	require.NoError(t, err)
	defer be.close()

	products, err := be.repo.ListProducts(context.Background())
	require.NoError(t, err)
	assert.Len(t, products, 8)
	assert.Nil(t, be.snapshot)
}

func TestOpenBackendBolt(t *testing.T) {
	cfg := validConfig()
	cfg.StoreBackend = config.BackendBolt
	cfg.BoltPath = filepath.Join(t.TempDir(), "data", "bancart.db")

	be, err := openBackend(context.Background(), cfg)
	require.NoError(t, err)
	defer be.close()

	assert.NotNil(t, be.snapshot)
	assert.NoError(t, be.pinger.Ping(context.Background()))
}

func TestNewSchedulerRegistersJobs(t *testing.T) {
	cfg := validConfig()
	cfg.StoreBackend = config.BackendBolt
	cfg.BoltPath = filepath.Join(t.TempDir(), "bancart.db")
	be, err := openBackend(context.Background(), cfg)
	require.NoError(t, err)
	defer be.close()

	sched, err := newScheduler(cfg, time.UTC, be, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, sched.Len())

	memCfg := validConfig()
	memBackend, err := openBackend(context.Background(), memCfg)
	require.NoError(t, err)
	sched, err = newScheduler(memCfg, time.UTC, memBackend, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, sched.Len())
}

func setEnv(t *testing.T, env map[string]string) {
	t.Helper()
	for key, value := range env {
		t.Setenv(key, value)
	}
}

// runApp runs the CLI with args and returns what it printed.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	err := app.Run(append([]string{"bancart"}, args...))
	return out.String(), err
}

func TestReportCommandPrintsToStdout(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "bancart.db")

	db, err := boltstore.Open(dbPath)
	require.NoError(t, err)
	ctx := context.Background()
	p, err := db.CreateProduct(ctx, domain.Product{Name: "Espresso", PriceCents: 450, Stock: 10})
	require.NoError(t, err)
	_, err = db.CreateCounterSale(ctx, []domain.CounterSaleLine{{ProductID: p.ID, Qty: 3}}, "CASH",
		time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	setEnv(t, map[string]string{
		"BANCART_STORE_BACKEND": "bolt",
		"BANCART_BOLT_PATH":     dbPath,
		"BANCART_TIMEZONE":      "UTC",
		"BANCART_REPORT_DIR":    filepath.Join(dir, "reports"),
	})

	out, err := runApp(t, "report", "--date", "2024-05-10", "--stdout")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "=== SALES REPORT: 2024-05-10 ==="))
	assert.Contains(t, out, "DAY TOTAL: $ 13.50")

	out, err = runApp(t, "report", "--date", "2024-05-10")
	require.NoError(t, err)
	path := strings.TrimSpace(out)
	assert.Equal(t, filepath.Join(dir, "reports", "Report_2024-05-10.txt"), path)
	_, err = os.Stat(path)
	assert.NoError(t, err)

	_, err = runApp(t, "report", "--date", "2024-05-11")
	assert.Error(t, err)
}

func TestBackupCommand(t *testing.T) {
	dir := t.TempDir()
	setEnv(t, map[string]string{
		"BANCART_STORE_BACKEND": "bolt",
		"BANCART_BOLT_PATH":     filepath.Join(dir, "bancart.db"),
		"BANCART_BACKUP_DIR":    filepath.Join(dir, "backups"),
	})

	out, err := runApp(t, "backup")
	require.NoError(t, err)

	path := strings.TrimSpace(out)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "backup_"))
	_, err = os.Stat(path)
	assert.NoError(t, err)

	t.Setenv("BANCART_STORE_BACKEND", "memory")
	_, err = runApp(t, "backup")
	assert.Error(t, err)
}
