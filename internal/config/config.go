package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

const envPrefix = "BANCART"

const (
	BackendAuto     = ""
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

// Config is read from the environment. Every key can be given with the
// BANCART_ prefix (BANCART_PORT) or bare (PORT); the prefixed form wins.
type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`

	// StoreBackend picks memory, bolt or postgres. Left empty, postgres is used
	// when DATABASE_URL is set and the bolt file otherwise.
	StoreBackend string `envconfig:"STORE_BACKEND"`
	DatabaseURL  string `envconfig:"DATABASE_URL"`
	BoltPath     string `envconfig:"BOLT_PATH" default:"data/bancart.db"`

	RedisAddr       string        `envconfig:"REDIS_ADDR"`
	RedisPassword   string        `envconfig:"REDIS_PASSWORD"`
	RedisDB         int           `envconfig:"REDIS_DB" default:"0"`
	CatalogCacheTTL time.Duration `envconfig:"CATALOG_CACHE_TTL" default:"2s"`

	TabCount          int           `envconfig:"TAB_COUNT" default:"20"`
	LowStockThreshold int           `envconfig:"LOW_STOCK_THRESHOLD" default:"5"`
	CartIdleTimeout   time.Duration `envconfig:"CART_IDLE_TIMEOUT" default:"4h"`

	BackupDir      string `envconfig:"BACKUP_DIR" default:"backups"`
	BackupKeep     int    `envconfig:"BACKUP_KEEP" default:"14"`
	BackupSchedule string `envconfig:"BACKUP_SCHEDULE" default:"@daily"`
	ReportDir      string `envconfig:"REPORT_DIR" default:"reports"`
	ReportSchedule string `envconfig:"REPORT_SCHEDULE" default:"55 23 * * *"`

	Timezone string `envconfig:"TIMEZONE"`
	LogMode  string `envconfig:"LOG_MODE" default:"development"`
	LogFile  string `envconfig:"LOG_FILE"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "load config")
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Backend resolves the store backend to use.
func (c Config) Backend() string {
	if c.StoreBackend != BackendAuto {
		return c.StoreBackend
	}
	if c.DatabaseURL != "" {
		return BackendPostgres
	}
	return BackendBolt
}

// Location returns the venue time zone; empty means the host zone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "load timezone %q", c.Timezone)
	}
	return loc, nil
}
