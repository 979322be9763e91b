package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bancart/internal/backup"
	"bancart/internal/cache"
	"bancart/internal/config"
	"bancart/internal/events"
	"bancart/internal/httpapi"
	"bancart/internal/logging"
	"bancart/internal/report"
	"bancart/internal/scheduler"
	"bancart/internal/service"
	"bancart/internal/store"
	boltstore "bancart/internal/store/bolt"
	"bancart/internal/store/memory"
	pgstore "bancart/internal/store/postgres"
)

const (
	maxTabCount    = 200
	cartSweepSpec  = "@every 5m"
	shutdownWindow = 8 * time.Second
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "bancart: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "bancart",
		Usage: "bar and restaurant point of sale: tabs, counter sales, stock and daily reports",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and the scheduled jobs",
				Action: serve,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "migrate", Usage: "apply PostgreSQL migrations before serving"},
				},
			},
			{
				Name:   "migrate",
				Usage:  "apply PostgreSQL schema migrations",
				Action: migrateCmd,
			},
			{
				Name:   "backup",
				Usage:  "snapshot the embedded database into BACKUP_DIR",
				Action: backupCmd,
			},
			{
				Name:   "report",
				Usage:  "write the daily sales report",
				Action: reportCmd,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "date", Usage: "day to report, defaults to today"},
					&cli.StringFlag{Name: "dir", Usage: "output directory, defaults to REPORT_DIR"},
					&cli.BoolFlag{Name: "stdout", Usage: "print the report instead of writing a file"},
				},
			},
		},
		DefaultCommand: "serve",
	}
}

// runtime holds what every command needs after config and logging are up.
type runtime struct {
	cfg   config.Config
	loc   *time.Location
	flush func()
}

func setup() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	flush, err := logging.Init(cfg.LogMode, cfg.LogFile)
	if err != nil {
		return nil, err
	}
	return &runtime{cfg: cfg, loc: loc, flush: flush}, nil
}

// backend is an opened store plus the optional capabilities it offers.
type backend struct {
	repo     store.Repository
	pinger   httpapi.Pinger
	snapshot backup.Snapshotter
	closers  []func() error
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			zap.L().Warn("close error", zap.Error(err))
		}
	}
}

func openBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	switch cfg.Backend() {
	case config.BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("postgres backend selected but DATABASE_URL is empty")
		}
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "postgres unavailable")
		}
		zap.L().Info("repository: postgres")
		return &backend{repo: pg, pinger: pg, closers: []func() error{pg.Close}}, nil
	case config.BackendBolt:
		db, err := boltstore.Open(cfg.BoltPath)
		if err != nil {
			return nil, errors.Wrapf(err, "open %s", cfg.BoltPath)
		}
		zap.L().Info("repository: bolt", zap.String("path", db.Path()))
		return &backend{repo: db, pinger: db, snapshot: db, closers: []func() error{db.Close}}, nil
	case config.BackendMemory:
		zap.L().Info("repository: in-memory demo catalog")
		return &backend{repo: memory.NewSeeded()}, nil
	}
	return nil, errors.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func openCache(ctx context.Context, cfg config.Config) (cache.CatalogCache, func() error) {
	if cfg.RedisAddr == "" {
		zap.L().Info("cache: noop")
		return cache.NoopCatalogCache{}, nil
	}
	redisCache := cache.NewRedisCatalogCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := redisCache.Ping(ctx); err != nil {
		zap.L().Warn("redis unavailable, using noop cache", zap.Error(err))
		_ = redisCache.Close()
		return cache.NoopCatalogCache{}, nil
	}
	zap.L().Info("cache: redis", zap.String("addr", cfg.RedisAddr))
	return redisCache, redisCache.Close
}

func serve(c *cli.Context) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.flush()
	cfg := rt.cfg

	if c.Bool("migrate") {
		if cfg.Backend() != config.BackendPostgres {
			return errors.New("--migrate needs the postgres backend")
		}
		if err := pgstore.Migrate(cfg.DatabaseURL); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	be, err := openBackend(startCtx, cfg)
	if err != nil {
		return err
	}
	defer be.close()

	catalogCache, closeCache := openCache(startCtx, cfg)
	if closeCache != nil {
		be.closers = append(be.closers, closeCache)
	}

	bus := events.NewBus()
	if err := events.LogSubscribers(bus, zap.L()); err != nil {
		return err
	}

	svc := service.New(be.repo, service.Options{
		TabCount:          cfg.TabCount,
		LowStockThreshold: cfg.LowStockThreshold,
		CatalogTTL:        cfg.CatalogCacheTTL,
		Cache:             catalogCache,
		Events:            bus,
		Location:          rt.loc,
	})
	reports := report.New(be.repo, rt.loc)
	carts := service.NewCartRegistry()

	api := httpapi.New(svc, reports, carts, cfg.AllowedOrigin)
	if be.pinger != nil {
		api = api.WithHealthCheck(be.pinger)
	}

	sched, err := newScheduler(cfg, rt.loc, be, reports, carts)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zap.L().Info("bancart listening", zap.String("addr", cfg.Address()), zap.Int("tabs", svc.TabCount()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWindow)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return sched.Run(gctx)
	})

	err = g.Wait()
	zap.L().Info("server stopped")
	return err
}

func newScheduler(cfg config.Config, loc *time.Location, be *backend, reports *report.Engine, carts *service.CartRegistry) (*scheduler.Scheduler, error) {
	sched := scheduler.New(loc)
	clock := func() time.Time { return time.Now().In(loc) }

	if be.snapshot != nil {
		if err := sched.Add("backup", cfg.BackupSchedule, scheduler.BackupJob(be.snapshot, cfg.BackupDir, cfg.BackupKeep, clock)); err != nil {
			return nil, err
		}
	}
	if err := sched.Add("daily-report", cfg.ReportSchedule, scheduler.ReportJob(reports, cfg.ReportDir, clock)); err != nil {
		return nil, err
	}
	if err := sched.Add("cart-sweep", cartSweepSpec, scheduler.CartSweepJob(carts, cfg.CartIdleTimeout, clock)); err != nil {
		return nil, err
	}
	return sched, nil
}

func migrateCmd(c *cli.Context) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.flush()

	if rt.cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required to migrate")
	}
	return pgstore.Migrate(rt.cfg.DatabaseURL)
}

func backupCmd(c *cli.Context) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.flush()

	if rt.cfg.Backend() != config.BackendBolt {
		return errors.Errorf("backup only covers the bolt backend, current backend is %s", rt.cfg.Backend())
	}
	be, err := openBackend(c.Context, rt.cfg)
	if err != nil {
		return err
	}
	defer be.close()

	path, err := backup.Run(be.snapshot, rt.cfg.BackupDir, time.Now().In(rt.loc))
	if err != nil {
		return err
	}
	if _, err := backup.Prune(rt.cfg.BackupDir, rt.cfg.BackupKeep); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, path)
	return nil
}

func reportCmd(c *cli.Context) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.flush()

	be, err := openBackend(c.Context, rt.cfg)
	if err != nil {
		return err
	}
	defer be.close()

	engine := report.New(be.repo, rt.loc)
	day, err := engine.ParseDate(c.String("date"))
	if err != nil {
		return err
	}

	if c.Bool("stdout") {
		text, _, err := engine.RenderReport(c.Context, day)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, text)
		return nil
	}

	dir := c.String("dir")
	if dir == "" {
		dir = rt.cfg.ReportDir
	}
	path, err := engine.WriteReportFile(c.Context, dir, day)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, path)
	return nil
}

func validateConfig(cfg config.Config) error {
	if cfg.TabCount < 1 || cfg.TabCount > maxTabCount {
		return errors.Errorf("TAB_COUNT must be between 1 and %d, got %d", maxTabCount, cfg.TabCount)
	}
	if cfg.LowStockThreshold < 0 {
		return errors.New("LOW_STOCK_THRESHOLD must not be negative")
	}
	if cfg.CatalogCacheTTL < 0 {
		return errors.New("CATALOG_CACHE_TTL must not be negative")
	}
	if cfg.BackupKeep < 1 {
		return errors.New("BACKUP_KEEP must be at least 1")
	}
	if cfg.CartIdleTimeout <= 0 {
		return errors.New("CART_IDLE_TIMEOUT must be positive")
	}
	switch cfg.Backend() {
	case config.BackendMemory, config.BackendBolt, config.BackendPostgres:
	default:
		return errors.Errorf("STORE_BACKEND must be memory, bolt or postgres, got %q", cfg.StoreBackend)
	}
	for name, spec := range map[string]string{"BACKUP_SCHEDULE": cfg.BackupSchedule, "REPORT_SCHEDULE": cfg.ReportSchedule} {
		if err := scheduler.Validate(spec); err != nil {
			return errors.Wrap(err, name)
		}
	}
	if _, err := cfg.Location(); err != nil {
		return errors.Wrap(err, "TIMEZONE")
	}
	return nil
}
