package scheduler

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"bancart/internal/backup"
	"bancart/internal/report"
	"bancart/internal/service"
)

// BackupJob snapshots the store into dir and keeps the newest keep files.
func BackupJob(s backup.Snapshotter, dir string, keep int, clock func() time.Time) Job {
	return func(context.Context) error {
		if _, err := backup.Run(s, dir, clock()); err != nil {
			return err
		}
		_, err := backup.Prune(dir, keep)
		return err
	}
}

// ReportJob writes the text report for the current local day. A day
// without sales produces no file.
func ReportJob(engine *report.Engine, dir string, clock func() time.Time) Job {
	return func(ctx context.Context) error {
		path, err := engine.WriteReportFile(ctx, dir, clock())
		if errors.Is(err, report.ErrEmptyReport) {
			zap.L().Info("no sales today, report skipped")
			return nil
		}
		if err != nil {
			return err
		}
		zap.L().Info("daily report written", zap.String("path", path))
		return nil
	}
}

// CartSweepJob drops counter carts idle for longer than idle.
func CartSweepJob(carts *service.CartRegistry, idle time.Duration, clock func() time.Time) Job {
	return func(context.Context) error {
		if n := carts.Sweep(clock().Add(-idle)); n > 0 {
			zap.L().Info("idle carts dropped", zap.Int("count", n))
		}
		return nil
	}
}
