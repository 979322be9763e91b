// Package backup writes dated snapshots of the embedded ledger and prunes
// old ones.
package backup

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	filePrefix = "backup_"
	fileSuffix = ".db"
)

// Snapshotter streams a consistent copy of a store.
type Snapshotter interface {
	Backup(w io.Writer) (int64, error)
}

func FileName(day time.Time) string {
	return filePrefix + day.Format("2006-01-02") + fileSuffix
}

// Run writes the snapshot for day into dir. A snapshot for the same day is
// replaced; a failed run leaves the previous file untouched.
func Run(s Snapshotter, dir string, day time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create backup dir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".backup-*")
	if err != nil {
		return "", errors.Wrap(err, "create backup temp file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := s.Backup(tmp)
	if err != nil {
		_ = tmp.Close()
		return "", errors.Wrap(err, "snapshot store")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", errors.Wrap(err, "sync backup")
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(err, "close backup")
	}

	path := filepath.Join(dir, FileName(day))
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", errors.Wrapf(err, "move backup to %s", path)
	}
	zap.L().Info("backup written", zap.String("path", path), zap.Int64("bytes", n))
	return path, nil
}

// Prune keeps the newest keep backups in dir and removes the rest. Other
// files are left alone.
func Prune(dir string, keep int) ([]string, error) {
	if keep < 1 {
		return nil, errors.Errorf("keep must be at least 1, got %d", keep)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "read backup dir %s", dir)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		if _, err := time.Parse("2006-01-02", strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)); err != nil {
			continue
		}
		names = append(names, name)
	}
	if len(names) <= keep {
		return nil, nil
	}

	// Dates sort lexically.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	var removed []string
	for _, name := range names[keep:] {
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil {
			return removed, errors.Wrapf(err, "remove %s", path)
		}
		removed = append(removed, path)
	}
	if len(removed) > 0 {
		zap.L().Info("old backups pruned", zap.Int("removed", len(removed)), zap.Int("kept", keep))
	}
	return removed, nil
}
