package backup

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bancart/internal/domain"
	"bancart/internal/store/bolt"
)

type failingSnapshotter struct{}

func (failingSnapshotter) Backup(w io.Writer) (int64, error) {
	n, _ := w.Write([]byte("partial"))
	return int64(n), errors.New("disk full")
}

func TestRunWritesRestorableSnapshot(t *testing.T) {
	ctx := context.Background()
	src, err := bolt.Open(filepath.Join(t.TempDir(), "live.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	_, err = src.CreateProduct(ctx, domain.Product{Name: "Espresso", PriceCents: 450, Stock: 9})
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "backups")
	day := time.Date(2024, 5, 10, 23, 0, 0, 0, time.UTC)
	path, err := Run(src, dir, day)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "backup_2024-05-10.db"), path)

	restored, err := bolt.Open(path)
	require.NoError(t, err)
	defer restored.Close()

	products, err := restored.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Espresso", products[0].Name)
	assert.Equal(t, 9, products[0].Stock)
}

func TestRunFailureKeepsPreviousBackup(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	existing := filepath.Join(dir, FileName(day))
	require.NoError(t, os.WriteFile(existing, []byte("good"), 0o644))

	_, err := Run(failingSnapshotter{}, dir, day)
	require.Error(t, err)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "good", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPruneKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, FileName(base.AddDate(0, 0, i))), nil, 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backup_latest.db"), nil, 0o644))

	removed, err := Prune(dir, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "backup_2024-05-03.db"),
		filepath.Join(dir, "backup_2024-05-02.db"),
		filepath.Join(dir, "backup_2024-05-01.db"),
	}, removed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"backup_2024-05-04.db", "backup_2024-05-05.db", "notes.txt", "backup_latest.db"}, names)
}

func TestPruneEdgeCases(t *testing.T) {
	_, err := Prune(t.TempDir(), 0)
	assert.Error(t, err)

	removed, err := Prune(filepath.Join(t.TempDir(), "missing"), 3)
	require.NoError(t, err)
	assert.Empty(t, removed)
}
