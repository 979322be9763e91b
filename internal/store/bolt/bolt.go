package bolt

import (
	"bytes"
	"cmp"
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	bbolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"bancart/internal/domain"
	"bancart/internal/store"
)

var (
	productsBucket = []byte("products")
	salesBucket    = []byte("sales")
	// openBucket indexes OPEN rows by tab: key = tab id (8 bytes) + sale id (8 bytes).
	openBucket = []byte("open_lines")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store is the single-file backend. bbolt allows one writer transaction at a
// time, so every stock check runs serialized with its decrement.
type Store struct {
	db   *bbolt.DB
	path string
}

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create data dir")
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, classify(err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{productsBucket, salesBucket, openBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "init buckets")
	}

	zap.L().Info("bolt store opened", zap.String("component", "store.bolt"), zap.String("path", path))
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping fails once the database has been closed.
func (s *Store) Ping(_ context.Context) error {
	return classify(s.db.View(func(*bbolt.Tx) error { return nil }))
}

func (s *Store) Path() string {
	return s.path
}

// Backup streams a consistent snapshot of the database file to w while
// readers and writers keep running.
func (s *Store) Backup(w io.Writer) (int64, error) {
	var written int64
	err := s.db.View(func(tx *bbolt.Tx) error {
		n, err := tx.WriteTo(w)
		written = n
		return err
	})
	return written, classify(err)
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	products := make([]domain.Product, 0, 64)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(productsBucket).ForEach(func(_, v []byte) error {
			var p domain.Product
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			products = append(products, p)
			return nil
		})
	})
	if err != nil {
		return nil, classify(err)
	}
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	var product *domain.Product
	err := s.db.View(func(tx *bbolt.Tx) error {
		p, err := getProduct(tx, id)
		product = p
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return product, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if !store.ValidProduct(product) {
		return nil, store.ErrValidation
	}
	product.Code = strings.TrimSpace(product.Code)

	err := s.db.Update(func(tx *bbolt.Tx) error {
		seq, err := tx.Bucket(productsBucket).NextSequence()
		if err != nil {
			return err
		}
		product.ID = int64(seq)
		return putProduct(tx, product)
	})
	if err != nil {
		return nil, classify(err)
	}
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if !store.ValidProduct(product) {
		return nil, store.ErrValidation
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := getProduct(tx, product.ID); err != nil {
			return err
		}
		return putProduct(tx, product)
	})
	if err != nil {
		return nil, classify(err)
	}
	return &product, nil
}

func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := getProduct(tx, id); err != nil {
			return err
		}
		return tx.Bucket(productsBucket).Delete(itob(id))
	})
	return classify(err)
}

func (s *Store) AdjustStock(_ context.Context, id int64, delta int) (*domain.Product, error) {
	var adjusted *domain.Product
	err := s.db.Update(func(tx *bbolt.Tx) error {
		product, err := getProduct(tx, id)
		if err != nil {
			return err
		}
		if product.Stock+delta < 0 {
			return store.ErrInsufficientStock
		}
		product.Stock += delta
		adjusted = product
		return putProduct(tx, *product)
	})
	if err != nil {
		return nil, classify(err)
	}
	return adjusted, nil
}

func (s *Store) AddTabLine(_ context.Context, tabID int, productID int64, qty int, at time.Time) (*domain.SaleLine, error) {
	if tabID <= domain.CounterTabID || qty < 1 {
		return nil, store.ErrValidation
	}

	var line domain.SaleLine
	err := s.db.Update(func(tx *bbolt.Tx) error {
		product, err := getProduct(tx, productID)
		if err != nil {
			return err
		}
		if product.Stock < qty {
			return store.ErrInsufficientStock
		}

		line = domain.SaleLine{
			TabID:       tabID,
			ProductName: product.Name,
			Qty:         qty,
			TotalCents:  product.PriceCents * int64(qty),
			CreatedAt:   at,
			Status:      domain.SaleStatusOpen,
		}
		if err := insertSale(tx, &line); err != nil {
			return err
		}
		if err := tx.Bucket(openBucket).Put(openKey(tabID, line.ID), nil); err != nil {
			return err
		}

		product.Stock -= qty
		return putProduct(tx, *product)
	})
	if err != nil {
		return nil, classify(err)
	}
	return &line, nil
}

func (s *Store) CloseTab(_ context.Context, tabID int, paymentMethod string) ([]domain.SaleLine, error) {
	closed := make([]domain.SaleLine, 0, 8)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		ids, err := openSaleIDs(tx, tabID)
		if err != nil {
			return err
		}
		sales := tx.Bucket(salesBucket)
		open := tx.Bucket(openBucket)
		for _, id := range ids {
			line, err := getSale(tx, id)
			if err != nil {
				return err
			}
			line.Status = domain.SaleStatusClosed
			line.PaymentMethod = paymentMethod
			raw, err := json.Marshal(line)
			if err != nil {
				return err
			}
			if err := sales.Put(itob(id), raw); err != nil {
				return err
			}
			if err := open.Delete(openKey(tabID, id)); err != nil {
				return err
			}
			closed = append(closed, *line)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return closed, nil
}

func (s *Store) CreateCounterSale(_ context.Context, lines []domain.CounterSaleLine, paymentMethod string, at time.Time) ([]domain.SaleLine, error) {
	if len(lines) == 0 {
		return nil, store.ErrValidation
	}

	var created []domain.SaleLine
	err := s.db.Update(func(tx *bbolt.Tx) error {
		created = make([]domain.SaleLine, 0, len(lines))
		products := make(map[int64]*domain.Product, len(lines))
		required := make(map[int64]int, len(lines))
		for _, line := range lines {
			if line.Qty < 1 {
				return store.ErrValidation
			}
			product, ok := products[line.ProductID]
			if !ok {
				p, err := getProduct(tx, line.ProductID)
				if err != nil {
					return err
				}
				product = p
				products[line.ProductID] = p
			}
			required[line.ProductID] += line.Qty
			if product.Stock < required[line.ProductID] {
				return store.ErrInsufficientStock
			}
		}

		for _, line := range lines {
			name, total := line.Priced(*products[line.ProductID])
			sale := domain.SaleLine{
				TabID:         domain.CounterTabID,
				ProductName:   name,
				Qty:           line.Qty,
				TotalCents:    total,
				CreatedAt:     at,
				PaymentMethod: paymentMethod,
				Status:        domain.SaleStatusClosed,
			}
			if err := insertSale(tx, &sale); err != nil {
				return err
			}
			created = append(created, sale)
		}
		for id, product := range products {
			product.Stock -= required[id]
			if err := putProduct(tx, *product); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return created, nil
}

func (s *Store) ListOpenLines(_ context.Context, tabID int) ([]domain.SaleLine, error) {
	lines := make([]domain.SaleLine, 0, 8)
	err := s.db.View(func(tx *bbolt.Tx) error {
		ids, err := openSaleIDs(tx, tabID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			line, err := getSale(tx, id)
			if err != nil {
				return err
			}
			lines = append(lines, *line)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return lines, nil
}

func (s *Store) OccupiedTabIDs(_ context.Context) ([]int, error) {
	tabIDs := make([]int, 0, 8)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(openBucket).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			tabID := int(binary.BigEndian.Uint64(k[:8]))
			if n := len(tabIDs); n == 0 || tabIDs[n-1] != tabID {
				tabIDs = append(tabIDs, tabID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return tabIDs, nil
}

func (s *Store) ListClosedSales(_ context.Context, from time.Time, to time.Time) ([]domain.SaleLine, error) {
	lines := make([]domain.SaleLine, 0, 64)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(salesBucket).ForEach(func(_, v []byte) error {
			var line domain.SaleLine
			if err := json.Unmarshal(v, &line); err != nil {
				return err
			}
			if line.Status != domain.SaleStatusClosed {
				return nil
			}
			if line.CreatedAt.Before(from) || !line.CreatedAt.Before(to) {
				return nil
			}
			line.CreatedAt = line.CreatedAt.In(from.Location())
			lines = append(lines, line)
			return nil
		})
	})
	if err != nil {
		return nil, classify(err)
	}
	slices.SortFunc(lines, func(a, b domain.SaleLine) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return lines, nil
}

func getProduct(tx *bbolt.Tx, id int64) (*domain.Product, error) {
	raw := tx.Bucket(productsBucket).Get(itob(id))
	if raw == nil {
		return nil, store.ErrNotFound
	}
	var p domain.Product
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.Wrapf(err, "decode product %d", id)
	}
	return &p, nil
}

func putProduct(tx *bbolt.Tx, p domain.Product) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return tx.Bucket(productsBucket).Put(itob(p.ID), raw)
}

func getSale(tx *bbolt.Tx, id int64) (*domain.SaleLine, error) {
	raw := tx.Bucket(salesBucket).Get(itob(id))
	if raw == nil {
		return nil, errors.Wrapf(store.ErrNotFound, "sale %d", id)
	}
	var line domain.SaleLine
	if err := json.Unmarshal(raw, &line); err != nil {
		return nil, errors.Wrapf(err, "decode sale %d", id)
	}
	return &line, nil
}

func insertSale(tx *bbolt.Tx, line *domain.SaleLine) error {
	b := tx.Bucket(salesBucket)
	seq, err := b.NextSequence()
	if err != nil {
		return err
	}
	line.ID = int64(seq)
	raw, err := json.Marshal(line)
	if err != nil {
		return err
	}
	return b.Put(itob(line.ID), raw)
}

func openSaleIDs(tx *bbolt.Tx, tabID int) ([]int64, error) {
	prefix := itob(int64(tabID))
	ids := make([]int64, 0, 8)
	c := tx.Bucket(openBucket).Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		if len(k) != 16 {
			return nil, errors.Errorf("malformed open index key %x", k)
		}
		ids = append(ids, int64(binary.BigEndian.Uint64(k[8:])))
	}
	return ids, nil
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func openKey(tabID int, saleID int64) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k[:8], uint64(tabID))
	binary.BigEndian.PutUint64(k[8:], uint64(saleID))
	return k
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrValidation),
		errors.Is(err, store.ErrStoreUnavailable):
		return err
	case errors.Is(err, bbolt.ErrDatabaseNotOpen),
		errors.Is(err, bbolt.ErrTimeout),
		errors.Is(err, bbolt.ErrTxClosed):
		return errors.Wrapf(store.ErrStoreUnavailable, "bolt: %v", err)
	}
	return errors.Wrap(err, "bolt")
}
