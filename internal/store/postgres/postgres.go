package postgres

import (
	"cmp"
	"context"
	"database/sql"
	"database/sql/driver"
	"net"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"bancart/internal/domain"
	"bancart/internal/store"
)

const (
	productColumns = `id, name, price_cents, stock, COALESCE(code, '') AS code`
	saleColumns    = `id, tab_id, product_name, qty, total_cents, created_at, COALESCE(payment, '') AS payment, status`
	maxTxAttempts  = 3
)

type Store struct {
	db *sqlx.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, classify(err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return classify(s.db.PingContext(ctx))
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products := make([]domain.Product, 0, 64)
	err := s.db.SelectContext(ctx, &products, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, classify(err)
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var product domain.Product
	err := s.db.GetContext(ctx, &product, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	if err != nil {
		return nil, classify(err)
	}
	return &product, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if !store.ValidProduct(product) {
		return nil, store.ErrValidation
	}

	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO products (name, price_cents, stock, code)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, product.Name, product.PriceCents, product.Stock, nullIfEmpty(product.Code)).Scan(&product.ID)
	if err != nil {
		return nil, classify(err)
	}

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if !store.ValidProduct(product) {
		return nil, store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, price_cents = $3, stock = $4, code = $5
		WHERE id = $1
	`, product.ID, product.Name, product.PriceCents, product.Stock, nullIfEmpty(product.Code))
	if err != nil {
		return nil, classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, classify(err)
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AdjustStock(ctx context.Context, id int64, delta int) (*domain.Product, error) {
	var adjusted domain.Product
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		product, err := lockProduct(ctx, tx, id)
		if err != nil {
			return err
		}
		if product.Stock+delta < 0 {
			return store.ErrInsufficientStock
		}
		if _, err := tx.ExecContext(ctx, `UPDATE products SET stock = stock + $1 WHERE id = $2`, delta, id); err != nil {
			return err
		}
		product.Stock += delta
		adjusted = *product
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &adjusted, nil
}

func (s *Store) AddTabLine(ctx context.Context, tabID int, productID int64, qty int, at time.Time) (*domain.SaleLine, error) {
	if tabID <= domain.CounterTabID || qty < 1 {
		return nil, store.ErrValidation
	}

	var line domain.SaleLine
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		product, err := lockProduct(ctx, tx, productID)
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
		if err := tx.QueryRowxContext(ctx, `
			INSERT INTO sales (tab_id, product_name, qty, total_cents, created_at, status)
			VALUES ($1,$2,$3,$4,$5,$6)
			RETURNING id
		`, line.TabID, line.ProductName, line.Qty, line.TotalCents, line.CreatedAt, line.Status).Scan(&line.ID); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `UPDATE products SET stock = stock - $1 WHERE id = $2`, qty, productID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &line, nil
}

func (s *Store) CloseTab(ctx context.Context, tabID int, paymentMethod string) ([]domain.SaleLine, error) {
	closed := make([]domain.SaleLine, 0, 8)
	// A single UPDATE flips every open row at once; RETURNING yields exactly
	// the rows that were charged.
	err := s.db.SelectContext(ctx, &closed, `
		UPDATE sales
		SET status = $3, payment = $2
		WHERE tab_id = $1 AND status = $4
		RETURNING `+saleColumns,
		tabID, paymentMethod, domain.SaleStatusClosed, domain.SaleStatusOpen)
	if err != nil {
		return nil, classify(err)
	}
	slices.SortFunc(closed, func(a, b domain.SaleLine) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return closed, nil
}

func (s *Store) CreateCounterSale(ctx context.Context, lines []domain.CounterSaleLine, paymentMethod string, at time.Time) ([]domain.SaleLine, error) {
	if len(lines) == 0 {
		return nil, store.ErrValidation
	}
	required := make(map[int64]int, len(lines))
	for _, line := range lines {
		if line.Qty < 1 {
			return nil, store.ErrValidation
		}
		required[line.ProductID] += line.Qty
	}
	ids := make([]int64, 0, len(required))
	for id := range required {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var created []domain.SaleLine
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		created = make([]domain.SaleLine, 0, len(lines))

		locked := make([]domain.Product, 0, len(ids))
		// Rows are locked in id order so two overlapping batches cannot deadlock.
		if err := tx.SelectContext(ctx, &locked, `
			SELECT `+productColumns+`
			FROM products
			WHERE id = ANY($1)
			ORDER BY id
			FOR UPDATE
		`, ids); err != nil {
			return err
		}
		products := make(map[int64]domain.Product, len(locked))
		for _, p := range locked {
			products[p.ID] = p
		}
		for _, id := range ids {
			product, exists := products[id]
			if !exists {
				return store.ErrNotFound
			}
			if product.Stock < required[id] {
				return store.ErrInsufficientStock
			}
		}

		for _, line := range lines {
			name, total := line.Priced(products[line.ProductID])
			sale := domain.SaleLine{
				TabID:         domain.CounterTabID,
				ProductName:   name,
				Qty:           line.Qty,
				TotalCents:    total,
				CreatedAt:     at,
				PaymentMethod: paymentMethod,
				Status:        domain.SaleStatusClosed,
			}
			if err := tx.QueryRowxContext(ctx, `
				INSERT INTO sales (tab_id, product_name, qty, total_cents, created_at, payment, status)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
				RETURNING id
			`, sale.TabID, sale.ProductName, sale.Qty, sale.TotalCents, sale.CreatedAt, sale.PaymentMethod, sale.Status).Scan(&sale.ID); err != nil {
				return err
			}
			created = append(created, sale)
		}

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `UPDATE products SET stock = stock - $1 WHERE id = $2`, required[id], id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) ListOpenLines(ctx context.Context, tabID int) ([]domain.SaleLine, error) {
	lines := make([]domain.SaleLine, 0, 8)
	err := s.db.SelectContext(ctx, &lines, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE tab_id = $1 AND status = $2
		ORDER BY id
	`, tabID, domain.SaleStatusOpen)
	if err != nil {
		return nil, classify(err)
	}
	return lines, nil
}

func (s *Store) OccupiedTabIDs(ctx context.Context) ([]int, error) {
	tabIDs := make([]int, 0, 8)
	err := s.db.SelectContext(ctx, &tabIDs, `
		SELECT DISTINCT tab_id
		FROM sales
		WHERE status = $1
		ORDER BY tab_id
	`, domain.SaleStatusOpen)
	if err != nil {
		return nil, classify(err)
	}
	return tabIDs, nil
}

func (s *Store) ListClosedSales(ctx context.Context, from time.Time, to time.Time) ([]domain.SaleLine, error) {
	lines := make([]domain.SaleLine, 0, 64)
	err := s.db.SelectContext(ctx, &lines, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE status = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC, id DESC
	`, domain.SaleStatusClosed, from, to)
	if err != nil {
		return nil, classify(err)
	}
	for i := range lines {
		lines[i].CreatedAt = lines[i].CreatedAt.In(from.Location())
	}
	return lines, nil
}

// withTx runs fn in a read-committed transaction, retrying when Postgres
// aborts it for a serialization failure or deadlock.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isRetryable(err) {
			break
		}
		zap.L().Warn("retrying postgres transaction",
			zap.String("component", "store.postgres"),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return classify(err)
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func lockProduct(ctx context.Context, tx *sqlx.Tx, id int64) (*domain.Product, error) {
	var product domain.Product
	err := tx.GetContext(ctx, &product, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// classify maps driver errors onto the store sentinels.
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
	case errors.Is(err, sql.ErrNoRows):
		return store.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23514" {
		return errors.Wrap(store.ErrInsufficientStock, pgErr.ConstraintName)
	}

	var connectErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connectErr) ||
		errors.As(err, &netErr) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrapf(store.ErrStoreUnavailable, "postgres: %v", err)
	}
	return errors.Wrap(err, "postgres")
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
