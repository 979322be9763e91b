package store

import (
	"context"
	"errors"
	"time"

	"bancart/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrValidation        = errors.New("invalid input")
	ErrStoreUnavailable  = errors.New("store unavailable")
)

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	AdjustStock(ctx context.Context, id int64, delta int) (*domain.Product, error)

	// AddTabLine inserts an OPEN row for the tab and decrements the product
	// stock in one transaction.
	AddTabLine(ctx context.Context, tabID int, productID int64, qty int, at time.Time) (*domain.SaleLine, error)
	// CloseTab moves every OPEN row of the tab to CLOSED with the payment
	// method and returns exactly the rows it closed.
	CloseTab(ctx context.Context, tabID int, paymentMethod string) ([]domain.SaleLine, error)
	// CreateCounterSale inserts one CLOSED counter row per line and decrements
	// stock for all of them, or writes nothing.
	CreateCounterSale(ctx context.Context, lines []domain.CounterSaleLine, paymentMethod string, at time.Time) ([]domain.SaleLine, error)

	ListOpenLines(ctx context.Context, tabID int) ([]domain.SaleLine, error)
	OccupiedTabIDs(ctx context.Context) ([]int, error)
	// ListClosedSales returns CLOSED rows with from <= created_at < to, most
	// recent first.
	ListClosedSales(ctx context.Context, from time.Time, to time.Time) ([]domain.SaleLine, error)
}

// ValidProduct reports whether a product satisfies the catalog invariants
// every backend enforces on create and update.
func ValidProduct(p domain.Product) bool {
	return p.Name != "" && p.PriceCents >= 0 && p.Stock >= 0
}
