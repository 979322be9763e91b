package domain

import "time"

// CounterTabID marks ledger rows rung up at the walk-up counter.
const CounterTabID = 0

const (
	SaleStatusOpen   = "OPEN"
	SaleStatusClosed = "CLOSED"
)

type Product struct {
	ID         int64  `json:"id" db:"id"`
	Name       string `json:"name" db:"name"`
	PriceCents int64  `json:"price_cents" db:"price_cents"`
	Stock      int    `json:"stock" db:"stock"`
	Code       string `json:"code,omitempty" db:"code"`
}

type ProductRequest struct {
	Name  string `json:"name"`
	Price string `json:"price"`
	Stock int    `json:"stock"`
	Code  string `json:"code"`
}

// SaleLine is one ledger row. ProductName and TotalCents are copied at sale
// time and never follow later catalog edits.
type SaleLine struct {
	ID            int64     `json:"id" db:"id"`
	TabID         int       `json:"tab_id" db:"tab_id"`
	ProductName   string    `json:"product_name" db:"product_name"`
	Qty           int       `json:"qty" db:"qty"`
	TotalCents    int64     `json:"total_cents" db:"total_cents"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	PaymentMethod string    `json:"payment_method,omitempty" db:"payment"`
	Status        string    `json:"status" db:"status"`
}

func (l SaleLine) IsOpen() bool {
	return l.Status == SaleStatusOpen
}

type CartLine struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Qty         int    `json:"qty"`
	TotalCents  int64  `json:"total_cents"`
}

// CounterSaleLine is a cart line handed to the store for the finalize batch.
// ProductName and TotalCents carry the snapshot taken when the line entered
// the cart; stock is still checked and decremented by ProductID.
type CounterSaleLine struct {
	ProductID   int64
	Qty         int
	ProductName string
	TotalCents  int64
}

// Priced returns the name and total to record for the line. A line without a
// snapshot is priced from the current catalog row.
func (l CounterSaleLine) Priced(product Product) (string, int64) {
	if l.ProductName != "" {
		return l.ProductName, l.TotalCents
	}
	return product.Name, product.PriceCents * int64(l.Qty)
}

type StockAdjustRequest struct {
	Delta int `json:"delta"`
}

type AddLineRequest struct {
	ProductID int64 `json:"product_id"`
	Qty       int   `json:"qty"`
}

type CloseTabRequest struct {
	PaymentMethod string `json:"payment_method"`
}

type TabView struct {
	TabID      int        `json:"tab_id"`
	Occupied   bool       `json:"occupied"`
	Lines      []SaleLine `json:"lines"`
	TotalCents int64      `json:"total_cents"`
}

type TabOverview struct {
	TabCount int   `json:"tab_count"`
	Occupied []int `json:"occupied"`
}

type CloseTabResult struct {
	TabID         int        `json:"tab_id"`
	Closed        bool       `json:"closed"`
	PaymentMethod string     `json:"payment_method,omitempty"`
	Lines         []SaleLine `json:"lines"`
	TotalCents    int64      `json:"total_cents"`
}

type CartView struct {
	CartID     string     `json:"cart_id"`
	Lines      []CartLine `json:"lines"`
	TotalCents int64      `json:"total_cents"`
}

type FinalizeCartRequest struct {
	PaymentMethod string `json:"payment_method"`
}

type FinalizeCartResult struct {
	Committed     bool       `json:"committed"`
	PaymentMethod string     `json:"payment_method,omitempty"`
	Lines         []SaleLine `json:"lines"`
	TotalCents    int64      `json:"total_cents"`
}

type DailySummaryLine struct {
	SaleLine
	Origin string `json:"origin"`
}

type DailySummaryPayment struct {
	PaymentMethod string `json:"payment_method"`
	Lines         int64  `json:"lines"`
	TotalCents    int64  `json:"total_cents"`
}

type DailySummary struct {
	Date       string                `json:"date"`
	Lines      []DailySummaryLine    `json:"lines"`
	TotalCents int64                 `json:"total_cents"`
	ByPayment  []DailySummaryPayment `json:"by_payment"`
}
