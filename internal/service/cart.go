package service

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"bancart/internal/domain"
	"bancart/internal/events"
	"bancart/internal/store"
	"bancart/internal/xid"
)

// Cart is one operator's staging area for a walk-up sale. Nothing in it is
// persisted and stock is only reserved when the cart is finalized.
type Cart struct {
	mu       sync.Mutex
	id       string
	lines    []domain.CartLine
	lastUsed time.Time
}

func (s *Service) NewCart() *Cart {
	return &Cart{id: xid.New("cart"), lastUsed: s.now()}
}

func (c *Cart) ID() string {
	return c.id
}

func (c *Cart) Lines() []domain.CartLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.lines)
}

func (c *Cart) Total() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalLocked()
}

func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
}

func (c *Cart) View() domain.CartView {
	c.mu.Lock()
	defer c.mu.Unlock()
	lines := slices.Clone(c.lines)
	if lines == nil {
		lines = []domain.CartLine{}
	}
	return domain.CartView{CartID: c.id, Lines: lines, TotalCents: c.totalLocked()}
}

func (c *Cart) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}

func (c *Cart) totalLocked() int64 {
	var total int64
	for _, line := range c.lines {
		total += line.TotalCents
	}
	return total
}

// AddToCart appends a line priced at the current catalog price. The stock
// check here is advisory; FinalizeCart repeats it inside the transaction.
// Adding the same product twice yields two lines.
func (s *Service) AddToCart(ctx context.Context, cart *Cart, req domain.AddLineRequest) (domain.CartLine, error) {
	if req.Qty < 1 {
		return domain.CartLine{}, errQty
	}
	product, err := s.repo.GetProduct(ctx, req.ProductID)
	if err != nil {
		return domain.CartLine{}, err
	}
	if product.Stock < req.Qty {
		return domain.CartLine{}, errors.Wrapf(store.ErrInsufficientStock, "%s has %d left", product.Name, product.Stock)
	}

	line := domain.CartLine{
		ProductID:   product.ID,
		ProductName: product.Name,
		Qty:         req.Qty,
		TotalCents:  product.PriceCents * int64(req.Qty),
	}

	cart.mu.Lock()
	cart.lines = append(cart.lines, line)
	cart.lastUsed = s.now()
	cart.mu.Unlock()
	return line, nil
}

// FinalizeCart commits every cart line as one counter sale. If any line
// fails the stock check the whole batch is rejected and the cart is kept as
// it was; on success the cart is emptied.
func (s *Service) FinalizeCart(ctx context.Context, cart *Cart, req domain.FinalizeCartRequest) (domain.FinalizeCartResult, error) {
	cart.mu.Lock()
	defer cart.mu.Unlock()
	cart.lastUsed = s.now()

	if len(cart.lines) == 0 {
		return domain.FinalizeCartResult{Committed: false, Lines: []domain.SaleLine{}}, nil
	}
	method, err := normalizePayment(req.PaymentMethod)
	if err != nil {
		return domain.FinalizeCartResult{}, err
	}

	batch := make([]domain.CounterSaleLine, 0, len(cart.lines))
	productIDs := make([]int64, 0, len(cart.lines))
	for _, line := range cart.lines {
		batch = append(batch, domain.CounterSaleLine{
			ProductID:   line.ProductID,
			Qty:         line.Qty,
			ProductName: line.ProductName,
			TotalCents:  line.TotalCents,
		})
		productIDs = append(productIDs, line.ProductID)
	}

	created, err := s.repo.CreateCounterSale(ctx, batch, method, s.now())
	if err != nil {
		logger().Info("counter sale rejected", zap.String("cart_id", cart.id), zap.Error(err))
		return domain.FinalizeCartResult{}, err
	}
	cart.lines = nil

	result := domain.FinalizeCartResult{
		Committed:     true,
		PaymentMethod: method,
		Lines:         created,
		TotalCents:    sumLines(created),
	}
	s.catalogChanged(ctx, 0, "sale")
	s.dispatch(events.CounterSale{
		PaymentMethod: method,
		Lines:         len(created),
		TotalCents:    result.TotalCents,
	})
	s.warnLowStock(ctx, productIDs...)
	return result, nil
}

// CartRegistry holds the open carts of every operator session by id.
type CartRegistry struct {
	mu    sync.Mutex
	carts map[string]*Cart
}

func NewCartRegistry() *CartRegistry {
	return &CartRegistry{carts: make(map[string]*Cart)}
}

func (r *CartRegistry) Put(cart *Cart) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carts[cart.ID()] = cart
}

func (r *CartRegistry) Get(id string) (*Cart, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cart, ok := r.carts[id]
	return cart, ok
}

func (r *CartRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, id)
}

func (r *CartRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.carts)
}

// Sweep drops carts untouched since before cutoff and returns how many went.
// Their lines were never persisted, so nothing else needs undoing.
func (r *CartRegistry) Sweep(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, cart := range r.carts {
		if cart.idleSince().Before(cutoff) {
			delete(r.carts, id)
			removed++
		}
	}
	return removed
}
