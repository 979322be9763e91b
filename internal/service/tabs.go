package service

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"bancart/internal/domain"
	"bancart/internal/events"
	"bancart/internal/store"
)

// SelectTab re-reads the tab from the store on every call so concurrent
// changes from other stations show up.
func (s *Service) SelectTab(ctx context.Context, tabID int) (domain.TabView, error) {
	lines, err := s.ListOpenLines(ctx, tabID)
	if err != nil {
		return domain.TabView{}, err
	}
	return domain.TabView{
		TabID:      tabID,
		Occupied:   len(lines) > 0,
		Lines:      lines,
		TotalCents: sumLines(lines),
	}, nil
}

func (s *Service) ListOpenLines(ctx context.Context, tabID int) ([]domain.SaleLine, error) {
	if err := s.validateTab(tabID); err != nil {
		return nil, err
	}
	return s.repo.ListOpenLines(ctx, tabID)
}

func (s *Service) OccupiedTabIDs(ctx context.Context) ([]int, error) {
	return s.repo.OccupiedTabIDs(ctx)
}

func (s *Service) TabOverview(ctx context.Context) (domain.TabOverview, error) {
	occupied, err := s.repo.OccupiedTabIDs(ctx)
	if err != nil {
		return domain.TabOverview{}, err
	}
	return domain.TabOverview{TabCount: s.tabCount, Occupied: occupied}, nil
}

// AddLine sells qty units of a product onto an open tab. The stock check,
// the ledger insert and the stock decrement commit together or not at all.
func (s *Service) AddLine(ctx context.Context, tabID int, req domain.AddLineRequest) (domain.SaleLine, error) {
	if err := s.validateTab(tabID); err != nil {
		return domain.SaleLine{}, err
	}
	if req.Qty < 1 {
		return domain.SaleLine{}, errQty
	}

	line, err := s.repo.AddTabLine(ctx, tabID, req.ProductID, req.Qty, s.now())
	if err != nil {
		return domain.SaleLine{}, err
	}

	s.catalogChanged(ctx, req.ProductID, "sale")
	s.dispatch(events.TabLineAdded{Line: *line})
	s.warnLowStock(ctx, req.ProductID)
	return *line, nil
}

// CloseTab settles every open line of the tab with one payment method. A tab
// without open lines is left untouched and reported with Closed=false.
func (s *Service) CloseTab(ctx context.Context, tabID int, req domain.CloseTabRequest) (domain.CloseTabResult, error) {
	if err := s.validateTab(tabID); err != nil {
		return domain.CloseTabResult{}, err
	}
	method, err := normalizePayment(req.PaymentMethod)
	if err != nil {
		// An empty tab closes as a no-op whatever payment was sent.
		open, listErr := s.repo.ListOpenLines(ctx, tabID)
		if listErr != nil {
			return domain.CloseTabResult{}, listErr
		}
		if len(open) == 0 {
			return emptyClose(tabID), nil
		}
		return domain.CloseTabResult{}, err
	}

	closed, err := s.repo.CloseTab(ctx, tabID, method)
	if err != nil {
		return domain.CloseTabResult{}, err
	}
	if len(closed) == 0 {
		return emptyClose(tabID), nil
	}

	result := domain.CloseTabResult{
		TabID:         tabID,
		Closed:        true,
		PaymentMethod: method,
		Lines:         closed,
		TotalCents:    sumLines(closed),
	}
	s.dispatch(events.TabClosed{
		TabID:         tabID,
		PaymentMethod: method,
		Lines:         len(closed),
		TotalCents:    result.TotalCents,
	})
	return result, nil
}

func emptyClose(tabID int) domain.CloseTabResult {
	logger().Info("close on empty tab ignored", zap.Int("tab_id", tabID))
	return domain.CloseTabResult{TabID: tabID, Closed: false, Lines: []domain.SaleLine{}}
}

var errQty = errors.Wrap(store.ErrValidation, "qty must be positive")

func sumLines(lines []domain.SaleLine) int64 {
	var total int64
	for _, line := range lines {
		total += line.TotalCents
	}
	return total
}
