package events

import (
	"go.uber.org/zap"

	"bancart/internal/money"
)

// LogSubscribers writes an audit line for every committed sale and a warning
// whenever a product drops below the low-stock threshold.
func LogSubscribers(b *Bus, logger *zap.Logger) error {
	logger = logger.With(zap.String("component", "events"))

	subs := map[string]any{
		TopicTabLineAdded: func(e TabLineAdded) {
			logger.Info("tab line added",
				zap.Int("tab_id", e.Line.TabID),
				zap.String("product", e.Line.ProductName),
				zap.Int("qty", e.Line.Qty),
				zap.String("total", money.FormatCents(e.Line.TotalCents)))
		},
		TopicTabClosed: func(e TabClosed) {
			logger.Info("tab closed",
				zap.Int("tab_id", e.TabID),
				zap.String("payment", e.PaymentMethod),
				zap.Int("lines", e.Lines),
				zap.String("total", money.FormatCents(e.TotalCents)))
		},
		TopicCounterSale: func(e CounterSale) {
			logger.Info("counter sale committed",
				zap.String("payment", e.PaymentMethod),
				zap.Int("lines", e.Lines),
				zap.String("total", money.FormatCents(e.TotalCents)))
		},
		TopicStockLow: func(e StockLow) {
			logger.Warn("low stock",
				zap.Int64("product_id", e.ProductID),
				zap.String("product", e.Name),
				zap.Int("stock", e.Stock),
				zap.Int("threshold", e.Threshold))
		},
		TopicCatalogChanged: func(e CatalogChanged) {
			logger.Debug("catalog changed", zap.Int64("product_id", e.ProductID), zap.String("action", e.Action))
		},
	}
	for topic, fn := range subs {
		if err := b.Subscribe(topic, fn); err != nil {
			return err
		}
	}
	return nil
}
