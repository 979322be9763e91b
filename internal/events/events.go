// Package events carries domain notifications between the engine and the
// side concerns that react to them (audit logging, low-stock warnings).
package events

import (
	evbus "github.com/asaskevich/EventBus"

	"bancart/internal/domain"
)

const (
	TopicCatalogChanged = "catalog:changed"
	TopicTabLineAdded   = "tab:line-added"
	TopicTabClosed      = "tab:closed"
	TopicCounterSale    = "counter:sale"
	TopicStockLow       = "stock:low"
)

type Event interface {
	Type() string
}

type CatalogChanged struct {
	ProductID int64
	Action    string
}

func (CatalogChanged) Type() string { return TopicCatalogChanged }

type TabLineAdded struct {
	Line domain.SaleLine
}

func (TabLineAdded) Type() string { return TopicTabLineAdded }

type TabClosed struct {
	TabID         int
	PaymentMethod string
	Lines         int
	TotalCents    int64
}

func (TabClosed) Type() string { return TopicTabClosed }

type CounterSale struct {
	PaymentMethod string
	Lines         int
	TotalCents    int64
}

func (CounterSale) Type() string { return TopicCounterSale }

type StockLow struct {
	ProductID int64
	Name      string
	Stock     int
	Threshold int
}

func (StockLow) Type() string { return TopicStockLow }

// Bus publishes events synchronously: handlers run on the caller's goroutine
// before Dispatch returns.
type Bus struct {
	bus evbus.Bus
}

func NewBus() *Bus {
	return &Bus{bus: evbus.New()}
}

func (b *Bus) Dispatch(e Event) error {
	b.bus.Publish(e.Type(), e)
	return nil
}

// Subscribe registers fn for topic. fn must take the concrete event type
// published on that topic, e.g. func(events.StockLow).
func (b *Bus) Subscribe(topic string, fn any) error {
	return b.bus.Subscribe(topic, fn)
}

func (b *Bus) Unsubscribe(topic string, fn any) error {
	return b.bus.Unsubscribe(topic, fn)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Dispatch(Event) error { return nil }
