package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestBusDeliversToTypedSubscriber(t *testing.T) {
	b := NewBus()

	var got []StockLow
	handler := func(e StockLow) { got = append(got, e) }
	require.NoError(t, b.Subscribe(TopicStockLow, handler))

	require.NoError(t, b.Dispatch(StockLow{ProductID: 8, Name: "Cake", Stock: 2, Threshold: 5}))
	require.Len(t, got, 1)
	assert.Equal(t, int64(8), got[0].ProductID)

	require.NoError(t, b.Unsubscribe(TopicStockLow, handler))
	require.NoError(t, b.Dispatch(StockLow{ProductID: 8}))
	assert.Len(t, got, 1)
}

func TestLogSubscribersWarnOnLowStock(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	b := NewBus()
	require.NoError(t, LogSubscribers(b, zap.New(core)))

	require.NoError(t, b.Dispatch(StockLow{ProductID: 8, Name: "Cake", Stock: 2, Threshold: 5}))
	require.NoError(t, b.Dispatch(TabClosed{TabID: 3, PaymentMethod: "CASH", Lines: 1, TotalCents: 2000}))

	warnings := logs.FilterMessage("low stock").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, zapcore.WarnLevel, warnings[0].Level)
	assert.Equal(t, "Cake", warnings[0].ContextMap()["product"])

	closed := logs.FilterMessage("tab closed").All()
	require.Len(t, closed, 1)
	assert.Equal(t, "20.00", closed[0].ContextMap()["total"])
}
