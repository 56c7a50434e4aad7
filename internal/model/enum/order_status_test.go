package enum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatusRoundTrip(t *testing.T) {
	for s := _order_status_beg + 1; s < _order_status_end; s++ {
		parsed, ok := ParseOrderStatus(s.String())
		require.Truef(t, ok, "status %d should round-trip", s)
		assert.Equal(t, s, parsed)
	}
	_, ok := ParseOrderStatus("FILLED")
	assert.False(t, ok)
}

func TestOrderStatusTerminal(t *testing.T) {
	assert.True(t, OrderStatusComplete.Terminal())
	assert.True(t, OrderStatusCanceled.Terminal())
	assert.True(t, OrderStatusRejected.Terminal())
	assert.False(t, OrderStatusPending.Terminal())
	assert.False(t, OrderStatusOpen.Terminal())
	assert.False(t, OrderStatusTriggerPending.Terminal())
}

func TestOrderStatusTransitions(t *testing.T) {
	assert.True(t, OrderStatusPending.CanTransition(OrderStatusOpen))
	assert.True(t, OrderStatusPending.CanTransition(OrderStatusTriggerPending))
	assert.True(t, OrderStatusOpen.CanTransition(OrderStatusComplete))
	assert.True(t, OrderStatusTriggerPending.CanTransition(OrderStatusCanceled))
	assert.False(t, OrderStatusComplete.CanTransition(OrderStatusOpen))
	assert.False(t, OrderStatusRejected.CanTransition(OrderStatusPending))
	assert.False(t, OrderStatusOpen.CanTransition(OrderStatusPending))
}

func TestOrderStatusScan(t *testing.T) {
	var s OrderStatus
	require.NoError(t, s.Scan("TRIGGER_PENDING"))
	assert.Equal(t, OrderStatusTriggerPending, s)

	require.NoError(t, s.Scan([]byte("COMPLETE")))
	assert.Equal(t, OrderStatusComplete, s)

	assert.Error(t, s.Scan("NOPE"))
	assert.Error(t, s.Scan(42))
}

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, SideSell, SideBuy.Opposite())
	assert.Equal(t, SideBuy, SideSell.Opposite())
}
