package engine

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/gateway"
	"main/internal/model"
	"main/internal/model/enum"
)

type memLedger struct {
	mu     sync.Mutex
	quotes map[string]float64
	orders map[string]gateway.OrderUpdate
	subs   []model.Subscription
}

func newMemLedger() *memLedger {
	return &memLedger{
		quotes: make(map[string]float64),
		orders: make(map[string]gateway.OrderUpdate),
	}
}

func (m *memLedger) RecordQuote(symbol string, price float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[symbol] = price
	return nil
}

func (m *memLedger) RecordOrderUpdate(u gateway.OrderUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[u.OrderID] = u
	return nil
}

func (m *memLedger) RecordSubscription(sub model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, sub)
	return nil
}

func (m *memLedger) Orders() ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.orders))
	for id := range m.orders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]model.Order, 0, len(ids))
	for _, id := range ids {
		u := m.orders[id]
		out = append(out, model.Order{
			OrderID: u.OrderID,
			Tag:     u.Tag,
			AvgPrice: func() float64 {
				if u.Status == enum.OrderStatusComplete {
					return u.FillPrice
				}
				return model.UnfilledSentinel
			}(),
			Qty:    u.Qty,
			Side:   u.Side,
			Symbol: u.Symbol,
			Status: u.Status,
		})
	}
	return out, nil
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *gateway.Sim, *memLedger) {
	t.Helper()
	sim := gateway.NewSim()
	store := newMemLedger()
	cfg.Gateway = sim
	cfg.Ledger = store
	if cfg.Fatal == nil {
		cfg.Fatal = func(err error) { t.Fatalf("unexpected fatal: %+v", err) }
	}
	if cfg.MarketClose.Hour == 0 {
		cfg.MarketClose = ClosingTime{Hour: 23, Minute: 59, Location: time.UTC}
	}
	e := New(cfg)
	require.NoError(t, e.Start(context.Background()))
	return e, sim, store
}

func TestRunExecutesQueueInOrder(t *testing.T) {
	e, sim, _ := newTestEngine(t, Config{})

	for _, tag := range []string{"run|a", "run|b", "run|c"} {
		e.Register(Action{
			Kind:  ActionPlaceOrder,
			Tag:   tag,
			Order: gateway.OrderRequest{Side: enum.SideSell, Symbol: "NIFTY-CE", Qty: 50, Tag: tag},
		}, tag, Reaction{Kind: ReactionNone})
	}
	require.NoError(t, e.Run(context.Background()))

	orders := sim.Orders()
	require.Len(t, orders, 3)
	assert.Equal(t, "run|a", orders[0].Request.Tag)
	assert.Equal(t, "run|b", orders[1].Request.Tag)
	assert.Equal(t, "run|c", orders[2].Request.Tag)
	assert.Equal(t, 3, e.PendingReactions())
}

func TestReactionFiresOnceOnCompleteFill(t *testing.T) {
	e, sim, _ := newTestEngine(t, Config{})
	ctx := context.Background()

	stop := gateway.OrderRequest{
		Side: enum.SideBuy, Symbol: "NIFTY-PE-STOP", Qty: 50,
		PriceType: enum.PriceTypeStopLimit, Price: 120, TriggerPrice: 119.5,
		Tag: "fire|pe_stop_loss",
	}
	e.Register(Action{Kind: ActionPlaceOrder, Tag: stop.Tag, Order: stop}, stop.Tag, Reaction{Kind: ReactionNone})

	exit := gateway.OrderRequest{
		Side: enum.SideBuy, Symbol: "NIFTY-CE", Qty: 50,
		PriceType: enum.PriceTypeMarket, Tag: "fire|ce_square_off",
	}
	e.Register(Action{Kind: ActionPlaceOrder, Tag: exit.Tag, Order: exit}, exit.Tag,
		Reaction{Kind: ReactionCancelPendingOrders})
	require.NoError(t, e.Run(ctx))

	exitOrder, ok := sim.OrderByTag(exit.Tag)
	require.True(t, ok)
	sim.Fill(exitOrder.OrderID, 231.5)

	stopOrder, ok := sim.OrderByTag(stop.Tag)
	require.True(t, ok)
	assert.Equal(t, []string{stopOrder.OrderID}, sim.Canceled())
	assert.Equal(t, 0, e.PendingReactions())

	// a replayed fill report must not refire
	sim.Fill(exitOrder.OrderID, 231.5)
	assert.Len(t, sim.Canceled(), 1)
}

func TestReactionIgnoresNonFillComplete(t *testing.T) {
	e, _, store := newTestEngine(t, Config{})

	e.EvtRegister("partial|ce", Reaction{Kind: ReactionCancelPendingOrders})
	e.handleOrderUpdate(gateway.OrderUpdate{
		OrderID: "X1", Tag: "partial|ce", Status: enum.OrderStatusOpen,
	})
	assert.Equal(t, 1, e.PendingReactions())

	// update still persisted even though no reaction fired
	rows, err := store.Orders()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, enum.OrderStatusOpen, rows[0].Status)
}

func TestCanceledRetiresReaction(t *testing.T) {
	e, sim, _ := newTestEngine(t, Config{})
	ctx := context.Background()

	req := gateway.OrderRequest{Side: enum.SideSell, Symbol: "NIFTY-CE", Qty: 50, Tag: "retire|ce"}
	e.Register(Action{Kind: ActionPlaceOrder, Tag: req.Tag, Order: req}, req.Tag,
		Reaction{Kind: ReactionCancelPendingOrders})
	require.NoError(t, e.Run(ctx))
	require.Equal(t, 1, e.PendingReactions())

	o, ok := sim.OrderByTag(req.Tag)
	require.True(t, ok)
	require.NoError(t, sim.CancelOrder(ctx, o.OrderID))
	assert.Equal(t, 0, e.PendingReactions())
}

func TestTickDrivesPnLAndMonitorStop(t *testing.T) {
	var (
		mu     sync.Mutex
		totals []float64
	)
	e, sim, store := newTestEngine(t, Config{
		Monitor: func(total float64, _ map[string]float64) bool {
			mu.Lock()
			totals = append(totals, total)
			mu.Unlock()
			return total < 4165
		},
	})

	e.Watch(PositionWatch{
		Symbol: "26009", DisplaySymbol: "NIFTY-CE",
		Qty: 50, AvgPrice: 238, Side: enum.SideSell,
	})
	require.True(t, e.InPosition())

	sim.PushTick(gateway.Tick{Symbol: "26009", LastPrice: 230})
	assert.False(t, e.StopRequested())

	// sold leg at 238, last 150: pnl = (238-150)*50 = 4400 >= target
	sim.PushTick(gateway.Tick{Symbol: "26009", LastPrice: 150})
	assert.True(t, e.StopRequested())

	mu.Lock()
	require.Len(t, totals, 2)
	assert.InDelta(t, 400, totals[0], 1e-9)
	assert.InDelta(t, 4400, totals[1], 1e-9)
	mu.Unlock()

	// quotes persist regardless of watch state
	store.mu.Lock()
	assert.InDelta(t, 150, store.quotes["26009"], 1e-9)
	store.mu.Unlock()

	// stopped engine no longer consults the monitor
	sim.PushTick(gateway.Tick{Symbol: "26009", LastPrice: 100})
	mu.Lock()
	assert.Len(t, totals, 2)
	mu.Unlock()
}

func TestUnwatchedTickOnlyRecordsQuote(t *testing.T) {
	called := false
	e, sim, store := newTestEngine(t, Config{
		Monitor: func(float64, map[string]float64) bool {
			called = true
			return true
		},
	})
	sim.PushTick(gateway.Tick{Symbol: "99999", LastPrice: 42})
	assert.False(t, called)
	assert.False(t, e.InPosition())
	store.mu.Lock()
	assert.InDelta(t, 42, store.quotes["99999"], 1e-9)
	store.mu.Unlock()
}

func TestReconnectResubscribes(t *testing.T) {
	e, sim, _ := newTestEngine(t, Config{})
	ctx := context.Background()

	sub := model.Subscription{Symbol: "26009", Exchange: "NFO", DisplaySymbol: "NIFTY-CE", Instance: "i1"}
	require.NoError(t, e.Subscribe(ctx, sub))
	key := gateway.SubscriptionKey(sub.Exchange, sub.Symbol)
	require.True(t, sim.Subscribed(key))

	// gateway loses its subscriptions across a reconnect
	require.NoError(t, sim.Unsubscribe(ctx, []string{key}))
	require.False(t, sim.Subscribed(key))

	sim.Reopen()
	assert.True(t, sim.Subscribed(key))
}

func TestUnsubscribeStopsReconnectReplay(t *testing.T) {
	e, sim, _ := newTestEngine(t, Config{})
	ctx := context.Background()

	sub := model.Subscription{Symbol: "26017", Exchange: "NFO", DisplaySymbol: "NIFTY-PE", Instance: "i1"}
	require.NoError(t, e.Subscribe(ctx, sub))
	key := gateway.SubscriptionKey(sub.Exchange, sub.Symbol)
	require.NoError(t, e.Unsubscribe(ctx, []string{key}))
	require.False(t, sim.Subscribed(key))

	sim.Reopen()
	assert.False(t, sim.Subscribed(key))
}

func TestDayOver(t *testing.T) {
	clock := time.Date(2026, 2, 3, 15, 30, 59, 0, time.UTC)
	e := New(Config{
		Gateway: gateway.NewSim(),
		Ledger:  newMemLedger(),
		MarketClose: ClosingTime{
			Hour: 15, Minute: 31, Location: time.UTC,
		},
		Now: func() time.Time { return clock },
	})
	assert.False(t, e.DayOver())

	clock = time.Date(2026, 2, 3, 15, 31, 0, 0, time.UTC)
	assert.True(t, e.DayOver())
	assert.False(t, e.Running())
}

func TestRunningLifecycle(t *testing.T) {
	e, sim, _ := newTestEngine(t, Config{})
	ctx := context.Background()
	assert.True(t, e.Running()) // no stop signalled yet

	req := gateway.OrderRequest{Side: enum.SideSell, Symbol: "NIFTY-CE", Qty: 50, Tag: "life|ce"}
	e.Register(Action{Kind: ActionPlaceOrder, Tag: req.Tag, Order: req}, req.Tag, Reaction{Kind: ReactionNone})
	require.NoError(t, e.Run(ctx))

	e.RequestStop()
	assert.True(t, e.Running()) // reaction still unresolved

	o, ok := sim.OrderByTag(req.Tag)
	require.True(t, ok)
	sim.Fill(o.OrderID, 238)
	assert.False(t, e.Running())
}

func TestMarketCloseDefaults(t *testing.T) {
	clock := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
	e := New(Config{
		Gateway:     gateway.NewSim(),
		Ledger:      newMemLedger(),
		MarketClose: ClosingTime{Location: time.UTC},
		Now:         func() time.Time { return clock },
	})
	assert.False(t, e.DayOver())

	clock = time.Date(2026, 2, 3, 15, 31, 0, 0, time.UTC)
	assert.True(t, e.DayOver())
}
