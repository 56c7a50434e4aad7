package workflow

import (
	"strings"
	"sync"

	"main/internal/gateway"
	"main/internal/ledger"
	"main/internal/model"
	"main/internal/model/enum"
)

// memLedger mirrors the real store's upsert and join semantics in
// memory so the orchestrator and engine can be driven without a
// database.
type memLedger struct {
	mu       sync.Mutex
	instance string
	seq      []string
	orders   map[string]model.Order
	prices   map[string]model.OrderPrice
	quotes   map[string]float64
	subs     map[string]model.Subscription
}

func newMemLedger(instance string) *memLedger {
	return &memLedger{
		instance: instance,
		orders:   make(map[string]model.Order),
		prices:   make(map[string]model.OrderPrice),
		quotes:   make(map[string]float64),
		subs:     make(map[string]model.Subscription),
	}
}

func (m *memLedger) Instance() string { return m.instance }

func (m *memLedger) PoolStats() (int, int) { return 0, 0 }

func (m *memLedger) RecordOrderUpdate(u gateway.OrderUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !strings.HasPrefix(u.Tag, m.instance+"|") {
		return nil
	}
	avgPrice := float64(model.UnfilledSentinel)
	if u.FillPrice != model.UnfilledSentinel && u.FilledQty != model.UnfilledSentinel {
		avgPrice = u.FillPrice
	}
	if _, ok := m.orders[u.OrderID]; !ok {
		m.seq = append(m.seq, u.OrderID)
	}
	m.orders[u.OrderID] = model.Order{
		OrderID:  u.OrderID,
		Tag:      u.Tag,
		AvgPrice: avgPrice,
		Qty:      u.Qty,
		Side:     u.Side,
		Symbol:   u.Symbol,
		Status:   u.Status,
		Instance: m.instance,
	}
	m.prices[u.Symbol] = model.OrderPrice{
		Symbol:   u.Symbol,
		Price:    u.SubmittedPrice,
		Qty:      u.Qty,
		Tag:      u.Tag,
		Instance: m.instance,
	}
	return nil
}

func (m *memLedger) RecordQuote(symbol string, price float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[symbol] = price
	return nil
}

func (m *memLedger) RecordSubscription(sub model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub.Instance = m.instance
	m.subs[sub.Symbol] = sub
	return nil
}

func (m *memLedger) GetForTag(tag string, expected ...enum.OrderStatus) (string, enum.OrderStatus, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// latest row wins when a tag was resubmitted
	for i := len(m.seq) - 1; i >= 0; i-- {
		row := m.orders[m.seq[i]]
		if row.Tag != tag {
			continue
		}
		if len(expected) == 0 {
			return row.OrderID, row.Status, true, nil
		}
		for _, want := range expected {
			if row.Status == want {
				return row.OrderID, row.Status, true, nil
			}
		}
		return row.OrderID, row.Status, false, nil
	}
	return "", 0, false, nil
}

func (m *memLedger) Orders() ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Order, 0, len(m.seq))
	for _, id := range m.seq {
		out = append(out, m.orders[id])
	}
	return out, nil
}

func (m *memLedger) LastPrice(displaySymbol string) (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		if sub.DisplaySymbol != displaySymbol {
			continue
		}
		price, ok := m.quotes[sub.Symbol]
		return price, ok, nil
	}
	return 0, false, nil
}

func (m *memLedger) OrderPriceFor(displaySymbol, tag string) (float64, int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.prices[displaySymbol]
	if !ok || row.Tag != tag {
		return 0, 0, false, nil
	}
	return row.Price, row.Qty, true, nil
}

func (m *memLedger) PnL() (ledger.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []ledger.Position
	for _, id := range m.seq {
		o := m.orders[id]
		for _, sub := range m.subs {
			if sub.DisplaySymbol != o.Symbol {
				continue
			}
			price, ok := m.quotes[sub.Symbol]
			if !ok {
				continue
			}
			rows = append(rows, ledger.Position{
				AvgPrice:  o.AvgPrice,
				Qty:       o.Qty,
				Side:      o.Side,
				Symbol:    o.Symbol,
				LastPrice: price,
			})
			break
		}
	}
	return ledger.Summarize(rows), nil
}
