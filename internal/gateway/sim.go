package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"main/internal/model/enum"
)

// SimOrder is the sim's view of a submitted order. FillPrice stays -1
// until the order completes.
type SimOrder struct {
	OrderID   string
	Request   OrderRequest
	Status    enum.OrderStatus
	FillPrice float64
}

// Sim is an in-process gateway for tests and paper runs. Orders are
// accepted instantly; fills, trigger acceptance and cancellation are
// driven explicitly by the test harness.
type Sim struct {
	mu         sync.Mutex
	callbacks  SessionCallbacks
	started    bool
	orders     map[string]*SimOrder
	subscribed map[string]bool
	canceled   []string
	seq        int
}

var _ Gateway = (*Sim)(nil)

// NewSim creates an empty simulated gateway.
func NewSim() *Sim {
	return &Sim{
		orders:     make(map[string]*SimOrder),
		subscribed: make(map[string]bool),
	}
}

func (s *Sim) PlaceOrder(_ context.Context, req OrderRequest) (string, error) {
	s.mu.Lock()
	s.seq++
	id := fmt.Sprintf("SIM%04d-%s", s.seq, uuid.NewString()[:8])
	s.orders[id] = &SimOrder{OrderID: id, Request: req, Status: enum.OrderStatusPending, FillPrice: -1}
	s.mu.Unlock()
	logs.Debugf("sim: order placed id=%s tag=%s", id, req.Tag)

	initial := enum.OrderStatusOpen
	if req.PriceType == enum.PriceTypeStopLimit {
		initial = enum.OrderStatusTriggerPending
	}
	s.Transition(id, initial)
	return id, nil
}

func (s *Sim) CancelOrder(_ context.Context, orderID string) error {
	s.mu.Lock()
	if _, ok := s.orders[orderID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("sim: unknown order %s", orderID)
	}
	s.canceled = append(s.canceled, orderID)
	s.mu.Unlock()
	s.Transition(orderID, enum.OrderStatusCanceled)
	return nil
}

func (s *Sim) ModifyOrder(_ context.Context, req ModifyRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[req.OrderID]
	if !ok {
		return fmt.Errorf("sim: unknown order %s", req.OrderID)
	}
	o.Request.Price = req.Price
	o.Request.TriggerPrice = req.TriggerPrice
	o.Request.Qty = req.Qty
	return nil
}

// OrderBook returns the broker's view of every order placed this
// session, oldest first.
func (s *Sim) OrderBook(_ context.Context) ([]OrderUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.orders))
	for id := range s.orders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]OrderUpdate, 0, len(ids))
	for _, id := range ids {
		o := s.orders[id]
		u := OrderUpdate{
			OrderID:        o.OrderID,
			Symbol:         o.Request.Symbol,
			Status:         o.Status,
			Tag:            o.Request.Tag,
			Side:           o.Request.Side,
			SubmittedPrice: o.Request.Price,
			Qty:            o.Request.Qty,
			FillPrice:      o.FillPrice,
			FilledQty:      -1,
		}
		if o.Status == enum.OrderStatusComplete {
			u.ReportType = ReportFill
			u.FilledQty = o.Request.Qty
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *Sim) Quote(_ context.Context, _, symbol string) (QuoteResult, error) {
	return QuoteResult{Symbol: symbol}, nil
}

func (s *Sim) Subscribe(_ context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.subscribed[k] = true
	}
	return nil
}

func (s *Sim) Unsubscribe(_ context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.subscribed, k)
	}
	return nil
}

func (s *Sim) StartSession(_ context.Context, callbacks SessionCallbacks) error {
	s.mu.Lock()
	s.callbacks = callbacks
	s.started = true
	s.mu.Unlock()
	if callbacks.OnOpen != nil {
		callbacks.OnOpen()
	}
	return nil
}

func (s *Sim) CloseSession() error {
	s.mu.Lock()
	cb := s.callbacks
	s.started = false
	s.mu.Unlock()
	if cb.OnClose != nil {
		cb.OnClose()
	}
	return nil
}

// PushTick delivers a feed tick to the session callbacks.
func (s *Sim) PushTick(tick Tick) {
	s.mu.Lock()
	cb := s.callbacks
	s.mu.Unlock()
	if cb.OnTick != nil {
		cb.OnTick(tick)
	}
}

// Reopen replays the open callback, simulating a feed reconnect.
func (s *Sim) Reopen() {
	s.mu.Lock()
	cb := s.callbacks
	s.mu.Unlock()
	if cb.OnOpen != nil {
		cb.OnOpen()
	}
}

// Transition moves an order to the given status and emits the
// matching update. Complete transitions carry a fill report at the
// submitted price unless Fill was used.
func (s *Sim) Transition(orderID string, status enum.OrderStatus) {
	s.mu.Lock()
	o, ok := s.orders[orderID]
	if !ok {
		s.mu.Unlock()
		return
	}
	o.Status = status
	update := OrderUpdate{
		OrderID:        o.OrderID,
		Symbol:         o.Request.Symbol,
		Status:         status,
		Tag:            o.Request.Tag,
		Side:           o.Request.Side,
		SubmittedPrice: o.Request.Price,
		Qty:            o.Request.Qty,
		FillPrice:      -1,
		FilledQty:      -1,
	}
	if status == enum.OrderStatusComplete {
		o.FillPrice = o.Request.Price
		update.ReportType = ReportFill
		update.FillPrice = o.Request.Price
		update.FilledQty = o.Request.Qty
	}
	cb := s.callbacks
	s.mu.Unlock()
	if cb.OnOrderUpdate != nil {
		cb.OnOrderUpdate(update)
	}
}

// Fill completes an order at an explicit price.
func (s *Sim) Fill(orderID string, price float64) {
	s.mu.Lock()
	o, ok := s.orders[orderID]
	if !ok {
		s.mu.Unlock()
		return
	}
	o.Status = enum.OrderStatusComplete
	o.FillPrice = price
	update := OrderUpdate{
		OrderID:        o.OrderID,
		Symbol:         o.Request.Symbol,
		Status:         enum.OrderStatusComplete,
		ReportType:     ReportFill,
		Tag:            o.Request.Tag,
		Side:           o.Request.Side,
		FilledQty:      o.Request.Qty,
		FillPrice:      price,
		SubmittedPrice: o.Request.Price,
		Qty:            o.Request.Qty,
	}
	cb := s.callbacks
	s.mu.Unlock()
	if cb.OnOrderUpdate != nil {
		cb.OnOrderUpdate(update)
	}
}

// OrderByTag returns the first order submitted under the tag.
func (s *Sim) OrderByTag(tag string) (SimOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.orders))
	for id := range s.orders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if s.orders[id].Request.Tag == tag {
			return *s.orders[id], true
		}
	}
	return SimOrder{}, false
}

// Orders returns every submitted order, oldest first.
func (s *Sim) Orders() []SimOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.orders))
	for id := range s.orders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]SimOrder, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.orders[id])
	}
	return out
}

// Canceled returns order ids in cancellation order.
func (s *Sim) Canceled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.canceled))
	copy(out, s.canceled)
	return out
}

// Subscribed reports whether a feed key is currently subscribed.
func (s *Sim) Subscribed(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed[key]
}

// SubscribedCount returns the number of live feed subscriptions.
func (s *Sim) SubscribedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribed)
}
