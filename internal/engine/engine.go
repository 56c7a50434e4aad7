package engine

import (
	"context"
	"os"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/gateway"
	"main/internal/ledger"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/throttle"
)

// Ledger is the slice of the order ledger the engine writes through.
// *ledger.Store satisfies it.
type Ledger interface {
	RecordQuote(symbol string, price float64) error
	RecordOrderUpdate(u gateway.OrderUpdate) error
	RecordSubscription(sub model.Subscription) error
	Orders() ([]model.Order, error)
}

// MonitorFunc receives the aggregated live PnL on each tick of a
// watched symbol. Returning false asks the engine to stop trading.
type MonitorFunc func(total float64, bySymbol map[string]float64) bool

// ClosingTime is the wall-clock cutoff after which the trading day is
// over regardless of open work.
type ClosingTime struct {
	Hour     int
	Minute   int
	Location *time.Location
}

// PositionWatch is a filled leg whose symbol feed drives the live PnL
// cache.
type PositionWatch struct {
	Symbol        string
	DisplaySymbol string
	Qty           int
	AvgPrice      float64
	Side          enum.Side
}

// Config wires an Engine. Zero-value delays disable pacing, a nil
// Fatal falls back to log-and-exit, and a zero MarketClose defaults
// to 15:31 local.
type Config struct {
	Gateway        gateway.Gateway
	Ledger         Ledger
	InterCallDelay time.Duration
	SnapshotEvery  time.Duration
	MarketClose    ClosingTime
	Monitor        MonitorFunc
	Now            func() time.Time
	Fatal          func(error)
}

// Engine owns the action queue and the reaction registry. Callbacks
// from the gateway's delivery goroutine and calls from the
// orchestrator loop meet only under the engine mutex or in the ledger.
type Engine struct {
	gw      gateway.Gateway
	store   Ledger
	delay   time.Duration
	closeAt ClosingTime
	now     func() time.Time
	fatal   func(error)
	monitor MonitorFunc

	snapshotGate *throttle.Gate

	mu         sync.Mutex
	queue      []Action
	reactions  map[string]Reaction
	subscribed map[string]model.Subscription
	watches    map[string]PositionWatch
	pnl        map[string]float64
	stop       bool
}

// New creates an engine from cfg.
func New(cfg Config) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	fatal := cfg.Fatal
	if fatal == nil {
		fatal = func(err error) {
			logs.Errorf("engine handler failed: %+v\n%s", err, debug.Stack())
			os.Exit(1)
		}
	}
	closeAt := cfg.MarketClose
	if closeAt.Location == nil {
		closeAt.Location = time.Local
	}
	if closeAt.Hour == 0 && closeAt.Minute == 0 {
		closeAt.Hour, closeAt.Minute = 15, 31
	}
	snapshotEvery := cfg.SnapshotEvery
	if snapshotEvery <= 0 {
		snapshotEvery = 5 * time.Second
	}
	return &Engine{
		gw:           cfg.Gateway,
		store:        cfg.Ledger,
		delay:        cfg.InterCallDelay,
		closeAt:      closeAt,
		now:          now,
		fatal:        fatal,
		monitor:      cfg.Monitor,
		snapshotGate: throttle.NewGate(snapshotEvery),
		reactions:    make(map[string]Reaction),
		subscribed:   make(map[string]model.Subscription),
		watches:      make(map[string]PositionWatch),
		pnl:          make(map[string]float64),
	}
}

// Start opens the gateway session and installs the engine callbacks.
func (e *Engine) Start(ctx context.Context) error {
	err := e.gw.StartSession(ctx, gateway.SessionCallbacks{
		OnOpen:        e.handleOpen,
		OnTick:        e.handleTick,
		OnOrderUpdate: e.handleOrderUpdate,
		OnError: func(err error) {
			logs.Errorf("session error: %+v", err)
		},
		OnClose: func() {
			logs.Warnf("session closed")
		},
	})
	if err != nil {
		return errors.Wrap(err, "start session")
	}
	return nil
}

// Close tears down the gateway session.
func (e *Engine) Close() error {
	return e.gw.CloseSession()
}

// Register enqueues an action and records its one-shot reaction
// keyed by tag.
func (e *Engine) Register(a Action, tag string, r Reaction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = append(e.queue, a)
	if r.Kind.IsAvailable() {
		e.reactions[tag] = r
	}
}

// EvtRegister records a reaction for a tag without queuing an action,
// used when the order already exists and only the follow-up is owed.
func (e *Engine) EvtRegister(tag string, r Reaction) {
	if !r.Kind.IsAvailable() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reactions[tag] = r
}

// Run drains the action queue in insertion order, pacing consecutive
// gateway calls by the configured delay. A failed action aborts the
// drain; the remaining queue is kept for the next cycle.
func (e *Engine) Run(ctx context.Context) error {
	first := true
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return nil
		}
		a := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		if !first && e.delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.delay):
			}
		}
		first = false

		if err := e.execute(ctx, a); err != nil {
			return errors.Wrapf(err, "execute action tag %s", a.Tag)
		}
	}
}

func (e *Engine) execute(ctx context.Context, a Action) error {
	switch a.Kind {
	case ActionPlaceOrder:
		id, err := e.gw.PlaceOrder(ctx, a.Order)
		if err != nil {
			return errors.Wrapf(err, "place order %s", a.Order.Tag)
		}
		logs.Infof("placed %s %s x%d as %s, tag %s",
			a.Order.Side, a.Order.Symbol, a.Order.Qty, id, a.Order.Tag)
		return nil
	case ActionCancelOrder:
		if err := e.gw.CancelOrder(ctx, a.OrderID); err != nil {
			return errors.Wrapf(err, "cancel order %s", a.OrderID)
		}
		logs.Infof("canceled order %s, tag %s", a.OrderID, a.Tag)
		return nil
	case ActionModifyOrder:
		if err := e.gw.ModifyOrder(ctx, a.Modify); err != nil {
			return errors.Wrapf(err, "modify order %s", a.Modify.OrderID)
		}
		logs.Infof("modified order %s to %.2f/%.2f, tag %s",
			a.Modify.OrderID, a.Modify.Price, a.Modify.TriggerPrice, a.Tag)
		return nil
	case ActionSubscribe:
		return e.Subscribe(ctx, a.Subscription)
	case ActionUnsubscribe:
		return e.Unsubscribe(ctx, a.Keys)
	}
	return errors.Errorf("unknown action kind %d", a.Kind)
}

// Subscribe opens the feed for sub, records it in the ledger and
// tracks it for reconnect replay.
func (e *Engine) Subscribe(ctx context.Context, sub model.Subscription) error {
	key := gateway.SubscriptionKey(sub.Exchange, sub.Symbol)
	if err := e.gw.Subscribe(ctx, []string{key}); err != nil {
		return errors.Wrapf(err, "subscribe %s", key)
	}
	if err := e.store.RecordSubscription(sub); err != nil {
		return errors.Wrapf(err, "record subscription %s", key)
	}
	e.mu.Lock()
	e.subscribed[key] = sub
	e.mu.Unlock()
	logs.Infof("subscribed %s (%s)", sub.DisplaySymbol, key)
	return nil
}

// Unsubscribe drops the given feed keys. Ledger subscription rows
// stay in place so past PnL remains attributable.
func (e *Engine) Unsubscribe(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := e.gw.Unsubscribe(ctx, keys); err != nil {
		return errors.Wrapf(err, "unsubscribe %v", keys)
	}
	e.mu.Lock()
	for _, k := range keys {
		delete(e.subscribed, k)
	}
	e.mu.Unlock()
	logs.Infof("unsubscribed %v", keys)
	return nil
}

// Watch adds a filled leg to the live PnL cache.
func (e *Engine) Watch(w PositionWatch) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.watches[w.Symbol] = w
}

// Unwatch removes a leg from the live PnL cache.
func (e *Engine) Unwatch(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.watches[symbol]
	if !ok {
		return
	}
	delete(e.watches, symbol)
	delete(e.pnl, w.DisplaySymbol)
}

// InPosition reports whether any leg is being watched.
func (e *Engine) InPosition() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.watches) > 0
}

// Running reports whether the engine should keep going: the monitor
// has not signalled stop, or actions, reactions or subscriptions are
// still outstanding. The closing cutoff ends the day regardless.
func (e *Engine) Running() bool {
	if e.DayOver() {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.stop || len(e.queue) > 0 || len(e.reactions) > 0 || len(e.subscribed) > 0
}

// StopRequested reports whether the monitor asked to stop trading.
func (e *Engine) StopRequested() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stop
}

// RequestStop flags the engine to stop trading, silencing the tick
// monitor.
func (e *Engine) RequestStop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stop = true
}

// PendingReactions returns the number of unresolved reactions.
func (e *Engine) PendingReactions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.reactions)
}

// DayOver reports whether the closing cutoff has passed.
func (e *Engine) DayOver() bool {
	t := e.now().In(e.closeAt.Location)
	cutoff := time.Date(t.Year(), t.Month(), t.Day(),
		e.closeAt.Hour, e.closeAt.Minute, 0, 0, e.closeAt.Location)
	return !t.Before(cutoff)
}

// handleOpen fires on every session (re)connect and replays every
// tracked subscription, so a dropped feed resumes without orchestrator
// involvement.
func (e *Engine) handleOpen() {
	e.mu.Lock()
	keys := make([]string, 0, len(e.subscribed))
	for k := range e.subscribed {
		keys = append(keys, k)
	}
	e.mu.Unlock()
	if len(keys) == 0 {
		return
	}
	sort.Strings(keys)
	if err := e.gw.Subscribe(context.Background(), keys); err != nil {
		e.fatal(errors.Wrap(err, "resubscribe on reconnect"))
		return
	}
	logs.Infof("resubscribed %d feeds after reconnect", len(keys))
}

func (e *Engine) handleTick(t gateway.Tick) {
	if err := e.store.RecordQuote(t.Symbol, t.LastPrice); err != nil {
		e.fatal(errors.Wrapf(err, "record quote %s", t.Symbol))
		return
	}

	e.mu.Lock()
	w, watched := e.watches[t.Symbol]
	if !watched || e.stop {
		e.mu.Unlock()
		return
	}
	e.pnl[w.DisplaySymbol] = ledger.PositionPnL(ledger.Position{
		AvgPrice:  w.AvgPrice,
		Qty:       w.Qty,
		Side:      w.Side,
		Symbol:    w.DisplaySymbol,
		LastPrice: t.LastPrice,
	})
	total := 0.0
	bySymbol := make(map[string]float64, len(e.pnl))
	for sym, v := range e.pnl {
		total += v
		bySymbol[sym] = v
	}
	monitor := e.monitor
	e.mu.Unlock()

	if e.snapshotGate.Allow() {
		logs.Infof("live pnl %.2f %v", total, bySymbol)
	}
	if monitor != nil && !monitor(total, bySymbol) {
		e.RequestStop()
		logs.Warnf("monitor requested stop at pnl %.2f", total)
	}
}

// handleOrderUpdate persists the update first, then resolves the
// reaction for its tag. A reaction fires exactly once, on a Complete
// fill report; a cancellation retires it unfired.
func (e *Engine) handleOrderUpdate(u gateway.OrderUpdate) {
	if err := e.store.RecordOrderUpdate(u); err != nil {
		e.fatal(errors.Wrapf(err, "record order update %s", u.OrderID))
		return
	}

	e.mu.Lock()
	r, ok := e.reactions[u.Tag]
	if !ok {
		e.mu.Unlock()
		logs.Debugf("no reaction registered for tag %q", u.Tag)
		return
	}
	switch {
	case u.Status == enum.OrderStatusComplete && u.ReportType == gateway.ReportFill:
		delete(e.reactions, u.Tag)
		e.mu.Unlock()
		if err := e.dispatch(context.Background(), r, u); err != nil {
			e.fatal(errors.Wrapf(err, "reaction for tag %s", u.Tag))
		}
	case u.Status == enum.OrderStatusCanceled:
		delete(e.reactions, u.Tag)
		e.mu.Unlock()
		logs.Debugf("retired reaction for canceled tag %q", u.Tag)
	default:
		e.mu.Unlock()
	}
}

func (e *Engine) dispatch(ctx context.Context, r Reaction, u gateway.OrderUpdate) error {
	switch r.Kind {
	case ReactionNone:
		return nil
	case ReactionCancelPendingOrders:
		rows, err := e.store.Orders()
		if err != nil {
			return errors.Wrap(err, "load orders")
		}
		for _, row := range rows {
			if row.Status.Terminal() || row.OrderID == u.OrderID {
				continue
			}
			if err := e.gw.CancelOrder(ctx, row.OrderID); err != nil {
				return errors.Wrapf(err, "cancel pending order %s", row.OrderID)
			}
			logs.Infof("canceled pending order %s, tag %s", row.OrderID, row.Tag)
		}
		return nil
	case ReactionUnsubscribe:
		return e.Unsubscribe(ctx, r.Keys)
	}
	return errors.Errorf("unknown reaction kind %d", r.Kind)
}
