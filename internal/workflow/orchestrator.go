package workflow

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/engine"
	"main/internal/gateway"
	"main/internal/ledger"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/refdata"
	"main/internal/risk"
	"main/internal/throttle"
)

// Ledger is the slice of the order ledger the orchestrator reads.
// *ledger.Store satisfies it.
type Ledger interface {
	Instance() string
	GetForTag(tag string, expected ...enum.OrderStatus) (string, enum.OrderStatus, bool, error)
	Orders() ([]model.Order, error)
	LastPrice(displaySymbol string) (float64, bool, error)
	OrderPriceFor(displaySymbol, tag string) (float64, int, bool, error)
	PnL() (ledger.Summary, error)
	PoolStats() (inUse, idle int)
}

// Leg is one side of the straddle: the sold entry strike and the
// cheaper protective strike bought against it.
type Leg struct {
	Name           string
	Symbol         string
	SymbolCode     string
	EntryPrice     float64
	StopSymbol     string
	StopSymbolCode string
	StopPrice      float64
}

type leg struct {
	Leg
	entryTag     string
	exchange     string
	stopExchange string
}

// Config wires an Orchestrator. Durations left zero take the
// production defaults.
type Config struct {
	Ledger      Ledger
	Engine      *engine.Engine
	Instruments *refdata.Table
	Monitor     *risk.Monitor
	Legs        []Leg
	Qty         int
	ProductType string

	StopFactor      float64
	BookFactor      float64
	ModifyThreshold float64

	Settle    time.Duration
	PollEvery time.Duration

	RiskEvery      time.Duration
	StatsEvery     time.Duration
	RejectEvery    time.Duration
	ModifyEvery    time.Duration
	ReEnqueueEvery time.Duration

	Sleep func(time.Duration)
}

// Orchestrator drives the per-leg step DAG to completion. Every cycle
// re-evaluates each step against the remaining-work set and the
// ledger; both guards must pass before a gateway call is issued, which
// makes every step idempotent and the whole run resumable under the
// same instance id.
type Orchestrator struct {
	store   Ledger
	eng     *engine.Engine
	monitor *risk.Monitor
	table   *refdata.Table

	legs    []leg
	qty     int
	product string
	minLtp  float64

	stopFactor      float64
	bookFactor      float64
	modifyThreshold float64

	settle    time.Duration
	pollEvery time.Duration
	sleep     func(time.Duration)

	riskGate      *throttle.Gate
	statsGate     *throttle.Gate
	rejectGate    *throttle.Gate
	modifyGate    *throttle.Gate
	reEnqueueGate *throttle.Gate

	remaining  map[string]struct{}
	squaredOff bool
	rejected   bool
}

func durationOr(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return d
}

// New validates the configuration and builds the orchestrator with a
// full remaining-work set.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Ledger == nil || cfg.Engine == nil {
		return nil, errors.New("ledger and engine are required")
	}
	if len(cfg.Legs) == 0 {
		return nil, errors.New("no legs configured")
	}
	if cfg.Qty <= 0 {
		return nil, errors.Errorf("invalid quantity %d", cfg.Qty)
	}
	table := cfg.Instruments
	if table == nil {
		table = refdata.Default()
	}

	instance := cfg.Ledger.Instance()
	legs := make([]leg, 0, len(cfg.Legs))
	minLtp := 0.0
	for _, l := range cfg.Legs {
		exch, ok := table.ExchangeFor(l.Symbol)
		if !ok {
			return nil, errors.Errorf("unknown instrument for symbol %s", l.Symbol)
		}
		stopExch, ok := table.ExchangeFor(l.StopSymbol)
		if !ok {
			return nil, errors.Errorf("unknown instrument for symbol %s", l.StopSymbol)
		}
		legs = append(legs, leg{
			Leg:          l,
			entryTag:     EntryTag(instance, l.Name),
			exchange:     exch,
			stopExchange: stopExch,
		})
		if minLtp == 0 || l.EntryPrice < minLtp {
			minLtp = l.EntryPrice
		}
	}

	product := cfg.ProductType
	if product == "" {
		product = "M"
	}
	stopFactor := cfg.StopFactor
	if stopFactor <= 0 {
		stopFactor = 1.55
	}
	bookFactor := cfg.BookFactor
	if bookFactor <= 0 {
		bookFactor = 0.3
	}
	threshold := cfg.ModifyThreshold
	if threshold <= 0 {
		threshold = 5.0
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	return &Orchestrator{
		store:           cfg.Ledger,
		eng:             cfg.Engine,
		monitor:         cfg.Monitor,
		table:           table,
		legs:            legs,
		qty:             cfg.Qty,
		product:         product,
		minLtp:          minLtp,
		stopFactor:      stopFactor,
		bookFactor:      bookFactor,
		modifyThreshold: threshold,
		settle:          durationOr(cfg.Settle, 5*time.Second),
		pollEvery:       durationOr(cfg.PollEvery, 250*time.Millisecond),
		sleep:           sleep,
		riskGate:        throttle.NewGate(durationOr(cfg.RiskEvery, 10*time.Second)),
		statsGate:       throttle.NewGate(durationOr(cfg.StatsEvery, time.Minute)),
		rejectGate:      throttle.NewGate(durationOr(cfg.RejectEvery, 5*time.Second)),
		modifyGate:      throttle.NewGate(durationOr(cfg.ModifyEvery, 15*time.Second)),
		reEnqueueGate:   throttle.NewGate(durationOr(cfg.ReEnqueueEvery, 30*time.Second)),
		remaining:       remainingTags(instance, cfg.Legs),
	}, nil
}

// Run re-evaluates the DAG until the workflow is over, flushing the
// engine queue each pass.
func (o *Orchestrator) Run(ctx context.Context) error {
	for !o.Over() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.RunCycle(ctx); err != nil {
			return err
		}
		if err := o.CancelOnProfit(ctx); err != nil {
			return err
		}
		if err := o.ReEnqueueRejectedBookProfit(); err != nil {
			return err
		}
		if err := o.ModifyBookProfit(ctx); err != nil {
			return err
		}
		o.DisplayStats()
		if o.eng.StopRequested() && !o.squaredOff {
			if err := o.SquareOff(ctx); err != nil {
				return err
			}
		}
		if err := o.eng.Run(ctx); err != nil {
			return err
		}
		o.sleep(o.pollEvery)
	}
	return nil
}

// RunCycle walks every leg through the step DAG once.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	for i := range o.legs {
		l := &o.legs[i]
		for _, kind := range stepKinds {
			var err error
			switch kind {
			case stepPlaceEntry:
				err = o.placeEntry(l)
			case stepSubscribeEntry:
				err = o.subscribeEntry(ctx, l)
			case stepPlaceProtective:
				err = o.placeProtective(l)
			case stepSubscribeProtective:
				err = o.subscribeProtective(ctx, l)
			case stepPlaceBookProfit:
				err = o.placeBookProfit(l)
			case stepCancelProtective:
				err = o.cancelProtective(l)
			case stepUnsubscribeEntry:
				err = o.unsubscribeEntry(ctx, l)
			}
			if err != nil {
				return errors.Wrapf(err, "leg %s tag %s", l.Name, tagFor(kind, l.entryTag))
			}
		}
	}
	return nil
}

// Over reports workflow completion: nothing left to do, the day ended,
// or both entries were rejected before any position was taken.
func (o *Orchestrator) Over() bool {
	if len(o.remaining) == 0 || o.eng.DayOver() {
		return true
	}
	return o.bothRejected()
}

// Remaining returns the unsatisfied tags in sorted order.
func (o *Orchestrator) Remaining() []string {
	out := make([]string, 0, len(o.remaining))
	for tag := range o.remaining {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func (o *Orchestrator) pending(tag string) bool {
	_, ok := o.remaining[tag]
	return ok
}

func (o *Orchestrator) satisfy(tag string) {
	delete(o.remaining, tag)
}

// placed is the durable half of the double guard: a non-rejected
// ledger row means the tag's order was already submitted. A rejected
// row does not count, so an explicitly re-enqueued tag can resubmit.
func (o *Orchestrator) placed(tag string) (bool, error) {
	_, status, ok, err := o.store.GetForTag(tag)
	if err != nil {
		return false, errors.Wrapf(err, "lookup tag %s", tag)
	}
	return ok && status != enum.OrderStatusRejected, nil
}

// parentDone requires the parent step both submitted (gone from the
// remaining set) and reflected in the ledger at the expected status.
func (o *Orchestrator) parentDone(parentTag string, status enum.OrderStatus) (bool, error) {
	if o.pending(parentTag) {
		return false, nil
	}
	_, _, ok, err := o.store.GetForTag(parentTag, status)
	if err != nil {
		return false, errors.Wrapf(err, "lookup parent %s", parentTag)
	}
	return ok, nil
}

func (o *Orchestrator) placeEntry(l *leg) error {
	tag := l.entryTag
	if !o.pending(tag) {
		return nil
	}
	if done, err := o.placed(tag); err != nil {
		return err
	} else if done {
		o.satisfy(tag)
		return nil
	}
	o.eng.Register(engine.Action{
		Kind: engine.ActionPlaceOrder,
		Tag:  tag,
		Order: gateway.OrderRequest{
			Side:        enum.SideSell,
			ProductType: o.product,
			Exchange:    l.exchange,
			Symbol:      l.Symbol,
			Qty:         o.qty,
			PriceType:   enum.PriceTypeLimit,
			Price:       l.EntryPrice,
			Retention:   "DAY",
			Tag:         tag,
		},
	}, tag, engine.Reaction{})
	o.satisfy(tag)
	return nil
}

func (o *Orchestrator) subscribeEntry(ctx context.Context, l *leg) error {
	tag := l.entryTag + SuffixSubscribe
	if !o.pending(tag) {
		return nil
	}
	ok, err := o.parentDone(l.entryTag, enum.OrderStatusComplete)
	if err != nil || !ok {
		return err
	}
	if err := o.eng.Subscribe(ctx, model.Subscription{
		Symbol:        l.SymbolCode,
		Exchange:      l.exchange,
		DisplaySymbol: l.Symbol,
		Instance:      o.store.Instance(),
	}); err != nil {
		return err
	}
	if err := o.watchFromLedger(l.entryTag, l.SymbolCode); err != nil {
		return err
	}
	o.satisfy(tag)
	return nil
}

func (o *Orchestrator) placeProtective(l *leg) error {
	tag := l.entryTag + SuffixStopLoss
	if !o.pending(tag) {
		return nil
	}
	if done, err := o.placed(tag); err != nil {
		return err
	} else if done {
		o.satisfy(tag)
		return nil
	}
	ok, err := o.parentDone(l.entryTag, enum.OrderStatusComplete)
	if err != nil || !ok {
		return err
	}
	price := ProtectivePrice(l.StopPrice, o.stopFactor)
	o.eng.Register(engine.Action{
		Kind: engine.ActionPlaceOrder,
		Tag:  tag,
		Order: gateway.OrderRequest{
			Side:         enum.SideBuy,
			ProductType:  o.product,
			Exchange:     l.stopExchange,
			Symbol:       l.StopSymbol,
			Qty:          o.qty,
			PriceType:    enum.PriceTypeStopLimit,
			Price:        price,
			TriggerPrice: TriggerFor(price),
			Retention:    "DAY",
			Tag:          tag,
		},
	}, tag, engine.Reaction{})
	o.satisfy(tag)
	return nil
}

func (o *Orchestrator) subscribeProtective(ctx context.Context, l *leg) error {
	tag := l.entryTag + SuffixStopSubscribe
	if !o.pending(tag) {
		return nil
	}
	ok, err := o.parentDone(l.entryTag+SuffixStopLoss, enum.OrderStatusComplete)
	if err != nil || !ok {
		return err
	}
	if err := o.eng.Subscribe(ctx, model.Subscription{
		Symbol:        l.StopSymbolCode,
		Exchange:      l.stopExchange,
		DisplaySymbol: l.StopSymbol,
		Instance:      o.store.Instance(),
	}); err != nil {
		return err
	}
	if err := o.watchFromLedger(l.entryTag+SuffixStopLoss, l.StopSymbolCode); err != nil {
		return err
	}
	o.satisfy(tag)
	return nil
}

// placeBookProfit buys back the sold entry once the protective order
// is accepted and resting at the exchange.
func (o *Orchestrator) placeBookProfit(l *leg) error {
	tag := l.entryTag + SuffixBookProfit
	if !o.pending(tag) {
		return nil
	}
	if done, err := o.placed(tag); err != nil {
		return err
	} else if done {
		o.satisfy(tag)
		return nil
	}
	ok, err := o.parentDone(l.entryTag+SuffixStopLoss, enum.OrderStatusTriggerPending)
	if err != nil || !ok {
		return err
	}
	price := BookProfitPrice(o.minLtp, o.bookFactor)
	o.eng.Register(engine.Action{
		Kind: engine.ActionPlaceOrder,
		Tag:  tag,
		Order: gateway.OrderRequest{
			Side:         enum.SideBuy,
			ProductType:  o.product,
			Exchange:     l.exchange,
			Symbol:       l.Symbol,
			Qty:          o.qty,
			PriceType:    enum.PriceTypeStopLimit,
			Price:        price,
			TriggerPrice: TriggerFor(price),
			Retention:    "DAY",
			Tag:          tag,
		},
	}, tag, engine.Reaction{})
	o.satisfy(tag)
	return nil
}

// cancelProtective retires the resting protective order once the
// profit-booking order filled: the leg is flat, the stop has nothing
// left to protect.
func (o *Orchestrator) cancelProtective(l *leg) error {
	tag := l.entryTag + SuffixCancel
	if !o.pending(tag) {
		return nil
	}
	ok, err := o.parentDone(l.entryTag+SuffixBookProfit, enum.OrderStatusComplete)
	if err != nil || !ok {
		return err
	}
	stopTag := l.entryTag + SuffixStopLoss
	id, status, ok, err := o.store.GetForTag(stopTag)
	if err != nil {
		return errors.Wrapf(err, "lookup tag %s", stopTag)
	}
	if !ok {
		return nil
	}
	switch status {
	case enum.OrderStatusTriggerPending:
		o.eng.Register(engine.Action{
			Kind:    engine.ActionCancelOrder,
			Tag:     stopTag,
			OrderID: id,
		}, tag, engine.Reaction{})
		o.satisfy(tag)
	case enum.OrderStatusComplete:
		// stop already executed, nothing to cancel
		o.satisfy(tag)
	}
	return nil
}

func (o *Orchestrator) unsubscribeEntry(ctx context.Context, l *leg) error {
	tag := l.entryTag + SuffixUnsubscribe
	if !o.pending(tag) {
		return nil
	}
	_, _, booked, err := o.store.GetForTag(l.entryTag+SuffixBookProfit, enum.OrderStatusComplete)
	if err != nil {
		return errors.Wrapf(err, "lookup tag %s", l.entryTag+SuffixBookProfit)
	}
	_, _, canceled, err := o.store.GetForTag(l.entryTag, enum.OrderStatusCanceled)
	if err != nil {
		return errors.Wrapf(err, "lookup tag %s", l.entryTag)
	}
	if !booked && !canceled {
		return nil
	}
	key := gateway.SubscriptionKey(l.exchange, l.SymbolCode)
	if err := o.eng.Unsubscribe(ctx, []string{key}); err != nil {
		return err
	}
	o.eng.Unwatch(l.SymbolCode)
	o.satisfy(tag)
	return nil
}

// watchFromLedger adds a filled order's position to the engine's live
// PnL cache using the recorded fill data.
func (o *Orchestrator) watchFromLedger(tag, symbolCode string) error {
	rows, err := o.store.Orders()
	if err != nil {
		return errors.Wrap(err, "load orders")
	}
	for _, row := range rows {
		if row.Tag != tag || row.Status != enum.OrderStatusComplete || !row.Filled() {
			continue
		}
		o.eng.Watch(engine.PositionWatch{
			Symbol:        symbolCode,
			DisplaySymbol: row.Symbol,
			Qty:           row.Qty,
			AvgPrice:      row.AvgPrice,
			Side:          row.Side,
		})
		return nil
	}
	return nil
}

// CancelOnProfit evaluates ledger-computed PnL against the current
// bounds, rate limited, and squares off on a breach.
func (o *Orchestrator) CancelOnProfit(ctx context.Context) error {
	if o.squaredOff || o.monitor == nil || !o.riskGate.Allow() {
		return nil
	}
	summary, err := o.store.PnL()
	if err != nil {
		return errors.Wrap(err, "compute pnl")
	}
	target, loss := o.monitor.Bounds(ctx)
	if risk.Breached(summary.Total, target, loss) {
		logs.Infof("target reached, pnl %.2f, target %.2f, loss bound %.2f, squaring off",
			summary.Total, target, loss)
		return o.SquareOff(ctx)
	}
	logs.Infof("pnl %.2f, target %.2f", summary.Total, target)
	for _, sym := range summary.Symbols() {
		e := summary.BySymbol[sym]
		logs.Infof("  %s %s x%d avg %.2f last %.2f pnl %.2f",
			sym, e.Side, e.Qty, e.AvgPrice, e.Last, e.PnL)
	}
	return nil
}

// SquareOff flattens the instance: cancels every resting order, places
// an opposite-side market exit for every filled one, and empties the
// remaining-work set. Exits carry a reaction that sweeps any resting
// order their fill may have raced with.
func (o *Orchestrator) SquareOff(ctx context.Context) error {
	rows, err := o.store.Orders()
	if err != nil {
		return errors.Wrap(err, "load orders")
	}
	for _, row := range rows {
		if strings.HasSuffix(row.Tag, SuffixSquareOff) {
			continue
		}
		switch row.Status {
		case enum.OrderStatusOpen, enum.OrderStatusTriggerPending, enum.OrderStatusPending:
			o.eng.Register(engine.Action{
				Kind:    engine.ActionCancelOrder,
				Tag:     row.Tag,
				OrderID: row.OrderID,
			}, row.Tag, engine.Reaction{})
		case enum.OrderStatusComplete:
			exitTag := row.Tag + SuffixSquareOff
			if done, err := o.placed(exitTag); err != nil {
				return err
			} else if done {
				continue
			}
			if !row.Filled() {
				logs.Warnf("complete row %s missing fill data, skipping exit", row.Tag)
				continue
			}
			exch, ok := o.table.ExchangeFor(row.Symbol)
			if !ok {
				exch = o.legs[0].exchange
			}
			o.eng.Register(engine.Action{
				Kind: engine.ActionPlaceOrder,
				Tag:  exitTag,
				Order: gateway.OrderRequest{
					Side:        row.Side.Opposite(),
					ProductType: o.product,
					Exchange:    exch,
					Symbol:      row.Symbol,
					Qty:         row.Qty,
					PriceType:   enum.PriceTypeMarket,
					Retention:   "DAY",
					Tag:         exitTag,
				},
			}, exitTag, engine.Reaction{Kind: engine.ReactionCancelPendingOrders})
		default:
			logs.Debugf("square off ignoring %s, status %s", row.Tag, row.Status)
		}
	}
	o.remaining = make(map[string]struct{})
	o.squaredOff = true
	o.eng.RequestStop()
	if err := o.eng.Run(ctx); err != nil {
		return err
	}
	o.sleep(o.settle)
	return nil
}

// bothRejected checks, rate limited, whether every leg's entry was
// rejected by the broker. Sticky once true.
func (o *Orchestrator) bothRejected() bool {
	if o.rejected {
		return true
	}
	if !o.rejectGate.Allow() {
		return false
	}
	for i := range o.legs {
		_, _, ok, err := o.store.GetForTag(o.legs[i].entryTag, enum.OrderStatusRejected)
		if err != nil {
			logs.Errorf("rejection check failed: %+v", err)
			return false
		}
		if !ok {
			return false
		}
	}
	logs.Warnf("both legs rejected, closing with no position")
	o.rejected = true
	return true
}

// ReEnqueueRejectedBookProfit puts a rejected profit-booking tag back
// into the remaining-work set so the next cycle resubmits it.
func (o *Orchestrator) ReEnqueueRejectedBookProfit() error {
	if !o.reEnqueueGate.Allow() {
		return nil
	}
	rows, err := o.store.Orders()
	if err != nil {
		return errors.Wrap(err, "load orders")
	}
	for _, row := range rows {
		if !strings.HasSuffix(row.Tag, SuffixBookProfit) ||
			row.Status != enum.OrderStatusRejected || o.pending(row.Tag) {
			continue
		}
		o.remaining[row.Tag] = struct{}{}
		logs.Infof("re-enqueued rejected tag %s", row.Tag)
	}
	return nil
}

// ModifyBookProfit re-prices resting profit-booking orders when the
// live premium has drifted more than the threshold below the factored
// submission price.
func (o *Orchestrator) ModifyBookProfit(ctx context.Context) error {
	if !o.modifyGate.Allow() {
		return nil
	}
	rows, err := o.store.Orders()
	if err != nil {
		return errors.Wrap(err, "load orders")
	}
	for _, row := range rows {
		if !strings.HasSuffix(row.Tag, SuffixBookProfit) ||
			row.Status != enum.OrderStatusTriggerPending {
			continue
		}
		last, qty, ok, err := o.store.OrderPriceFor(row.Symbol, row.Tag)
		if err != nil {
			return errors.Wrapf(err, "order price for %s", row.Symbol)
		}
		if !ok {
			logs.Warnf("no submitted price recorded for %s", row.Symbol)
			continue
		}
		ltp, ok, err := o.store.LastPrice(row.Symbol)
		if err != nil {
			return errors.Wrapf(err, "last price for %s", row.Symbol)
		}
		if !ok {
			logs.Warnf("no quote for %s", row.Symbol)
			continue
		}
		factored := last * o.bookFactor
		diffPercent := (1 - ltp/factored) * 100
		if diffPercent <= o.modifyThreshold {
			logs.Debugf("%s ltp %.2f price %.2f diff %.2f%%, leaving order",
				row.Symbol, ltp, factored, diffPercent)
			continue
		}
		price := RoundToHalf(factored)
		exch, okExch := o.table.ExchangeFor(row.Symbol)
		if !okExch {
			exch = o.legs[0].exchange
		}
		o.eng.Register(engine.Action{
			Kind: engine.ActionModifyOrder,
			Tag:  row.Tag,
			Modify: gateway.ModifyRequest{
				OrderID:      row.OrderID,
				Exchange:     exch,
				Symbol:       row.Symbol,
				Qty:          qty,
				PriceType:    enum.PriceTypeStopLimit,
				Price:        price,
				TriggerPrice: TriggerFor(price),
			},
		}, row.Tag, engine.Reaction{})
		logs.Infof("%s ltp %.2f drifted %.2f%% below %.2f, re-pricing to %.2f",
			row.Symbol, ltp, diffPercent, factored, price)
	}
	return nil
}

// DisplayStats logs the remaining-work set and pool usage, rate
// limited.
func (o *Orchestrator) DisplayStats() {
	if !o.statsGate.Allow() {
		return
	}
	inUse, idle := o.store.PoolStats()
	logs.Debugf("remaining work: %v", o.Remaining())
	logs.Debugf("pool connections in use %d, idle %d", inUse, idle)
}
