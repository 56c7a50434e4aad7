package gateway

import (
	"context"
	"fmt"

	"main/internal/model/enum"
)

// ReportFill is the broker report type carried on fill notifications.
// A reaction fires only for Complete updates with this report type.
const ReportFill = "Fill"

// Tick is one live-feed price update.
type Tick struct {
	Symbol    string
	LastPrice float64
}

// OrderUpdate is one broker order notification.
type OrderUpdate struct {
	OrderID        string
	Symbol         string
	Status         enum.OrderStatus
	ReportType     string
	Tag            string
	Side           enum.Side
	FilledQty      int
	FillPrice      float64
	SubmittedPrice float64
	Qty            int
}

// OrderRequest is a new-order submission.
type OrderRequest struct {
	Side         enum.Side
	ProductType  string
	Exchange     string
	Symbol       string
	Qty          int
	PriceType    enum.PriceType
	Price        float64
	TriggerPrice float64
	Retention    string
	Tag          string
}

// ModifyRequest re-prices an existing order.
type ModifyRequest struct {
	OrderID      string
	Exchange     string
	Symbol       string
	Qty          int
	PriceType    enum.PriceType
	Price        float64
	TriggerPrice float64
}

// QuoteResult is a point-in-time quote snapshot.
type QuoteResult struct {
	Symbol    string
	LastPrice float64
}

// SessionCallbacks are invoked from the gateway's delivery goroutine.
// OnOpen fires on every (re)connect, including the first.
type SessionCallbacks struct {
	OnOpen        func()
	OnTick        func(Tick)
	OnOrderUpdate func(OrderUpdate)
	OnError       func(error)
	OnClose       func()
}

// Gateway is the brokerage trading boundary. Auth, token caching and
// the wire protocol live behind implementations of this interface.
type Gateway interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	ModifyOrder(ctx context.Context, req ModifyRequest) error
	OrderBook(ctx context.Context) ([]OrderUpdate, error)
	Quote(ctx context.Context, exchange, symbol string) (QuoteResult, error)
	Subscribe(ctx context.Context, keys []string) error
	Unsubscribe(ctx context.Context, keys []string) error
	StartSession(ctx context.Context, callbacks SessionCallbacks) error
	CloseSession() error
}

// SubscriptionKey builds the feed key for a symbol code.
func SubscriptionKey(exchange, symbolCode string) string {
	return fmt.Sprintf("%s|%s", exchange, symbolCode)
}
