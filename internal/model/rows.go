package model

import (
	"time"

	"main/internal/model/enum"
)

// UnfilledSentinel marks price/qty fields of an order row that has not
// reported fill data yet. PnL queries skip rows carrying it.
const UnfilledSentinel = -1

// Order is one broker order row, keyed by the broker order id.
// Upserts never delete; terminal statuses stay in place for attribution.
type Order struct {
	OrderID   string           `gorm:"column:order_id;primaryKey"`
	Timestamp time.Time        `gorm:"column:ts"`
	Tag       string           `gorm:"column:tag;index"`
	AvgPrice  float64          `gorm:"column:avg_price"`
	Qty       int              `gorm:"column:qty"`
	Side      enum.Side        `gorm:"column:side;type:char(1)"`
	Symbol    string           `gorm:"column:symbol"`
	Status    enum.OrderStatus `gorm:"column:status;type:text"`
	Instance  string           `gorm:"column:instance;index"`
}

func (Order) TableName() string { return "orders" }

// Filled reports whether the row carries real fill data.
func (o Order) Filled() bool {
	return o.AvgPrice != UnfilledSentinel && o.Qty != UnfilledSentinel
}

// Quote is the last traded price for a symbol code. Global, not
// instance scoped; overwritten on every tick.
type Quote struct {
	Symbol string  `gorm:"column:symbol;primaryKey"`
	Price  float64 `gorm:"column:price"`
}

func (Quote) TableName() string { return "quotes" }

// Subscription records a symbol the instance subscribed to. Rows
// persist after unsubscription so historical PnL stays attributable.
type Subscription struct {
	Symbol        string `gorm:"column:symbol;primaryKey"`
	Exchange      string `gorm:"column:exchange"`
	DisplaySymbol string `gorm:"column:display_symbol"`
	Instance      string `gorm:"column:instance;primaryKey"`
}

func (Subscription) TableName() string { return "subscriptions" }

// OrderPrice is the last submitted price/qty for a symbol under a
// workflow tag, used to decide whether a dependent order needs
// re-pricing.
type OrderPrice struct {
	Symbol   string  `gorm:"column:symbol;primaryKey"`
	Price    float64 `gorm:"column:price"`
	Qty      int     `gorm:"column:qty"`
	Tag      string  `gorm:"column:tag"`
	Instance string  `gorm:"column:instance;primaryKey"`
}

func (OrderPrice) TableName() string { return "order_prices" }
