package enum

import (
	"database/sql/driver"
	"fmt"
)

// OrderStatus tracks the broker-reported lifecycle of an order.
type OrderStatus uint8

const (
	_order_status_beg OrderStatus = iota
	OrderStatusPending
	OrderStatusOpen
	OrderStatusTriggerPending
	OrderStatusComplete
	OrderStatusCanceled
	OrderStatusRejected
	_order_status_end
)

func (s OrderStatus) IsAvailable() bool {
	return s > _order_status_beg && s < _order_status_end
}

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusComplete, OrderStatusCanceled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the broker may legally move an order
// from s to next. The lifecycle is
// Pending -> {Open, TriggerPending} -> {Complete, Canceled, Rejected}.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if !next.IsAvailable() || s.Terminal() {
		return false
	}
	if s == next {
		return true
	}
	switch s {
	case OrderStatusPending:
		return true
	case OrderStatusOpen, OrderStatusTriggerPending:
		return next.Terminal()
	default:
		return next.IsAvailable()
	}
}

// String returns the broker text form.
func (s OrderStatus) String() string {
	switch s {
	case OrderStatusPending:
		return "PENDING"
	case OrderStatusOpen:
		return "OPEN"
	case OrderStatusTriggerPending:
		return "TRIGGER_PENDING"
	case OrderStatusComplete:
		return "COMPLETE"
	case OrderStatusCanceled:
		return "CANCELED"
	case OrderStatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// ParseOrderStatus maps the broker text form back to the enum.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	switch raw {
	case "PENDING":
		return OrderStatusPending, true
	case "OPEN":
		return OrderStatusOpen, true
	case "TRIGGER_PENDING":
		return OrderStatusTriggerPending, true
	case "COMPLETE":
		return OrderStatusComplete, true
	case "CANCELED":
		return OrderStatusCanceled, true
	case "REJECTED":
		return OrderStatusRejected, true
	default:
		return _order_status_beg, false
	}
}

// Value stores the broker text form in the database.
func (s OrderStatus) Value() (driver.Value, error) {
	if !s.IsAvailable() {
		return nil, fmt.Errorf("invalid order status: %d", s)
	}
	return s.String(), nil
}

// Scan restores the enum from the stored text form.
func (s *OrderStatus) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("unsupported order status source: %T", src)
	}
	parsed, ok := ParseOrderStatus(raw)
	if !ok {
		return fmt.Errorf("unknown order status: %q", raw)
	}
	*s = parsed
	return nil
}
