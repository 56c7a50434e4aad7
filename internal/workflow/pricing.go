package workflow

import "github.com/shopspring/decimal"

// TriggerOffset separates a stop-limit's trigger from its limit price.
const TriggerOffset = 0.5

var half = decimal.NewFromFloat(0.5)

// RoundToHalf rounds a price to the nearest 0.5, the exchange tick for
// option premiums.
func RoundToHalf(price float64) float64 {
	d := decimal.NewFromFloat(price)
	out, _ := d.Div(half).Round(0).Mul(half).Float64()
	return out
}

// ProtectivePrice is the stop-limit price for a protective order:
// quoted premium scaled by the stop factor, on tick.
func ProtectivePrice(ltp, stopFactor float64) float64 {
	return RoundToHalf(ltp * stopFactor)
}

// BookProfitPrice is the stop-limit price for a profit-booking order:
// the cheaper leg's startup premium scaled by the booking factor, on
// tick.
func BookProfitPrice(minLtp, bookFactor float64) float64 {
	return RoundToHalf(minLtp * bookFactor)
}

// TriggerFor returns the trigger matching a stop-limit price.
func TriggerFor(price float64) float64 {
	return price - TriggerOffset
}
