package enum

// PriceType is the broker order pricing mode.
type PriceType uint8

const (
	_price_type_beg PriceType = iota
	PriceTypeLimit
	PriceTypeMarket
	PriceTypeStopLimit
	_price_type_end
)

func (p PriceType) IsAvailable() bool {
	return p > _price_type_beg && p < _price_type_end
}

func (p PriceType) String() string {
	switch p {
	case PriceTypeLimit:
		return "LMT"
	case PriceTypeMarket:
		return "MKT"
	case PriceTypeStopLimit:
		return "SL-LMT"
	default:
		return "UNKNOWN"
	}
}
