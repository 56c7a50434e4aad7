package ledger

import (
	"sort"

	"main/internal/model"
	"main/internal/model/enum"
)

// Position is one order row joined to its live quote.
type Position struct {
	AvgPrice  float64
	Qty       int
	Side      enum.Side
	Symbol    string
	LastPrice float64
}

// Entry is the realized view of one symbol in a PnL summary.
type Entry struct {
	Side     enum.Side
	Qty      int
	AvgPrice float64
	Last     float64
	PnL      float64
}

// Summary is a fully attributed PnL snapshot.
type Summary struct {
	Total    float64
	BySymbol map[string]Entry
}

// Symbols returns breakdown keys in sorted order for stable logging.
func (s Summary) Symbols() []string {
	out := make([]string, 0, len(s.BySymbol))
	for sym := range s.BySymbol {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// PositionPnL computes one row's profit. A sold leg gains as price
// falls, a bought leg as it rises.
func PositionPnL(p Position) float64 {
	if p.Side == enum.SideBuy {
		return (p.LastPrice - p.AvgPrice) * float64(p.Qty)
	}
	return (p.AvgPrice - p.LastPrice) * float64(p.Qty)
}

// Summarize aggregates joined rows into a deterministic summary,
// skipping rows that carry the unfilled sentinel.
func Summarize(rows []Position) Summary {
	summary := Summary{BySymbol: make(map[string]Entry, len(rows))}
	for _, row := range rows {
		if row.AvgPrice == model.UnfilledSentinel || row.Qty == model.UnfilledSentinel {
			continue
		}
		pnl := PositionPnL(row)
		summary.Total += pnl
		summary.BySymbol[row.Symbol] = Entry{
			Side:     row.Side,
			Qty:      row.Qty,
			AvgPrice: row.AvgPrice,
			Last:     row.LastPrice,
			PnL:      pnl,
		}
	}
	return summary
}
