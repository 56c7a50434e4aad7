package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/model/enum"
)

func TestPositionPnL(t *testing.T) {
	sold := Position{AvgPrice: 120, Qty: 50, Side: enum.SideSell, LastPrice: 100}
	assert.InDelta(t, 1000.0, PositionPnL(sold), 1e-9)

	bought := Position{AvgPrice: 100, Qty: 50, Side: enum.SideBuy, LastPrice: 120}
	assert.InDelta(t, 1000.0, PositionPnL(bought), 1e-9)

	losingSold := Position{AvgPrice: 100, Qty: 50, Side: enum.SideSell, LastPrice: 130}
	assert.InDelta(t, -1500.0, PositionPnL(losingSold), 1e-9)
}

func TestSummarizeSkipsUnfilledRows(t *testing.T) {
	rows := []Position{
		{AvgPrice: 120, Qty: 50, Side: enum.SideSell, Symbol: "NIFTY23DEC21000CE", LastPrice: 80},
		{AvgPrice: -1, Qty: -1, Side: enum.SideBuy, Symbol: "NIFTY23DEC20800CE", LastPrice: 95},
		{AvgPrice: 118, Qty: 50, Side: enum.SideSell, Symbol: "NIFTY23DEC21000PE", LastPrice: 90},
	}
	summary := Summarize(rows)

	require.Len(t, summary.BySymbol, 2)
	assert.NotContains(t, summary.BySymbol, "NIFTY23DEC20800CE")
	assert.InDelta(t, (120-80)*50+(118-90)*50, summary.Total, 1e-9)
	assert.InDelta(t, 2000.0, summary.BySymbol["NIFTY23DEC21000CE"].PnL, 1e-9)
	assert.InDelta(t, 1400.0, summary.BySymbol["NIFTY23DEC21000PE"].PnL, 1e-9)
}

func TestSummarizeDeterministicSymbols(t *testing.T) {
	rows := []Position{
		{AvgPrice: 10, Qty: 1, Side: enum.SideSell, Symbol: "B", LastPrice: 5},
		{AvgPrice: 10, Qty: 1, Side: enum.SideSell, Symbol: "A", LastPrice: 5},
		{AvgPrice: 10, Qty: 1, Side: enum.SideSell, Symbol: "C", LastPrice: 5},
	}
	summary := Summarize(rows)
	assert.Equal(t, []string{"A", "B", "C"}, summary.Symbols())
}

func TestSummarizeEmpty(t *testing.T) {
	summary := Summarize(nil)
	assert.Zero(t, summary.Total)
	assert.Empty(t, summary.BySymbol)
}
