package refdata

import (
	"strings"

	"github.com/yanun0323/errors"
)

// Instrument describes one tradable index and its option chain
// parameters. All orders for a leg derive from one instrument.
type Instrument struct {
	Name       string
	Token      string
	Exchange   string
	LotSize    int
	StrikeStep float64
}

// Table is an immutable instrument lookup built once at startup and
// injected into every component that needs it. Refreshing means
// building a new table, never mutating this one.
type Table struct {
	byName map[string]Instrument
	names  []string
}

// New builds a table from the given instruments.
func New(instruments []Instrument) (*Table, error) {
	t := &Table{byName: make(map[string]Instrument, len(instruments))}
	for _, ins := range instruments {
		if ins.Name == "" || ins.Exchange == "" {
			return nil, errors.Errorf("instrument missing name or exchange: %+v", ins)
		}
		if ins.LotSize <= 0 {
			return nil, errors.Errorf("instrument %s: lot size must be > 0", ins.Name)
		}
		if _, dup := t.byName[ins.Name]; dup {
			return nil, errors.Errorf("duplicate instrument: %s", ins.Name)
		}
		t.byName[ins.Name] = ins
		t.names = append(t.names, ins.Name)
	}
	return t, nil
}

// Default returns the broker scrip-master defaults.
func Default() *Table {
	t, err := New([]Instrument{
		{Name: "NIFTY", Token: "26000", Exchange: "NFO", LotSize: 50, StrikeStep: 50},
		{Name: "BANKNIFTY", Token: "26009", Exchange: "NFO", LotSize: 15, StrikeStep: 100},
		{Name: "FINNIFTY", Token: "26037", Exchange: "NFO", LotSize: 40, StrikeStep: 50},
		{Name: "MIDCPNIFTY", Token: "26074", Exchange: "NFO", LotSize: 75, StrikeStep: 25},
		{Name: "SENSEX", Token: "26001", Exchange: "BFO", LotSize: 10, StrikeStep: 100},
		{Name: "USDINR", Token: "1", Exchange: "CDS", LotSize: 1000, StrikeStep: 0.25},
	})
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the instrument by index name.
func (t *Table) Lookup(name string) (Instrument, bool) {
	ins, ok := t.byName[name]
	return ins, ok
}

// ExchangeFor resolves the exchange for a display symbol by longest
// instrument-name prefix.
func (t *Table) ExchangeFor(displaySymbol string) (string, bool) {
	best := ""
	exchange := ""
	for _, name := range t.names {
		if strings.HasPrefix(displaySymbol, name) && len(name) > len(best) {
			best = name
			exchange = t.byName[name].Exchange
		}
	}
	return exchange, best != ""
}

// ValidateQty checks the order quantity against the instrument lot
// size. Run once at startup, before any order is placed.
func (t *Table) ValidateQty(name string, qty int) error {
	ins, ok := t.byName[name]
	if !ok {
		return errors.Errorf("unknown index: %s", name)
	}
	if qty <= 0 {
		return errors.Errorf("quantity must be > 0, got %d", qty)
	}
	if qty%ins.LotSize != 0 {
		return errors.Errorf("quantity %d must be a multiple of lot size %d for %s", qty, ins.LotSize, name)
	}
	return nil
}
