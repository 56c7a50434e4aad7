package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"main/internal/engine"
	"main/internal/params"
	"main/internal/refdata"
	"main/internal/risk"
	"main/internal/workflow"
	"main/pkg/conn"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Instance    string             `json:"instance"`
	Database    DatabaseConfig     `json:"database"`
	Redis       RedisConfig        `json:"redis"`
	Instruments []InstrumentConfig `json:"instruments"`
	Strategy    StrategyConfig     `json:"strategy"`
	Legs        []LegConfig        `json:"legs"`
	MarketClose MarketCloseConfig  `json:"marketClose"`
	Engine      EngineConfig       `json:"engine"`
	Gateway     string             `json:"gateway"`
	Profiling   ProfilingConfig    `json:"profiling"`
}

// GatewayKindSim runs against the in-process paper gateway. Broker
// session adapters add their own kinds here as they are wired in.
const GatewayKindSim = "sim"

// DatabaseConfig describes the ledger's PostgreSQL pool.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslMode"`
	MinIdle  int    `json:"minIdle"`
	MaxOpen  int    `json:"maxOpen"`
}

// RedisConfig describes the parameter store.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// InstrumentConfig overrides one entry of the default instrument
// table.
type InstrumentConfig struct {
	Name       string  `json:"name"`
	Token      string  `json:"token"`
	Exchange   string  `json:"exchange"`
	LotSize    int     `json:"lotSize"`
	StrikeStep float64 `json:"strikeStep"`
}

// StrategyConfig holds the straddle knobs.
type StrategyConfig struct {
	Index           string  `json:"index"`
	Qty             int     `json:"qty"`
	ProductType     string  `json:"productType"`
	StopFactor      float64 `json:"stopFactor"`
	BookFactor      float64 `json:"bookFactor"`
	TargetFraction  float64 `json:"targetFraction"`
	TargetMTM       float64 `json:"targetMTM"`
	LossFactor      float64 `json:"lossFactor"`
	ModifyThreshold float64 `json:"modifyThreshold"`
}

// LegConfig describes one leg's strikes as resolved by strike
// selection before the core starts.
type LegConfig struct {
	Name           string  `json:"name"`
	Symbol         string  `json:"symbol"`
	SymbolCode     string  `json:"symbolCode"`
	EntryPrice     float64 `json:"entryPrice"`
	StopSymbol     string  `json:"stopSymbol"`
	StopSymbolCode string  `json:"stopSymbolCode"`
	StopPrice      float64 `json:"stopPrice"`
}

// MarketCloseConfig is the local wall-clock trading cutoff.
type MarketCloseConfig struct {
	Hour     int    `json:"hour"`
	Minute   int    `json:"minute"`
	Timezone string `json:"timezone"`
}

// EngineConfig captures event-engine pacing.
type EngineConfig struct {
	InterCallDelayMs int `json:"interCallDelayMs"`
	SnapshotEverySec int `json:"snapshotEverySec"`
	SettleSec        int `json:"settleSec"`
}

// ProfilingConfig captures the optional continuous profiler.
type ProfilingConfig struct {
	Enabled       bool   `json:"enabled"`
	ServerAddress string `json:"serverAddress"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Instance    string
	Database    conn.Option
	Redis       params.Option
	Instruments *refdata.Table
	Strategy    StrategySpec
	Legs        []workflow.Leg
	MarketClose engine.ClosingTime
	Engine      EngineSpec
	Gateway     string
	Profiling   ProfilingConfig
}

// StrategySpec is the resolved strategy definition.
type StrategySpec struct {
	Index           string
	Qty             int
	ProductType     string
	StopFactor      float64
	BookFactor      float64
	TargetFraction  float64
	TargetMTM       float64
	LossFactor      float64
	ModifyThreshold float64
}

// EngineSpec is the resolved engine pacing.
type EngineSpec struct {
	InterCallDelay time.Duration
	SnapshotEvery  time.Duration
	Settle         time.Duration
}

// Load reads a JSON config file and resolves every section.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return Resolve(cfg)
}

// Resolve validates a parsed config and builds the runtime view.
func Resolve(cfg FileConfig) (Loaded, error) {
	table, err := buildInstruments(cfg.Instruments)
	if err != nil {
		return Loaded{}, err
	}
	strategy, err := resolveStrategy(cfg.Strategy, table)
	if err != nil {
		return Loaded{}, err
	}
	legs, err := resolveLegs(cfg.Legs, table)
	if err != nil {
		return Loaded{}, err
	}
	closeAt, err := resolveMarketClose(cfg.MarketClose)
	if err != nil {
		return Loaded{}, err
	}
	gw, err := resolveGateway(cfg.Gateway)
	if err != nil {
		return Loaded{}, err
	}
	return Loaded{
		Instance: cfg.Instance,
		Database: conn.Option{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Database,
			SSLMode:  cfg.Database.SSLMode,
			MinIdle:  cfg.Database.MinIdle,
			MaxOpen:  cfg.Database.MaxOpen,
		},
		Redis: params.Option{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		Instruments: table,
		Strategy:    strategy,
		Legs:        legs,
		MarketClose: closeAt,
		Engine:      resolveEngine(cfg.Engine),
		Gateway:     gw,
		Profiling:   cfg.Profiling,
	}, nil
}

func resolveGateway(kind string) (string, error) {
	switch kind {
	case "":
		return GatewayKindSim, nil
	case GatewayKindSim:
		return kind, nil
	}
	return "", fmt.Errorf("unknown gateway %q (supported: %s)", kind, GatewayKindSim)
}

func buildInstruments(cfg []InstrumentConfig) (*refdata.Table, error) {
	if len(cfg) == 0 {
		return refdata.Default(), nil
	}
	instruments := make([]refdata.Instrument, 0, len(cfg))
	for _, ins := range cfg {
		instruments = append(instruments, refdata.Instrument{
			Name:       ins.Name,
			Token:      ins.Token,
			Exchange:   ins.Exchange,
			LotSize:    ins.LotSize,
			StrikeStep: ins.StrikeStep,
		})
	}
	return refdata.New(instruments)
}

func resolveStrategy(cfg StrategyConfig, table *refdata.Table) (StrategySpec, error) {
	if cfg.Index == "" {
		return StrategySpec{}, fmt.Errorf("strategy index is empty")
	}
	if err := table.ValidateQty(cfg.Index, cfg.Qty); err != nil {
		return StrategySpec{}, err
	}
	if cfg.StopFactor <= 0 {
		cfg.StopFactor = 1.55
	}
	if cfg.BookFactor <= 0 || cfg.BookFactor >= 1 {
		if cfg.BookFactor != 0 {
			return StrategySpec{}, fmt.Errorf("bookFactor must be in (0, 1), got %v", cfg.BookFactor)
		}
		cfg.BookFactor = 0.3
	}
	if cfg.TargetFraction <= 0 {
		cfg.TargetFraction = risk.DefaultTargetFraction
	}
	if cfg.TargetMTM == 0 {
		cfg.TargetMTM = -1 // not provided
	}
	if cfg.LossFactor <= 0 {
		cfg.LossFactor = risk.DefaultLossFactor
	}
	if cfg.ModifyThreshold <= 0 {
		cfg.ModifyThreshold = 5.0
	}
	if cfg.ProductType == "" {
		cfg.ProductType = "M"
	}
	return StrategySpec{
		Index:           cfg.Index,
		Qty:             cfg.Qty,
		ProductType:     cfg.ProductType,
		StopFactor:      cfg.StopFactor,
		BookFactor:      cfg.BookFactor,
		TargetFraction:  cfg.TargetFraction,
		TargetMTM:       cfg.TargetMTM,
		LossFactor:      cfg.LossFactor,
		ModifyThreshold: cfg.ModifyThreshold,
	}, nil
}

func resolveLegs(cfg []LegConfig, table *refdata.Table) ([]workflow.Leg, error) {
	if len(cfg) == 0 {
		return nil, fmt.Errorf("no legs configured")
	}
	legs := make([]workflow.Leg, 0, len(cfg))
	for _, l := range cfg {
		if l.Name == "" || l.Symbol == "" || l.SymbolCode == "" {
			return nil, fmt.Errorf("leg missing name, symbol or symbolCode: %+v", l)
		}
		if l.EntryPrice <= 0 || l.StopPrice <= 0 {
			return nil, fmt.Errorf("leg %s: prices must be > 0", l.Name)
		}
		if _, ok := table.ExchangeFor(l.Symbol); !ok {
			return nil, fmt.Errorf("leg %s: no instrument matches symbol %s", l.Name, l.Symbol)
		}
		if _, ok := table.ExchangeFor(l.StopSymbol); !ok {
			return nil, fmt.Errorf("leg %s: no instrument matches symbol %s", l.Name, l.StopSymbol)
		}
		legs = append(legs, workflow.Leg{
			Name:           l.Name,
			Symbol:         l.Symbol,
			SymbolCode:     l.SymbolCode,
			EntryPrice:     l.EntryPrice,
			StopSymbol:     l.StopSymbol,
			StopSymbolCode: l.StopSymbolCode,
			StopPrice:      l.StopPrice,
		})
	}
	return legs, nil
}

func resolveMarketClose(cfg MarketCloseConfig) (engine.ClosingTime, error) {
	if cfg.Hour == 0 && cfg.Minute == 0 {
		cfg.Hour, cfg.Minute = 15, 31
	}
	if cfg.Hour < 0 || cfg.Hour > 23 || cfg.Minute < 0 || cfg.Minute > 59 {
		return engine.ClosingTime{}, fmt.Errorf("invalid market close %02d:%02d", cfg.Hour, cfg.Minute)
	}
	loc := time.Local
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return engine.ClosingTime{}, fmt.Errorf("invalid timezone %s: %w", cfg.Timezone, err)
		}
	}
	return engine.ClosingTime{Hour: cfg.Hour, Minute: cfg.Minute, Location: loc}, nil
}

func resolveEngine(cfg EngineConfig) EngineSpec {
	spec := EngineSpec{
		InterCallDelay: time.Second,
		SnapshotEvery:  5 * time.Second,
		Settle:         5 * time.Second,
	}
	if cfg.InterCallDelayMs > 0 {
		spec.InterCallDelay = time.Duration(cfg.InterCallDelayMs) * time.Millisecond
	}
	if cfg.SnapshotEverySec > 0 {
		spec.SnapshotEvery = time.Duration(cfg.SnapshotEverySec) * time.Second
	}
	if cfg.SettleSec > 0 {
		spec.Settle = time.Duration(cfg.SettleSec) * time.Second
	}
	return spec
}
