package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/google/uuid"

	"main/internal/engine"
	"main/internal/gateway"
	"main/internal/ledger"
	"main/internal/ops"
	"main/internal/params"
	"main/internal/risk"
	"main/internal/workflow"
	"main/pkg/conn"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	instanceOverride := flag.String("instance", "", "Resume a previous instance id")
	showPlan := flag.Bool("show-plan", false, "Print resolved legs and target, then exit")
	flag.Parse()

	if *configPath == "" {
		log.Fatalf("-config is required")
	}
	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *instanceOverride != "" {
		loaded.Instance = *instanceOverride
		log.Printf("instance id provided, resuming previous instance %s", loaded.Instance)
	}
	if loaded.Instance == "" {
		loaded.Instance = fmt.Sprintf("straddle_%s", strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if loaded.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "straddle",
			ServerAddress:   loaded.Profiling.ServerAddress,
			Tags: map[string]string{
				"instance": loaded.Instance,
			},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	if err := run(ctx, loaded, *showPlan); err != nil {
		log.Fatalf("run failed: %+v", err)
	}
}

// buildGateway returns the broker session adapter for the configured
// kind. Live adapters plug in here behind gateway.Gateway.
func buildGateway(kind string) (gateway.Gateway, error) {
	switch kind {
	case ops.GatewayKindSim:
		return gateway.NewSim(), nil
	}
	return nil, fmt.Errorf("unknown gateway %q", kind)
}

func run(ctx context.Context, loaded ops.Loaded, showPlan bool) error {
	entries := make([]float64, 0, len(loaded.Legs))
	for _, l := range loaded.Legs {
		entries = append(entries, l.EntryPrice)
	}
	premium := risk.Premium(loaded.Strategy.Qty, entries...)
	target := risk.DeriveTarget(premium, loaded.Strategy.TargetFraction, loaded.Strategy.TargetMTM)
	log.Printf("instance %s, max profit %.2f, target %.2f", loaded.Instance, premium, target)
	for _, l := range loaded.Legs {
		log.Printf("leg %s: sell %s @ %.2f, stop %s @ %.2f x%.2f",
			l.Name, l.Symbol, l.EntryPrice, l.StopSymbol, l.StopPrice, loaded.Strategy.StopFactor)
	}
	if showPlan {
		return nil
	}

	client, err := conn.New(loaded.Database)
	if err != nil {
		return fmt.Errorf("open ledger pool: %w", err)
	}
	defer client.Close()

	store, err := ledger.NewStore(client, loaded.Instance)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	var paramStore risk.ParamSource
	if loaded.Redis.Addr != "" {
		ps, err := params.New(ctx, loaded.Redis, loaded.Instance)
		if err != nil {
			return fmt.Errorf("open parameter store: %w", err)
		}
		defer ps.Close()
		paramStore = ps
	}
	monitor := risk.New(paramStore, target, loaded.Strategy.LossFactor)
	if err := monitor.Publish(ctx); err != nil {
		return fmt.Errorf("publish target: %w", err)
	}

	gw, err := buildGateway(loaded.Gateway)
	if err != nil {
		return err
	}

	eng := engine.New(engine.Config{
		Gateway:        gw,
		Ledger:         store,
		InterCallDelay: loaded.Engine.InterCallDelay,
		SnapshotEvery:  loaded.Engine.SnapshotEvery,
		MarketClose:    loaded.MarketClose,
		Monitor: func(total float64, _ map[string]float64) bool {
			t, loss := monitor.Bounds(ctx)
			return !risk.Breached(total, t, loss)
		},
	})
	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			log.Printf("close session: %v", err)
		}
	}()

	orch, err := workflow.New(workflow.Config{
		Ledger:          store,
		Engine:          eng,
		Instruments:     loaded.Instruments,
		Monitor:         monitor,
		Legs:            loaded.Legs,
		Qty:             loaded.Strategy.Qty,
		ProductType:     loaded.Strategy.ProductType,
		StopFactor:      loaded.Strategy.StopFactor,
		BookFactor:      loaded.Strategy.BookFactor,
		ModifyThreshold: loaded.Strategy.ModifyThreshold,
		Settle:          loaded.Engine.Settle,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	if err := orch.Run(ctx); err != nil {
		return err
	}
	log.Printf("workflow over after %s", time.Since(start).Round(time.Second))
	return nil
}
