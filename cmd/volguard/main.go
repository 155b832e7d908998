package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"volguard-go/config"
	"volguard-go/execution"
	"volguard-go/gateway"
	"volguard-go/infrastructure/logger"
	"volguard-go/internal/engine"
	"volguard-go/ledger"
	"volguard-go/metrics"
	"volguard-go/risk"
	"volguard-go/strategy"
)

// tradeLedger is what the sentinel and executor together need from a ledger.
type tradeLedger interface {
	risk.TradeLedger
	execution.Recorder
}

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", "configs/config.yaml", "config file path")
	mode := flag.String("mode", "", "override run mode (paper|live)")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *mode != "" {
		cfg.Mode = *mode
		if err := config.Validate(cfg); err != nil {
			log.Fatalf("config invalid for mode %s: %v", *mode, err)
		}
	}

	lg, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputFile: cfg.Logging.OutputFile,
		ErrorFile:  cfg.Logging.ErrorFile,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer lg.Close()

	lg.Info("volguard starting", zap.String("env", cfg.Env), zap.String("mode", cfg.Mode))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coll := metrics.New(metrics.DefaultConfig())
	if cfg.Metrics.Addr != "" {
		metrics.Serve(cfg.Metrics.Addr, coll)
		lg.Info("metrics server listening", zap.String("addr", cfg.Metrics.Addr))
	}

	// venue wiring: exactly one gateway implementation per process
	var (
		md    gateway.MarketData
		venue gateway.Execution
		flows gateway.Positioning
		store tradeLedger
	)
	switch cfg.Mode {
	case "live":
		uc := gateway.NewUpstoxClient(
			cfg.Gateway.BaseV2, cfg.Gateway.BaseV3,
			cfg.Gateway.AccessToken, cfg.Gateway.IndexKey,
			cfg.Gateway.LotSize, lg.Logger)
		md, venue = uc, uc
		flows = gateway.NewParticipantClient(lg.Logger)

		if cfg.Ledger.DSN == "" {
			log.Fatal("ledger.dsn is required in live mode (or VG_LEDGER_DSN)")
		}
		pg, err := ledger.Open(cfg.Ledger.DSN)
		if err != nil {
			log.Fatalf("open ledger: %v", err)
		}
		defer pg.Close()
		store = pg
	default:
		paper := gateway.NewPaperGateway(time.Now().UnixNano())
		paper.Capital = cfg.Capital
		paper.LotSize = cfg.Gateway.LotSize
		md, venue = paper, paper
		store = ledger.NewMemoryStore()
	}

	sentinel := risk.NewSentinel(risk.Config{
		MaxDailyLoss:    cfg.Risk.MaxDailyLoss,
		ProfitTargetPct: cfg.Risk.ProfitTargetPct,
		StopLossPct:     cfg.Risk.StopLossPct,
		PatrolInterval:  cfg.Risk.PatrolInterval(),
	}, venue, store, lg.Logger, nil)
	sentinel.SetStateChangeCallback(func(old, new risk.State) {
		lg.Warn("sentinel state changed",
			zap.String("old", old.String()), zap.String("new", new.String()))
	})
	sentinel.SetForcedExitCallback(func(reason string, pnl float64) {
		coll.RecordForcedExit(reason)
		lg.LogForcedExit(reason, pnl)
	})
	if err := sentinel.Initialize(ctx); err != nil {
		log.Fatalf("initialize sentinel: %v", err)
	}

	constructor := strategy.NewConstructor(md, cfg.Gateway.IndexKey, cfg.Gateway.LotSize)
	executor := execution.NewExecutor(execution.Config{}, venue, store, sentinel, lg.Logger)

	eng, err := engine.New(engine.Config{
		IndexKey:     cfg.Gateway.IndexKey,
		VIXKey:       cfg.Gateway.VIXKey,
		LotSize:      cfg.Gateway.LotSize,
		EvalInterval: cfg.Engine.EvalInterval(),
		HistoryDays:  cfg.Engine.HistoryDays,
		Analytics:    cfg.Analytics,
	}, engine.Components{
		MarketData:  md,
		Positioning: flows,
		Sentinel:    sentinel,
		Constructor: constructor,
		Executor:    executor,
		Collector:   coll,
		Logger:      lg.Logger,
	})
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}

	// threshold hot reload
	reloader, err := config.NewReloader(*cfgPath, 2*time.Second, lg.Logger)
	if err != nil {
		lg.Warn("config reloader unavailable", zap.Error(err))
	} else {
		reloader.OnChange(eng.ApplyThresholds)
		if err := reloader.Start(ctx); err != nil {
			lg.Warn("config reloader not started", zap.Error(err))
		} else {
			defer reloader.Stop()
		}
	}

	// live tick stream
	if cfg.Mode == "live" && cfg.Gateway.StreamURL != "" {
		stream := gateway.NewQuoteStream(cfg.Gateway.StreamURL, cfg.Gateway.AccessToken)
		for _, key := range []string{cfg.Gateway.IndexKey, cfg.Gateway.VIXKey} {
			if err := stream.Subscribe(key); err != nil {
				lg.Warn("stream subscribe failed", zap.String("key", key), zap.Error(err))
			}
		}
		stream.OnDisconnect(func(err error) {
			lg.Warn("tick stream disconnected", zap.Error(err))
		})
		go func() {
			for {
				if err := stream.Run(eng.UpdateQuote); err != nil {
					lg.Warn("tick stream stopped, reconnecting", zap.Error(err))
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * time.Second):
				}
			}
		}()
	}

	go sentinel.Patrol(ctx)

	if err := eng.Start(ctx); err != nil {
		log.Fatalf("start engine: %v", err)
	}

	<-ctx.Done()
	lg.Info("shutdown signal received")
	if err := eng.Stop(); err != nil {
		lg.Warn("engine stop", zap.Error(err))
	}
	lg.Info("volguard stopped")
}
