// Package engine runs the evaluation loop: market readings in, mandate out,
// execution through the risk gate.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"volguard-go/config"
	"volguard-go/execution"
	"volguard-go/gateway"
	"volguard-go/market"
	"volguard-go/metrics"
	"volguard-go/regime"
	"volguard-go/risk"
	"volguard-go/strategy"
)

// State is the engine lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config carries the loop cadence and instrument identity.
type Config struct {
	IndexKey     string
	VIXKey       string
	LotSize      int
	EvalInterval time.Duration
	HistoryDays  int
	Analytics    config.AnalyticsConfig
}

// Components are the engine's collaborators, wired in main.
type Components struct {
	MarketData  gateway.MarketData
	Positioning gateway.Positioning
	Sentinel    *risk.Sentinel
	Constructor *strategy.Constructor
	Executor    *execution.Executor
	Collector   *metrics.Collector
	Logger      *zap.Logger
}

// Engine evaluates the regime on a fixed cadence and acts on positive
// mandates through the sentinel's gate.
type Engine struct {
	cfg Config

	md      gateway.MarketData
	flows   gateway.Positioning
	sent    *risk.Sentinel
	builder *strategy.Constructor
	exec    *execution.Executor
	coll    *metrics.Collector
	log     *zap.Logger

	// analytics models, swapped whole on threshold reload
	analyticsMu sync.RWMutex
	volModel    *market.VolatilityModel
	structModel *market.StructureModel
	edgeModel   *market.EdgeModel
	classifier  *regime.Classifier
	analytics   config.AnalyticsConfig

	// last websocket readings; zero means fall back to REST/history
	quoteMu  sync.RWMutex
	liveSpot float64
	liveVIX  float64

	mu       sync.RWMutex
	state    State
	stopChan chan struct{}
	doneChan chan struct{}

	now func() time.Time
}

// New validates the wiring and builds an idle engine.
func New(cfg Config, comp Components) (*Engine, error) {
	if cfg.IndexKey == "" {
		return nil, errors.New("index key is required")
	}
	if cfg.LotSize <= 0 {
		return nil, errors.New("lot size must be > 0")
	}
	if cfg.EvalInterval <= 0 {
		cfg.EvalInterval = 5 * time.Second
	}
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = 400
	}
	if comp.MarketData == nil || comp.Sentinel == nil || comp.Constructor == nil ||
		comp.Executor == nil || comp.Logger == nil {
		return nil, errors.New("market data, sentinel, constructor, executor and logger are required")
	}

	e := &Engine{
		cfg:      cfg,
		md:       comp.MarketData,
		flows:    comp.Positioning,
		sent:     comp.Sentinel,
		builder:  comp.Constructor,
		exec:     comp.Executor,
		coll:     comp.Collector,
		log:      comp.Logger,
		state:    StateIdle,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
		now:      time.Now,
	}
	e.rebuildModels(cfg.Analytics)
	return e, nil
}

// ApplyThresholds swaps in reloaded analytics thresholds. The caller has
// already validated them.
func (e *Engine) ApplyThresholds(a config.AnalyticsConfig) {
	e.rebuildModels(a)
	e.log.Info("analytics models rebuilt")
}

func (e *Engine) rebuildModels(a config.AnalyticsConfig) {
	e.analyticsMu.Lock()
	defer e.analyticsMu.Unlock()
	e.analytics = a
	e.volModel = market.NewVolatilityModel(market.VolConfig{
		CrashZScore: a.VoVCrashZScore,
		HighIVP:     a.HighIVP,
		LowIVP:      a.LowIVP,
	}, e.log)
	e.structModel = market.NewStructureModel()
	e.edgeModel = market.NewEdgeModel()
	e.classifier = regime.NewClassifier(regime.Config{
		VoVCrashZScore:   a.VoVCrashZScore,
		VoVWarningZScore: a.VoVWarningZScore,
		HighIVP:          a.HighIVP,
		LowIVP:           a.LowIVP,
		Weights: regime.Weights{
			Vol:    a.Weights.Vol,
			Struct: a.Weights.Struct,
			Edge:   a.Weights.Edge,
			Risk:   a.Weights.Risk,
		},
	})
}

// UpdateQuote feeds a live tick into the next evaluation. Safe from the
// websocket goroutine.
func (e *Engine) UpdateQuote(instrumentKey string, ltp float64) {
	if ltp <= 0 {
		return
	}
	e.quoteMu.Lock()
	switch instrumentKey {
	case e.cfg.IndexKey:
		e.liveSpot = ltp
	case e.cfg.VIXKey:
		e.liveVIX = ltp
	}
	e.quoteMu.Unlock()
}

// Start launches the evaluation loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return fmt.Errorf("engine already started (state: %s)", e.state)
	}
	if e.state == StateStopped {
		e.stopChan = make(chan struct{})
		e.doneChan = make(chan struct{})
	}
	e.state = StateRunning
	e.mu.Unlock()

	e.log.Info("engine starting",
		zap.String("index", e.cfg.IndexKey),
		zap.Duration("eval_interval", e.cfg.EvalInterval))

	go e.run(ctx)
	return nil
}

// Stop signals the loop and waits for it to drain.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return fmt.Errorf("engine not running (state: %s)", e.state)
	}
	e.mu.Unlock()

	select {
	case <-e.stopChan:
	default:
		close(e.stopChan)
	}

	select {
	case <-e.doneChan:
	case <-time.After(10 * time.Second):
		e.log.Warn("timeout waiting for engine to stop")
	}

	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()
	e.log.Info("engine stopped")
	return nil
}

// GetState returns the lifecycle state.
func (e *Engine) GetState() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.doneChan)

	ticker := time.NewTicker(e.cfg.EvalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("context done, stopping engine")
			return
		case <-e.stopChan:
			e.log.Info("stop signal received")
			return
		case <-ticker.C:
			e.evaluate(ctx)
		}
	}
}

// evaluate runs one analytics-to-mandate cycle. Empty market data skips the
// cycle; only the execution path can error.
func (e *Engine) evaluate(ctx context.Context) {
	e.analyticsMu.RLock()
	volModel := e.volModel
	structModel := e.structModel
	edgeModel := e.edgeModel
	classifier := e.classifier
	analytics := e.analytics
	e.analyticsMu.RUnlock()

	underlying := e.md.History(ctx, e.cfg.IndexKey, e.cfg.HistoryDays)
	volIndex := e.md.History(ctx, e.cfg.VIXKey, e.cfg.HistoryDays)
	if underlying.Empty() || volIndex.Empty() {
		e.log.Warn("history unavailable, skipping cycle")
		return
	}

	expiries, err := e.md.Expiries(ctx)
	if err != nil {
		e.log.Warn("expiry calendar unavailable, skipping cycle", zap.Error(err))
		return
	}

	weeklyChain := e.md.Chain(ctx, expiries.Weekly)
	monthlyChain := e.md.Chain(ctx, expiries.Monthly)

	e.quoteMu.RLock()
	liveSpot, liveVIX := e.liveSpot, e.liveVIX
	e.quoteMu.RUnlock()

	vol := volModel.Compute(underlying, volIndex, liveSpot, liveVIX)
	structural := structModel.Compute(weeklyChain, vol.Spot, e.cfg.LotSize)
	edge := edgeModel.Compute(weeklyChain, monthlyChain, vol.Spot, vol)
	calendar := market.NewTimeMetrics(e.now(), expiries.Weekly, expiries.Monthly,
		expiries.NextWeekly, analytics.GammaDangerDTE)
	external := e.externalMetrics(ctx, analytics)

	// Inside the gamma-danger window the weekly mandate rolls to the next
	// weekly expiry; the T-1 rule would exit same-day entries immediately.
	expiryDate, dte := expiries.Weekly, calendar.DTEWeekly
	if calendar.IsGammaWeek {
		expiryDate, dte = expiries.NextWeekly, calendar.DTENextWeekly
	}

	score := classifier.CalculateScores(vol, structural, edge, external, calendar, regime.ExpiryWeekly)
	mandate := classifier.GenerateMandate(score, dte, expiryDate, regime.ExpiryWeekly)

	e.publish(vol, edge, score, mandate)
	e.log.Info("cycle evaluated",
		zap.Float64("composite", score.Composite),
		zap.String("regime", mandate.RegimeName),
		zap.String("strategy", mandate.StrategyType),
		zap.Float64("allocation_pct", mandate.AllocationPct),
		zap.Bool("garch_fallback", vol.IsFallback))

	if mandate.AllocationPct <= 0 {
		return
	}
	e.act(ctx, mandate)
}

// act pushes a positive mandate through the gate and, if admitted, executes.
func (e *Engine) act(ctx context.Context, mandate regime.Mandate) {
	if err := e.sent.BeginExecution(); err != nil {
		if e.coll != nil {
			e.coll.RecordGateReject(gateRejectReason(err))
		}
		e.log.Debug("execution slot refused", zap.Error(err))
		return
	}
	defer e.sent.EndExecution()

	legs := e.builder.Build(ctx, mandate)
	if len(legs) == 0 {
		e.log.Warn("no legs constructed for mandate", zap.String("strategy", mandate.StrategyType))
		return
	}

	if err := e.sent.ValidateTrade(ctx, legs); err != nil {
		if e.coll != nil {
			e.coll.RecordGateReject(gateRejectReason(err))
		}
		e.log.Warn("gate_reject", zap.String("reason", gateRejectReason(err)), zap.Error(err))
		return
	}

	if _, err := e.exec.Execute(ctx, mandate, legs); err != nil {
		e.log.Error("execution failed", zap.Error(err))
		return
	}
	if e.coll != nil {
		e.coll.RecordTradeEntered()
	}
}

// externalMetrics fetches participant flow; unavailable data degrades to a
// neutral regime rather than blocking the cycle.
func (e *Engine) externalMetrics(ctx context.Context, a config.AnalyticsConfig) market.ExternalMetrics {
	ext := market.ExternalMetrics{Flow: market.FlowNeutral}
	if e.flows == nil {
		return ext
	}
	participants, dataDate, err := e.flows.ParticipantFlow(ctx)
	if err != nil {
		e.log.Warn("participant flow unavailable", zap.Error(err))
		return ext
	}
	ext.Participants = participants
	ext.DataDate = dataDate
	ext.Flow = market.DeriveFlowRegime(participants, a.FlowStrongLong, a.FlowStrongShort)
	return ext
}

func (e *Engine) publish(vol market.VolMetrics, edge market.EdgeMetrics, score regime.Score, mandate regime.Mandate) {
	if e.coll == nil {
		return
	}
	e.coll.UpdateScores(score.Vol, score.Struct, score.Edge, score.Risk, score.Composite)
	e.coll.UpdateMandate(mandate.AllocationPct)
	e.coll.UpdateVolContext(vol.Spot, vol.VIX, vol.IVP1Y, vol.VoVZScore, edge.VRPGarch)
	e.coll.RecordEvalCycle(vol.IsFallback)

	m := e.sent.LiveMetrics()
	e.coll.UpdateSentinel(m.PnL, m.Positions, m.AvailableCash, e.sent.KillSwitch())
}

// gateRejectReason maps gate errors to stable metric labels.
func gateRejectReason(err error) string {
	switch {
	case errors.Is(err, risk.ErrKillSwitchActive):
		return "kill_switch"
	case errors.Is(err, risk.ErrPositionOpen):
		return "position_open"
	case errors.Is(err, risk.ErrDailyLossBreached):
		return "daily_loss"
	case errors.Is(err, risk.ErrInsufficientMargin):
		return "margin"
	case errors.Is(err, risk.ErrExecutionPending):
		return "execution_pending"
	default:
		return "other"
	}
}
