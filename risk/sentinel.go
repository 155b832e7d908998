// Package risk implements the standing risk sentinel: the pre-trade gate,
// the active-strategy exit rules, and the patrol loop with its one-way kill
// switch.
package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"volguard-go/gateway"
	"volguard-go/ledger"
	"volguard-go/market"
)

// State of the sentinel's single-trade state machine.
type State int

const (
	StateIdle State = iota
	StatePending
	StateActive
	StateExiting
	StateKilled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StatePending:
		return "PENDING"
	case StateActive:
		return "ACTIVE"
	case StateExiting:
		return "EXITING"
	case StateKilled:
		return "KILLED"
	default:
		return "UNKNOWN"
	}
}

// Forced-exit reasons, as persisted to the ledger.
const (
	ReasonTMinus1      = "T-1_AUTO_EXIT"
	ReasonProfitTarget = "PROFIT_TARGET_50%"
	ReasonStopLoss     = "STOP_LOSS_50%"
	ReasonDailyLoss    = "DAILY_LOSS_KILL_SWITCH"
)

// ActiveTrade is the one tracked strategy position.
type ActiveTrade struct {
	Expiry       time.Time
	EntryPremium float64
	Strategy     string
}

// Metrics is the sentinel's live snapshot of account state.
type Metrics struct {
	PnL           float64
	Positions     int
	AvailableCash float64
}

// TradeLedger is the persistence collaborator the sentinel needs.
// *ledger.Store satisfies it.
type TradeLedger interface {
	RecordClose(ctx context.Context, reason string, realizedPnL float64) error
	LastOpenTrade(ctx context.Context) (*ledger.Trade, error)
}

// Config is the sentinel's immutable rule set.
type Config struct {
	MaxDailyLoss    float64       // absolute rupee loss that trips the kill switch
	ProfitTargetPct float64       // fraction of entry premium, default 0.50
	StopLossPct     float64       // fraction of entry premium, default 0.50
	PatrolInterval  time.Duration // default 5s
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ProfitTargetPct <= 0 {
		out.ProfitTargetPct = 0.50
	}
	if out.StopLossPct <= 0 {
		out.StopLossPct = 0.50
	}
	if out.PatrolInterval <= 0 {
		out.PatrolInterval = 5 * time.Second
	}
	return out
}

// Sentinel gates new trades and forces exits on the one active strategy.
// Safe for concurrent use by the patrol and evaluation loops.
type Sentinel struct {
	cfg   Config
	exec  gateway.Execution
	store TradeLedger
	log   *zap.Logger
	clock Clock

	// pendingExecution is the cooperative lock between the evaluation loop
	// (leg construction/submission in flight) and the patrol loop (which
	// skips its sync/exit step while it is held).
	pendingExecution atomic.Bool

	mu         sync.Mutex
	state      State
	killSwitch bool
	live       Metrics
	active     *ActiveTrade

	onStateChange func(old, new State)
	onForcedExit  func(reason string, realizedPnL float64)
}

// NewSentinel builds a sentinel. A nil clock uses the system clock.
func NewSentinel(cfg Config, exec gateway.Execution, store TradeLedger, log *zap.Logger, clock Clock) *Sentinel {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Sentinel{
		cfg:   cfg.withDefaults(),
		exec:  exec,
		store: store,
		log:   log,
		clock: clock,
		state: StateIdle,
	}
}

// SetStateChangeCallback registers a hook invoked on every transition.
func (s *Sentinel) SetStateChangeCallback(fn func(old, new State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = fn
}

// SetForcedExitCallback registers a hook invoked after each forced exit.
func (s *Sentinel) SetForcedExitCallback(fn func(reason string, realizedPnL float64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onForcedExit = fn
}

func (s *Sentinel) setState(new State) {
	old := s.state
	if old == new {
		return
	}
	s.state = new
	if s.onStateChange != nil {
		go s.onStateChange(old, new)
	}
}

// GetState returns the current machine state.
func (s *Sentinel) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// KillSwitch reports whether the one-way kill switch has fired. Once set it
// stays set for the life of the process.
func (s *Sentinel) KillSwitch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killSwitch
}

// LiveMetrics returns the last synced account snapshot.
func (s *Sentinel) LiveMetrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// ActiveTrade returns a copy of the tracked trade, or nil.
func (s *Sentinel) ActiveTrade() *ActiveTrade {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	cp := *s.active
	return &cp
}

// Initialize syncs funds and positions, and reconstructs the active trade
// from the ledger when positions exist after a restart.
func (s *Sentinel) Initialize(ctx context.Context) error {
	if err := s.refresh(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	needRecover := s.active == nil && s.live.Positions > 0
	s.mu.Unlock()
	if !needRecover {
		return nil
	}

	last, err := s.store.LastOpenTrade(ctx)
	if err != nil {
		return fmt.Errorf("recover active trade: %w", err)
	}
	if last == nil {
		s.log.Warn("positions open but ledger has no open record; exits will not fire")
		return nil
	}

	s.mu.Lock()
	s.active = &ActiveTrade{
		Expiry:       last.Expiry,
		EntryPremium: last.EntryPremium,
		Strategy:     last.Strategy,
	}
	s.setState(StateActive)
	s.mu.Unlock()

	s.log.Info("resumed active trade from ledger",
		zap.String("strategy", last.Strategy),
		zap.Time("expiry", last.Expiry),
		zap.Float64("entry_premium", last.EntryPremium))
	return nil
}

// refresh pulls capital, positions and P&L from the execution collaborator.
func (s *Sentinel) refresh(ctx context.Context) error {
	cash, err := s.exec.AvailableCapital(ctx)
	if err != nil {
		return fmt.Errorf("sync funds: %w", err)
	}
	positions, err := s.exec.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("sync positions: %w", err)
	}
	pnl := 0.0
	for _, p := range positions {
		pnl += p.PnL
	}

	s.mu.Lock()
	s.live = Metrics{PnL: pnl, Positions: len(positions), AvailableCash: cash}
	s.mu.Unlock()
	return nil
}

// BeginExecution acquires the pending-execution slot before leg
// construction/submission begins. The returned error names the gate that
// refused the slot: the kill switch, an active trade, or an execution
// already in flight.
func (s *Sentinel) BeginExecution() error {
	s.mu.Lock()
	if s.killSwitch {
		s.mu.Unlock()
		return ErrKillSwitchActive
	}
	if s.state == StateActive || s.state == StateExiting {
		s.mu.Unlock()
		return ErrPositionOpen
	}
	s.mu.Unlock()

	if !s.pendingExecution.CompareAndSwap(false, true) {
		return ErrExecutionPending
	}
	s.mu.Lock()
	s.setState(StatePending)
	s.mu.Unlock()
	return nil
}

// EndExecution releases the pending-execution slot. The state settles to
// ACTIVE when a trade was registered meanwhile, otherwise back to IDLE.
func (s *Sentinel) EndExecution() {
	s.mu.Lock()
	if !s.killSwitch {
		if s.active != nil {
			s.setState(StateActive)
		} else if s.state == StatePending {
			s.setState(StateIdle)
		}
	}
	s.mu.Unlock()
	s.pendingExecution.Store(false)
}

// ExecutionPending reports whether a trade is being constructed/submitted.
func (s *Sentinel) ExecutionPending() bool {
	return s.pendingExecution.Load()
}

// ValidateTrade is the pre-trade gate, called before any order submission.
// Check order: kill switch, no stacking, daily loss, venue margin. A nil
// return grants permission to proceed; it does not place the order.
func (s *Sentinel) ValidateTrade(ctx context.Context, legs []gateway.Leg) error {
	if s.KillSwitch() {
		s.log.Warn("trade blocked: kill switch active")
		return ErrKillSwitchActive
	}

	if err := s.refresh(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	live := s.live
	s.mu.Unlock()

	if live.Positions > 0 {
		s.log.Warn("trade blocked: existing positions", zap.Int("positions", live.Positions))
		return ErrPositionOpen
	}
	if live.PnL < -math.Abs(s.cfg.MaxDailyLoss) {
		s.log.Error("trade blocked: daily loss hit", zap.Float64("pnl", live.PnL))
		return ErrDailyLossBreached
	}

	required, err := s.exec.RequiredMargin(ctx, legs)
	if err != nil {
		return fmt.Errorf("margin check: %w", err)
	}
	s.log.Info("margin check",
		zap.Float64("required", required),
		zap.Float64("available", live.AvailableCash))
	if required > live.AvailableCash {
		s.log.Error("trade blocked: insufficient margin",
			zap.Float64("required", required),
			zap.Float64("available", live.AvailableCash))
		return ErrInsufficientMargin
	}
	return nil
}

// RegisterTrade records the active strategy. Called only after the order has
// been confirmed filled.
func (s *Sentinel) RegisterTrade(expiry time.Time, entryPremium float64, strategy string) {
	s.mu.Lock()
	s.active = &ActiveTrade{Expiry: expiry, EntryPremium: entryPremium, Strategy: strategy}
	s.setState(StateActive)
	s.mu.Unlock()

	s.log.Info("strategy registered",
		zap.String("strategy", strategy),
		zap.Float64("entry_premium", entryPremium),
		zap.Time("expiry", expiry))
}

// CheckExits applies the exit rules in order: T-1, profit target, stop loss.
// The first matching rule forces the exit and short-circuits the rest.
// Returns the exit reason, or "" when no rule fired.
func (s *Sentinel) CheckExits(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.active == nil || s.live.Positions == 0 {
		s.mu.Unlock()
		return "", nil
	}
	trade := *s.active
	pnl := s.live.PnL
	s.mu.Unlock()

	dte := market.DaysBetween(s.clock.Now(), trade.Expiry)

	if dte <= 1 {
		s.log.Warn("T-1 auto-exit triggered", zap.Int("dte", dte))
		return ReasonTMinus1, s.exitPositions(ctx, ReasonTMinus1)
	}

	target := trade.EntryPremium * s.cfg.ProfitTargetPct
	if pnl >= target {
		s.log.Info("profit target hit", zap.Float64("pnl", pnl), zap.Float64("target", target))
		return ReasonProfitTarget, s.exitPositions(ctx, ReasonProfitTarget)
	}

	stop := -math.Abs(trade.EntryPremium * s.cfg.StopLossPct)
	if pnl <= stop {
		s.log.Error("stop loss hit", zap.Float64("pnl", pnl), zap.Float64("stop", stop))
		return ReasonStopLoss, s.exitPositions(ctx, ReasonStopLoss)
	}
	return "", nil
}

// exitPositions squares off through the execution collaborator, persists the
// closing record, and clears the tracked trade.
func (s *Sentinel) exitPositions(ctx context.Context, reason string) error {
	s.mu.Lock()
	s.setState(StateExiting)
	finalPnL := s.live.PnL
	s.mu.Unlock()

	s.log.Warn("executing exit", zap.String("reason", reason), zap.Float64("pnl", finalPnL))

	if err := s.exec.CancelAllPositions(ctx); err != nil {
		s.mu.Lock()
		s.setState(StateActive)
		s.mu.Unlock()
		return fmt.Errorf("cancel positions: %w", err)
	}
	if err := s.store.RecordClose(ctx, reason, finalPnL); err != nil {
		// Positions are flat; the ledger miss is logged, not fatal.
		s.log.Error("ledger close failed", zap.Error(err))
	}

	s.mu.Lock()
	s.active = nil
	s.live.Positions = 0
	if !s.killSwitch {
		s.setState(StateIdle)
	}
	onExit := s.onForcedExit
	s.mu.Unlock()

	if onExit != nil {
		onExit(reason, finalPnL)
	}
	s.log.Info("positions closed", zap.String("reason", reason), zap.Float64("final_pnl", finalPnL))
	return nil
}

// trip sets the one-way kill switch.
func (s *Sentinel) trip() {
	s.mu.Lock()
	s.killSwitch = true
	s.setState(StateKilled)
	s.mu.Unlock()
}

// Patrol is the standing heartbeat loop. Each cycle it syncs P&L and
// positions, runs the exit rules, and trips the kill switch on a daily-loss
// breach. Collaborator failures are logged and the loop continues; only the
// kill switch or context cancellation terminates it.
func (s *Sentinel) Patrol(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PatrolInterval)
	defer ticker.Stop()

	s.log.Info("sentinel patrol started", zap.Duration("interval", s.cfg.PatrolInterval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sentinel patrol stopped", zap.Error(ctx.Err()))
			return
		case <-ticker.C:
			if s.KillSwitch() {
				s.log.Warn("kill switch observed, patrol terminating")
				return
			}
			// While an execution is in flight the position snapshot is
			// stale by construction; skip the cycle instead of firing
			// exit rules on a zero-position view.
			if s.pendingExecution.Load() {
				continue
			}
			s.patrolCycle(ctx)
		}
	}
}

func (s *Sentinel) patrolCycle(ctx context.Context) {
	positions, err := s.exec.OpenPositions(ctx)
	if err != nil {
		s.log.Error("patrol sync failed", zap.Error(err))
		return
	}
	pnl := 0.0
	for _, p := range positions {
		pnl += p.PnL
	}
	s.mu.Lock()
	s.live.PnL = pnl
	s.live.Positions = len(positions)
	s.mu.Unlock()

	if _, err := s.CheckExits(ctx); err != nil {
		s.log.Error("exit failed", zap.Error(err))
	}

	if pnl < -math.Abs(s.cfg.MaxDailyLoss) {
		s.log.Error("daily loss breach, tripping kill switch", zap.Float64("pnl", pnl))
		if err := s.exitPositions(ctx, ReasonDailyLoss); err != nil {
			s.log.Error("kill-switch exit failed", zap.Error(err))
		}
		s.trip()
	}
}
