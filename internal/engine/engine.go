// Package engine is the central orchestrator of the trading daemon.
//
// It wires together all subsystems:
//
//  1. QuoteFeed polls the tracked 15-minute markets and emits PriceUpdates.
//  2. For every update, the engine runs two passes over the strategy
//     catalog in stable id order: exits first, then entries. Exits-first
//     means a freshly closed slot can never re-enter on the tick that
//     closed it.
//  3. The position manager gates entries (open slot, cooldown, one-shot
//     rule, rolling spend budget); the Kelly sizer picks the stake; the
//     order executor (paper or live) places the order.
//  4. Every trade transition is committed to the store before the engine
//     moves on; the store row is the source of truth across restarts.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"polymarket-vol/internal/bankroll"
	"polymarket-vol/internal/clock"
	"polymarket-vol/internal/config"
	"polymarket-vol/internal/exchange"
	"polymarket-vol/internal/position"
	"polymarket-vol/internal/store"
	"polymarket-vol/internal/strategy"
	"polymarket-vol/pkg/types"
)

// minTradesForWinRate is how many closed trades a strategy needs before
// its observed win rate feeds the sizer. Below that the sizer falls back
// to its break-even-plus-edge prior.
const minTradesForWinRate = 10

// opTimeout bounds the venue and store calls made while acting on one
// update. Shutdown lets the in-flight tick finish rather than cancelling
// it, so half-processed updates cannot strand an order without its row.
const opTimeout = 30 * time.Second

// PriceFeed is the engine's view of the quote feed: a stream of price
// observations plus lookup of the tracked market behind one.
type PriceFeed interface {
	Run(ctx context.Context)
	Updates() <-chan types.PriceUpdate
	Market(conditionID string) (types.Market, bool)
}

// Engine consumes price updates and turns them into entries and exits.
// It owns the lifecycle of all goroutines.
type Engine struct {
	cfg       *config.Config
	store     *store.Store
	feed      PriceFeed
	registry  *strategy.Registry
	positions *position.Manager
	bank      *bankroll.Bankroll
	sizer     *bankroll.Sizer
	executor  exchange.OrderExecutor
	clk       clock.Clock
	logger    *slog.Logger

	resolutionCutoff float64 // seconds; below this an open position is force-closed

	// lastObserved tracks the newest ObservedAt accepted per market, so
	// out-of-order ticks are dropped. Touched only by the decide loop.
	lastObserved map[string]time.Time

	invalidUpdates atomic.Int64

	fatalCh chan error
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New wires the engine and restores its state from the store: open
// positions and cooldowns are rehydrated, the bankroll is rebuilt from
// closed-trade history, and the strategy catalog is seeded and reconciled.
// A store that cannot answer here is a fatal startup error; trading with a
// half-restored position index would double-buy.
func New(cfg *config.Config, st *store.Store, feed PriceFeed, executor exchange.OrderExecutor, clk clock.Clock, logger *slog.Logger) (*Engine, error) {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:              cfg,
		store:            st,
		feed:             feed,
		registry:         strategy.NewRegistry(st, logger),
		positions:        position.NewManager(cfg.Budget, st, clk, logger),
		bank:             bankroll.New(cfg.Bankroll),
		sizer:            bankroll.NewSizer(cfg.Bankroll, cfg.IsLive()),
		executor:         executor,
		clk:              clk,
		logger:           logger.With("component", "engine"),
		resolutionCutoff: float64(cfg.Exits.ResolutionExitSeconds),
		lastObserved:     make(map[string]time.Time),
		fatalCh:          make(chan error, 1),
		ctx:              ctx,
		cancel:           cancel,
	}

	startCtx, cancelStart := context.WithTimeout(ctx, opTimeout)
	defer cancelStart()

	if err := e.registry.Load(startCtx, cfg.StrategySet()); err != nil {
		cancel()
		return nil, err
	}
	if err := e.positions.Rehydrate(startCtx); err != nil {
		cancel()
		return nil, err
	}
	if err := e.restoreBankroll(startCtx); err != nil {
		cancel()
		return nil, err
	}
	return e, nil
}

// restoreBankroll rebuilds the money state from trade history: realized
// pnl re-applied, the vault's share of winning pnl set aside, and open
// stakes held out of the active balance.
func (e *Engine) restoreBankroll(ctx context.Context) error {
	closed, closedPnL, err := e.store.ClosedStats(ctx)
	if err != nil {
		return fmt.Errorf("restore bankroll: %w", err)
	}
	winningPnL, err := e.store.WinningPnL(ctx)
	if err != nil {
		return fmt.Errorf("restore bankroll: %w", err)
	}
	e.bank.Restore(closedPnL, winningPnL, e.positions.OpenStake())

	if moved := e.bank.CheckEmergency(); moved > 0 {
		e.logger.Warn("emergency vault withdrawal on restore",
			"moved", moved, "active", e.bank.Active(), "vault", e.bank.Vault())
	}

	e.logger.Info("bankroll restored",
		"active", e.bank.Active(),
		"vault", e.bank.Vault(),
		"closed_trades", closed,
		"closed_pnl", closedPnL,
		"open_positions", e.positions.OpenCount())
	return nil
}

// Start launches the quote feed, the decide loop, and the status loop.
func (e *Engine) Start() error {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.feed.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.decideLoop()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.statusLoop()
	}()

	e.logger.Info("engine started",
		"mode", e.cfg.System.Mode,
		"strategies", len(e.registry.All()),
		"active", len(e.registry.Active()),
		"bankroll", e.bank.Active())
	return nil
}

// Stop shuts down gracefully: no new updates are accepted, the in-flight
// tick finishes, a final snapshot is written. Open positions stay open in
// the store and are resumed on next start.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")
	e.cancel()
	e.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	e.writeSnapshot(ctx)

	e.logger.Info("shutdown complete",
		"open_positions", e.positions.OpenCount(),
		"equity", e.bank.TotalEquity())
}

// Fatal delivers an unrecoverable runtime error, at most one. The daemon
// exits with status 2 when it fires.
func (e *Engine) Fatal() <-chan error {
	return e.fatalCh
}

// InvalidUpdates returns how many malformed price updates were dropped.
func (e *Engine) InvalidUpdates() int64 {
	return e.invalidUpdates.Load()
}

func (e *Engine) decideLoop() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case u := <-e.feed.Updates():
			e.Tick(u)
		}
	}
}

func (e *Engine) statusLoop() {
	interval := e.cfg.System.StatusInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(e.ctx, opTimeout)
			e.writeSnapshot(ctx)
			cancel()
		}
	}
}

func (e *Engine) writeSnapshot(ctx context.Context) {
	closed, totalPnL, err := e.store.ClosedStats(ctx)
	if err != nil {
		e.logger.Error("snapshot stats failed", "error", err)
		return
	}

	snap := types.Snapshot{
		TakenAt:       e.clk.Now(),
		Bankroll:      e.bank.Active(),
		Vault:         e.bank.Vault(),
		TotalEquity:   e.bank.TotalEquity(),
		OpenPositions: e.positions.OpenCount(),
		ClosedTrades:  closed,
		TotalPnL:      totalPnL,
	}
	if err := e.store.InsertSnapshot(ctx, snap); err != nil {
		e.logger.Error("snapshot write failed", "error", err)
		return
	}

	e.logger.Info("status",
		"equity", snap.TotalEquity,
		"bankroll", snap.Bankroll,
		"vault", snap.Vault,
		"open", snap.OpenPositions,
		"closed", snap.ClosedTrades,
		"total_pnl", snap.TotalPnL,
		"drawdown", e.bank.Drawdown())
}

// Tick processes one price update: validation, ordering, then an exit
// pass and an entry pass over the catalog in stable id order. Re-running
// the same update is a no-op: closed slots are blocked by the one-shot
// rule and open slots by the at-most-one rule.
func (e *Engine) Tick(u types.PriceUpdate) {
	if !u.Valid() {
		e.invalidUpdates.Add(1)
		e.logger.Warn("dropping invalid price update",
			"condition_id", u.ConditionID,
			"yes_price", u.YesPrice,
			"no_price", u.NoPrice,
			"dropped_total", e.invalidUpdates.Load())
		return
	}
	if last, ok := e.lastObserved[u.ConditionID]; ok && u.ObservedAt.Before(last) {
		e.logger.Warn("dropping out-of-order price update",
			"condition_id", u.ConditionID,
			"observed_at", u.ObservedAt,
			"newest", last)
		return
	}
	e.lastObserved[u.ConditionID] = u.ObservedAt

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// Exits walk the full catalog: a disabled strategy still manages the
	// position it already holds.
	for _, s := range e.registry.All() {
		key := types.TradeKey{StrategyID: s.ID, ConditionID: u.ConditionID}
		tr, ok := e.positions.Position(key)
		if !ok {
			continue
		}
		if d, fire := strategy.EvaluateExit(&s, &tr, &u, e.resolutionCutoff); fire {
			e.closePosition(ctx, &s, tr, &u, d)
		}
	}

	for _, s := range e.registry.Active() {
		e.tryEnter(ctx, &s, &u)
	}
}

// tryEnter runs one strategy's entry gauntlet for one update. The cheap
// in-memory gates come first; the store-backed one-shot check only runs
// once the price band has actually fired.
func (e *Engine) tryEnter(ctx context.Context, s *types.Strategy, u *types.PriceUpdate) {
	key := types.TradeKey{StrategyID: s.ID, ConditionID: u.ConditionID}
	if e.positions.HasOpen(key) || e.positions.OnCooldown(key) {
		return
	}

	d, fire := strategy.EvaluateEntry(s, u)
	if !fire {
		return
	}

	traded, err := e.positions.EverTraded(ctx, key)
	if err != nil {
		e.fatal(fmt.Errorf("one-shot lookup for %s/%s: %w", key.StrategyID, key.ConditionID, err))
		return
	}
	if traded {
		return
	}

	winRate := 0.0
	if s.TotalTrades >= minTradesForWinRate {
		winRate = s.WinRate
	}
	bet := e.sizer.Recommend(e.bank.Active(), d.BuyPrice, d.ExitTarget, winRate)
	if bet.Amount <= 0 {
		e.logger.Debug("entry skipped by sizer",
			"strategy", s.ID,
			"condition_id", u.ConditionID,
			"rationale", bet.Rationale)
		return
	}

	// The spend window guards real dollars only; paper runs would starve
	// the catalog's data collection on a shared $5 cap.
	if e.cfg.IsLive() && !e.positions.AdmitSpend(bet.Amount) {
		return
	}

	m, ok := e.feed.Market(u.ConditionID)
	if !ok {
		e.logger.Warn("entry for untracked market", "condition_id", u.ConditionID)
		return
	}
	tokenID := m.YesTokenID
	if d.Side == types.SideNo {
		tokenID = m.NoTokenID
	}

	shares := bet.Amount / d.BuyPrice
	e.bank.Reserve(bet.Amount)
	if _, err := e.executor.Buy(ctx, tokenID, d.BuyPrice, shares); err != nil {
		e.bank.Release(bet.Amount)
		e.logger.Warn("entry order rejected",
			"strategy", s.ID,
			"condition_id", u.ConditionID,
			"price", d.BuyPrice,
			"error", err)
		return
	}

	now := e.clk.Now()
	tr := &types.Trade{
		StrategyID:           s.ID,
		ConditionID:          u.ConditionID,
		Asset:                u.Asset,
		Side:                 d.Side,
		EntryPrice:           d.BuyPrice,
		EntryTime:            now,
		Shares:               shares,
		TimeRemainingAtEntry: u.TimeRemaining,
		HourOfDay:            now.Hour(),
		DayOfWeek:            int(now.Weekday()),
		Status:               types.TradeOpen,
		IsPaper:              !e.cfg.IsLive(),
	}
	if err := e.positions.OpenTrade(ctx, tr); err != nil {
		// The order is out but its row is not: stop trading rather than
		// risk a second buy on the same slot after restart.
		e.bank.Release(bet.Amount)
		e.fatal(fmt.Errorf("persist entry %s/%s: %w", s.ID, u.ConditionID, err))
		return
	}

	e.logger.Info("position opened",
		"strategy", s.ID,
		"condition_id", u.ConditionID,
		"asset", u.Asset,
		"side", d.Side,
		"price", d.BuyPrice,
		"trigger", d.TriggerPrice,
		"stake", bet.Amount,
		"shares", shares,
		"kelly", bet.Kelly,
		"confidence", bet.Confidence,
		"time_remaining", u.TimeRemaining)
}

// closePosition executes and records one exit. The store write happens
// regardless of executor success: the engine records its closing intent
// and leaves venue-side residue to reconciliation, rather than riding an
// unmanageable position into settlement.
func (e *Engine) closePosition(ctx context.Context, s *types.Strategy, tr types.Trade, u *types.PriceUpdate, d strategy.ExitDecision) {
	tr.Close(d.SellPrice, d.Reason, e.clk.Now(), u.TimeRemaining)

	if m, ok := e.feed.Market(u.ConditionID); ok {
		tokenID := m.YesTokenID
		if tr.Side == types.SideNo {
			tokenID = m.NoTokenID
		}
		if _, err := e.executor.Sell(ctx, tokenID, d.SellPrice, tr.Shares); err != nil {
			e.logger.Error("exit order failed, recording close anyway",
				"strategy", s.ID,
				"condition_id", u.ConditionID,
				"price", d.SellPrice,
				"error", err)
		}
	} else {
		e.logger.Warn("exit for untracked market, recording close only",
			"condition_id", u.ConditionID)
	}

	if err := e.positions.CloseTrade(ctx, &tr); err != nil {
		e.fatal(fmt.Errorf("persist close %s/%s: %w", s.ID, u.ConditionID, err))
		return
	}

	deposit := e.bank.Settle(tr.Shares*tr.ExitPrice, tr.PnL, tr.IsWin)
	if moved := e.bank.CheckEmergency(); moved > 0 {
		e.logger.Warn("emergency vault withdrawal",
			"moved", moved, "active", e.bank.Active(), "vault", e.bank.Vault())
	}

	if err := e.registry.Refresh(ctx, s.ID); err != nil {
		e.logger.Error("strategy stats refresh failed", "strategy", s.ID, "error", err)
	}

	e.logger.Info("position closed",
		"strategy", s.ID,
		"condition_id", u.ConditionID,
		"reason", tr.ExitReason,
		"entry", tr.EntryPrice,
		"exit", tr.ExitPrice,
		"pnl", tr.PnL,
		"pnl_pct", tr.PnLPct,
		"is_win", tr.IsWin,
		"vault_deposit", deposit,
		"bankroll", e.bank.Active())
}

// fatal records an unrecoverable error without blocking; the first one
// wins and the supervisor tears the process down.
func (e *Engine) fatal(err error) {
	e.logger.Error("fatal", "error", err)
	select {
	case e.fatalCh <- err:
	default:
	}
}
