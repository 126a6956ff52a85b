// Package position owns the shared trading state the decision engine gates
// every entry through:
//
//   - Open positions:  at most one open trade per (strategy, market) pair
//   - One-shot rule:   a pair that ever traded, open or closed, never re-enters
//   - Cooldowns:       a resolution exit suppresses the pair until the gate expires
//   - Spend window:    a rolling budget caps total stake admitted per window
//
// The in-memory maps are caches; the source of truth is the store, and
// Rehydrate rebuilds them at startup. Failing to rehydrate is fatal for the
// caller, since an empty cache would let the engine double-buy pairs that
// already hold a position.
package position

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"polymarket-vol/internal/clock"
	"polymarket-vol/internal/config"
	"polymarket-vol/internal/store"
	"polymarket-vol/pkg/types"
)

// Manager tracks open positions, cooldowns, and the rolling spend window.
// All methods are safe for concurrent use.
type Manager struct {
	cfg    config.BudgetConfig
	store  *store.Store
	clock  clock.Clock
	logger *slog.Logger

	mu        sync.RWMutex
	open      map[types.TradeKey]types.Trade
	cooldowns map[types.TradeKey]time.Time // pair -> gate expiry

	windowStart time.Time
	spent       float64
}

// NewManager creates an empty manager. Call Rehydrate before trading.
func NewManager(cfg config.BudgetConfig, st *store.Store, clk clock.Clock, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		store:     st,
		clock:     clk,
		logger:    logger.With("component", "position"),
		open:      make(map[types.TradeKey]types.Trade),
		cooldowns: make(map[types.TradeKey]time.Time),
	}
}

// Rehydrate rebuilds the open-position cache and the cooldown gates from the
// store. Cooldowns derive from closed resolution exits whose gate has not yet
// expired.
func (m *Manager) Rehydrate(ctx context.Context) error {
	trades, err := m.store.OpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("rehydrate positions: %w", err)
	}
	exits, err := m.store.ResolutionExits(ctx)
	if err != nil {
		return fmt.Errorf("rehydrate cooldowns: %w", err)
	}

	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.open = make(map[types.TradeKey]types.Trade, len(trades))
	for _, t := range trades {
		m.open[t.Key()] = t
	}

	m.cooldowns = make(map[types.TradeKey]time.Time)
	for _, t := range exits {
		if until := t.ExitTime.Add(m.cfg.Cooldown); until.After(now) {
			m.cooldowns[t.Key()] = until
		}
	}

	m.logger.Info("rehydrated trading state",
		"open_positions", len(m.open),
		"active_cooldowns", len(m.cooldowns))
	return nil
}

// HasOpen reports whether the pair currently holds an open position.
func (m *Manager) HasOpen(key types.TradeKey) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.open[key]
	return ok
}

// Position returns a copy of the pair's open trade.
func (m *Manager) Position(key types.TradeKey) (types.Trade, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.open[key]
	return t, ok
}

// OnCooldown reports whether the pair's cooldown gate is still closed.
// Expired gates are cleared on read.
func (m *Manager) OnCooldown(key types.TradeKey) bool {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	until, ok := m.cooldowns[key]
	if !ok {
		return false
	}
	if !until.After(now) {
		delete(m.cooldowns, key)
		return false
	}
	return true
}

// EverTraded reports whether any trade row, open or closed, exists for the
// pair. Backs the one-shot-per-market rule; always asks the store, the one
// place that survives restarts.
func (m *Manager) EverTraded(ctx context.Context, key types.TradeKey) (bool, error) {
	return m.store.HasTraded(ctx, key.StrategyID, key.ConditionID)
}

// AdmitSpend charges a stake against the rolling spend window. The window
// resets once it ages past the configured duration; within a window the
// summed admitted stake never exceeds the cap. Admission is recorded before
// the order goes out, so a failed order still counts against the budget.
func (m *Manager) AdmitSpend(stake float64) bool {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.windowStart) > m.cfg.Window {
		m.windowStart = now
		m.spent = 0
	}
	if m.spent+stake > m.cfg.SpendCap {
		m.logger.Warn("spend budget exhausted",
			"stake", stake,
			"spent_in_window", m.spent,
			"cap", m.cfg.SpendCap)
		return false
	}
	m.spent += stake
	return true
}

// OpenTrade persists a new open trade and caches it. The store assigns the
// trade ID. Refuses a pair that already holds a position.
func (m *Manager) OpenTrade(ctx context.Context, t *types.Trade) error {
	key := t.Key()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.open[key]; ok {
		return fmt.Errorf("open trade: %s already holds a position in %s", key.StrategyID, key.ConditionID)
	}
	id, err := m.store.InsertTrade(ctx, t)
	if err != nil {
		return fmt.Errorf("open trade: %w", err)
	}
	t.ID = id
	m.open[key] = *t
	return nil
}

// CloseTrade persists the exit fields of a closed trade, evicts it from the
// cache, and arms the cooldown gate when the exit was a resolution cutoff.
func (m *Manager) CloseTrade(ctx context.Context, t *types.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.CloseTrade(ctx, t); err != nil {
		return fmt.Errorf("close trade: %w", err)
	}
	delete(m.open, t.Key())
	if t.ExitReason == types.ExitResolution {
		m.cooldowns[t.Key()] = t.ExitTime.Add(m.cfg.Cooldown)
	}
	return nil
}

// OpenCount returns the number of open positions.
func (m *Manager) OpenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.open)
}

// OpenStake returns the capital locked in open positions, at entry prices.
func (m *Manager) OpenStake() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total float64
	for _, t := range m.open {
		total += t.Shares * t.EntryPrice
	}
	return total
}
