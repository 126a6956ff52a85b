package position

import (
	"context"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"polymarket-vol/internal/config"
	"polymarket-vol/internal/store"
	"polymarket-vol/pkg/types"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T) (*Manager, *store.Store, *manualClock) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	clk := &manualClock{now: time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)}
	cfg := config.BudgetConfig{
		SpendCap: 5,
		Window:   15 * time.Minute,
		Cooldown: 15 * time.Minute,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(cfg, st, clk, logger), st, clk
}

func openTrade(strategyID, conditionID string, entryTime time.Time) *types.Trade {
	return &types.Trade{
		StrategyID:           strategyID,
		ConditionID:          conditionID,
		Asset:                "BTC",
		Side:                 types.SideYes,
		EntryPrice:           0.10,
		EntryTime:            entryTime,
		Shares:               20,
		TimeRemainingAtEntry: 600,
		Status:               types.TradeOpen,
		IsPaper:              true,
	}
}

func TestOpenCloseLifecycle(t *testing.T) {
	t.Parallel()
	m, _, clk := newTestManager(t)
	ctx := context.Background()

	tr := openTrade("deep_10_20", "cond-1", clk.Now())
	if err := m.OpenTrade(ctx, tr); err != nil {
		t.Fatalf("OpenTrade: %v", err)
	}
	if tr.ID == 0 {
		t.Error("OpenTrade left trade ID unassigned")
	}

	key := tr.Key()
	if !m.HasOpen(key) {
		t.Error("HasOpen = false after open")
	}
	got, ok := m.Position(key)
	if !ok || got.ID != tr.ID {
		t.Errorf("Position = (%+v, %v), want cached trade", got, ok)
	}
	if m.OpenCount() != 1 {
		t.Errorf("OpenCount = %d, want 1", m.OpenCount())
	}
	if math.Abs(m.OpenStake()-2.0) > 1e-9 { // 20 shares at 0.10
		t.Errorf("OpenStake = %v, want 2.0", m.OpenStake())
	}

	tr.Close(0.21, types.ExitTakeProfit, clk.Now().Add(2*time.Minute), 400)
	if err := m.CloseTrade(ctx, tr); err != nil {
		t.Fatalf("CloseTrade: %v", err)
	}
	if m.HasOpen(key) {
		t.Error("HasOpen = true after close")
	}
	if m.OnCooldown(key) {
		t.Error("OnCooldown = true after take-profit; only resolution exits arm it")
	}

	ever, err := m.EverTraded(ctx, key)
	if err != nil {
		t.Fatalf("EverTraded: %v", err)
	}
	if !ever {
		t.Error("EverTraded = false for a closed pair")
	}
}

func TestOpenTradeRefusesSecondPosition(t *testing.T) {
	t.Parallel()
	m, _, clk := newTestManager(t)
	ctx := context.Background()

	if err := m.OpenTrade(ctx, openTrade("deep_10_20", "cond-1", clk.Now())); err != nil {
		t.Fatalf("first OpenTrade: %v", err)
	}
	if err := m.OpenTrade(ctx, openTrade("deep_10_20", "cond-1", clk.Now())); err == nil {
		t.Fatal("second OpenTrade on the same pair succeeded")
	}
	if m.OpenCount() != 1 {
		t.Errorf("OpenCount = %d, want 1", m.OpenCount())
	}
}

func TestResolutionExitArmsCooldown(t *testing.T) {
	t.Parallel()
	m, _, clk := newTestManager(t)
	ctx := context.Background()

	tr := openTrade("fade_85_75", "cond-2", clk.Now())
	if err := m.OpenTrade(ctx, tr); err != nil {
		t.Fatalf("OpenTrade: %v", err)
	}

	tr.Close(0.08, types.ExitResolution, clk.Now(), 100)
	if err := m.CloseTrade(ctx, tr); err != nil {
		t.Fatalf("CloseTrade: %v", err)
	}

	key := tr.Key()
	if !m.OnCooldown(key) {
		t.Fatal("OnCooldown = false right after resolution exit")
	}

	clk.Advance(14 * time.Minute)
	if !m.OnCooldown(key) {
		t.Error("OnCooldown = false inside the cooldown window")
	}

	clk.Advance(2 * time.Minute)
	if m.OnCooldown(key) {
		t.Error("OnCooldown = true after the gate expired")
	}
}

func TestRehydrateRestoresStateAcrossRestart(t *testing.T) {
	t.Parallel()
	m, st, clk := newTestManager(t)
	ctx := context.Background()

	// One position left open, one fresh resolution exit, one resolution
	// exit long expired.
	stillOpen := openTrade("deep_10_20", "cond-open", clk.Now())
	if err := m.OpenTrade(ctx, stillOpen); err != nil {
		t.Fatalf("OpenTrade: %v", err)
	}

	cooling := openTrade("fade_85_75", "cond-cooling", clk.Now())
	if err := m.OpenTrade(ctx, cooling); err != nil {
		t.Fatalf("OpenTrade: %v", err)
	}
	cooling.Close(0.08, types.ExitResolution, clk.Now().Add(-5*time.Minute), 100)
	if err := m.CloseTrade(ctx, cooling); err != nil {
		t.Fatalf("CloseTrade: %v", err)
	}

	stale := openTrade("fade_90_80", "cond-stale", clk.Now())
	if err := m.OpenTrade(ctx, stale); err != nil {
		t.Fatalf("OpenTrade: %v", err)
	}
	stale.Close(0.05, types.ExitResolution, clk.Now().Add(-2*time.Hour), 90)
	if err := m.CloseTrade(ctx, stale); err != nil {
		t.Fatalf("CloseTrade: %v", err)
	}

	// Fresh manager over the same store simulates a process restart.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m2 := NewManager(config.BudgetConfig{
		SpendCap: 5,
		Window:   15 * time.Minute,
		Cooldown: 15 * time.Minute,
	}, st, clk, logger)
	if err := m2.Rehydrate(ctx); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}

	if !m2.HasOpen(stillOpen.Key()) {
		t.Error("open position lost across restart")
	}
	if m2.OpenCount() != 1 {
		t.Errorf("OpenCount = %d, want 1", m2.OpenCount())
	}
	got, ok := m2.Position(stillOpen.Key())
	if !ok || got.ID != stillOpen.ID || got.Shares != stillOpen.Shares {
		t.Errorf("Position = (%+v, %v), want the persisted trade", got, ok)
	}
	if !m2.OnCooldown(cooling.Key()) {
		t.Error("cooldown lost across restart")
	}
	if m2.OnCooldown(stale.Key()) {
		t.Error("expired cooldown resurrected across restart")
	}
}

func TestAdmitSpendRollingWindow(t *testing.T) {
	t.Parallel()
	m, _, clk := newTestManager(t)

	// Prior entry consumed 4.5 of the $5 cap.
	if !m.AdmitSpend(4.5) {
		t.Fatal("AdmitSpend(4.5) on empty window = false")
	}

	// A $1 candidate busts the cap and leaves the tally untouched.
	if m.AdmitSpend(1.0) {
		t.Fatal("AdmitSpend(1.0) over cap = true")
	}
	if !m.AdmitSpend(0.5) {
		t.Error("AdmitSpend(0.5) = false; rejected candidate must not consume budget")
	}

	// The window rolls over and the budget refreshes.
	clk.Advance(16 * time.Minute)
	if !m.AdmitSpend(5.0) {
		t.Error("AdmitSpend(5.0) after window reset = false")
	}
	if m.AdmitSpend(0.01) {
		t.Error("AdmitSpend(0.01) = true with the fresh window spent")
	}
}
