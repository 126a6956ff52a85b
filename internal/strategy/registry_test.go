package strategy

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"polymarket-vol/internal/store"
	"polymarket-vol/pkg/types"
)

func newTestRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewRegistry(st, slog.New(slog.NewTextHandler(io.Discard, nil))), st
}

func testCatalog() []types.Strategy {
	return []types.Strategy{
		{ID: "deep_10_20", Name: "deep_10_20", Tier: 1, EntryThreshold: 0.10,
			ExitThreshold: 0.20, Direction: types.DirectionNormal, Status: types.StrategyActive},
		{ID: "fade_85_75", Name: "fade_85_75", Tier: 5, EntryThreshold: 0.85,
			ExitThreshold: 0.75, Direction: types.DirectionFade, Status: types.StrategyActive},
		{ID: "mid_40_50", Name: "mid_40_50", Tier: 3, EntryThreshold: 0.40,
			ExitThreshold: 0.50, Direction: types.DirectionNormal, Status: types.StrategyDisabled},
	}
}

func TestLoadStableIDOrder(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)

	if err := r.Load(context.Background(), testCatalog()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	all := r.All()
	wantIDs := []string{"deep_10_20", "fade_85_75", "mid_40_50"}
	if len(all) != len(wantIDs) {
		t.Fatalf("len(All) = %d, want %d", len(all), len(wantIDs))
	}
	for i, id := range wantIDs {
		if all[i].ID != id {
			t.Errorf("All[%d].ID = %s, want %s", i, all[i].ID, id)
		}
	}

	active := r.Active()
	if len(active) != 2 {
		t.Fatalf("len(Active) = %d, want 2", len(active))
	}
	if active[0].ID != "deep_10_20" || active[1].ID != "fade_85_75" {
		t.Errorf("Active = [%s, %s], disabled strategy leaked in", active[0].ID, active[1].ID)
	}
}

func TestLoadEmptyCatalog(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)

	if err := r.Load(context.Background(), nil); err == nil {
		t.Fatal("Load accepted an empty catalog")
	}
}

func TestPersistedStatusSurvivesReload(t *testing.T) {
	t.Parallel()
	r, st := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Load(ctx, testCatalog()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Operator disables a strategy between runs.
	if err := st.SetStrategyStatus(ctx, "deep_10_20", types.StrategyDisabled); err != nil {
		t.Fatalf("SetStrategyStatus: %v", err)
	}

	// A fresh registry seeding the same catalog must not resurrect it.
	r2 := NewRegistry(st, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := r2.Load(ctx, testCatalog()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	s, ok := r2.Get("deep_10_20")
	if !ok {
		t.Fatal("deep_10_20 missing after reload")
	}
	if s.Status != types.StrategyDisabled {
		t.Errorf("Status = %s, want disabled to survive reseed", s.Status)
	}
}

func TestLoadIgnoresRowsOutsideCatalog(t *testing.T) {
	t.Parallel()
	r, st := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Load(ctx, testCatalog()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	// A trimmed-down config: only the fade survives.
	fadeOnly := testCatalog()[1:2]
	r2 := NewRegistry(st, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := r2.Load(ctx, fadeOnly); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if all := r2.All(); len(all) != 1 || all[0].ID != "fade_85_75" {
		t.Errorf("All = %v, want only fade_85_75", all)
	}
	if _, ok := r2.Get("deep_10_20"); ok {
		t.Error("Get found a strategy outside the catalog")
	}
}

func TestRefreshUpdatesPerformanceCache(t *testing.T) {
	t.Parallel()
	r, st := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Load(ctx, testCatalog()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	entry := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	tr := &types.Trade{
		StrategyID:  "deep_10_20",
		ConditionID: "cond-1",
		Asset:       "BTC",
		Side:        types.SideYes,
		EntryPrice:  0.09,
		EntryTime:   entry,
		Shares:      100,
		Status:      types.TradeOpen,
		IsPaper:     true,
	}
	id, err := st.InsertTrade(ctx, tr)
	if err != nil {
		t.Fatalf("InsertTrade: %v", err)
	}
	tr.ID = id
	tr.Close(0.21, types.ExitTakeProfit, entry.Add(3*time.Minute), 400)
	if err := st.CloseTrade(ctx, tr); err != nil {
		t.Fatalf("CloseTrade: %v", err)
	}

	if err := r.Refresh(ctx, "deep_10_20"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	s, ok := r.Get("deep_10_20")
	if !ok {
		t.Fatal("deep_10_20 missing after refresh")
	}
	if s.TotalTrades != 1 || s.Wins != 1 || s.Losses != 0 {
		t.Errorf("stats = %d/%d/%d, want 1/1/0", s.TotalTrades, s.Wins, s.Losses)
	}
	if s.WinRate != 1.0 {
		t.Errorf("WinRate = %v, want 1.0", s.WinRate)
	}
}
