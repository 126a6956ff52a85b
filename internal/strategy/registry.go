package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"polymarket-vol/internal/store"
	"polymarket-vol/pkg/types"
)

// Registry owns the strategy catalog for one daemon run.
//
// The configured catalog defines the universe: Load seeds it into the store
// (an upsert that refreshes thresholds but never overwrites a persisted
// status, so an operator's disable survives restarts and config edits) and
// reads the reconciled rows back. Strategies present in the store but
// absent from the catalog are left untouched and not loaded.
type Registry struct {
	store  *store.Store
	logger *slog.Logger

	mu      sync.RWMutex
	set     []types.Strategy // reconciled rows, stable id order
	catalog map[string]bool
}

// NewRegistry creates an empty registry; call Load before use.
func NewRegistry(st *store.Store, logger *slog.Logger) *Registry {
	return &Registry{
		store:   st,
		logger:  logger.With("component", "registry"),
		catalog: make(map[string]bool),
	}
}

// Load seeds the catalog into the store and caches the reconciled rows.
func (r *Registry) Load(ctx context.Context, catalog []types.Strategy) error {
	if len(catalog) == 0 {
		return fmt.Errorf("empty strategy catalog")
	}
	if err := r.store.SeedStrategies(ctx, catalog); err != nil {
		return fmt.Errorf("seed strategies: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.catalog = make(map[string]bool, len(catalog))
	for _, s := range catalog {
		r.catalog[s.ID] = true
	}
	if err := r.reloadLocked(ctx); err != nil {
		return err
	}

	active := 0
	for _, s := range r.set {
		if s.Status == types.StrategyActive {
			active++
		}
		r.logger.Debug("strategy",
			"id", s.ID,
			"tier", s.Tier,
			"direction", s.Direction,
			"status", s.Status,
			"buy_at", s.EffectiveEntry(),
			"profit_if_win", s.ProfitIfWin(),
			"break_even_win_rate", s.BreakEvenWinRate(),
			"trades", s.TotalTrades,
			"win_rate", s.WinRate)
	}
	r.logger.Info("strategy catalog loaded", "total", len(r.set), "active", active)
	return nil
}

// Refresh recomputes one strategy's performance cache from its closed
// trades and reloads the in-memory rows. Called after every trade close so
// the sizer sees current win rates.
func (r *Registry) Refresh(ctx context.Context, id string) error {
	if err := r.store.RefreshStrategyStats(ctx, id); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reloadLocked(ctx)
}

func (r *Registry) reloadLocked(ctx context.Context) error {
	rows, err := r.store.Strategies(ctx)
	if err != nil {
		return fmt.Errorf("load strategies: %w", err)
	}
	set := make([]types.Strategy, 0, len(rows))
	for _, s := range rows {
		if r.catalog[s.ID] {
			set = append(set, s)
		}
	}
	r.set = set
	return nil
}

// All returns every catalog strategy in stable id order.
func (r *Registry) All() []types.Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Strategy, len(r.set))
	copy(out, r.set)
	return out
}

// Active returns the strategies that admit new entries, in stable id
// order. Testing and disabled strategies still evaluate exits for any
// position they already hold; the engine uses All for that.
func (r *Registry) Active() []types.Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Strategy, 0, len(r.set))
	for _, s := range r.set {
		if s.Status == types.StrategyActive {
			out = append(out, s)
		}
	}
	return out
}

// Get returns one strategy by id.
func (r *Registry) Get(id string) (types.Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.set {
		if s.ID == id {
			return s, true
		}
	}
	return types.Strategy{}, false
}
