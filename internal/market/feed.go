package market

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"polymarket-vol/internal/clock"
	"polymarket-vol/internal/config"
	"polymarket-vol/internal/store"
	"polymarket-vol/pkg/types"
)

// QuoteFeed polls every tracked market each tick and emits one PriceUpdate
// per market on Updates(). A tick does three things:
//
//  1. Refreshes display mids for all markets with one batched markets call.
//  2. Fetches the YES and NO books per market and overrides the display
//     prices with executable top-of-book quotes. A failed book fetch keeps
//     the previous values rather than emitting zeros.
//  3. Drops markets past their resolution deadline and rediscovers when the
//     tracked set runs thin.
//
// Every emitted update is also appended to the prices table for offline
// analysis.
type QuoteFeed struct {
	cfg       config.CollectionConfig
	discovery *Discovery
	quotes    *Quotes
	store     *store.Store
	clk       clock.Clock
	logger    *slog.Logger

	mu      sync.RWMutex
	tracked map[string]*types.Market

	updates chan types.PriceUpdate
}

// NewQuoteFeed wires the feed from its collaborators.
func NewQuoteFeed(cfg *config.Config, d *Discovery, q *Quotes, st *store.Store, clk clock.Clock, logger *slog.Logger) *QuoteFeed {
	return &QuoteFeed{
		cfg:       cfg.Collection,
		discovery: d,
		quotes:    q,
		store:     st,
		clk:       clk,
		logger:    logger.With("component", "feed"),
		tracked:   make(map[string]*types.Market),
		updates:   make(chan types.PriceUpdate, 256),
	}
}

// Updates returns the channel the decision engine consumes.
func (f *QuoteFeed) Updates() <-chan types.PriceUpdate {
	return f.updates
}

// Track adds a market to the tracked set. Known markets keep their current
// price state; discovery re-lists markets it already reported.
func (f *QuoteFeed) Track(m types.Market) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.tracked[m.ConditionID]; ok {
		return
	}
	tracked := m
	f.tracked[m.ConditionID] = &tracked
	f.logger.Info("tracking market",
		"condition_id", m.ConditionID,
		"asset", m.Asset,
		"question", m.Question,
		"deadline", m.ResolutionDeadline)
}

// TrackedCount returns the number of markets currently polled.
func (f *QuoteFeed) TrackedCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.tracked)
}

// Market returns a copy of a tracked market, for resolving token ids and
// deadlines when acting on a PriceUpdate.
func (f *QuoteFeed) Market(conditionID string) (types.Market, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	m, ok := f.tracked[conditionID]
	if !ok {
		return types.Market{}, false
	}
	return *m, true
}

// Run polls until ctx is cancelled. Blocks.
func (f *QuoteFeed) Run(ctx context.Context) {
	f.discover(ctx)

	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.collect(ctx)
		}
	}
}

// collect performs one feed tick.
func (f *QuoteFeed) collect(ctx context.Context) {
	if f.TrackedCount() == 0 {
		f.discover(ctx)
		return
	}

	// One batched call refreshes mids, volume, and liquidity for everything.
	// On failure the previous values ride along for this tick.
	freshByID := make(map[string]types.Market)
	if fresh, err := f.discovery.Discover(ctx); err != nil {
		f.logger.Warn("batched price refresh failed", "error", err)
	} else {
		for _, m := range fresh {
			freshByID[m.ConditionID] = m
		}
	}

	now := f.clk.Now()
	batch := make([]types.PriceUpdate, 0, f.TrackedCount())
	var expired []string

	for _, id := range f.trackedIDs() {
		f.mu.RLock()
		tracked, ok := f.tracked[id]
		if !ok {
			f.mu.RUnlock()
			continue
		}
		// Work on a copy so the engine can read the tracked entry while
		// this tick is off fetching books.
		m := *tracked
		f.mu.RUnlock()

		if !m.ResolutionDeadline.After(now) {
			expired = append(expired, id)
			continue
		}

		if fresh, ok := freshByID[id]; ok {
			m.YesPrice = fresh.YesPrice
			m.NoPrice = fresh.NoPrice
			m.Volume = fresh.Volume
			m.Liquidity = fresh.Liquidity
		}

		f.refreshBooks(ctx, &m)

		f.mu.Lock()
		if cur, ok := f.tracked[id]; ok {
			*cur = m
		}
		f.mu.Unlock()

		u := types.PriceUpdate{
			ConditionID:   m.ConditionID,
			Asset:         m.Asset,
			YesPrice:      m.YesPrice,
			NoPrice:       m.NoPrice,
			YesBid:        m.YesBid,
			YesAsk:        m.YesAsk,
			NoBid:         m.NoBid,
			NoAsk:         m.NoAsk,
			TimeRemaining: m.TimeRemaining(now),
			ObservedAt:    now,
		}
		if !u.Valid() {
			f.logger.Warn("invalid quote dropped",
				"condition_id", m.ConditionID, "yes_price", u.YesPrice, "no_price", u.NoPrice)
			continue
		}
		batch = append(batch, u)
	}

	for _, id := range expired {
		f.mu.Lock()
		delete(f.tracked, id)
		f.mu.Unlock()
		f.logger.Info("market expired", "condition_id", id)
	}

	for _, u := range batch {
		f.emit(u)
	}
	if len(batch) > 0 {
		if err := f.store.InsertPrices(ctx, batch); err != nil {
			// Price history is analysis data; losing a tick of it must not
			// stop the trading path. Trade writes surface store failures.
			f.logger.Error("persist price batch failed", "error", err)
		}
	}

	if f.TrackedCount() < f.cfg.MinMarkets {
		f.discover(ctx)
	}
}

// refreshBooks overrides the market's executable quotes from the CLOB books.
// Each side that fetches successfully replaces bid/ask and, when the book is
// two-sided, the display price.
func (f *QuoteFeed) refreshBooks(ctx context.Context, m *types.Market) {
	if !m.HasTokens() {
		return
	}

	if yes, err := f.quotes.TopOfBook(ctx, m.YesTokenID); err != nil {
		f.logger.Warn("yes book fetch failed", "condition_id", m.ConditionID, "error", err)
	} else {
		m.YesBid, m.YesAsk = yes.Bid, yes.Ask
		if yes.Mid > 0 {
			m.YesPrice = yes.Mid
		}
	}

	if no, err := f.quotes.TopOfBook(ctx, m.NoTokenID); err != nil {
		f.logger.Warn("no book fetch failed", "condition_id", m.ConditionID, "error", err)
	} else {
		m.NoBid, m.NoAsk = no.Bid, no.Ask
		if no.Mid > 0 {
			m.NoPrice = no.Mid
		}
	}
}

// discover pulls the current market set and starts tracking unknown entries.
func (f *QuoteFeed) discover(ctx context.Context) {
	markets, err := f.discovery.Discover(ctx)
	if err != nil {
		f.logger.Error("discovery failed", "error", err)
		return
	}
	for _, m := range markets {
		f.Track(m)
	}
}

// trackedIDs snapshots the tracked keys in stable order, so a tick walks
// markets deterministically.
func (f *QuoteFeed) trackedIDs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ids := make([]string, 0, len(f.tracked))
	for id := range f.tracked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// emit hands an update to the engine without ever blocking the poll loop.
// When the consumer lags, the oldest queued update gives way.
func (f *QuoteFeed) emit(u types.PriceUpdate) {
	select {
	case f.updates <- u:
	default:
		select {
		case stale := <-f.updates:
			f.logger.Warn("update channel full, dropping oldest",
				"dropped_condition_id", stale.ConditionID)
		default:
		}
		f.updates <- u
	}
}
