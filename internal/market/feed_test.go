package market

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
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

// fakeVenue serves the markets endpoint and the CLOB book endpoint from one
// mutable fixture.
type fakeVenue struct {
	mu        sync.Mutex
	events    []CryptoEvent
	books     map[string]types.BookResponse
	failBooks bool
}

func (v *fakeVenue) setEvents(events ...CryptoEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.events = events
}

func (v *fakeVenue) setFailBooks(fail bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failBooks = fail
}

func (v *fakeVenue) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v.mu.Lock()
		defer v.mu.Unlock()
		switch r.URL.Path {
		case "/markets":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(cryptoMarketsResponse{Events: v.events})
		case "/book":
			if v.failBooks {
				http.Error(w, "book service down", http.StatusServiceUnavailable)
				return
			}
			book, ok := v.books[r.URL.Query().Get("token_id")]
			if !ok {
				http.Error(w, "unknown token", http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(book)
		default:
			http.NotFound(w, r)
		}
	})
}

var feedBase = time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)

// btcEvent builds one discoverable BTC market resolving at the given time.
func btcEvent(conditionID string, deadline time.Time) CryptoEvent {
	return CryptoEvent{
		Title:     "Bitcoin Up or Down - 2:10 PM ET",
		EndDate:   deadline.Format(time.RFC3339),
		Volume:    1500,
		Liquidity: 800,
		Markets: []CryptoMarket{{
			ID:            "m-" + conditionID,
			ConditionID:   conditionID,
			OutcomePrices: json.RawMessage(`["0.10","0.90"]`),
			ClobTokenIds:  json.RawMessage(`["tok-yes","tok-no"]`),
		}},
	}
}

func newTestFeed(t *testing.T, venue *fakeVenue) (*QuoteFeed, *manualClock, *store.Store) {
	t.Helper()

	srv := httptest.NewServer(venue.handler())
	t.Cleanup(srv.Close)

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{}
	cfg.API.MarketsURL = srv.URL + "/markets"
	cfg.API.CLOBBaseURL = srv.URL
	cfg.Collection = config.CollectionConfig{
		PollInterval:   time.Second,
		Assets:         []string{"BTC"},
		DiscoveryLimit: 20,
		MinMarkets:     1,
	}

	clk := &manualClock{now: feedBase}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := NewDiscovery(cfg, clk, logger)
	q := NewQuotes(cfg, logger)
	return NewQuoteFeed(cfg, d, q, st, clk, logger), clk, st
}

func recvUpdate(t *testing.T, f *QuoteFeed) types.PriceUpdate {
	t.Helper()
	select {
	case u := <-f.Updates():
		return u
	default:
		t.Fatal("no update emitted")
		return types.PriceUpdate{}
	}
}

func TestFeedCollectEmitsBookQuotes(t *testing.T) {
	t.Parallel()
	venue := &fakeVenue{
		books: map[string]types.BookResponse{
			"tok-yes": {Bids: []types.PriceLevel{{Price: "0.08", Size: "50"}}, Asks: []types.PriceLevel{{Price: "0.09", Size: "50"}}},
			"tok-no":  {Bids: []types.PriceLevel{{Price: "0.91", Size: "50"}}, Asks: []types.PriceLevel{{Price: "0.92", Size: "50"}}},
		},
	}
	venue.setEvents(btcEvent("cond-1", feedBase.Add(10*time.Minute)))
	f, clk, st := newTestFeed(t, venue)
	ctx := context.Background()

	f.discover(ctx)
	if f.TrackedCount() != 1 {
		t.Fatalf("TrackedCount = %d, want 1", f.TrackedCount())
	}

	f.collect(ctx)
	u := recvUpdate(t, f)

	if u.ConditionID != "cond-1" || u.Asset != "BTC" {
		t.Errorf("update identity = %s/%s, want cond-1/BTC", u.ConditionID, u.Asset)
	}
	if u.YesBid != 0.08 || u.YesAsk != 0.09 {
		t.Errorf("yes book = %v/%v, want 0.08/0.09", u.YesBid, u.YesAsk)
	}
	if u.NoBid != 0.91 || u.NoAsk != 0.92 {
		t.Errorf("no book = %v/%v, want 0.91/0.92", u.NoBid, u.NoAsk)
	}
	if math.Abs(u.YesPrice-0.085) > 1e-9 {
		t.Errorf("YesPrice = %v, want book mid 0.085", u.YesPrice)
	}
	if math.Abs(u.NoPrice-0.915) > 1e-9 {
		t.Errorf("NoPrice = %v, want book mid 0.915", u.NoPrice)
	}
	if u.TimeRemaining != 600 {
		t.Errorf("TimeRemaining = %v, want 600", u.TimeRemaining)
	}
	if !u.ObservedAt.Equal(clk.Now()) {
		t.Errorf("ObservedAt = %v, want %v", u.ObservedAt, clk.Now())
	}

	n, err := st.PriceCount(ctx, "cond-1")
	if err != nil {
		t.Fatalf("PriceCount: %v", err)
	}
	if n != 1 {
		t.Errorf("persisted prices = %d, want 1", n)
	}
}

func TestFeedKeepsQuotesWhenBookFails(t *testing.T) {
	t.Parallel()
	venue := &fakeVenue{
		books: map[string]types.BookResponse{
			"tok-yes": {Bids: []types.PriceLevel{{Price: "0.08", Size: "50"}}, Asks: []types.PriceLevel{{Price: "0.09", Size: "50"}}},
			"tok-no":  {Bids: []types.PriceLevel{{Price: "0.91", Size: "50"}}, Asks: []types.PriceLevel{{Price: "0.92", Size: "50"}}},
		},
	}
	venue.setEvents(btcEvent("cond-1", feedBase.Add(10*time.Minute)))
	f, _, _ := newTestFeed(t, venue)
	ctx := context.Background()

	f.discover(ctx)
	f.collect(ctx)
	recvUpdate(t, f)

	venue.setFailBooks(true)
	f.collect(ctx)
	u := recvUpdate(t, f)

	// Executable quotes survive the outage; display prices fall back to the
	// batched refresh.
	if u.YesBid != 0.08 || u.YesAsk != 0.09 {
		t.Errorf("yes book = %v/%v, want retained 0.08/0.09", u.YesBid, u.YesAsk)
	}
	if u.NoBid != 0.91 || u.NoAsk != 0.92 {
		t.Errorf("no book = %v/%v, want retained 0.91/0.92", u.NoBid, u.NoAsk)
	}
	if u.YesPrice != 0.10 {
		t.Errorf("YesPrice = %v, want listed 0.10", u.YesPrice)
	}
	if u.NoPrice != 0.90 {
		t.Errorf("NoPrice = %v, want listed 0.90", u.NoPrice)
	}
}

func TestFeedDropsExpiredMarkets(t *testing.T) {
	t.Parallel()
	venue := &fakeVenue{
		books: map[string]types.BookResponse{
			"tok-yes": {Bids: []types.PriceLevel{{Price: "0.08", Size: "50"}}, Asks: []types.PriceLevel{{Price: "0.09", Size: "50"}}},
			"tok-no":  {Bids: []types.PriceLevel{{Price: "0.91", Size: "50"}}, Asks: []types.PriceLevel{{Price: "0.92", Size: "50"}}},
		},
	}
	venue.setEvents(btcEvent("cond-1", feedBase.Add(10*time.Minute)))
	f, clk, _ := newTestFeed(t, venue)
	ctx := context.Background()

	f.discover(ctx)
	f.collect(ctx)
	recvUpdate(t, f)

	// Past the deadline the market stops emitting and discovery refuses to
	// re-list it.
	clk.Advance(11 * time.Minute)
	f.collect(ctx)

	select {
	case u := <-f.Updates():
		t.Fatalf("expired market emitted update %+v", u)
	default:
	}
	if f.TrackedCount() != 0 {
		t.Errorf("TrackedCount = %d, want 0 after expiry", f.TrackedCount())
	}
}

func TestFeedRediscoversWhenThin(t *testing.T) {
	t.Parallel()
	venue := &fakeVenue{
		books: map[string]types.BookResponse{
			"tok-yes": {Bids: []types.PriceLevel{{Price: "0.08", Size: "50"}}, Asks: []types.PriceLevel{{Price: "0.09", Size: "50"}}},
			"tok-no":  {Bids: []types.PriceLevel{{Price: "0.91", Size: "50"}}, Asks: []types.PriceLevel{{Price: "0.92", Size: "50"}}},
		},
	}
	f, _, _ := newTestFeed(t, venue)
	ctx := context.Background()

	f.discover(ctx)
	if f.TrackedCount() != 0 {
		t.Fatalf("TrackedCount = %d, want 0 with nothing listed", f.TrackedCount())
	}

	// A new market appears; the thin-set collect picks it up.
	venue.setEvents(btcEvent("cond-2", feedBase.Add(10*time.Minute)))
	f.collect(ctx)
	if f.TrackedCount() != 1 {
		t.Fatalf("TrackedCount = %d, want 1 after rediscovery", f.TrackedCount())
	}

	f.collect(ctx)
	u := recvUpdate(t, f)
	if u.ConditionID != "cond-2" {
		t.Errorf("ConditionID = %s, want cond-2", u.ConditionID)
	}
}
