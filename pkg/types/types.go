// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the daemon: markets and price
// observations, strategy parameters, trade records, sizing results, and the
// CLOB wire formats used by the live executor. It has no dependencies on
// internal packages, so it can be imported by any layer.
package types

import (
	"math/big"
	"time"
)

// ---------------------------------------------------------------------------
// Core enums
// ---------------------------------------------------------------------------

// Side is the outcome token a position holds: YES or NO.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Direction selects how a strategy interprets its thresholds.
//
// A normal strategy buys YES when the price dips into its entry band and
// sells at a higher exit threshold. A fade strategy watches for the YES price
// to spike into its entry band and buys NO, profiting when the spike reverts.
type Direction string

const (
	DirectionNormal Direction = "normal"
	DirectionFade   Direction = "fade"
)

// TradeStatus is the lifecycle phase of a trade row.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
)

// ExitReason records why a position was closed.
//
// The decision engine emits TAKE_PROFIT and RESOLUTION_EXIT. The resolution
// win/loss values exist for settlement reconciliation done outside the
// engine; MANUAL covers operator intervention.
type ExitReason string

const (
	ExitTakeProfit     ExitReason = "TAKE_PROFIT"
	ExitResolution     ExitReason = "RESOLUTION_EXIT"
	ExitResolutionWin  ExitReason = "RESOLUTION_WIN"
	ExitResolutionLoss ExitReason = "RESOLUTION_LOSS"
	ExitManual         ExitReason = "MANUAL"
)

// IsWin reports whether a close with this reason counts as a win.
// A resolution cutoff exit is not a win even when sold above entry.
func (r ExitReason) IsWin() bool {
	return r == ExitTakeProfit || r == ExitResolutionWin
}

// StrategyStatus is the persisted enablement state of a strategy.
// Only active strategies admit new entries; testing never auto-promotes.
type StrategyStatus string

const (
	StrategyTesting  StrategyStatus = "testing"
	StrategyActive   StrategyStatus = "active"
	StrategyDisabled StrategyStatus = "disabled"
)

// ---------------------------------------------------------------------------
// Markets and price observations
// ---------------------------------------------------------------------------

// Market is a tracked 15-minute binary market on one crypto asset.
// Created by discovery, price fields refreshed by the quote feed, removed
// once the resolution deadline passes.
type Market struct {
	ConditionID string // stable identity across the market's life
	MarketID    string // venue's market row ID (informational)
	Question    string // event title, e.g. "Bitcoin Up or Down - ..."
	Asset       string // BTC, ETH, SOL, XRP

	YesTokenID string // CLOB token ID for the YES/Up outcome
	NoTokenID  string // CLOB token ID for the NO/Down outcome

	ResolutionDeadline time.Time // when the market settles

	// Latest mid/last prices from the batched refresh.
	YesPrice float64
	NoPrice  float64

	// Latest top-of-book from the CLOB. Zero means never observed;
	// the feed keeps the previous values when a book fetch fails.
	YesBid float64
	YesAsk float64
	NoBid  float64
	NoAsk  float64

	Volume    float64
	Liquidity float64
}

// HasTokens reports whether both order-book token IDs are known.
// Markets without tokens cannot be quoted or traded and are rejected
// by discovery.
func (m *Market) HasTokens() bool {
	return m.YesTokenID != "" && m.NoTokenID != ""
}

// TimeRemaining returns the seconds until resolution at the given instant.
func (m *Market) TimeRemaining(now time.Time) float64 {
	return m.ResolutionDeadline.Sub(now).Seconds()
}

// PriceUpdate is one immutable observation of a market, emitted by the quote
// feed every poll tick and appended to the store as a time series.
type PriceUpdate struct {
	ConditionID string
	Asset       string

	YesPrice float64
	NoPrice  float64
	YesBid   float64
	YesAsk   float64
	NoBid    float64
	NoAsk    float64

	TimeRemaining float64 // seconds until resolution
	ObservedAt    time.Time
}

// Valid reports whether every price in the update is inside [0, 1].
// Zero is allowed: it means that side of the book was empty or unobserved.
func (u *PriceUpdate) Valid() bool {
	for _, p := range []float64{u.YesPrice, u.NoPrice, u.YesBid, u.YesAsk, u.NoBid, u.NoAsk} {
		if p < 0 || p > 1 {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Strategies
// ---------------------------------------------------------------------------

// Strategy is one parameterized trading policy. The id is stable and is the
// key for positions, cooldowns, and the one-shot-per-market rule.
type Strategy struct {
	ID             string
	Name           string
	Tier           int
	EntryThreshold float64
	ExitThreshold  float64
	Direction      Direction
	Status         StrategyStatus

	// Performance cache, recomputed from closed trades after every close.
	TotalTrades int
	Wins        int
	Losses      int
	WinRate     float64
	TotalPnL    float64
}

// EffectiveEntry is the price actually paid per share: the entry threshold
// for normal strategies, its complement for fades (which buy the NO token).
func (s *Strategy) EffectiveEntry() float64 {
	if s.Direction == DirectionFade {
		return 1 - s.EntryThreshold
	}
	return s.EntryThreshold
}

// EffectiveExit mirrors EffectiveEntry for the exit threshold.
func (s *Strategy) EffectiveExit() float64 {
	if s.Direction == DirectionFade {
		return 1 - s.ExitThreshold
	}
	return s.ExitThreshold
}

// ProfitIfWin is the fractional gain when the exit target is reached,
// e.g. 1.0 for an entry at 0.10 and exit at 0.20.
func (s *Strategy) ProfitIfWin() float64 {
	entry := s.EffectiveEntry()
	if entry <= 0 {
		return 0
	}
	return (s.EffectiveExit() - entry) / entry
}

// BreakEvenWinRate is the win rate at which the strategy neither gains nor
// loses, assuming a full loss of stake on losing trades.
func (s *Strategy) BreakEvenWinRate() float64 {
	profit := s.ProfitIfWin()
	if profit <= -1 {
		return 1
	}
	return 1 / (1 + profit)
}

// ExitTarget is the sell price that triggers a take-profit: the exit
// threshold for normal strategies, its complement for fades (a fade holds
// NO, so the YES exit threshold maps to 1-exit on the NO book).
func (s *Strategy) ExitTarget() float64 {
	if s.Direction == DirectionFade {
		return 1 - s.ExitThreshold
	}
	return s.ExitThreshold
}

// ---------------------------------------------------------------------------
// Trades
// ---------------------------------------------------------------------------

// Trade is a position in two phases: created open at entry, mutated to
// closed exactly once. ID is assigned by the store on insert.
type Trade struct {
	ID          int64
	StrategyID  string
	ConditionID string
	Asset       string
	Side        Side

	EntryPrice           float64
	EntryTime            time.Time
	Shares               float64 // stake / entryPrice
	TimeRemainingAtEntry float64
	HourOfDay            int
	DayOfWeek            int

	Status  TradeStatus
	IsPaper bool

	// Populated on close.
	ExitPrice           float64
	ExitTime            time.Time
	ExitReason          ExitReason
	TimeRemainingAtExit float64
	PnL                 float64
	PnLPct              float64
	IsWin               bool
}

// Key identifies the (strategy, market) slot this trade occupies.
func (t *Trade) Key() TradeKey {
	return TradeKey{StrategyID: t.StrategyID, ConditionID: t.ConditionID}
}

// Close marks the trade closed and computes P&L:
//
//	pnlPct = (exit - entry) / entry
//	pnl    = shares * entry * pnlPct
//
// isWin follows the exit reason, not the sign of pnl: a resolution exit
// sold above entry is still not a win.
func (t *Trade) Close(exitPrice float64, reason ExitReason, exitTime time.Time, timeRemaining float64) {
	t.ExitPrice = exitPrice
	t.ExitTime = exitTime
	t.ExitReason = reason
	t.TimeRemainingAtExit = timeRemaining
	t.Status = TradeClosed

	if t.EntryPrice > 0 {
		t.PnLPct = (exitPrice - t.EntryPrice) / t.EntryPrice
	}
	t.PnL = t.Shares * t.EntryPrice * t.PnLPct
	t.IsWin = reason.IsWin()
}

// TradeKey is the composite key for positions, cooldowns, and the
// one-shot-per-market rule.
type TradeKey struct {
	StrategyID  string
	ConditionID string
}

// Snapshot is a periodic equity record: where the money sits and how the
// book looks at one instant. Written every status interval.
type Snapshot struct {
	TakenAt       time.Time
	Bankroll      float64
	Vault         float64
	TotalEquity   float64
	OpenPositions int
	ClosedTrades  int
	TotalPnL      float64
}

// ---------------------------------------------------------------------------
// Sizing
// ---------------------------------------------------------------------------

// BetSize is the sizer's recommendation for one candidate entry.
// Amount of zero means the math does not support the bet.
type BetSize struct {
	Amount     float64 // dollars to stake
	Pct        float64 // fraction of bankroll
	Kelly      float64 // raw Kelly fraction before scaling and clamping
	Confidence string  // "none", "low", "medium", "high"
	Rationale  string
}

// ---------------------------------------------------------------------------
// Execution wire formats (CLOB REST + WebSocket)
// ---------------------------------------------------------------------------

// OrderSide is the direction of an order on the venue: BUY or SELL.
// Distinct from Side, which names the outcome token a position holds.
type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

// Uint8 returns the numeric side encoding used in the EIP-712 order struct.
func (s OrderSide) Uint8() uint8 {
	if s == OrderSell {
		return 1
	}
	return 0
}

// OrderType enumerates the supported order lifecycles.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Til-Cancelled
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
)

// SignatureType identifies the signing scheme for the CTF exchange contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0 // externally-owned account (standard wallet)
	SigProxy      SignatureType = 1 // Polymarket proxy / Magic wallet
	SigGnosisSafe SignatureType = 2 // Gnosis Safe multisig
)

// OrderRef is the opaque reference returned by an executor for a placed
// order. Paper refs are synthetic; live refs are venue order IDs.
type OrderRef string

// SignedOrder is the on-chain order format the CLOB API expects.
// MakerAmount and TakerAmount are in 6-decimal USDC units (1e6 = $1).
//
// For BUY:  maker gives MakerAmount USDC, receives TakerAmount tokens
// For SELL: maker gives MakerAmount tokens, receives TakerAmount USDC
type SignedOrder struct {
	Salt          string        `json:"salt"`
	Maker         string        `json:"maker"`       // funder/proxy wallet address
	Signer        string        `json:"signer"`      // EOA that signs the order
	Taker         string        `json:"taker"`       // zero address = open order
	TokenID       string        `json:"tokenId"`     // CTF token ID
	MakerAmount   *big.Int      `json:"makerAmount"` // what maker gives (scaled to 1e6)
	TakerAmount   *big.Int      `json:"takerAmount"` // what maker receives (scaled to 1e6)
	Side          OrderSide     `json:"side"`
	Expiration    string        `json:"expiration"`    // unix timestamp as string, "0" = none
	Nonce         string        `json:"nonce"`         // replay protection
	FeeRateBps    string        `json:"feeRateBps"`    // fee in basis points as string
	SignatureType SignatureType `json:"signatureType"` // 0 = EOA
	Signature     string        `json:"signature"`     // EIP-712 signature hex
}

// OrderPayload is the REST API request body for POST /order.
type OrderPayload struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`     // API key of the order owner
	OrderType OrderType   `json:"orderType"` // GTC
}

// OrderResponse is the REST API response to an order placement.
type OrderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"` // e.g. "live", "matched"
}

// OpenOrder represents a live resting order on the CLOB.
type OpenOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Market       string `json:"market"`        // condition ID
	AssetID      string `json:"asset_id"`      // token ID
	Side         string `json:"side"`          // "BUY" or "SELL"
	OriginalSize string `json:"original_size"` // initial size
	SizeMatched  string `json:"size_matched"`  // how much has filled
	Price        string `json:"price"`         // limit price
}

// PriceLevel is a single bid or ask level in the order book.
// Price and Size are strings because the CLOB API returns them as strings
// to preserve decimal precision.
type PriceLevel struct {
	Price string `json:"price"` // e.g. "0.55"
	Size  string `json:"size"`  // e.g. "100.5"
}

// BookResponse is the REST response from GET /book for a single token.
type BookResponse struct {
	Market    string       `json:"market"`
	AssetID   string       `json:"asset_id"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Hash      string       `json:"hash"`
	Timestamp string       `json:"timestamp"`
}

// WSTradeEvent is a fill notification from the user WS channel.
// Received when one of our orders gets matched against a taker.
type WSTradeEvent struct {
	EventType string `json:"event_type"` // always "trade"
	ID        string `json:"id"`         // trade ID
	Market    string `json:"market"`     // condition ID
	AssetID   string `json:"asset_id"`   // token ID that was traded
	Side      string `json:"side"`       // our side: "BUY" or "SELL"
	Size      string `json:"size"`       // filled quantity
	Price     string `json:"price"`      // fill price
	Outcome   string `json:"outcome"`    // "Yes" or "No"
	Timestamp string `json:"timestamp"`
}

// WSOrderEvent is an order lifecycle notification from the user WS channel.
type WSOrderEvent struct {
	EventType    string `json:"event_type"` // always "order"
	ID           string `json:"id"`         // order ID
	Market       string `json:"market"`     // condition ID
	AssetID      string `json:"asset_id"`   // token ID
	Side         string `json:"side"`       // "BUY" or "SELL"
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"` // cumulative filled
	Timestamp    string `json:"timestamp"`
	Type         string `json:"type"` // "PLACEMENT", "UPDATE", "CANCELLATION"
}

// WSSubscribeMsg is the initial subscription message sent when connecting
// to the user WebSocket channel.
type WSSubscribeMsg struct {
	Auth    *WSAuth  `json:"auth,omitempty"`
	Type    string   `json:"type"`              // "user"
	Markets []string `json:"markets,omitempty"` // condition IDs
}

// WSUpdateMsg adds or removes market subscriptions on an open user channel.
type WSUpdateMsg struct {
	Operation string   `json:"operation"` // "subscribe" or "unsubscribe"
	Markets   []string `json:"markets"`   // condition IDs
}

// WSAuth contains the L2 API credentials for authenticating the user channel.
type WSAuth struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}
