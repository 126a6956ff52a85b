// Package strategy implements threshold entry/exit rules for 15-minute
// binary markets and the registry that manages the strategy catalog.
//
// Each strategy is a price band plus a direction. A normal strategy buys
// the YES token when its ask dips into (entry-0.05, entry] and takes profit
// at the exit threshold. A fade strategy watches for the YES bid to spike
// into [entry, entry+width) and buys the NO token, profiting when the spike
// reverts. Every position is force-closed shortly before resolution so the
// book never rides a market into its 0/1 settlement.
//
// The evaluation functions here are pure: they look at one strategy, one
// price observation, and (for exits) one open trade, and return a decision.
// Gating (open slots, cooldowns, spend budget) lives in the position
// manager; execution lives in the engine.
package strategy

import (
	"polymarket-vol/pkg/types"
)

const (
	// entryBandWidth is how far below its threshold a normal strategy
	// still considers the price a valid entry.
	entryBandWidth = 0.05

	// fadeBandWidth is the width of a fade trigger window. Near-certain
	// favorites (threshold >= 0.90) get a wider window because spikes
	// there overshoot further before reverting.
	fadeBandWidth     = 0.05
	fadeBandWidthHigh = 0.10

	// minEntrySeconds rejects entries into markets about to be
	// force-closed by the resolution exit rule.
	minEntrySeconds = 180
)

// ExitDecision is an instruction to close an open trade.
type ExitDecision struct {
	Reason    types.ExitReason
	SellPrice float64 // executable sell-side price at decision time
}

// EntryDecision is an instruction to open a position.
type EntryDecision struct {
	Side         types.Side
	TriggerPrice float64 // price that fired the band check
	BuyPrice     float64 // executable ask-side price to pay
	ExitTarget   float64 // take-profit price on the held token's book
}

// EvaluateExit decides whether an open trade should close on this update.
// Rules, first match wins:
//
//  1. Take profit when the sell-side price reached the strategy's exit
//     target and the sale beats the entry.
//  2. Resolution exit when fewer than resolutionCutoff seconds remain.
//
// The sell price is the bid for the held token, falling back to the last
// mid when the book side is empty; that models what a market sell would
// actually fetch. On a resolution exit with no bid at all the decision
// records a zero sell price: the position was about to settle worthless
// anyway.
func EvaluateExit(s *types.Strategy, t *types.Trade, u *types.PriceUpdate, resolutionCutoff float64) (ExitDecision, bool) {
	var current float64
	if t.Side == types.SideYes {
		current = priceOr(u.YesBid, u.YesPrice)
	} else {
		current = priceOr(u.NoBid, u.NoPrice)
	}

	if current >= s.ExitTarget() && current > t.EntryPrice {
		return ExitDecision{Reason: types.ExitTakeProfit, SellPrice: current}, true
	}
	if u.TimeRemaining < resolutionCutoff {
		return ExitDecision{Reason: types.ExitResolution, SellPrice: current}, true
	}
	return ExitDecision{}, false
}

// EvaluateEntry decides whether a strategy should open a position on this
// update. It checks only price and time; the caller gates on open slots,
// cooldowns, the one-shot rule, and the spend budget.
func EvaluateEntry(s *types.Strategy, u *types.PriceUpdate) (EntryDecision, bool) {
	if u.TimeRemaining < minEntrySeconds {
		return EntryDecision{}, false
	}

	switch s.Direction {
	case types.DirectionFade:
		return evaluateFadeEntry(s, u)
	default:
		return evaluateNormalEntry(s, u)
	}
}

// evaluateNormalEntry buys YES when the ask is at or just under the entry
// threshold. The band is half-open, (entry-width, entry]: a price at the
// threshold is the intended entry, a price a full band below it signals a
// market that has already run away.
func evaluateNormalEntry(s *types.Strategy, u *types.PriceUpdate) (EntryDecision, bool) {
	buy := priceOr(u.YesAsk, u.YesPrice)
	if buy <= s.EntryThreshold-entryBandWidth || buy > s.EntryThreshold {
		return EntryDecision{}, false
	}
	return EntryDecision{
		Side:         types.SideYes,
		TriggerPrice: buy,
		BuyPrice:     buy,
		ExitTarget:   s.ExitTarget(),
	}, true
}

// evaluateFadeEntry watches the YES bid for a spike into [entry, entry+width)
// and buys the NO token against it. The trigger reads the bid (what the
// crowd would get selling into the spike) while the fill pays the NO ask.
func evaluateFadeEntry(s *types.Strategy, u *types.PriceUpdate) (EntryDecision, bool) {
	width := fadeBandWidth
	if s.EntryThreshold >= 0.90 {
		width = fadeBandWidthHigh
	}

	trigger := priceOr(u.YesBid, u.YesPrice)
	if trigger < s.EntryThreshold || trigger >= s.EntryThreshold+width {
		return EntryDecision{}, false
	}

	buy := priceOr(u.NoAsk, u.NoPrice)
	if buy <= 0 {
		return EntryDecision{}, false
	}
	return EntryDecision{
		Side:         types.SideNo,
		TriggerPrice: trigger,
		BuyPrice:     buy,
		ExitTarget:   s.ExitTarget(),
	}, true
}

// priceOr prefers a live book quote over the last known mid.
func priceOr(quote, last float64) float64 {
	if quote > 0 {
		return quote
	}
	return last
}
