// Package bankroll implements position sizing and profit protection.
//
// The Sizer turns a candidate entry into a dollar stake via fractional
// Kelly. The Bankroll tracks the active balance stakes draw on and a vault
// that winning pnl feeds; the sizer never sees vault money. All internal
// arithmetic runs on shopspring decimals so repeated small trades cannot
// drift the book.
package bankroll

import (
	"fmt"

	"github.com/shopspring/decimal"

	"polymarket-vol/internal/config"
	"polymarket-vol/pkg/types"
)

var (
	one = decimal.NewFromInt(1)

	// edgePrior is added to the break-even win rate when a strategy has no
	// usable history, leaving a small assumed edge.
	edgePrior = decimal.NewFromFloat(0.05)

	// maxWinRate caps the win-rate input; a prior can exceed certainty on
	// tiny-payout thresholds.
	maxWinRate = decimal.NewFromFloat(0.99)

	// confidence grade cut points on the raw Kelly fraction.
	confHigh   = decimal.NewFromFloat(0.20)
	confMedium = decimal.NewFromFloat(0.10)
)

// Sizer computes stake recommendations from bankroll and entry economics.
type Sizer struct {
	kellyFraction decimal.Decimal
	minBetPct     decimal.Decimal
	maxBetPct     decimal.Decimal
	fixedStake    decimal.Decimal // > 0 substitutes the computed amount
}

// NewSizer builds a sizer from config. The fixed test stake only applies in
// paper mode; live runs always size by Kelly.
func NewSizer(cfg config.BankrollConfig, live bool) *Sizer {
	fixed := decimal.Zero
	if !live && cfg.FixedStake > 0 {
		fixed = decimal.NewFromFloat(cfg.FixedStake)
	}
	return &Sizer{
		kellyFraction: decimal.NewFromFloat(cfg.KellyFraction),
		minBetPct:     decimal.NewFromFloat(cfg.MinBetPct),
		maxBetPct:     decimal.NewFromFloat(cfg.MaxBetPct),
		fixedStake:    fixed,
	}
}

// Recommend computes the stake for entering at entryPrice targeting
// exitPrice. winRate <= 0 means no usable history: the break-even rate plus
// a 5-point prior is assumed, which always leaves a small positive edge.
//
// Kelly on a binary market with full loss of stake on the losing side:
//
//	profitPerDollar = (exit - entry) / entry
//	kelly           = w - (1-w)/profitPerDollar
//
// The raw fraction is scaled by kellyFraction and clamped to
// [minBetPct, maxBetPct] of bankroll. An Amount of 0 means no bet.
func (s *Sizer) Recommend(bankroll, entryPrice, exitPrice, winRate float64) types.BetSize {
	if bankroll <= 0 {
		return types.BetSize{Confidence: "none", Rationale: "no bankroll"}
	}
	if entryPrice <= 0 {
		return types.BetSize{Confidence: "none", Rationale: "entry price not positive"}
	}

	p := decimal.NewFromFloat(entryPrice)
	q := decimal.NewFromFloat(exitPrice)
	profit := q.Sub(p).Div(p) // gain per dollar staked when the exit target is hit
	if !profit.IsPositive() {
		return types.BetSize{Confidence: "none", Rationale: "exit target not above entry"}
	}

	w := decimal.NewFromFloat(winRate)
	estimated := false
	if winRate <= 0 {
		w = one.Div(one.Add(profit)).Add(edgePrior) // break-even + prior
		estimated = true
	}
	if w.GreaterThan(maxWinRate) {
		w = maxWinRate
	}

	// Loss per dollar staked is 1, so the win/loss ratio is profit itself.
	kelly := w.Sub(one.Sub(w).Div(profit))
	kellyF, _ := kelly.Float64()
	if !kelly.IsPositive() {
		return types.BetSize{
			Kelly:      kellyF,
			Confidence: "none",
			Rationale:  fmt.Sprintf("negative expectancy at %s win rate", w.Round(2)),
		}
	}

	pct := kelly.Mul(s.kellyFraction)
	if pct.LessThan(s.minBetPct) {
		pct = s.minBetPct
	}
	if pct.GreaterThan(s.maxBetPct) {
		pct = s.maxBetPct
	}

	bank := decimal.NewFromFloat(bankroll)
	amount := bank.Mul(pct)
	rationale := fmt.Sprintf("kelly %s x %s -> %s of bankroll",
		kelly.Round(3), s.kellyFraction, pct.Round(3))
	if estimated {
		rationale += " (prior win rate)"
	}

	if s.fixedStake.IsPositive() {
		amount = decimal.Min(s.fixedStake, bank)
		pct = amount.Div(bank)
		rationale = "fixed test stake"
	}

	amount = amount.Truncate(2) // whole cents
	if !amount.IsPositive() {
		return types.BetSize{Kelly: kellyF, Confidence: "none", Rationale: "stake rounds to zero"}
	}

	amountF, _ := amount.Float64()
	pctF, _ := pct.Float64()
	return types.BetSize{
		Amount:     amountF,
		Pct:        pctF,
		Kelly:      kellyF,
		Confidence: confidence(kelly),
		Rationale:  rationale,
	}
}

// confidence grades the recommendation from the raw Kelly fraction.
func confidence(kelly decimal.Decimal) string {
	switch {
	case !kelly.IsPositive():
		return "none"
	case kelly.GreaterThanOrEqual(confHigh):
		return "high"
	case kelly.GreaterThanOrEqual(confMedium):
		return "medium"
	default:
		return "low"
	}
}
