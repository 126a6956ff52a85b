package bankroll

import (
	"math"
	"testing"

	"polymarket-vol/internal/config"
)

func testBankrollConfig() config.BankrollConfig {
	return config.BankrollConfig{
		Initial:       1000,
		KellyFraction: 0.5,
		MinBetPct:     0.03,
		MaxBetPct:     0.15,
		Vault: config.VaultConfig{
			Enabled:            true,
			DepositRate:        0.2,
			EmergencyThreshold: 0.3,
		},
	}
}

func TestRecommendPriorWhenNoHistory(t *testing.T) {
	t.Parallel()

	s := NewSizer(testBankrollConfig(), true)

	// Entry 0.10 targeting 0.20 doubles the stake on a win. Break-even is
	// 50%, so the prior assumes 55% and full Kelly lands on 10%.
	got := s.Recommend(1000, 0.10, 0.20, 0)

	if math.Abs(got.Kelly-0.10) > 1e-9 {
		t.Errorf("Kelly = %v, want 0.10", got.Kelly)
	}
	if math.Abs(got.Pct-0.05) > 1e-9 {
		t.Errorf("Pct = %v, want 0.05", got.Pct)
	}
	if math.Abs(got.Amount-50) > 1e-9 {
		t.Errorf("Amount = %v, want 50", got.Amount)
	}
	if got.Confidence != "medium" {
		t.Errorf("Confidence = %q, want medium", got.Confidence)
	}
}

func TestRecommendRealWinRateClampsToMax(t *testing.T) {
	t.Parallel()

	s := NewSizer(testBankrollConfig(), true)

	// 70% observed win rate on a 2x payout: kelly = 0.70 - 0.30 = 0.40,
	// halved to 0.20, clamped to the 15% ceiling.
	got := s.Recommend(1000, 0.10, 0.20, 0.70)

	if math.Abs(got.Kelly-0.40) > 1e-9 {
		t.Errorf("Kelly = %v, want 0.40", got.Kelly)
	}
	if math.Abs(got.Pct-0.15) > 1e-9 {
		t.Errorf("Pct = %v, want 0.15", got.Pct)
	}
	if math.Abs(got.Amount-150) > 1e-9 {
		t.Errorf("Amount = %v, want 150", got.Amount)
	}
	if got.Confidence != "high" {
		t.Errorf("Confidence = %q, want high", got.Confidence)
	}
}

func TestRecommendClampsToMin(t *testing.T) {
	t.Parallel()

	s := NewSizer(testBankrollConfig(), true)

	// Thin edge: kelly = 0.912 - 0.088/0.1 = 0.032, halved to 1.6%,
	// lifted to the 3% floor.
	got := s.Recommend(1000, 0.50, 0.55, 0.912)

	if math.Abs(got.Kelly-0.032) > 1e-9 {
		t.Errorf("Kelly = %v, want 0.032", got.Kelly)
	}
	if math.Abs(got.Pct-0.03) > 1e-9 {
		t.Errorf("Pct = %v, want 0.03", got.Pct)
	}
	if math.Abs(got.Amount-30) > 1e-9 {
		t.Errorf("Amount = %v, want 30", got.Amount)
	}
	if got.Confidence != "low" {
		t.Errorf("Confidence = %q, want low for a thin edge", got.Confidence)
	}
}

func TestRecommendNegativeExpectancy(t *testing.T) {
	t.Parallel()

	s := NewSizer(testBankrollConfig(), true)

	// 50% win rate on a 12.5% payout is a badly losing proposition.
	got := s.Recommend(1000, 0.80, 0.90, 0.50)

	if got.Amount != 0 {
		t.Errorf("Amount = %v, want 0", got.Amount)
	}
	if got.Kelly >= 0 {
		t.Errorf("Kelly = %v, want negative", got.Kelly)
	}
	if got.Confidence != "none" {
		t.Errorf("Confidence = %q, want none", got.Confidence)
	}
}

func TestRecommendPriorCappedNearCertainty(t *testing.T) {
	t.Parallel()

	s := NewSizer(testBankrollConfig(), true)

	// On a ~1% payout the break-even + prior exceeds certainty; the 99%
	// cap keeps the edge microscopic and the floor sets the stake.
	got := s.Recommend(1000, 0.98, 0.99, 0)

	if math.Abs(got.Amount-30) > 1e-9 {
		t.Errorf("Amount = %v, want 30 (floor)", got.Amount)
	}
	if got.Kelly > 0.02 {
		t.Errorf("Kelly = %v, want tiny after the win-rate cap", got.Kelly)
	}
	if got.Confidence != "low" {
		t.Errorf("Confidence = %q, want low", got.Confidence)
	}
}

func TestRecommendGuards(t *testing.T) {
	t.Parallel()

	s := NewSizer(testBankrollConfig(), true)

	cases := []struct {
		name                      string
		bankroll, entry, exit, wr float64
	}{
		{"zero bankroll", 0, 0.10, 0.20, 0},
		{"negative bankroll", -5, 0.10, 0.20, 0},
		{"zero entry", 1000, 0, 0.20, 0},
		{"exit below entry", 1000, 0.20, 0.10, 0.9},
		{"exit equals entry", 1000, 0.20, 0.20, 0.9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := s.Recommend(tc.bankroll, tc.entry, tc.exit, tc.wr)
			if got.Amount != 0 {
				t.Errorf("Amount = %v, want 0", got.Amount)
			}
			if got.Confidence != "none" {
				t.Errorf("Confidence = %q, want none", got.Confidence)
			}
		})
	}
}

func TestRecommendStakeRoundsToZero(t *testing.T) {
	t.Parallel()

	s := NewSizer(testBankrollConfig(), true)

	// A dime of bankroll at 5% is half a cent; truncation kills the bet.
	got := s.Recommend(0.10, 0.10, 0.20, 0)

	if got.Amount != 0 {
		t.Errorf("Amount = %v, want 0", got.Amount)
	}
	if got.Confidence != "none" {
		t.Errorf("Confidence = %q, want none", got.Confidence)
	}
}

func TestRecommendFixedStakePaperOnly(t *testing.T) {
	t.Parallel()

	cfg := testBankrollConfig()
	cfg.FixedStake = 1.0

	paper := NewSizer(cfg, false)
	got := paper.Recommend(1000, 0.10, 0.20, 0)
	if math.Abs(got.Amount-1.0) > 1e-9 {
		t.Errorf("paper Amount = %v, want 1.0 fixed stake", got.Amount)
	}
	if got.Rationale != "fixed test stake" {
		t.Errorf("paper Rationale = %q", got.Rationale)
	}

	live := NewSizer(cfg, true)
	got = live.Recommend(1000, 0.10, 0.20, 0)
	if math.Abs(got.Amount-50) > 1e-9 {
		t.Errorf("live Amount = %v, want 50 (fixed stake ignored)", got.Amount)
	}
}

func TestRecommendFixedStakeCappedByBankroll(t *testing.T) {
	t.Parallel()

	cfg := testBankrollConfig()
	cfg.FixedStake = 1.0

	s := NewSizer(cfg, false)
	got := s.Recommend(0.50, 0.10, 0.20, 0)

	if math.Abs(got.Amount-0.50) > 1e-9 {
		t.Errorf("Amount = %v, want 0.50 (whole bankroll)", got.Amount)
	}
	if math.Abs(got.Pct-1.0) > 1e-9 {
		t.Errorf("Pct = %v, want 1.0", got.Pct)
	}
}
