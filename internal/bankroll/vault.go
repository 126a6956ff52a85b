package bankroll

import (
	"sync"

	"github.com/shopspring/decimal"

	"polymarket-vol/internal/config"
)

// Bankroll tracks where the money sits: the active balance that stakes draw
// on, and a protected vault fed by winning trades. The vault only flows back
// when the active balance collapses below the emergency threshold.
//
// Safe for concurrent use; the decision loop writes, the status reporter reads.
type Bankroll struct {
	mu     sync.Mutex
	active decimal.Decimal
	vault  decimal.Decimal

	initial            decimal.Decimal
	depositRate        decimal.Decimal
	emergencyThreshold decimal.Decimal
	vaultEnabled       bool

	peakEquity decimal.Decimal
}

// New creates a bankroll holding the configured initial balance.
func New(cfg config.BankrollConfig) *Bankroll {
	initial := decimal.NewFromFloat(cfg.Initial)
	return &Bankroll{
		active:             initial,
		vault:              decimal.Zero,
		initial:            initial,
		depositRate:        decimal.NewFromFloat(cfg.Vault.DepositRate),
		emergencyThreshold: decimal.NewFromFloat(cfg.Vault.EmergencyThreshold),
		vaultEnabled:       cfg.Vault.Enabled,
		peakEquity:         initial,
	}
}

// Restore rebuilds balances from persisted history: the summed pnl of all
// closed trades, the winning share of it, and capital locked in open
// positions. Past emergency withdrawals are not replayed; if the rebuilt
// active balance is short, the next CheckEmergency moves the funds again.
func (b *Bankroll) Restore(closedPnL, winningPnL, openStake float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	vault := decimal.Zero
	if b.vaultEnabled && winningPnL > 0 {
		vault = decimal.NewFromFloat(winningPnL).Mul(b.depositRate)
	}
	b.vault = vault
	b.active = b.initial.
		Add(decimal.NewFromFloat(closedPnL)).
		Sub(vault).
		Sub(decimal.NewFromFloat(openStake))

	b.peakEquity = decimal.Max(b.initial, b.active.Add(b.vault))
}

// Reserve removes a stake from the active balance at entry.
func (b *Bankroll) Reserve(stake float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = b.active.Sub(decimal.NewFromFloat(stake))
}

// Release returns a stake to the active balance when an admitted entry
// fails downstream (executor rejection) and no position was opened.
func (b *Bankroll) Release(stake float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = b.active.Add(decimal.NewFromFloat(stake))
}

// Settle credits exit proceeds to the active balance and, on a winning
// close, diverts the deposit share of the pnl to the vault. Returns the
// vault deposit made (zero when disabled or not a win).
func (b *Bankroll) Settle(proceeds, pnl float64, isWin bool) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.active = b.active.Add(decimal.NewFromFloat(proceeds))

	deposit := decimal.Zero
	if b.vaultEnabled && isWin && pnl > 0 {
		deposit = decimal.NewFromFloat(pnl).Mul(b.depositRate)
		b.active = b.active.Sub(deposit)
		b.vault = b.vault.Add(deposit)
	}

	if equity := b.active.Add(b.vault); equity.GreaterThan(b.peakEquity) {
		b.peakEquity = equity
	}

	f, _ := deposit.Float64()
	return f
}

// CheckEmergency refills the active balance from the vault when it falls
// below the emergency fraction of total equity. Returns the amount moved.
func (b *Bankroll) CheckEmergency() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.vaultEnabled || !b.vault.IsPositive() {
		return 0
	}
	equity := b.active.Add(b.vault)
	if !equity.IsPositive() {
		return 0
	}

	floor := equity.Mul(b.emergencyThreshold)
	if b.active.GreaterThanOrEqual(floor) {
		return 0
	}

	move := decimal.Min(floor.Sub(b.active), b.vault)
	b.vault = b.vault.Sub(move)
	b.active = b.active.Add(move)

	f, _ := move.Float64()
	return f
}

// Active returns the balance available for new stakes.
func (b *Bankroll) Active() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, _ := b.active.Float64()
	return f
}

// Vault returns the protected balance.
func (b *Bankroll) Vault() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, _ := b.vault.Float64()
	return f
}

// TotalEquity returns active + vault.
func (b *Bankroll) TotalEquity() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, _ := b.active.Add(b.vault).Float64()
	return f
}

// PeakEquity returns the highest equity observed since start.
func (b *Bankroll) PeakEquity() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, _ := b.peakEquity.Float64()
	return f
}

// Drawdown returns the fractional distance from peak equity, 0 when at peak.
func (b *Bankroll) Drawdown() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.peakEquity.IsPositive() {
		return 0
	}
	dd := b.peakEquity.Sub(b.active.Add(b.vault)).Div(b.peakEquity)
	if dd.IsNegative() {
		return 0
	}
	f, _ := dd.Float64()
	return f
}
