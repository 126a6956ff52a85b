package exchange

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"polymarket-vol/pkg/types"
)

// OrderExecutor is the execution seam between the decision engine and the
// venue. The engine calls Buy on entry and Sell on exit and treats a nil
// error as a fill at the requested price.
//
// Paper simulates fills in-process; Live signs and posts real CLOB orders.
type OrderExecutor interface {
	// Buy acquires shares of an outcome token at the given limit price.
	Buy(ctx context.Context, tokenID string, price, shares float64) (types.OrderRef, error)

	// Sell disposes of shares of an outcome token at the given limit price.
	Sell(ctx context.Context, tokenID string, price, shares float64) (types.OrderRef, error)

	// Cancel removes a resting order from the venue.
	Cancel(ctx context.Context, ref types.OrderRef) error

	// OpenOrders lists orders still resting on the venue.
	OpenOrders(ctx context.Context) ([]types.OpenOrder, error)
}

// Fill is one simulated execution recorded by the paper executor.
type Fill struct {
	Side    types.OrderSide
	TokenID string
	Price   float64
	Shares  float64
}

// Paper is the simulated executor. Every order fills immediately at the
// requested price; nothing leaves the process. Fills are retained so tests
// and the status log can inspect what "executed".
type Paper struct {
	logger *slog.Logger

	mu    sync.Mutex
	fills []Fill
}

// NewPaper creates a paper executor.
func NewPaper(logger *slog.Logger) *Paper {
	return &Paper{logger: logger.With("component", "executor", "mode", "paper")}
}

func (p *Paper) Buy(ctx context.Context, tokenID string, price, shares float64) (types.OrderRef, error) {
	return p.fill(types.OrderBuy, tokenID, price, shares)
}

func (p *Paper) Sell(ctx context.Context, tokenID string, price, shares float64) (types.OrderRef, error) {
	return p.fill(types.OrderSell, tokenID, price, shares)
}

// Cancel is a no-op: paper orders never rest.
func (p *Paper) Cancel(ctx context.Context, ref types.OrderRef) error {
	return nil
}

// OpenOrders always returns nil: paper orders fill instantly.
func (p *Paper) OpenOrders(ctx context.Context) ([]types.OpenOrder, error) {
	return nil, nil
}

func (p *Paper) fill(side types.OrderSide, tokenID string, price, shares float64) (types.OrderRef, error) {
	p.mu.Lock()
	p.fills = append(p.fills, Fill{Side: side, TokenID: tokenID, Price: price, Shares: shares})
	n := len(p.fills)
	p.mu.Unlock()

	p.logger.Debug("simulated fill",
		"side", side,
		"token_id", tokenID,
		"price", price,
		"shares", shares,
		"total_fills", n)

	return types.OrderRef("paper-" + uuid.NewString()), nil
}

// Fills returns a copy of every simulated execution so far.
func (p *Paper) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Fill, len(p.fills))
	copy(out, p.fills)
	return out
}
