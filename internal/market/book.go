// book.go fetches executable top-of-book quotes from the CLOB book endpoint.
//
// The batched markets endpoint supplies display mids, but 15-minute books are
// thin and the real spread is often far wider. Entries and exits price off
// the book, so the feed overrides display prices with these quotes on every
// tick.

package market

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"polymarket-vol/internal/config"
	"polymarket-vol/internal/exchange"
	"polymarket-vol/pkg/types"
)

// TopOfBook is the best resting prices for one token. Zero means that side
// of the book was empty. Mid is (bid+ask)/2, set only when both sides exist.
type TopOfBook struct {
	Bid float64
	Ask float64
	Mid float64
}

// Quotes reads order books from the CLOB REST API, one token per call.
type Quotes struct {
	http   *resty.Client
	rl     *exchange.TokenBucket
	logger *slog.Logger
}

// NewQuotes creates a book reader for the configured CLOB endpoint.
// Book reads are not retried; the poll loop reissues them next tick.
func NewQuotes(cfg *config.Config, logger *slog.Logger) *Quotes {
	client := resty.New().
		SetBaseURL(cfg.API.CLOBBaseURL).
		SetTimeout(15 * time.Second).
		SetHeader("Accept", "application/json")

	return &Quotes{
		http:   client,
		rl:     exchange.NewTokenBucket(150, 15), // 1500 per 10s book-read window
		logger: logger.With("component", "quotes"),
	}
}

// TopOfBook fetches the book for one token and extracts the best level of
// each side. The venue returns ladders best-first.
func (q *Quotes) TopOfBook(ctx context.Context, tokenID string) (TopOfBook, error) {
	if err := q.rl.Wait(ctx); err != nil {
		return TopOfBook{}, err
	}

	var book types.BookResponse
	resp, err := q.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&book).
		Get("/book")
	if err != nil {
		return TopOfBook{}, fmt.Errorf("fetch book: %w", err)
	}
	if resp.StatusCode() != 200 {
		return TopOfBook{}, fmt.Errorf("fetch book: status %d", resp.StatusCode())
	}

	var top TopOfBook
	if len(book.Bids) > 0 {
		top.Bid = parsePrice(book.Bids[0].Price)
	}
	if len(book.Asks) > 0 {
		top.Ask = parsePrice(book.Asks[0].Price)
	}
	if top.Bid > 0 && top.Ask > 0 {
		top.Mid = (top.Bid + top.Ask) / 2
	}
	return top, nil
}

func parsePrice(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
