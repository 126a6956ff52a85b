// Package market discovers 15-minute crypto markets and polls their prices.
//
// Discovery hits the venue's crypto-markets endpoint, which groups markets
// under events ("Bitcoin Up or Down - 3:45 PM ET"). The quote feed then
// re-polls that endpoint for mid prices and the CLOB book endpoint for
// executable top-of-book quotes, emitting one PriceUpdate per tracked market
// per tick.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"polymarket-vol/internal/clock"
	"polymarket-vol/internal/config"
	"polymarket-vol/pkg/types"
)

// cryptoMarketsResponse is the JSON shape of the crypto-markets endpoint.
type cryptoMarketsResponse struct {
	Events []CryptoEvent `json:"events"`
}

// CryptoEvent is one event grouping from the crypto-markets endpoint. The
// asset is not a field; it is inferred from the title.
type CryptoEvent struct {
	Title     string         `json:"title"`
	Closed    bool           `json:"closed"`
	EndDate   string         `json:"endDate"`
	Volume    flexFloat      `json:"volume"`
	Liquidity flexFloat      `json:"liquidity"`
	Markets   []CryptoMarket `json:"markets"`
}

// CryptoMarket is one market row inside an event. Numeric fields arrive
// inconsistently typed (numbers, quoted numbers, or JSON-encoded arrays),
// so the flexible decoders below normalize them.
type CryptoMarket struct {
	ID            string          `json:"id"`
	ConditionID   string          `json:"conditionId"`
	OutcomePrices json.RawMessage `json:"outcomePrices"`
	ClobTokenIds  json.RawMessage `json:"clobTokenIds"`
	BestBid       *float64        `json:"bestBid"`
	BestAsk       *float64        `json:"bestAsk"`
	Volume        flexFloat       `json:"volume"`
	Liquidity     flexFloat       `json:"liquidity"`
}

// Discovery finds active 15-minute crypto markets for the configured assets.
type Discovery struct {
	httpClient *resty.Client
	url        string
	limit      int
	assets     map[string]bool
	clk        clock.Clock
	logger     *slog.Logger
}

// NewDiscovery creates a discovery client from config.
func NewDiscovery(cfg *config.Config, clk clock.Clock, logger *slog.Logger) *Discovery {
	client := resty.New().
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetHeader("Accept", "application/json")

	assets := make(map[string]bool, len(cfg.Collection.Assets))
	for _, a := range cfg.Collection.Assets {
		assets[strings.ToUpper(a)] = true
	}

	return &Discovery{
		httpClient: client,
		url:        cfg.API.MarketsURL,
		limit:      cfg.Collection.DiscoveryLimit,
		assets:     assets,
		clk:        clk,
		logger:     logger.With("component", "discovery"),
	}
}

// Discover fetches the current 15-minute market set. Markets with an
// unconfigured asset, a past deadline (the endpoint lags and re-lists
// settled markets), or missing order-book token ids are rejected.
func (d *Discovery) Discover(ctx context.Context) ([]types.Market, error) {
	var body cryptoMarketsResponse
	resp, err := d.httpClient.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"_c": "15M",
			"_l": strconv.Itoa(d.limit),
		}).
		SetResult(&body).
		Get(d.url)
	if err != nil {
		return nil, fmt.Errorf("fetch crypto markets: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("fetch crypto markets: status %d", resp.StatusCode())
	}

	now := d.clk.Now()
	var out []types.Market
	for _, ev := range body.Events {
		if ev.Closed {
			continue
		}

		asset := inferAsset(ev.Title)
		if !d.assets[asset] {
			continue
		}

		deadline := parseDeadline(ev.EndDate, now)

		for _, cm := range ev.Markets {
			m, ok := d.parseMarket(cm, ev, asset, deadline)
			if !ok {
				continue
			}
			if !m.ResolutionDeadline.After(now) {
				d.logger.Debug("skipping expired listing",
					"condition_id", m.ConditionID, "deadline", m.ResolutionDeadline)
				continue
			}
			out = append(out, m)
		}
	}

	// Debug, not info: the quote feed re-polls this endpoint every tick.
	d.logger.Debug("markets discovered", "found", len(out))
	return out, nil
}

func (d *Discovery) parseMarket(cm CryptoMarket, ev CryptoEvent, asset string, deadline time.Time) (types.Market, bool) {
	if cm.ConditionID == "" {
		return types.Market{}, false
	}

	tokens := decodeStrings(cm.ClobTokenIds)
	if len(tokens) < 2 {
		d.logger.Warn("market missing order-book tokens", "condition_id", cm.ConditionID)
		return types.Market{}, false
	}

	yesPrice, noPrice := 0.50, 0.50
	if prices := decodeStrings(cm.OutcomePrices); len(prices) > 0 {
		if v, err := strconv.ParseFloat(prices[0], 64); err == nil {
			yesPrice = v
			noPrice = 1 - v
		}
		if len(prices) > 1 {
			if v, err := strconv.ParseFloat(prices[1], 64); err == nil {
				noPrice = v
			}
		}
	}
	if cm.BestBid != nil {
		yesPrice = *cm.BestBid
	}

	volume := float64(ev.Volume)
	if volume == 0 {
		volume = float64(cm.Volume)
	}
	liquidity := float64(ev.Liquidity)
	if liquidity == 0 {
		liquidity = float64(cm.Liquidity)
	}

	return types.Market{
		ConditionID:        cm.ConditionID,
		MarketID:           cm.ID,
		Question:           ev.Title,
		Asset:              asset,
		YesTokenID:         tokens[0],
		NoTokenID:          tokens[1],
		ResolutionDeadline: deadline,
		YesPrice:           yesPrice,
		NoPrice:            noPrice,
		Volume:             volume,
		Liquidity:          liquidity,
	}, true
}

// inferAsset maps an event title to its asset tag, or "" when unrecognized.
func inferAsset(title string) string {
	t := strings.ToLower(title)
	switch {
	case strings.Contains(t, "bitcoin") || strings.Contains(t, "btc"):
		return "BTC"
	case strings.Contains(t, "ethereum") || strings.Contains(t, "eth"):
		return "ETH"
	case strings.Contains(t, "solana") || strings.Contains(t, "sol"):
		return "SOL"
	case strings.Contains(t, "xrp"):
		return "XRP"
	}
	return ""
}

// parseDeadline parses an event end date. A missing or malformed date falls
// back to one market period from now, matching the venue's 15-minute cycle.
func parseDeadline(endDate string, now time.Time) time.Time {
	if endDate != "" {
		if t, err := time.Parse(time.RFC3339, endDate); err == nil {
			return t
		}
	}
	return now.Add(15 * time.Minute)
}

// decodeStrings decodes a JSON string array that some endpoints deliver
// directly and others double-encode as a JSON string.
func decodeStrings(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err == nil {
		return out
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

// flexFloat decodes JSON numbers that the venue sometimes quotes as strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}
