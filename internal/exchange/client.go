// Package exchange implements order execution against the Polymarket CLOB.
//
// Three pieces cooperate in live mode:
//   - Auth signs everything: the L1 ClobAuth message for key derivation,
//     L2 HMAC headers for every trading request, and the EIP-712 order
//     struct bound to the CTF Exchange contract.
//   - Live is the authenticated REST executor: it signs and posts GTC
//     orders, cancels them, and lists what is still resting.
//   - UserFeed streams authenticated fill and order events over WebSocket.
//
// Paper is the in-process stand-in used when no order should leave the
// machine. Both executors satisfy OrderExecutor, which is all the decision
// engine sees.
//
// Every REST request is rate-limited via per-category TokenBuckets and
// automatically retried on 5xx errors.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"polymarket-vol/internal/config"
	"polymarket-vol/pkg/types"
)

// Live is the Polymarket CLOB REST executor. It wraps a resty HTTP client
// with rate limiting, retry, and L2 HMAC auth.
type Live struct {
	http   *resty.Client // HTTP client with retry + base URL
	auth   *Auth         // L1/L2/order signing
	rl     *RateLimiter  // per-endpoint-category rate limiting
	logger *slog.Logger
}

var _ OrderExecutor = (*Live)(nil)

// NewLive creates the live executor with rate limiting and retry.
func NewLive(cfg *config.Config, auth *Auth, logger *slog.Logger) *Live {
	httpClient := resty.New().
		SetBaseURL(cfg.API.CLOBBaseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Live{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		logger: logger.With("component", "executor", "mode", "live"),
	}
}

// Buy places a GTC order to acquire shares at the given limit price.
func (c *Live) Buy(ctx context.Context, tokenID string, price, shares float64) (types.OrderRef, error) {
	return c.placeOrder(ctx, tokenID, types.OrderBuy, price, shares)
}

// Sell places a GTC order to dispose of shares at the given limit price.
func (c *Live) Sell(ctx context.Context, tokenID string, price, shares float64) (types.OrderRef, error) {
	return c.placeOrder(ctx, tokenID, types.OrderSell, price, shares)
}

// placeOrder signs a single order and posts it to the CLOB.
func (c *Live) placeOrder(ctx context.Context, tokenID string, side types.OrderSide, price, shares float64) (types.OrderRef, error) {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return "", err
	}

	order, err := c.auth.BuildOrder(tokenID, side, price, shares)
	if err != nil {
		return "", fmt.Errorf("build order: %w", err)
	}

	payload := types.OrderPayload{
		Order:     *order,
		Owner:     c.auth.creds.ApiKey,
		OrderType: types.OrderTypeGTC,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.L2Headers("POST", "/order", string(body))
	if err != nil {
		return "", fmt.Errorf("l2 headers: %w", err)
	}

	var result types.OrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Post("/order")
	if err != nil {
		return "", fmt.Errorf("post order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("post order: status %d: %s", resp.StatusCode(), resp.String())
	}
	if !result.Success {
		return "", fmt.Errorf("order rejected: %s", result.ErrorMsg)
	}

	c.logger.Info("order placed",
		"side", side,
		"token_id", tokenID,
		"price", price,
		"shares", shares,
		"order_id", result.OrderID,
		"status", result.Status)

	return types.OrderRef(result.OrderID), nil
}

// Cancel removes a resting order by ID.
func (c *Live) Cancel(ctx context.Context, ref types.OrderRef) error {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	body := fmt.Sprintf(`{"orderID":%q}`, string(ref))
	headers, err := c.auth.L2Headers("DELETE", "/order", body)
	if err != nil {
		return fmt.Errorf("l2 headers: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		Delete("/order")
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Info("order cancelled", "order_id", ref)
	return nil
}

// OpenOrders lists orders still resting on the venue.
func (c *Live) OpenOrders(ctx context.Context) ([]types.OpenOrder, error) {
	headers, err := c.auth.L2Headers("GET", "/data/orders", "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result []types.OpenOrder
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/data/orders")
	if err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("open orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// DeriveAPIKey derives L2 API credentials via L1 authentication and installs
// them on the Auth for all subsequent requests.
func (c *Live) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}

	var result Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("derive api key: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.auth.SetCredentials(result)
	c.logger.Info("API key derived", "api_key", result.ApiKey)
	return &result, nil
}
