// Polymarket Vol Trader — an automated trading daemon for Polymarket's
// 15-minute binary crypto markets.
//
// Architecture:
//
//	main.go              — entry point: config, wiring, signals, exit codes
//	engine/engine.go     — decision loop: exit pass then entry pass per price update
//	strategy/rules.go    — pure threshold evaluation for entries and exits
//	strategy/registry.go — strategy catalog reconciled with the store
//	market/discovery.go  — finds active 15-minute markets via the events API
//	market/book.go       — top-of-book quotes from the CLOB book endpoint
//	market/feed.go       — polling loop: tracked markets → PriceUpdates
//	bankroll/            — fractional Kelly sizing and vault accounting
//	position/            — open slots, cooldowns, one-shot rule, spend window
//	exchange/            — order executors: paper (simulated) and live (EIP-712 + HMAC)
//	store/store.go       — sqlite persistence: trades, strategies, snapshots
//
// How it trades:
//
//	Every 15 minutes Polymarket lists "Bitcoin Up or Down" style markets
//	that resolve against the spot move of the window. Deep-value strategies
//	buy a side the book prices cheaply and take profit on a bounce; fade
//	strategies bet against heavy favorites. Positions that never reach
//	their target are dumped for whatever the book bids just before
//	resolution rather than ridden into settlement.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"polymarket-vol/internal/clock"
	"polymarket-vol/internal/config"
	"polymarket-vol/internal/engine"
	"polymarket-vol/internal/exchange"
	"polymarket-vol/internal/market"
	"polymarket-vol/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Credentials live in .env locally; a missing file is fine in
	// production where the environment is set by the supervisor.
	_ = godotenv.Load()

	cfgPath := "config.yaml"
	if p := os.Getenv("POLY_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		return 1
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.System.LogLevel)}
	if cfg.System.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	st, err := store.Open(cfg.System.DatabasePath)
	if err != nil {
		logger.Error("failed to open store", "error", err, "path", cfg.System.DatabasePath)
		return 1
	}
	defer st.Close()

	clk := clock.System{}
	discovery := market.NewDiscovery(cfg, clk, logger)
	quotes := market.NewQuotes(cfg, logger)
	feed := market.NewQuoteFeed(cfg, discovery, quotes, st, clk, logger)

	authCtx, cancelAuth := context.WithTimeout(context.Background(), 30*time.Second)
	executor, userFeed, err := buildExecutor(authCtx, cfg, logger)
	cancelAuth()
	if err != nil {
		logger.Error("failed to build executor", "error", err)
		return 1
	}

	eng, err := engine.New(cfg, st, feed, executor, clk, logger)
	if err != nil {
		logger.Error("failed to initialize engine", "error", err)
		return 1
	}

	if userFeed != nil {
		wsCtx, cancelWS := context.WithCancel(context.Background())
		defer cancelWS()
		go func() {
			if err := userFeed.Run(wsCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("user feed stopped", "error", err)
			}
		}()
		go logUserEvents(userFeed, logger)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		return 1
	}

	if !cfg.IsLive() {
		logger.Warn("PAPER MODE — no real orders will be placed")
	}

	logger.Info("polymarket vol trader started",
		"mode", cfg.System.Mode,
		"assets", cfg.Collection.Assets,
		"strategies", len(cfg.StrategySet()),
		"bankroll", cfg.Bankroll.Initial,
		"db", cfg.System.DatabasePath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
		eng.Stop()
		return 0
	case err := <-eng.Fatal():
		logger.Error("unrecoverable error, shutting down", "error", err)
		eng.Stop()
		return 2
	}
}

// buildExecutor picks the order executor for the configured mode. Live and
// testnet modes authenticate against the CLOB and get a user-event feed;
// paper mode never touches the venue.
func buildExecutor(ctx context.Context, cfg *config.Config, logger *slog.Logger) (exchange.OrderExecutor, *exchange.UserFeed, error) {
	if !cfg.IsLive() {
		return exchange.NewPaper(logger), nil, nil
	}

	auth, err := exchange.NewAuth(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("auth: %w", err)
	}
	live := exchange.NewLive(cfg, auth, logger)
	if !auth.HasL2Credentials() {
		if _, err := live.DeriveAPIKey(ctx); err != nil {
			return nil, nil, fmt.Errorf("derive api key: %w", err)
		}
	}
	return live, exchange.NewUserFeed(cfg.API.WSUserURL, auth, logger), nil
}

// logUserEvents surfaces authenticated venue events in the daemon log so
// live fills and cancels are visible without any further tooling.
func logUserEvents(f *exchange.UserFeed, logger *slog.Logger) {
	log := logger.With("component", "user_events")
	for {
		select {
		case ev, ok := <-f.TradeEvents():
			if !ok {
				return
			}
			log.Info("trade",
				"market", ev.Market,
				"outcome", ev.Outcome,
				"side", ev.Side,
				"price", ev.Price,
				"size", ev.Size)
		case ev, ok := <-f.OrderEvents():
			if !ok {
				return
			}
			log.Info("order",
				"type", ev.Type,
				"market", ev.Market,
				"side", ev.Side,
				"price", ev.Price,
				"matched", ev.SizeMatched)
		}
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
