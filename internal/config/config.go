// Package config defines all configuration for the trading daemon.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via POLY_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"polymarket-vol/pkg/types"
)

// Trading modes. Paper simulates fills locally; live signs and posts real
// orders; testnet is live against the Amoy chain.
const (
	ModePaper   = "paper"
	ModeLive    = "live"
	ModeTestnet = "testnet"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	System     SystemConfig     `mapstructure:"system"`
	Collection CollectionConfig `mapstructure:"collection"`
	Strategies []StrategyEntry  `mapstructure:"strategies"`
	Exits      ExitConfig       `mapstructure:"exits"`
	Bankroll   BankrollConfig   `mapstructure:"bankroll"`
	Budget     BudgetConfig     `mapstructure:"budget"`
	Wallet     WalletConfig     `mapstructure:"wallet"`
	API        APIConfig        `mapstructure:"api"`
}

// SystemConfig holds daemon-wide settings.
type SystemConfig struct {
	Mode           string        `mapstructure:"mode"`
	DatabasePath   string        `mapstructure:"database_path"`
	LogLevel       string        `mapstructure:"log_level"`
	LogFormat      string        `mapstructure:"log_format"`
	StatusInterval time.Duration `mapstructure:"status_interval"`
}

// CollectionConfig controls market discovery and the quote polling loop.
//
//   - PollInterval: cadence of the quote feed tick.
//   - Assets: crypto assets to track (BTC, ETH, SOL, XRP).
//   - DiscoveryLimit: max markets requested per discovery call.
//   - MinMarkets: rediscover when fewer than this many markets are tracked.
type CollectionConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Assets         []string      `mapstructure:"assets"`
	DiscoveryLimit int           `mapstructure:"discovery_limit"`
	MinMarkets     int           `mapstructure:"min_markets"`
}

// StrategyEntry is one strategy definition from the YAML file. An empty
// strategies list falls back to the built-in catalog (DefaultStrategies).
type StrategyEntry struct {
	ID        string  `mapstructure:"id"`
	Tier      int     `mapstructure:"tier"`
	Entry     float64 `mapstructure:"entry"`
	Exit      float64 `mapstructure:"exit"`
	Direction string  `mapstructure:"direction"`
	Enabled   bool    `mapstructure:"enabled"`
}

// ExitConfig sets the exit rule thresholds, in seconds of market life left.
// TimeStopSeconds is accepted for config compatibility but the engine does
// not evaluate a time-stop exit.
type ExitConfig struct {
	ResolutionExitSeconds int `mapstructure:"resolution_exit_seconds"`
	TimeStopSeconds       int `mapstructure:"time_stop_seconds"`
}

// BankrollConfig tunes position sizing.
//
//   - Initial: starting bankroll in USD.
//   - KellyFraction: fraction of full Kelly to bet (0.5 = half Kelly).
//   - MinBetPct/MaxBetPct: clamp on the bankroll fraction per bet.
//   - FixedStake: when > 0, overrides Kelly with a flat USD stake (paper runs).
type BankrollConfig struct {
	Initial       float64     `mapstructure:"initial"`
	KellyFraction float64     `mapstructure:"kelly_fraction"`
	MinBetPct     float64     `mapstructure:"min_bet_pct"`
	MaxBetPct     float64     `mapstructure:"max_bet_pct"`
	FixedStake    float64     `mapstructure:"fixed_stake"`
	Vault         VaultConfig `mapstructure:"vault"`
}

// VaultConfig controls profit protection. A share of each winning trade's
// pnl moves to a vault the sizer cannot draw on; an emergency withdrawal
// refills the bankroll when it falls below a fraction of total equity.
type VaultConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	DepositRate        float64 `mapstructure:"deposit_rate"`
	EmergencyThreshold float64 `mapstructure:"emergency_threshold"`
}

// BudgetConfig sets the rolling spend cap and the post-exit cooldown.
type BudgetConfig struct {
	SpendCap float64       `mapstructure:"spend_cap"`
	Window   time.Duration `mapstructure:"window"`
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// WalletConfig holds the Ethereum wallet used for signing live orders.
// PrivateKey signs L1 (EIP-712) auth and the order struct itself.
// FunderAddress is the on-chain address that funds orders (may differ from signer if using a proxy).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// APIConfig holds venue endpoints and optional pre-derived L2 credentials.
// If ApiKey/Secret/Passphrase are empty in live mode, the daemon derives
// them via L1 auth on startup.
type APIConfig struct {
	CLOBBaseURL string `mapstructure:"clob_base_url"`
	MarketsURL  string `mapstructure:"markets_url"`
	WSUserURL   string `mapstructure:"ws_user_url"`
	ApiKey      string `mapstructure:"api_key"`
	Secret      string `mapstructure:"secret"`
	Passphrase  string `mapstructure:"passphrase"`
}

// Load reads config from a YAML file with env var overrides. A missing file
// is not an error; defaults apply. Sensitive fields use env vars:
// POLY_PRIVATE_KEY, POLY_API_KEY, POLY_API_SECRET, POLY_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("POLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("POLY_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if addr := os.Getenv("POLY_FUNDER_ADDRESS"); addr != "" {
		cfg.Wallet.FunderAddress = addr
	}
	if key := os.Getenv("POLY_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("POLY_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("POLY_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if mode := os.Getenv("POLY_MODE"); mode != "" {
		cfg.System.Mode = mode
	}
	if dbPath := os.Getenv("POLY_DATABASE_PATH"); dbPath != "" {
		cfg.System.DatabasePath = dbPath
	}

	if cfg.System.Mode == ModeTestnet && !v.IsSet("wallet.chain_id") {
		cfg.Wallet.ChainID = 80002 // Amoy
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("system.mode", ModePaper)
	v.SetDefault("system.database_path", "data/trading.db")
	v.SetDefault("system.log_level", "info")
	v.SetDefault("system.log_format", "text")
	v.SetDefault("system.status_interval", "60s")

	v.SetDefault("collection.poll_interval", "5s")
	v.SetDefault("collection.assets", []string{"BTC", "ETH", "SOL", "XRP"})
	v.SetDefault("collection.discovery_limit", 20)
	v.SetDefault("collection.min_markets", 3)

	v.SetDefault("exits.resolution_exit_seconds", 120)
	v.SetDefault("exits.time_stop_seconds", 600)

	v.SetDefault("bankroll.initial", 100.0)
	v.SetDefault("bankroll.kelly_fraction", 0.5)
	v.SetDefault("bankroll.min_bet_pct", 0.03)
	v.SetDefault("bankroll.max_bet_pct", 0.15)
	v.SetDefault("bankroll.fixed_stake", 10.0)
	v.SetDefault("bankroll.vault.enabled", true)
	v.SetDefault("bankroll.vault.deposit_rate", 0.20)
	v.SetDefault("bankroll.vault.emergency_threshold", 0.20)

	v.SetDefault("budget.spend_cap", 5.0)
	v.SetDefault("budget.window", "15m")
	v.SetDefault("budget.cooldown", "15m")

	v.SetDefault("wallet.signature_type", 0)
	v.SetDefault("wallet.chain_id", 137)

	v.SetDefault("api.clob_base_url", "https://clob.polymarket.com")
	v.SetDefault("api.markets_url", "https://polymarket.com/api/crypto/markets")
	v.SetDefault("api.ws_user_url", "wss://ws-subscriptions-clob.polymarket.com/ws/user")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	switch c.System.Mode {
	case ModePaper, ModeLive, ModeTestnet:
	default:
		return fmt.Errorf("system.mode must be one of: paper, live, testnet (got %q)", c.System.Mode)
	}
	if c.System.DatabasePath == "" {
		return fmt.Errorf("system.database_path is required")
	}
	if c.System.StatusInterval <= 0 {
		return fmt.Errorf("system.status_interval must be > 0")
	}
	if c.Collection.PollInterval <= 0 {
		return fmt.Errorf("collection.poll_interval must be > 0")
	}
	if len(c.Collection.Assets) == 0 {
		return fmt.Errorf("collection.assets must list at least one asset")
	}
	if c.Collection.MinMarkets <= 0 {
		return fmt.Errorf("collection.min_markets must be > 0")
	}
	if c.Exits.ResolutionExitSeconds <= 0 {
		return fmt.Errorf("exits.resolution_exit_seconds must be > 0")
	}
	if c.Bankroll.Initial <= 0 {
		return fmt.Errorf("bankroll.initial must be > 0")
	}
	if c.Bankroll.KellyFraction <= 0 || c.Bankroll.KellyFraction > 1 {
		return fmt.Errorf("bankroll.kelly_fraction must be in (0, 1]")
	}
	if c.Bankroll.MinBetPct <= 0 || c.Bankroll.MaxBetPct >= 1 {
		return fmt.Errorf("bankroll bet pct bounds must satisfy 0 < min, max < 1")
	}
	if c.Bankroll.MinBetPct > c.Bankroll.MaxBetPct {
		return fmt.Errorf("bankroll.min_bet_pct must be <= bankroll.max_bet_pct")
	}
	if c.Bankroll.FixedStake < 0 {
		return fmt.Errorf("bankroll.fixed_stake must be >= 0")
	}
	if r := c.Bankroll.Vault.DepositRate; r < 0 || r >= 1 {
		return fmt.Errorf("bankroll.vault.deposit_rate must be in [0, 1)")
	}
	if t := c.Bankroll.Vault.EmergencyThreshold; t < 0 || t >= 1 {
		return fmt.Errorf("bankroll.vault.emergency_threshold must be in [0, 1)")
	}
	if c.Budget.SpendCap <= 0 {
		return fmt.Errorf("budget.spend_cap must be > 0")
	}
	if c.Budget.Window <= 0 {
		return fmt.Errorf("budget.window must be > 0")
	}
	if c.Budget.Cooldown < 0 {
		return fmt.Errorf("budget.cooldown must be >= 0")
	}
	for _, s := range c.Strategies {
		if err := validateEntry(s); err != nil {
			return err
		}
	}
	if c.System.Mode == ModeLive || c.System.Mode == ModeTestnet {
		if c.Wallet.PrivateKey == "" {
			return fmt.Errorf("wallet.private_key is required in %s mode (set POLY_PRIVATE_KEY)", c.System.Mode)
		}
		if c.Wallet.ChainID == 0 {
			return fmt.Errorf("wallet.chain_id is required (137 for mainnet)")
		}
		switch c.Wallet.SignatureType {
		case 0, 1, 2:
		default:
			return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
		}
		if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
			return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
		}
		if c.API.CLOBBaseURL == "" {
			return fmt.Errorf("api.clob_base_url is required")
		}
	}
	return nil
}

func validateEntry(s StrategyEntry) error {
	if s.ID == "" {
		return fmt.Errorf("strategies[]: id is required")
	}
	if s.Entry <= 0 || s.Entry >= 1 {
		return fmt.Errorf("strategy %s: entry must be in (0, 1)", s.ID)
	}
	if s.Exit <= 0 || s.Exit >= 1 {
		return fmt.Errorf("strategy %s: exit must be in (0, 1)", s.ID)
	}
	switch types.Direction(s.Direction) {
	case types.DirectionNormal:
		if s.Exit <= s.Entry {
			return fmt.Errorf("strategy %s: normal direction requires exit > entry", s.ID)
		}
	case types.DirectionFade:
		if s.Exit >= s.Entry {
			return fmt.Errorf("strategy %s: fade direction requires exit < entry", s.ID)
		}
	default:
		return fmt.Errorf("strategy %s: direction must be normal or fade (got %q)", s.ID, s.Direction)
	}
	return nil
}

// IsLive reports whether orders are posted to the real venue.
func (c *Config) IsLive() bool {
	return c.System.Mode == ModeLive || c.System.Mode == ModeTestnet
}

// StrategySet resolves the configured strategies, falling back to the
// built-in catalog when the YAML lists none. A config-disabled entry maps
// to StrategyDisabled; the Store's persisted status still wins over either
// when the registry reconciles.
func (c *Config) StrategySet() []types.Strategy {
	if len(c.Strategies) == 0 {
		return DefaultStrategies()
	}
	out := make([]types.Strategy, 0, len(c.Strategies))
	for _, e := range c.Strategies {
		status := types.StrategyActive
		if !e.Enabled {
			status = types.StrategyDisabled
		}
		out = append(out, types.Strategy{
			ID:             e.ID,
			Name:           e.ID,
			Tier:           e.Tier,
			EntryThreshold: e.Entry,
			ExitThreshold:  e.Exit,
			Direction:      types.Direction(e.Direction),
			Status:         status,
		})
	}
	return out
}

// DefaultStrategies is the built-in threshold catalog, used when the config
// file defines no strategies. Ids encode entry/exit as percentages
// (deep_10_20 buys YES near 10c targeting 20c; fade_80_70 buys NO when YES
// trades near 80c targeting a fall to 70c).
func DefaultStrategies() []types.Strategy {
	mk := func(id string, tier int, entry, exit float64, dir types.Direction) types.Strategy {
		return types.Strategy{
			ID:             id,
			Name:           id,
			Tier:           tier,
			EntryThreshold: entry,
			ExitThreshold:  exit,
			Direction:      dir,
			Status:         types.StrategyActive,
		}
	}
	return []types.Strategy{
		// Tier 1: ultra-deep and deep value
		mk("ultra_05_10", 1, 0.05, 0.10, types.DirectionNormal),
		mk("ultra_05_15", 1, 0.05, 0.15, types.DirectionNormal),
		mk("ultra_05_20", 1, 0.05, 0.20, types.DirectionNormal),
		mk("deep_10_20", 1, 0.10, 0.20, types.DirectionNormal),
		mk("deep_10_25", 1, 0.10, 0.25, types.DirectionNormal),
		mk("deep_15_25", 1, 0.15, 0.25, types.DirectionNormal),
		mk("deep_15_30", 1, 0.15, 0.30, types.DirectionNormal),

		// Tier 2: value
		mk("value_20_25", 2, 0.20, 0.25, types.DirectionNormal),
		mk("value_20_30", 2, 0.20, 0.30, types.DirectionNormal),
		mk("value_20_35", 2, 0.20, 0.35, types.DirectionNormal),

		// Tier 3: mid-range
		mk("mid_35_50", 3, 0.35, 0.50, types.DirectionNormal),
		mk("mid_40_50", 3, 0.40, 0.50, types.DirectionNormal),
		mk("mid_40_55", 3, 0.40, 0.55, types.DirectionNormal),

		// Tier 4: high probability
		mk("high_60_70", 4, 0.60, 0.70, types.DirectionNormal),

		// Tier 5: fade overpriced favorites
		mk("fade_80_70", 5, 0.80, 0.70, types.DirectionFade),
		mk("fade_85_75", 5, 0.85, 0.75, types.DirectionFade),
		mk("fade_90_80", 5, 0.90, 0.80, types.DirectionFade),
	}
}
