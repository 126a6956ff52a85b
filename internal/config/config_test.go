package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"polymarket-vol/pkg/types"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got, want := cfg.System.Mode, ModePaper; got != want {
		t.Errorf("Mode = %q, want %q", got, want)
	}
	if got, want := cfg.Collection.PollInterval, 5*time.Second; got != want {
		t.Errorf("PollInterval = %v, want %v", got, want)
	}
	if got, want := len(cfg.Collection.Assets), 4; got != want {
		t.Errorf("len(Assets) = %d, want %d", got, want)
	}
	if got, want := cfg.Exits.ResolutionExitSeconds, 120; got != want {
		t.Errorf("ResolutionExitSeconds = %d, want %d", got, want)
	}
	if got, want := cfg.Bankroll.KellyFraction, 0.5; got != want {
		t.Errorf("KellyFraction = %v, want %v", got, want)
	}
	if got, want := cfg.Budget.SpendCap, 5.0; got != want {
		t.Errorf("SpendCap = %v, want %v", got, want)
	}
	if got, want := cfg.Budget.Cooldown, 15*time.Minute; got != want {
		t.Errorf("Cooldown = %v, want %v", got, want)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults = %v, want nil", err)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	yaml := `
system:
  mode: paper
  database_path: /tmp/test.db
  status_interval: 30s
collection:
  poll_interval: 10s
  assets: [BTC, ETH]
strategies:
  - id: deep_10_20
    tier: 1
    entry: 0.10
    exit: 0.20
    direction: normal
    enabled: true
  - id: fade_80_70
    tier: 5
    entry: 0.80
    exit: 0.70
    direction: fade
    enabled: false
budget:
  spend_cap: 25
  window: 30m
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got, want := cfg.System.DatabasePath, "/tmp/test.db"; got != want {
		t.Errorf("DatabasePath = %q, want %q", got, want)
	}
	if got, want := cfg.Collection.PollInterval, 10*time.Second; got != want {
		t.Errorf("PollInterval = %v, want %v", got, want)
	}
	if got, want := len(cfg.Strategies), 2; got != want {
		t.Fatalf("len(Strategies) = %d, want %d", got, want)
	}
	if got, want := cfg.Strategies[1].Direction, "fade"; got != want {
		t.Errorf("Strategies[1].Direction = %q, want %q", got, want)
	}
	if got, want := cfg.Budget.SpendCap, 25.0; got != want {
		t.Errorf("SpendCap = %v, want %v", got, want)
	}
	if got, want := cfg.Budget.Window, 30*time.Minute; got != want {
		t.Errorf("Window = %v, want %v", got, want)
	}
	// Cooldown keeps its default when the file omits it.
	if got, want := cfg.Budget.Cooldown, 15*time.Minute; got != want {
		t.Errorf("Cooldown = %v, want %v", got, want)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("POLY_MODE", "live")
	t.Setenv("POLY_DATABASE_PATH", "/var/lib/bot/live.db")
	t.Setenv("POLY_PRIVATE_KEY", "0xabc123")
	t.Setenv("POLY_API_KEY", "key-1")
	t.Setenv("POLY_API_SECRET", "c2VjcmV0")
	t.Setenv("POLY_PASSPHRASE", "pass-1")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got, want := cfg.System.Mode, ModeLive; got != want {
		t.Errorf("Mode = %q, want %q", got, want)
	}
	if got, want := cfg.System.DatabasePath, "/var/lib/bot/live.db"; got != want {
		t.Errorf("DatabasePath = %q, want %q", got, want)
	}
	if got, want := cfg.Wallet.PrivateKey, "0xabc123"; got != want {
		t.Errorf("PrivateKey = %q, want %q", got, want)
	}
	if got, want := cfg.API.Secret, "c2VjcmV0"; got != want {
		t.Errorf("Secret = %q, want %q", got, want)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestLoadTestnetChainID(t *testing.T) {
	t.Setenv("POLY_MODE", "testnet")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got, want := cfg.Wallet.ChainID, 80002; got != want {
		t.Errorf("ChainID = %d, want %d", got, want)
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		cfg, err := Load("does-not-exist.yaml")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.System.Mode = "replay" }},
		{"empty database path", func(c *Config) { c.System.DatabasePath = "" }},
		{"zero poll interval", func(c *Config) { c.Collection.PollInterval = 0 }},
		{"no assets", func(c *Config) { c.Collection.Assets = nil }},
		{"zero resolution exit", func(c *Config) { c.Exits.ResolutionExitSeconds = 0 }},
		{"kelly fraction above one", func(c *Config) { c.Bankroll.KellyFraction = 1.5 }},
		{"min pct above max pct", func(c *Config) {
			c.Bankroll.MinBetPct = 0.20
			c.Bankroll.MaxBetPct = 0.10
		}},
		{"zero spend cap", func(c *Config) { c.Budget.SpendCap = 0 }},
		{"normal strategy exit below entry", func(c *Config) {
			c.Strategies = []StrategyEntry{{ID: "bad", Tier: 1, Entry: 0.30, Exit: 0.20, Direction: "normal", Enabled: true}}
		}},
		{"fade strategy exit above entry", func(c *Config) {
			c.Strategies = []StrategyEntry{{ID: "bad", Tier: 5, Entry: 0.70, Exit: 0.80, Direction: "fade", Enabled: true}}
		}},
		{"unknown direction", func(c *Config) {
			c.Strategies = []StrategyEntry{{ID: "bad", Tier: 1, Entry: 0.10, Exit: 0.20, Direction: "short", Enabled: true}}
		}},
		{"live without private key", func(c *Config) { c.System.Mode = ModeLive }},
		{"live with bad signature type", func(c *Config) {
			c.System.Mode = ModeLive
			c.Wallet.PrivateKey = "0xabc"
			c.Wallet.SignatureType = 7
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestDefaultStrategies(t *testing.T) {
	t.Parallel()

	set := DefaultStrategies()
	if got, want := len(set), 17; got != want {
		t.Fatalf("len(DefaultStrategies()) = %d, want %d", got, want)
	}

	seen := make(map[string]bool, len(set))
	fades := 0
	for _, s := range set {
		if seen[s.ID] {
			t.Errorf("duplicate strategy id %q", s.ID)
		}
		seen[s.ID] = true

		if s.Status != types.StrategyActive {
			t.Errorf("%s: status = %q, want %q", s.ID, s.Status, types.StrategyActive)
		}
		switch s.Direction {
		case types.DirectionNormal:
			if s.ExitThreshold <= s.EntryThreshold {
				t.Errorf("%s: normal exit %v <= entry %v", s.ID, s.ExitThreshold, s.EntryThreshold)
			}
		case types.DirectionFade:
			fades++
			if s.ExitThreshold >= s.EntryThreshold {
				t.Errorf("%s: fade exit %v >= entry %v", s.ID, s.ExitThreshold, s.EntryThreshold)
			}
		default:
			t.Errorf("%s: unknown direction %q", s.ID, s.Direction)
		}
	}
	if got, want := fades, 3; got != want {
		t.Errorf("fade strategies = %d, want %d", got, want)
	}
}

func TestStrategySet(t *testing.T) {
	t.Parallel()

	var cfg Config
	if got, want := len(cfg.StrategySet()), 17; got != want {
		t.Errorf("empty config StrategySet() len = %d, want %d (catalog)", got, want)
	}

	cfg.Strategies = []StrategyEntry{
		{ID: "deep_10_20", Tier: 1, Entry: 0.10, Exit: 0.20, Direction: "normal", Enabled: true},
		{ID: "fade_80_70", Tier: 5, Entry: 0.80, Exit: 0.70, Direction: "fade", Enabled: false},
	}
	set := cfg.StrategySet()
	if got, want := len(set), 2; got != want {
		t.Fatalf("StrategySet() len = %d, want %d", got, want)
	}
	if got, want := set[0].Status, types.StrategyActive; got != want {
		t.Errorf("enabled entry status = %q, want %q", got, want)
	}
	if got, want := set[1].Status, types.StrategyDisabled; got != want {
		t.Errorf("disabled entry status = %q, want %q", got, want)
	}
	if got, want := set[1].Direction, types.DirectionFade; got != want {
		t.Errorf("direction = %q, want %q", got, want)
	}
}
