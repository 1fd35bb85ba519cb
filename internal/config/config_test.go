package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsAndEnv(t *testing.T) {
	path := writeConfig(t, `
router:
  mode: dry_run
  daily_notional_limit: 5000
risk:
  symbol_limits:
    - venue: paper
      symbol: BTCUSDT
      max_position: 2
publisher:
  backoff: 250ms
`)
	t.Setenv("ROUTER_HTTP_ADDR", ":9090")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Router.Mode != "dry_run" || cfg.Router.DailyNotionalLimit != 5000 {
		t.Fatalf("router section got %+v", cfg.Router)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Fatalf("env override ignored: %q", cfg.HTTP.Addr)
	}
	if cfg.Publisher.Backoff != 250*time.Millisecond {
		t.Fatalf("duration hook: %v", cfg.Publisher.Backoff)
	}
	if !cfg.Venues.Paper.Enabled || cfg.Venues.Paper.Name != "paper" {
		t.Fatalf("paper venue should be on by default: %+v", cfg.Venues.Paper)
	}
	if len(cfg.Risk.SymbolLimits) != 1 || cfg.Risk.SymbolLimits[0].MaxPosition != 2 {
		t.Fatalf("symbol limits got %+v", cfg.Risk.SymbolLimits)
	}
	if cfg.Venues.Spot.Retry.MaxAttempts != 3 || cfg.Venues.Spot.RateLimit.Window != time.Second {
		t.Fatalf("venue defaults got %+v", cfg.Venues.Spot)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidateAggregatesErrors(t *testing.T) {
	path := writeConfig(t, `
router:
  mode: turbo
  daily_notional_limit: 0
risk:
  symbol_limits:
    - symbol: BTCUSDT
      max_position: 1
venues:
  paper:
    enabled: false
  spot:
    enabled: true
    base_url: ""
publisher:
  enabled: true
  transport: carrier-pigeon
`)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{
		"router.mode",
		"router.daily_notional_limit",
		"risk.symbol_limits[0].venue",
		"venues.spot.base_url",
		"venues.spot 需要配置 api_key",
		"publisher.transport",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err.Error(), want)
		}
	}
}
