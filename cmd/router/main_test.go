package main

import (
	"testing"

	"trade-router/internal/config"
)

func TestParseFlagsFallsBackToEnv(t *testing.T) {
	t.Setenv(configEnv, "/etc/router/config.yaml")

	opts, err := parseFlags([]string{"-mode", "dry_run"})
	if err != nil {
		t.Fatalf("parseFlags returned error: %v", err)
	}
	if opts.configPath != "/etc/router/config.yaml" {
		t.Fatalf("config path got %q", opts.configPath)
	}

	opts, err = parseFlags([]string{"-config", "local.yaml", "-check"})
	if err != nil {
		t.Fatalf("parseFlags returned error: %v", err)
	}
	if opts.configPath != "local.yaml" || !opts.check {
		t.Fatalf("explicit flags should win, got %+v", opts)
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := &config.Config{}
	cfg.Router.Mode = "sandbox"
	cfg.HTTP.Addr = ":8080"

	if err := applyOverrides(cfg, options{mode: "DRY_RUN", addr: ":9090"}); err != nil {
		t.Fatalf("applyOverrides returned error: %v", err)
	}
	if cfg.Router.Mode != "dry_run" || cfg.HTTP.Addr != ":9090" {
		t.Fatalf("overrides not applied: mode=%s addr=%s", cfg.Router.Mode, cfg.HTTP.Addr)
	}

	if err := applyOverrides(cfg, options{mode: "turbo"}); err == nil {
		t.Fatalf("unknown mode should be rejected")
	}
	if cfg.Router.Mode != "dry_run" {
		t.Fatalf("rejected override must not change mode, got %s", cfg.Router.Mode)
	}
}
