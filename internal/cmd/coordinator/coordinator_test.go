package coordinator

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("coordinator", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.ConfigDir != "./config" {
		t.Fatalf("expected default config dir, got %q", cfg.ConfigDir)
	}
	if cfg.BalanceInterval != time.Minute {
		t.Fatalf("expected default balance interval, got %s", cfg.BalanceInterval)
	}
	if cfg.ConfigReloadInterval != 15*time.Second {
		t.Fatalf("expected default reload interval, got %s", cfg.ConfigReloadInterval)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("BFLAUNCHER_HTTP_ADDR", "env-addr")
	t.Setenv("BFLAUNCHER_CONFIG_DIR", "env-dir")
	t.Setenv("BFLAUNCHER_SESSION_ISSUER", "env-issuer")
	t.Setenv("BFLAUNCHER_BALANCE_INTERVAL", "30s")

	fs := flag.NewFlagSet("coordinator", flag.ContinueOnError)
	args := []string{
		"-http-addr", "flag-addr",
		"-session-issuer", "flag-issuer",
		"-balance-interval", "45s",
	}
	cfg, err := ParseConfig(fs, args)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "flag-addr" {
		t.Fatalf("expected flag http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.ConfigDir != "env-dir" {
		t.Fatalf("expected env config dir, got %q", cfg.ConfigDir)
	}
	if cfg.SessionIssuer != "flag-issuer" {
		t.Fatalf("expected flag issuer, got %q", cfg.SessionIssuer)
	}
	if cfg.BalanceInterval != 45*time.Second {
		t.Fatalf("expected flag balance interval, got %s", cfg.BalanceInterval)
	}
}
