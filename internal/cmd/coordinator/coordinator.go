// Package coordinator parses coordinator command flags and composes the
// fleet gateway entrypoint.
package coordinator

import (
	"context"
	"flag"
	"fmt"
	"time"

	entrypoint "github.com/rydklein/bflauncher-server/internal/platform/cmd"
	server "github.com/rydklein/bflauncher-server/internal/services/fleet/app"
)

// Config holds coordinator command configuration.
type Config struct {
	HTTPAddr             string        `env:"BFLAUNCHER_HTTP_ADDR"              envDefault:":8080"`
	ConfigDir            string        `env:"BFLAUNCHER_CONFIG_DIR"             envDefault:"./config"`
	SessionIssuer        string        `env:"BFLAUNCHER_SESSION_ISSUER"`
	SessionAudience      string        `env:"BFLAUNCHER_SESSION_AUDIENCE"`
	SessionPublicKey     string        `env:"BFLAUNCHER_SESSION_PUBLIC_KEY"`
	BalanceInterval      time.Duration `env:"BFLAUNCHER_BALANCE_INTERVAL"       envDefault:"1m"`
	ConfigReloadInterval time.Duration `env:"BFLAUNCHER_CONFIG_RELOAD_INTERVAL" envDefault:"15s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "coordinator HTTP listen address")
	fs.StringVar(&cfg.ConfigDir, "config-dir", cfg.ConfigDir, "directory holding settings.json, operators.json, servers.json")
	fs.StringVar(&cfg.SessionIssuer, "session-issuer", cfg.SessionIssuer, "expected issuer of operator session tokens")
	fs.StringVar(&cfg.SessionAudience, "session-audience", cfg.SessionAudience, "expected audience of operator session tokens")
	fs.StringVar(&cfg.SessionPublicKey, "session-public-key", cfg.SessionPublicKey, "base64 ed25519 public key for session verification")
	fs.DurationVar(&cfg.BalanceInterval, "balance-interval", cfg.BalanceInterval, "auto-balance pass interval")
	fs.DurationVar(&cfg.ConfigReloadInterval, "config-reload-interval", cfg.ConfigReloadInterval, "config file poll interval")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the coordinator app and serves it until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceCoordinator, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:             cfg.HTTPAddr,
			ConfigDir:            cfg.ConfigDir,
			SessionIssuer:        cfg.SessionIssuer,
			SessionAudience:      cfg.SessionAudience,
			SessionPublicKey:     cfg.SessionPublicKey,
			BalanceInterval:      cfg.BalanceInterval,
			ConfigReloadInterval: cfg.ConfigReloadInterval,
		}); err != nil {
			return fmt.Errorf("serve coordinator: %w", err)
		}
		return nil
	})
}
