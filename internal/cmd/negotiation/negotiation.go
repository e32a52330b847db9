// Package negotiation parses negotiation command flags and composes
// transport entrypoints.
package negotiation

import (
	"context"
	"flag"
	"fmt"

	entrypoint "github.com/uday68/VyaparMitra-sub002/internal/platform/cmd"
	server "github.com/uday68/VyaparMitra-sub002/internal/services/negotiation/app"
)

// Config holds negotiation command configuration.
type Config struct {
	HTTPAddr          string `env:"VYAPARMITRA_NEGOTIATION_HTTP_ADDR" envDefault:":8087"`
	TranslatorBaseURL string `env:"VYAPARMITRA_TRANSLATOR_BASE_URL"   envDefault:"http://localhost:8090"`
	AuthSigningSecret string `env:"VYAPARMITRA_AUTH_SIGNING_SECRET"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "negotiation HTTP listen address")
	fs.StringVar(&cfg.TranslatorBaseURL, "translator-base-url", cfg.TranslatorBaseURL, "translation service base URL")
	fs.StringVar(&cfg.AuthSigningSecret, "auth-signing-secret", cfg.AuthSigningSecret, "session token HS256 signing secret")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the negotiation app and starts realtime transport behavior.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceNegotiation, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:          cfg.HTTPAddr,
			TranslatorBaseURL: cfg.TranslatorBaseURL,
			AuthSigningSecret: cfg.AuthSigningSecret,
		}); err != nil {
			return fmt.Errorf("serve negotiation: %w", err)
		}
		return nil
	})
}
