package server

import (
	"log/slog"

	"github.com/petalstack/florae/internal/ledger"
	"github.com/petalstack/florae/pkg/flora"
	"github.com/petalstack/florae/pkg/types"
)

// SignerProvider obtains the wallet capability for an account at session
// connect. The server never inspects it.
type SignerProvider func(accountID types.AccountID) (ledger.Signer, error)

// Config holds server configuration.
type Config struct {
	Service        flora.Service
	SignerProvider SignerProvider
	Logger         *slog.Logger
}

// Option configures the server.
type Option func(*Config)

// WithService sets the flora protocol service.
func WithService(svc flora.Service) Option {
	return func(c *Config) {
		c.Service = svc
	}
}

// WithSignerProvider sets the wallet connector glue used at connect.
func WithSignerProvider(p SignerProvider) Option {
	return func(c *Config) {
		c.SignerProvider = p
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

func applyOptions(opts ...Option) *Config {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
