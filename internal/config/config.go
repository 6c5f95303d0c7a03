// Package config loads daemon configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds everything florad needs to reach its collaborators.
type Config struct {
	ListenAddr  string        `env:"FLORAD_LISTEN_ADDR" envDefault:":7420"`
	DataPath    string        `env:"FLORAD_DATA_PATH" envDefault:"./data"`
	LogLevel    string        `env:"FLORAD_LOG_LEVEL" envDefault:"info"`
	MirrorURL   string        `env:"FLORAD_MIRROR_URL,required"`
	MirrorWSURL string        `env:"FLORAD_MIRROR_WS_URL,required"`
	GatewayURL  string        `env:"FLORAD_GATEWAY_URL,required"`
	WalletURL   string        `env:"FLORAD_WALLET_URL,required"`
	RegistryURL string        `env:"FLORAD_REGISTRY_URL,required"`
	StreamRetry time.Duration `env:"FLORAD_STREAM_RETRY" envDefault:"5s"`
}

// New loads configuration from .env (when present) and the environment.
func New() (*Config, error) {
	// A missing .env is fine; the environment may carry everything.
	_ = godotenv.Load(".env")

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return &cfg, nil
}
