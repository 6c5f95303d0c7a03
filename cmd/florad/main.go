package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/petalstack/florae/internal/config"
	"github.com/petalstack/florae/internal/ledger"
	"github.com/petalstack/florae/internal/registry"
	"github.com/petalstack/florae/internal/storage/sqlite"
	"github.com/petalstack/florae/pkg/flora"
	"github.com/petalstack/florae/pkg/server"
	"github.com/petalstack/florae/pkg/types"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// Per-identity local stores; the ledger stays the source of truth.
	storeManager := sqlite.NewStoreManager(cfg.DataPath)
	defer storeManager.CloseAll()

	mirror := ledger.NewMirrorClient(cfg.MirrorURL)
	stream := ledger.NewStreamSubscriber(cfg.MirrorWSURL, cfg.StreamRetry, logger)
	channel := ledger.NewChannel(mirror, stream)
	submitter := ledger.NewRelaySubmitter(cfg.GatewayURL)
	directory := registry.NewClient(cfg.RegistryURL)

	service := flora.NewFloraService(flora.FloraServiceConfig{
		Submitter: submitter,
		Channel:   channel,
		Directory: directory,
		Stores:    storeManager,
		Logger:    logger,
	})

	signerProvider := func(accountID types.AccountID) (ledger.Signer, error) {
		return ledger.NewWalletSigner(cfg.WalletURL, accountID), nil
	}

	srv, err := server.NewServer(
		server.WithService(service),
		server.WithSignerProvider(signerProvider),
		server.WithLogger(logger),
	)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	logger.Info("florad listening", "addr", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, srv); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
