package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"conversa/internal/config"
	"conversa/internal/http"
	"conversa/internal/logging"
	"conversa/internal/storage"
	"conversa/internal/ws"

	"golang.org/x/sync/errgroup"
)

func openStore(cfg *config.Config, logger *slog.Logger) (storage.RoomStore, error) {
	if cfg.DBFile == "" {
		logger.Info("using in-memory room store")
		return storage.NewMemoryStore(), nil
	}
	logger.Info("using bbolt room store", "path", cfg.DBFile)
	return storage.NewBboltStore(cfg.DBFile)
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, logCloser := logging.New(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = logCloser.Close() }()

	store, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("open room store: %w", err)
	}
	defer func() { _ = store.Close() }()

	hub := ws.NewHub(ws.HubConfig{
		Store:      store,
		SendBuffer: cfg.SendBuffer,
		Logger:     logger.With("component", "hub"),
	})

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gCtx)
		return nil
	})

	wsServer := ws.NewServer(gCtx, hub, ws.ConnectionOptions{
		PingInterval: cfg.PingInterval,
		WriteTimeout: cfg.WriteTimeout,
		Logger:       logger.With("component", "ws"),
	})
	apiServer := http.NewAPIServer(wsServer, hub, cfg.ListenAddr, logger)

	var adminServer *http.AdminServer
	if cfg.AdminAddr != "" {
		adminServer = http.NewAdminServer(hub, cfg.AdminAddr, logger)
		g.Go(adminServer.Start)
	}

	g.Go(apiServer.Start)

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if adminServer != nil {
			if err := adminServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("admin server shutdown error", "error", err)
			}
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("API server shutdown error", "error", err)
		}
		<-hub.Done()
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}
