package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"search-agent/handler"
	"search-agent/internal/config"
	"search-agent/internal/gateway"
	"search-agent/internal/integrations/credentials"
	"search-agent/internal/integrations/gemini"
	"search-agent/internal/integrations/websearch"
	"search-agent/internal/repository"
	"search-agent/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		slog.Error("search-agent stopped", "err", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.LoadLocal()
	if err != nil {
		return err
	}
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	store, err := repository.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	// Credentials come from the environment; a missing key fails the call
	// that needs it.
	creds, err := credentials.NewResolver(credentials.StaticGetter{
		gemini.APIKeyParameter:      cfg.GeminiAPIKey,
		websearch.APIKeyParameter:   cfg.CSEAPIKey,
		websearch.EngineIDParameter: cfg.CSEID,
	}, "")
	if err != nil {
		return err
	}

	gw := gateway.New(gateway.WithLogger(logger))
	model, err := gemini.NewClient(gw, creds,
		gemini.WithBaseURL(cfg.GeminiBaseURL),
		gemini.WithModel(cfg.GeminiModel),
		gemini.WithBudget(cfg.ModelBudget()),
	)
	if err != nil {
		return err
	}
	search, err := websearch.NewClient(gw, creds,
		websearch.WithBaseURL(cfg.SearchBaseURL),
		websearch.WithResultCount(cfg.SearchResultCount),
		websearch.WithBudget(cfg.SearchBudget()),
	)
	if err != nil {
		return err
	}

	svc, err := usecase.NewSearchService(model, search, store,
		usecase.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	h, err := handler.NewHandler(svc,
		handler.WithLogger(logger),
		handler.WithMaxQueryLength(cfg.MaxQueryLength),
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "sqlite", cfg.SQLitePath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
