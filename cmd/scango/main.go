// Package main запускает HTTP-сервер оформления заказов и контроля выхода.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/scango-gate/internal/config"
	"github.com/mmeshcher/scango-gate/internal/handler"
	"github.com/mmeshcher/scango-gate/internal/ledger"
	"github.com/mmeshcher/scango-gate/internal/middleware"
	"github.com/mmeshcher/scango-gate/internal/repository"
	"github.com/mmeshcher/scango-gate/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := newRepository(cfg)
	if err != nil {
		sugar.Fatalw("storage initialization error", "error", err.Error())
	}

	var ledgerClient ledger.Client
	if cfg.LedgerAddress != "" {
		ledgerClient = ledger.NewHTTPClient(cfg.LedgerAddress, cfg.LedgerTimeout, cfg.LedgerRetryMax, logger)
		sugar.Infow("using ledger gateway", "addr", cfg.LedgerAddress)
	} else {
		ledgerClient = ledger.NewFake(logger)
		sugar.Warn("LEDGER_ADDRESS is empty, using in-memory ledger")
	}

	svc := service.NewService(repo, ledgerClient, logger, service.Options{
		LedgerTimeout: cfg.LedgerTimeout,
		AutoPayOnline: cfg.AutoPayOnline,
	})
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.StaffSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, handler.Options{
		StaffPassword:  cfg.StaffPassword,
		DefaultStoreID: cfg.StoreID,
	})

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting scan-and-go gate server", "addr", cfg.RunAddress, "store", cfg.StoreID)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func newRepository(cfg *config.Config) (service.Repository, error) {
	if cfg.DatabaseURI == "" {
		return repository.NewMemoryRepository()
	}
	return repository.NewPostgresRepository(cfg.DatabaseURI, cfg.ReceiptCacheSize)
}
