// Package main запускает HTTP-сервер сервиса кликпет.
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

	"github.com/Draminhon/ClickPet-sub001/internal/billing"
	"github.com/Draminhon/ClickPet-sub001/internal/config"
	"github.com/Draminhon/ClickPet-sub001/internal/handler"
	"github.com/Draminhon/ClickPet-sub001/internal/middleware"
	"github.com/Draminhon/ClickPet-sub001/internal/repository"
	"github.com/Draminhon/ClickPet-sub001/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	var billingClient *billing.Client
	if cfg.BillingSystemAddress != "" {
		billingClient = billing.NewClient(cfg.BillingSystemAddress)
	}

	opts := service.Options{
		ReferralRewardPoints: cfg.ReferralRewardPoints,
	}
	if cfg.ReferralMinOrder > 0 {
		minOrder := cfg.ReferralMinOrder
		opts.ReferralQualifier = func(totalCents int64) bool {
			return totalCents >= minOrder
		}
	}

	svc := service.NewService(repo, billingClient, opts)
	defer svc.Close()

	if err := svc.EnsureAdmin(context.Background(), cfg.AdminLogin, cfg.AdminPassword); err != nil {
		sugar.Fatalw("admin bootstrap error", "error", err.Error())
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фонового процесса обработки истёкших подписок
	g.Go(func() error {
		svc.StartExpirySweeps(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting clickpet server", "addr", cfg.RunAddress)
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
