// Package main запускает HTTP-сервер сервиса магазина.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/boutique-system/internal/bag"
	"github.com/mmeshcher/boutique-system/internal/config"
	"github.com/mmeshcher/boutique-system/internal/handler"
	"github.com/mmeshcher/boutique-system/internal/mail"
	"github.com/mmeshcher/boutique-system/internal/middleware"
	"github.com/mmeshcher/boutique-system/internal/payment"
	"github.com/mmeshcher/boutique-system/internal/repository"
	"github.com/mmeshcher/boutique-system/internal/service"
	"github.com/mmeshcher/boutique-system/internal/session"
	"github.com/mmeshcher/boutique-system/internal/webhook"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	deliveryCfg, err := deliveryConfig(cfg)
	if err != nil {
		sugar.Fatalw("delivery configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
	defer redisClient.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		sugar.Fatalw("redis initialization error", "error", err.Error())
	}
	cancelPing()

	bags := session.NewStore(redisClient)
	pricer := bag.NewPricer(repo, deliveryCfg)

	if cfg.StripePublicKey == "" {
		sugar.Warnw("stripe public key is missing, checkout form will warn the customer")
	}

	stripeClient := payment.NewStripeClient(cfg.StripeSecretKey, cfg.StripeCurrency)
	eventParser := payment.NewEventParser(cfg.StripeWebhookSecret)
	mailClient := mail.NewClient(cfg.MailAPIAddress, cfg.MailAPIKey, cfg.DefaultFromEmail)

	svc := service.NewService(repo, bags, stripeClient, pricer, cfg.StripePublicKey)
	defer svc.Close()

	reconciler := webhook.NewReconciler(repo, pricer, mailClient, logger)

	sessions := middleware.NewSessionMiddleware(cfg.SessionSecret)
	h := handler.NewHandler(svc, reconciler, eventParser, logger, sessions)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting boutique server", "addr", cfg.RunAddress)
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

func deliveryConfig(cfg *config.Config) (bag.Config, error) {
	threshold, err := decimal.NewFromString(cfg.FreeDeliveryThreshold)
	if err != nil {
		return bag.Config{}, fmt.Errorf("parse free delivery threshold: %w", err)
	}

	percentage, err := decimal.NewFromString(cfg.StandardDeliveryPercentage)
	if err != nil {
		return bag.Config{}, fmt.Errorf("parse standard delivery percentage: %w", err)
	}

	return bag.Config{
		FreeDeliveryThreshold:      threshold,
		StandardDeliveryPercentage: percentage,
	}, nil
}
