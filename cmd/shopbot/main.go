// Package main запускает HTTP-сервер витрины цифровых товаров.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/shopbot/internal/broadcast"
	"github.com/mmeshcher/shopbot/internal/cache"
	"github.com/mmeshcher/shopbot/internal/config"
	"github.com/mmeshcher/shopbot/internal/handler"
	"github.com/mmeshcher/shopbot/internal/logger"
	"github.com/mmeshcher/shopbot/internal/middleware"
	"github.com/mmeshcher/shopbot/internal/repository"
	"github.com/mmeshcher/shopbot/internal/service"
	"github.com/mmeshcher/shopbot/internal/telegram"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.AppEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger initialization error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	sugar := log.Sugar()

	repo, err := openRepository(cfg)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := service.Options{
		Channel:           cfg.ChannelID,
		CheckSubscription: cfg.CheckSubscription,
	}

	if cfg.RedisAddr != "" {
		catalogCache, err := cache.Connect(ctx, cfg.RedisAddr, cfg.CacheTTL)
		if err != nil {
			sugar.Warnw("catalog cache disabled", "addr", cfg.RedisAddr, "error", err.Error())
		} else {
			defer catalogCache.Close()
			opts.Cache = catalogCache
			sugar.Infow("catalog cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.CacheTTL)
		}
	}

	var sender broadcast.Sender
	if cfg.BotToken != "" {
		client := telegram.NewClient(cfg.TelegramAPIURL, cfg.BotToken)
		opts.Notifier = client
		sender = client
	} else {
		sugar.Warn("BOT_TOKEN is not set, broadcasts and subscription checks are disabled")
	}

	svc := service.NewService(repo, log, opts)
	defer svc.Close()

	if err := svc.InitDefaultInfoTexts(ctx); err != nil {
		sugar.Fatalw("info texts initialization error", "error", err.Error())
	}

	g, ctx := errgroup.WithContext(ctx)

	broadcasts := broadcast.NewRunner(ctx, repo, sender, log.Named("broadcast"), cfg.BroadcastDelay)

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret, log)
	h := handler.NewHandler(svc, broadcasts, log, authMiddleware, cfg.AdminIDs)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Периодическая сверка остатков
	g.Go(func() error {
		return svc.RunStockReconciler(ctx, cfg.ReconcileInterval)
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting shop server",
			"addr", cfg.RunAddress,
			"storage", storageName(cfg),
			"admins", len(cfg.AdminIDs),
		)
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
		broadcasts.Wait()
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Errorw("application terminated with error", "error", err)
		svc.Close()
		os.Exit(1)
	}
}

type shopRepository interface {
	service.Repository
	broadcast.Recipients
}

func openRepository(cfg *config.Config) (shopRepository, error) {
	if cfg.UsePostgres() {
		return repository.NewPostgresRepository(cfg.DatabaseURI)
	}
	return repository.NewSQLiteRepository(cfg.DatabasePath)
}

func storageName(cfg *config.Config) string {
	if cfg.UsePostgres() {
		return "postgres"
	}
	return "sqlite:" + cfg.DatabasePath
}
