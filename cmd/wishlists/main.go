package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/hscopalm/shareable-wishlists/internal/api"
	"github.com/hscopalm/shareable-wishlists/internal/config"
	"github.com/hscopalm/shareable-wishlists/internal/handlers"
	"github.com/hscopalm/shareable-wishlists/internal/metrics"
	"github.com/hscopalm/shareable-wishlists/internal/repository"
	"github.com/hscopalm/shareable-wishlists/internal/repository/memory"
	"github.com/hscopalm/shareable-wishlists/internal/repository/postgres"
	"github.com/hscopalm/shareable-wishlists/internal/service"
	"github.com/hscopalm/shareable-wishlists/internal/telegram"
	"github.com/hscopalm/shareable-wishlists/pkg/logger"
)

type repositories struct {
	users  repository.UserRepository
	lists  repository.WishListRepository
	shares repository.ShareRepository
	close  func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	l := logger.New(cfg.LogLevel)
	l.Info("Starting shareable wishlists...")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repos, err := openRepositories(ctx, cfg, l)
	if err != nil {
		l.Fatalf("Failed to open storage: %v", err)
	}
	defer repos.close()

	// Service layer
	claims := service.NewClaimCoordinator(repos.lists, l, service.WithMaxRetries(cfg.ClaimMaxRetries))
	svc := service.New(l, repos.users, repos.lists, repos.shares, claims)

	go svc.StartPendingShareSweeper(ctx, cfg.SweepInterval, cfg.PendingShareTTL)

	// HTTP API
	apiServer := api.NewServer(svc, l)
	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: apiServer.Handler(),
	}
	go serve(l, "HTTP server", httpServer)

	// Metrics
	metricsServer := &http.Server{
		Addr:    ":" + cfg.PrometheusPort,
		Handler: metrics.Handler(),
	}
	go serve(l, "Metrics server", metricsServer)

	// Telegram bot
	if cfg.TelegramEnabled() {
		bot, err := telegram.NewBot(cfg.TelegramToken, l)
		if err != nil {
			l.Fatalf("Failed to create Telegram bot: %v", err)
		}

		bot.RegisterCommand("start", handlers.NewStartHandler(l))
		bot.RegisterCommand("help", handlers.NewHelpHandler(l))
		bot.RegisterCommand("shared", handlers.NewSharedHandler(svc, l))

		claimHandler := handlers.NewClaimHandler(svc, l)
		bot.RegisterCommand("claim", claimHandler)
		bot.RegisterCallback(handlers.ClaimCallbackAction, claimHandler)

		go func() {
			if err := bot.Start(ctx); err != nil {
				l.Errorf("Bot error: %v", err)
			}
		}()
	} else {
		l.Info("TELEGRAM_TOKEN not set, Telegram bot disabled")
	}

	l.Info("Shareable wishlists started successfully")

	<-ctx.Done()
	l.Info("Received shutdown signal...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	l.Info("Shutting down HTTP servers...")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		l.Errorf("HTTP server shutdown error: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		l.Errorf("Metrics server shutdown error: %v", err)
	}

	l.Info("Shareable wishlists stopped")
}

func openRepositories(ctx context.Context, cfg *config.Config, l *logrus.Logger) (*repositories, error) {
	if cfg.StorageBackend == config.BackendMemory {
		l.Warn("Using in-memory storage, data is lost on restart")
		store := memory.New()
		return &repositories{
			users:  store.Users(),
			lists:  store.WishLists(),
			shares: store.Shares(),
			close:  func() error { return nil },
		}, nil
	}

	db, err := config.NewDatabase(ctx, cfg.DatabaseURL, l)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(cfg.MigrationsPath); err != nil {
		db.Close()
		return nil, err
	}

	return &repositories{
		users:  postgres.NewUserRepository(db.DB),
		lists:  postgres.NewWishListRepository(db.DB),
		shares: postgres.NewShareRepository(db.DB),
		close:  db.Close,
	}, nil
}

func serve(l *logrus.Logger, name string, srv *http.Server) {
	l.Infof("%s listening on %s", name, srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Errorf("%s error: %v", name, err)
	}
}
