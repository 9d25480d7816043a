package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Titusvirous/ToxicInfoBot/internal/cache"
	"github.com/Titusvirous/ToxicInfoBot/internal/config"
	"github.com/Titusvirous/ToxicInfoBot/internal/convo"
	"github.com/Titusvirous/ToxicInfoBot/internal/httpserver"
	"github.com/Titusvirous/ToxicInfoBot/internal/ledger"
	"github.com/Titusvirous/ToxicInfoBot/internal/logging"
	"github.com/Titusvirous/ToxicInfoBot/internal/metrics"
	"github.com/Titusvirous/ToxicInfoBot/internal/numinfo"
	"github.com/Titusvirous/ToxicInfoBot/internal/repo"
	"github.com/Titusvirous/ToxicInfoBot/internal/tg"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting infobot", "env", cfg.AppEnv, "store", cfg.StoreDriver, "mode", cfg.UpdateMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	store, err := repo.Open(ctx, repo.Options{
		Driver:   cfg.StoreDriver,
		URL:      cfg.DatabaseURL,
		Database: cfg.DatabaseName,
		Schema:   cfg.DatabaseSchema,
	}, logger)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("store migrated")

	readiness := httpserver.Dependencies{"store": store}

	var redisClient *cache.Redis
	var sessions convo.SessionStore = convo.NewMemorySessions()
	if cfg.RedisAddr != "" {
		redisClient = cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			UseTLS:   cfg.RedisTLS,
			Prefix:   cfg.RedisPrefix,
		}, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}()
		if err := redisClient.Ping(ctx); err != nil {
			logger.Warn("redis ping failed", "error", err)
		}
		sessions = convo.NewRedisSessions(redisClient)
		readiness["redis"] = redisClient
	} else {
		logger.Info("redis not configured, flow sessions kept in memory and lookup cache disabled")
	}

	ledgerSvc := ledger.NewService(store, ledger.Config{
		InitialCredits: cfg.InitialCredits,
		ReferralCredit: cfg.ReferralCredit,
	}, logger, metricRegistry)

	lookupClient := numinfo.New(numinfo.Config{
		BaseURL:  cfg.LookupBaseURL,
		Timeout:  cfg.LookupTimeout,
		CacheTTL: cfg.LookupCacheTTL,
	}, logger, metricRegistry, redisClient)

	tgClient, err := tg.New(tg.Config{
		Token:   cfg.BotToken,
		Debug:   strings.EqualFold(cfg.LogLevel, "debug"),
		Metrics: metricRegistry,
	}, logger)
	if err != nil {
		return fmt.Errorf("init telegram client: %w", err)
	}

	engine := convo.NewEngine(convo.Config{
		Channel:              cfg.ChannelUsername,
		AdminIDs:             cfg.AdminIDs,
		SupportContact:       cfg.SupportContact,
		FlowIdleTimeout:      cfg.FlowIdleTimeout,
		BroadcastRate:        cfg.BroadcastRate,
		BroadcastConcurrency: cfg.BroadcastConcurrency,
	}, ledgerSvc, lookupClient, tgClient, sessions, logger, metricRegistry)

	dispatcher := tg.NewDispatcher(engine, logger, metricRegistry)

	var handlers httpserver.Handlers
	if cfg.UpdateMode == config.ModeWebhook {
		handlers.TelegramWebhook = tg.NewWebhookHandler(logger, metricRegistry, cfg.WebhookSecret, dispatcher)
	}
	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, handlers, readiness, cfg.PublicBasePath)

	errCh := make(chan error, 2)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	switch cfg.UpdateMode {
	case config.ModeWebhook:
		webhookURL := strings.TrimRight(cfg.PublicBaseURL, "/") + httpSrv.BasePath() + httpserver.WebhookPath
		if err := tgClient.SetWebhook(ctx, webhookURL, cfg.WebhookSecret); err != nil {
			return fmt.Errorf("register webhook: %w", err)
		}
	default:
		go func() {
			if err := tgClient.Poll(ctx, dispatcher); err != nil {
				errCh <- fmt.Errorf("long polling: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("component failed", "error", err)
			stop()
			shutdown(httpSrv, dispatcher, logger)
			return err
		}
	}

	shutdown(httpSrv, dispatcher, logger)
	return nil
}

func shutdown(httpSrv *httpserver.Server, dispatcher *tg.Dispatcher, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Error("dispatcher drain incomplete", "error", err)
	}
}
