package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"mirrord/internal/broker"
	"mirrord/internal/config"
	"mirrord/internal/engine"
	"mirrord/internal/httpapi"
	"mirrord/internal/notify"
	"mirrord/internal/store"
	"mirrord/internal/util"
)

func main() {
	cfgPath := "config/mirrord.yaml"
	if p := os.Getenv("MIRRORD_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	st, err := store.NewSQLiteStore(sqlitePath(cfg))
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer st.Close()

	bk := newBroker(cfg)
	logger.Info("broker selected", "kind", bk.Name())

	var notifier notify.Notifier = notify.Noop{}
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != 0 {
		tg, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
		if err != nil {
			log.Fatalf("connecting telegram: %v", err)
		}
		notifier = tg
		logger.Info("telegram notifications enabled", "chat_id", cfg.Telegram.ChatID)
	} else {
		logger.Info("telegram not configured, notifications disabled")
	}

	dispatcher := engine.NewDispatcher(st, st, bk, notifier,
		cfg.Dispatch, cfg.Broker.Timeout(), logger)
	reconciler := engine.NewReconciler(st, st, bk, notifier,
		cfg.Reconcile, cfg.Broker.Timeout(), logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reconciler.Start(ctx)
	defer reconciler.Stop()

	if cfg.Auth.Token == "" {
		logger.Warn("auth token not configured, API is unauthenticated")
	}
	srv := httpapi.NewServer(dispatcher, st, st,
		bk.Name(), cfg.Broker.Kind == "simulator" || cfg.Broker.Kind == "",
		cfg.Auth.Token, logger)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: srv.Handler(),
	}

	go func() {
		logger.Info("mirrord listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down mirrord")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func sqlitePath(cfg *config.Config) string {
	if cfg.Storage.SQLitePath != "" {
		return cfg.Storage.SQLitePath
	}
	dir := cfg.Storage.DataDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "mirrord.db")
}

func newBroker(cfg *config.Config) broker.Client {
	switch cfg.Broker.Kind {
	case "tradelocker":
		return broker.NewRESTClient(cfg.Broker.BaseURL, cfg.Broker.Timeout())
	case "alpaca":
		return broker.NewAlpacaClient(cfg.Alpaca.BaseURL, cfg.Alpaca.APIKey, cfg.Alpaca.APISecret)
	default:
		return broker.NewSimulator()
	}
}
