// Package main implements a relay service that publishes an operator's chat
// messages as tweets and forwards inbound Twitter direct messages back to
// the operator's Telegram chat.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/storage"

	"telegram-twitter-relay/dispatch"
	"telegram-twitter-relay/keepalive"
	"telegram-twitter-relay/ledger"
	"telegram-twitter-relay/media"
	"telegram-twitter-relay/poll"
	"telegram-twitter-relay/telegram"
	"telegram-twitter-relay/twitter"
	"telegram-twitter-relay/webhook"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	client, err := twitter.New(&twitter.Config{
		Credentials: cfg.Twitter,
		MaxLength:   cfg.MaxPostLength,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("Failed to initialize Twitter client", "error", err)
		os.Exit(1)
	}

	store, closeStore, err := newLedgerStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize ledger store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	dedup, err := ledger.New(ctx, store, cfg.DedupRetention, logger)
	if err != nil {
		logger.Error("Failed to load dedup ledger", "error", err)
		os.Exit(1)
	}

	var chatProvider telegram.Provider
	if cfg.TelegramBotToken == "" || cfg.TelegramChatID == "" {
		logger.Info("Mock chat mode enabled (no TELEGRAM_BOT_TOKEN / TELEGRAM_CHAT_ID)")
		chatProvider = telegram.NewMockProvider(logger)
	} else {
		chatProvider = telegram.NewBotProvider(cfg.TelegramBotToken, cfg.TelegramChatID, "", logger)
	}
	notifier := telegram.New(chatProvider, logger)

	pipeline := media.New(client, cfg.MaxMediaDimension, cfg.JPEGQuality, logger)
	dispatcher := dispatch.New(client, pipeline, cfg.MaxPostLength, cfg.MaxMediaPerPost, logger)

	rly := &Relay{
		dispatcher: dispatcher,
		ledger:     dedup,
		forwarder:  notifier,
		identity:   client,
		verifier:   webhook.NewVerifier(cfg.WebhookSecret),
		logger:     logger,
	}
	poller := poll.New(client, rly, cfg.PollInterval, cfg.PollBatchSize, logger)
	rly.poller = poller

	var wg sync.WaitGroup
	if cfg.BaseURL != "" {
		keep := keepalive.New(cfg.BaseURL, cfg.KeepAliveInterval, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			keep.Run(ctx)
		}()
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           rly.routes(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "port", cfg.Port)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
		}
	}

	poller.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server shutdown failed", "error", err)
	}

	wg.Wait()
	logger.Info("Shutdown complete")
}

// newLedgerStore picks the ledger backend: Cloud Storage when a bucket is
// configured, a local file otherwise.
func newLedgerStore(ctx context.Context, cfg *Config, logger *slog.Logger) (ledger.Store, func(), error) {
	if cfg.StorageBucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}
		logger.Info("Ledger backed by Cloud Storage", "bucket", cfg.StorageBucket, "object", cfg.LedgerObject)
		return ledger.NewGCSStore(client, cfg.StorageBucket, cfg.LedgerObject, logger), closeFn, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LedgerPath), 0o755); err != nil {
		return nil, nil, err
	}
	logger.Info("Ledger backed by local file", "path", cfg.LedgerPath)
	return ledger.NewFileStore(cfg.LedgerPath, logger), func() {}, nil
}
