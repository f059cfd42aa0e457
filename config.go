package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"telegram-twitter-relay/twitter"
)

// Config is the validated service configuration, built once at startup and
// passed down. Business logic never reads the environment.
type Config struct {
	Twitter twitter.Credentials

	TelegramBotToken string
	TelegramChatID   string

	// WebhookSecret signs CRC challenges and callback payloads. Defaults to
	// the Twitter API secret, which is what the provider signs with.
	WebhookSecret string

	BaseURL string
	Port    string

	// Ledger persistence: a Cloud Storage bucket when set, a local file
	// otherwise.
	StorageBucket string
	LedgerObject  string
	LedgerPath    string

	MaxPostLength     int
	MaxMediaPerPost   int
	MaxMediaDimension int
	JPEGQuality       int
	PollBatchSize     int
	PollInterval      time.Duration
	DedupRetention    time.Duration
	KeepAliveInterval time.Duration
}

func loadConfig() (*Config, error) {
	cfg := &Config{
		Twitter: twitter.Credentials{
			APIKey:            os.Getenv("TWITTER_API_KEY"),
			APISecret:         os.Getenv("TWITTER_API_SECRET"),
			AccessToken:       os.Getenv("TWITTER_ACCESS_TOKEN"),
			AccessTokenSecret: os.Getenv("TWITTER_ACCESS_TOKEN_SECRET"),
			BearerToken:       os.Getenv("TWITTER_BEARER_TOKEN"),
		},
		TelegramBotToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:    os.Getenv("TELEGRAM_CHAT_ID"),
		WebhookSecret:     os.Getenv("WEBHOOK_SECRET"),
		BaseURL:           os.Getenv("BASE_URL"),
		Port:              os.Getenv("PORT"),
		StorageBucket:     os.Getenv("STORAGE_BUCKET"),
		LedgerObject:      os.Getenv("LEDGER_OBJECT"),
		LedgerPath:        os.Getenv("LEDGER_PATH"),
		MaxPostLength:     280,
		MaxMediaPerPost:   4,
		MaxMediaDimension: 2048,
		JPEGQuality:       85,
		PollBatchSize:     100,
		PollInterval:      60 * time.Second,
		DedupRetention:    7 * 24 * time.Hour,
		KeepAliveInterval: 14 * time.Minute,
	}

	if cfg.WebhookSecret == "" {
		cfg.WebhookSecret = cfg.Twitter.APISecret
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.LedgerPath == "" {
		cfg.LedgerPath = "./data/ledger.json"
	}
	if cfg.LedgerObject == "" {
		cfg.LedgerObject = "dedup-ledger.json"
	}

	var err error
	if cfg.MaxPostLength, err = envInt("MAX_POST_LENGTH", cfg.MaxPostLength); err != nil {
		return nil, err
	}
	if cfg.PollBatchSize, err = envInt("POLL_BATCH_SIZE", cfg.PollBatchSize); err != nil {
		return nil, err
	}
	seconds, err := envInt("POLL_INTERVAL_SECONDS", int(cfg.PollInterval.Seconds()))
	if err != nil {
		return nil, err
	}
	cfg.PollInterval = time.Duration(seconds) * time.Second

	days, err := envInt("DEDUP_RETENTION_DAYS", int(cfg.DedupRetention.Hours()/24))
	if err != nil {
		return nil, err
	}
	cfg.DedupRetention = time.Duration(days) * 24 * time.Hour

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and sane ranges.
func (c *Config) Validate() error {
	if err := c.Twitter.Validate(); err != nil {
		return err
	}
	if c.MaxPostLength <= 0 {
		return errors.New("max post length must be positive")
	}
	if c.MaxMediaPerPost <= 0 {
		return errors.New("max media per post must be positive")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.PollBatchSize <= 0 || c.PollBatchSize > 100 {
		return errors.New("poll batch size must be between 1 and 100")
	}
	if c.DedupRetention <= 0 {
		return errors.New("dedup retention must be positive")
	}
	return nil
}

func envInt(name string, fallback int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return v, nil
}
