// Package keepalive pings the service's own health endpoint so an idle
// hosting platform does not suspend the process.
package keepalive

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DefaultInterval keeps the process warm on platforms with a 15-minute idle
// timeout.
const DefaultInterval = 14 * time.Minute

// Loop issues periodic liveness probes against a public base URL.
type Loop struct {
	client   *http.Client
	logger   *slog.Logger
	baseURL  string
	interval time.Duration
}

// New creates a keep-alive loop for baseURL. A zero interval takes the default.
func New(baseURL string, interval time.Duration, logger *slog.Logger) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Loop{
		client:   &http.Client{Timeout: 30 * time.Second},
		baseURL:  baseURL,
		interval: interval,
		logger:   logger,
	}
}

// Run pings until the context is cancelled. Failures are logged and the loop
// keeps going; it never terminates the process.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("Keep-alive loop started", "url", l.baseURL, "interval", l.interval.String())

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Keep-alive loop stopped")
			return
		case <-ticker.C:
			if err := l.ping(ctx); err != nil {
				l.logger.Warn("Keep-alive ping failed", "error", err)
				continue
			}
			l.logger.Info("Keep-alive ping succeeded")
		}
	}
}

func (l *Loop) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/health", http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			l.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}
