// Package telegram delivers relay notifications to the operator's chat. The
// Bot API handle is created once and reused across calls; pluggable providers
// keep local development free of real credentials.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"telegram-twitter-relay/pkg/relay"
)

// Provider defines the interface for chat message delivery implementations.
type Provider interface {
	// SendMessage delivers one text message to the operator chat.
	SendMessage(ctx context.Context, text string) error
}

// Notifier formats relay events and sends them through a provider.
type Notifier struct {
	provider Provider
	logger   *slog.Logger
}

// New creates a notifier with the given provider.
func New(provider Provider, logger *slog.Logger) *Notifier {
	return &Notifier{provider: provider, logger: logger}
}

// ForwardDirectMessage delivers one inbound Twitter DM to the operator chat.
func (n *Notifier) ForwardDirectMessage(ctx context.Context, ev relay.DirectMessageEvent) error {
	var b strings.Builder
	sender := ev.SenderName
	if sender == "" {
		sender = ev.SenderID
	}
	if ev.SenderHandle != "" {
		fmt.Fprintf(&b, "New DM from %s (@%s)\n\n", sender, ev.SenderHandle)
	} else {
		fmt.Fprintf(&b, "New DM from %s\n\n", sender)
	}
	b.WriteString(ev.Text)
	for _, attachment := range ev.Attachments {
		b.WriteString("\n")
		b.WriteString(attachment)
	}
	if !ev.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "\n\nReceived %s", ev.CreatedAt.Format(time.RFC1123))
	}

	n.logger.Info("Forwarding direct message", "message_id", ev.ID, "sender_id", ev.SenderID)
	return n.provider.SendMessage(ctx, b.String())
}

// BotProvider sends messages via the Telegram Bot API.
type BotProvider struct {
	client  *http.Client
	logger  *slog.Logger
	apiBase string
	token   string
	chatID  string
}

// NewBotProvider creates a Bot API provider for one operator chat. apiBase is
// injectable for tests; empty takes the public endpoint.
func NewBotProvider(token, chatID, apiBase string, logger *slog.Logger) *BotProvider {
	if apiBase == "" {
		apiBase = "https://api.telegram.org"
	}
	return &BotProvider{
		client:  &http.Client{Timeout: 30 * time.Second},
		apiBase: apiBase,
		token:   token,
		chatID:  chatID,
		logger:  logger,
	}
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// SendMessage delivers a message via the Bot API with retries.
func (b *BotProvider) SendMessage(ctx context.Context, text string) error {
	reqBody := sendMessageRequest{ChatID: b.chatID, Text: text}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	sendURL := fmt.Sprintf("%s/bot%s/sendMessage", b.apiBase, b.token)

	return retry.Do(
		func() error {
			b.logger.Info("Telegram API request starting",
				"method", "POST",
				"endpoint", "sendMessage",
				"chat_id", b.chatID)

			startTime := time.Now()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendURL, bytes.NewReader(jsonData))
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := b.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				b.logger.Warn("Telegram API request failed, will retry",
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					b.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				b.logger.Warn("Telegram API returned non-2xx status, will retry",
					"status_code", resp.StatusCode)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			b.logger.Info("Telegram API request completed",
				"endpoint", "sendMessage",
				"duration_ms", duration.Milliseconds(),
				"status", "success")

			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			b.logger.Info("Retrying Telegram send after error", "attempt", n, "error", err)
		}),
	)
}

// MockProvider logs messages instead of sending them, for local development.
type MockProvider struct {
	logger *slog.Logger
}

// NewMockProvider creates a mock chat provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{logger: logger}
}

// SendMessage logs the message instead of sending it.
func (m *MockProvider) SendMessage(_ context.Context, text string) error {
	m.logger.Info("MOCK CHAT MESSAGE", "text_length", len(text), "preview", preview(text))
	return nil
}

func preview(text string) string {
	const n = 80
	if len(text) <= n {
		return text
	}
	return text[:n] + "..."
}
