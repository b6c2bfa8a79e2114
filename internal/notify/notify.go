package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"realtor/ingest/config"
	"realtor/ingest/internal/models"
)

// Notifier is told about runs that ended in failure.
type Notifier interface {
	RunFailed(ctx context.Context, run models.IngestionRun) error
}

// Nop discards notifications.
type Nop struct{}

func (Nop) RunFailed(context.Context, models.IngestionRun) error { return nil }

const telegramAPI = "https://api.telegram.org"

// Telegram posts failed-run alerts to a Telegram chat.
type Telegram struct {
	logger   *logrus.Logger
	client   *http.Client
	baseURL  string
	botToken string
	chatID   string
}

// New returns a Telegram notifier when enabled in cfg, otherwise Nop.
func New(cfg *config.Config, logger *logrus.Logger) (Notifier, error) {
	if !cfg.Telegram.Enabled {
		return Nop{}, nil
	}
	if cfg.Telegram.BotToken == "" {
		return nil, errors.New("Telegram bot token is not configured")
	}
	if cfg.Telegram.ChatID == "" {
		return nil, errors.New("Telegram chat ID is not configured")
	}
	return NewTelegram(telegramAPI, cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger), nil
}

func NewTelegram(baseURL, botToken, chatID string, logger *logrus.Logger) *Telegram {
	return &Telegram{
		logger:   logger,
		client:   &http.Client{Timeout: 10 * time.Second},
		baseURL:  baseURL,
		botToken: botToken,
		chatID:   chatID,
	}
}

func (t *Telegram) RunFailed(ctx context.Context, run models.IngestionRun) error {
	return t.SendMessage(ctx, FormatRunFailure(run))
}

// FormatRunFailure renders the alert text for a failed run.
func FormatRunFailure(run models.IngestionRun) string {
	reason := "unknown error"
	if run.ErrorMessage != nil {
		reason = *run.ErrorMessage
	}
	return fmt.Sprintf(
		"<b>Ingestion run failed</b>\n\n"+
			"Source: %s\n"+
			"Run: %s\n"+
			"Started: %s\n"+
			"Fetched: %d, inserted: %d, updated: %d, skipped: %d, rejected: %d\n\n"+
			"<code>%s</code>",
		html.EscapeString(run.SourceID),
		run.RunID,
		run.StartedAt.UTC().Format(time.RFC3339),
		run.Fetched, run.Inserted, run.Updated, run.Skipped, run.Rejected,
		html.EscapeString(reason),
	)
}

// SendMessage sends a message to the configured Telegram chat
func (t *Telegram) SendMessage(ctx context.Context, message string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       message,
		"parse_mode": "HTML",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message to Telegram API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return errors.New("invalid bot token")
		case http.StatusBadRequest:
			return fmt.Errorf("invalid chat ID or message format: %s", string(body))
		case http.StatusForbidden:
			return errors.New("bot was blocked by the user or chat")
		case http.StatusNotFound:
			return errors.New("bot not found")
		default:
			return fmt.Errorf("Telegram API error (status %d): %s", resp.StatusCode, string(body))
		}
	}

	t.logger.WithField("chat_id", t.chatID).Debug("Sent Telegram message")
	return nil
}
