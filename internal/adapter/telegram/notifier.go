// Package telegram implements a notifier.Notifier for the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/overseer-dev/overseer/internal/port/notifier"
)

const providerName = "telegram"

const apiBase = "https://api.telegram.org"

// Notifier sends notifications through a Telegram bot to a fixed chat.
type Notifier struct {
	token      string
	chatID     string
	baseURL    string
	httpClient *http.Client
}

// NewNotifier creates a Telegram notifier for the given bot token and chat.
func NewNotifier(token, chatID string) *Notifier {
	return &Notifier{
		token:      token,
		chatID:     chatID,
		baseURL:    apiBase,
		httpClient: http.DefaultClient,
	}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{
		RichFormatting: true,
		Threads:        false,
	}
}

// sendMessage is the Telegram sendMessage request payload.
type sendMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

func (n *Notifier) Send(ctx context.Context, notification notifier.Notification) error {
	if n.token == "" || n.chatID == "" {
		return notifier.ErrNotConfigured
	}

	text := levelBadge(notification.Level) + " " + notification.Title
	if notification.Message != "" {
		text += "\n" + notification.Message
	}
	if notification.Source != "" {
		text += "\nSource: " + notification.Source
	}

	body, err := json.Marshal(sendMessage{
		ChatID: n.chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("telegram marshal: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram API %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// levelBadge prefixes messages so levels are visible without rich formatting.
func levelBadge(level string) string {
	switch level {
	case "success":
		return "[OK]"
	case "error":
		return "[ERROR]"
	case "warning":
		return "[WARN]"
	default:
		return "[INFO]"
	}
}
