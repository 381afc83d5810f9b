package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

var severityIcon = map[Severity]string{
	SeverityLow:      "⚪",
	SeverityMedium:   "🔵",
	SeverityHigh:     "🟡",
	SeverityCritical: "🔴",
}

// TelegramNotifier sends HTML messages through the Bot API.
type TelegramNotifier struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegramNotifier creates a Telegram sink.
func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		baseURL: telegramAPI,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// WithBaseURL points the notifier at another Bot API host.
func (t *TelegramNotifier) WithBaseURL(u string) *TelegramNotifier {
	t.baseURL = strings.TrimRight(u, "/")
	return t
}

// Name implements Notifier.
func (t *TelegramNotifier) Name() string { return "telegram" }

// Format renders n as Telegram HTML.
func Format(n Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b>", severityIcon[n.Severity], html.EscapeString(n.Title))
	if n.Body != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(n.Body))
	}
	for _, f := range n.Fields {
		fmt.Fprintf(&b, "\n%s: <code>%s</code>", html.EscapeString(f.Name), html.EscapeString(f.Value))
	}
	return b.String()
}

// Notify implements Notifier.
func (t *TelegramNotifier) Notify(ctx context.Context, n Notification) error {
	data, err := json.Marshal(map[string]any{
		"chat_id":                  t.chatID,
		"text":                     Format(n),
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram returned status: %d", resp.StatusCode)
	}
	return nil
}
