package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Embed colors by severity.
var severityColor = map[Severity]int{
	SeverityLow:      0x95a5a6,
	SeverityMedium:   0x3498db,
	SeverityHigh:     0xf1c40f,
	SeverityCritical: 0xe74c3c,
}

// WebhookNotifier posts Discord-style embeds to a webhook URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook sink.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

// Name implements Notifier.
func (w *WebhookNotifier) Name() string { return "webhook" }

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embed struct {
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Color       int               `json:"color"`
	Fields      []embedField      `json:"fields,omitempty"`
	Footer      map[string]string `json:"footer"`
	Timestamp   string            `json:"timestamp"`
}

// Notify implements Notifier.
func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	e := embed{
		Title:       n.Title,
		Description: n.Body,
		Color:       severityColor[n.Severity],
		Footer:      map[string]string{"text": "moonshot-engine | " + string(n.Kind)},
		Timestamp:   time.UnixMilli(n.At).UTC().Format(time.RFC3339),
	}
	for _, f := range n.Fields {
		e.Fields = append(e.Fields, embedField{Name: f.Name, Value: f.Value, Inline: true})
	}

	data, err := json.Marshal(map[string][]embed{"embeds": {e}})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status: %d", resp.StatusCode)
	}
	return nil
}
