package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bottled-honey/bottled-honey/internal/config"
	"github.com/bottled-honey/bottled-honey/internal/events"
)

// Embed colors.
const (
	colorPassword = 0xFF0000
	colorPlayer   = 0xFFAA00
	colorOther    = 0x00FF00
)

// WebhookExporter posts a Discord-style embed for interesting captures.
type WebhookExporter struct {
	url      string
	notify   string
	username string
	host     string
	client   *http.Client
}

// NewWebhookExporter creates a webhook exporter. host names the sensor in
// the embed footer.
func NewWebhookExporter(cfg config.WebhookConfig, host string) (*WebhookExporter, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("webhook is disabled")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}
	return &WebhookExporter{
		url:      cfg.URL,
		notify:   cfg.Notify,
		username: cfg.Username,
		host:     host,
		client:   &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (w *WebhookExporter) Name() string { return "webhook" }

// Wants reports whether a capture passes the notify filter.
func (w *WebhookExporter) Wants(event events.Event) bool {
	_, hasPassword := event.Field(events.FieldPasswordAttempt)
	_, hasName := event.Field(events.FieldPlayerName)

	switch w.notify {
	case "all":
		return true
	case "players":
		return hasName || hasPassword
	default:
		return hasPassword
	}
}

// Export posts the capture when it passes the filter.
func (w *WebhookExporter) Export(ctx context.Context, event events.Event) error {
	if !w.Wants(event) {
		return nil
	}

	data, err := json.Marshal(w.payload(event))
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}

	log.Debug().Str("session", event.ID).Msg("webhook notification sent")
	return nil
}

func (w *WebhookExporter) Shutdown(context.Context) error {
	w.client.CloseIdleConnections()
	return nil
}

func (w *WebhookExporter) payload(event events.Event) map[string]interface{} {
	title := "Terraria client connected"
	color := colorOther
	if _, ok := event.Field(events.FieldPlayerName); ok {
		title = "Terraria player captured"
		color = colorPlayer
	}
	if _, ok := event.Field(events.FieldPasswordAttempt); ok {
		title = "Terraria password captured"
		color = colorPassword
	}

	fields := []map[string]interface{}{
		{"name": "Remote", "value": fmt.Sprintf("%s:%d", event.RemoteAddr, event.RemotePort), "inline": true},
		{"name": "Outcome", "value": string(event.Outcome), "inline": true},
	}
	for _, name := range event.FieldNames() {
		value := "(empty)"
		if v := event.Fields[name]; v != "" {
			value = "`" + v + "`"
		}
		fields = append(fields, map[string]interface{}{
			"name":   name,
			"value":  value,
			"inline": name != events.FieldPasswordAttempt,
		})
	}

	ts := event.EndedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":     title,
				"color":     color,
				"fields":    fields,
				"timestamp": ts.UTC().Format(time.RFC3339),
				"footer": map[string]string{
					"text": fmt.Sprintf("bottled-honey on %s, session %s", w.host, event.ID),
				},
			},
		},
	}
	if w.username != "" {
		payload["username"] = w.username
	}
	return payload
}
