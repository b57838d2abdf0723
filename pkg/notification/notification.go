// Package notification reports rollback pipeline events to the
// configured channels (Slack, Discord, Telegram, generic webhook).
// Notification failures never fail the pipeline; they are reported to
// the caller for logging only.
package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kubeslot/kubeslot/pkg/config"
)

// EventType represents the type of pipeline event
type EventType string

const (
	EventRollbackStarted   EventType = "rollback_started"
	EventRollbackSucceeded EventType = "rollback_succeeded"
	EventRollbackFailed    EventType = "rollback_failed"
	EventTrafficSwitched   EventType = "traffic_switched"
	EventHealthDegraded    EventType = "health_degraded"
)

// Event represents a notification event
type Event struct {
	Type        EventType         `json:"type"`
	Project     string            `json:"project"`
	Environment string            `json:"environment"`
	RunID       string            `json:"runId,omitempty"`
	Message     string            `json:"message"`
	Details     map[string]string `json:"details,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	Error       string            `json:"error,omitempty"`
}

// Notifier handles sending notifications
type Notifier struct {
	config  config.NotificationsConfig
	client  *http.Client
	verbose bool
}

// NewNotifier creates a new notifier
func NewNotifier(cfg config.NotificationsConfig, verbose bool) *Notifier {
	return &Notifier{
		config: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		verbose: verbose,
	}
}

// Notify sends a notification to all configured channels
func (n *Notifier) Notify(event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	var errs []string

	if n.config.Slack != "" {
		if err := n.sendSlack(event); err != nil {
			errs = append(errs, fmt.Sprintf("slack: %v", err))
		}
	}

	if n.config.Discord != "" {
		if err := n.sendDiscord(event); err != nil {
			errs = append(errs, fmt.Sprintf("discord: %v", err))
		}
	}

	if n.config.TelegramToken != "" && n.config.TelegramChatID != 0 {
		if err := n.sendTelegram(event); err != nil {
			errs = append(errs, fmt.Sprintf("telegram: %v", err))
		}
	}

	if n.config.Webhook != "" {
		if err := n.sendWebhook(event); err != nil {
			errs = append(errs, fmt.Sprintf("webhook: %v", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// sendSlack sends a notification to Slack
func (n *Notifier) sendSlack(event Event) error {
	fields := make([]map[string]interface{}, 0, len(event.Details)+2)
	fields = append(fields, map[string]interface{}{
		"type": "mrkdwn",
		"text": fmt.Sprintf("*Environment:*\n%s", event.Environment),
	})
	for key, value := range event.Details {
		fields = append(fields, map[string]interface{}{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*%s:*\n%s", key, value),
		})
	}

	payload := map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color": eventColor(event.Type),
				"blocks": []map[string]interface{}{
					{
						"type": "header",
						"text": map[string]string{
							"type":  "plain_text",
							"text":  eventTitle(event.Type),
							"emoji": "true",
						},
					},
					{
						"type": "section",
						"text": map[string]string{
							"type": "mrkdwn",
							"text": event.Message,
						},
					},
					{
						"type":   "section",
						"fields": fields,
					},
				},
			},
		},
	}

	return n.postJSON(n.config.Slack, payload)
}

// sendDiscord sends a notification to Discord
func (n *Notifier) sendDiscord(event Event) error {
	fields := make([]map[string]interface{}, 0, len(event.Details)+1)
	fields = append(fields, map[string]interface{}{
		"name":   "Environment",
		"value":  event.Environment,
		"inline": true,
	})
	for key, value := range event.Details {
		fields = append(fields, map[string]interface{}{
			"name":   key,
			"value":  value,
			"inline": true,
		})
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       eventTitle(event.Type),
				"description": event.Message,
				"color":       discordColor(event.Type),
				"fields":      fields,
				"timestamp":   event.Timestamp.Format(time.RFC3339),
			},
		},
	}

	return n.postJSON(n.config.Discord, payload)
}

// sendTelegram sends a notification to the configured Telegram chat
func (n *Notifier) sendTelegram(event Event) error {
	bot, err := tgbotapi.NewBotAPI(n.config.TelegramToken)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("*%s*\n", eventTitle(event.Type)))
	sb.WriteString(fmt.Sprintf("Project: %s\n", event.Project))
	sb.WriteString(fmt.Sprintf("Environment: %s\n", event.Environment))
	sb.WriteString(event.Message)
	for key, value := range event.Details {
		sb.WriteString(fmt.Sprintf("\n%s: %s", key, value))
	}
	if event.Error != "" {
		sb.WriteString(fmt.Sprintf("\nError: %s", event.Error))
	}

	msg := tgbotapi.NewMessage(n.config.TelegramChatID, sb.String())
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// sendWebhook sends the raw event to a generic webhook
func (n *Notifier) sendWebhook(event Event) error {
	return n.postJSON(n.config.Webhook, event)
}

func (n *Notifier) postJSON(url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	resp, err := n.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func eventTitle(t EventType) string {
	switch t {
	case EventRollbackStarted:
		return "Rollback started"
	case EventRollbackSucceeded:
		return "Rollback succeeded"
	case EventRollbackFailed:
		return "Rollback failed"
	case EventTrafficSwitched:
		return "Traffic switched"
	case EventHealthDegraded:
		return "Health degraded"
	}
	return string(t)
}

func eventColor(t EventType) string {
	switch t {
	case EventRollbackSucceeded, EventTrafficSwitched:
		return "#36a64f"
	case EventRollbackFailed, EventHealthDegraded:
		return "#d00000"
	}
	return "#439fe0"
}

func discordColor(t EventType) int {
	switch t {
	case EventRollbackSucceeded, EventTrafficSwitched:
		return 0x36a64f
	case EventRollbackFailed, EventHealthDegraded:
		return 0xd00000
	}
	return 0x439fe0
}
