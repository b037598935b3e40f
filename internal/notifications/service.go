package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lyrebird/internal/config"
)

const userAgent = "Lyrebird/0.1.0"

// Event identifies a notable pipeline milestone.
type Event string

const (
	EventJobCompleted Event = "job_completed"
	EventJobFailed    Event = "job_failed"
	EventQueueStarted Event = "queue_started"
	EventQueueDrained Event = "queue_drained"
	EventTest         Event = "test"
)

// Payload carries event-specific values used to render the message.
type Payload map[string]any

// Service defines the notification surface exposed to workflow components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:     topic,
		client:       &http.Client{Timeout: timeout},
		jobCompleted: cfg.Notifications.JobCompleted,
		jobFailed:    cfg.Notifications.JobFailed,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint     string
	client       *http.Client
	jobCompleted bool
	jobFailed    bool
}

// Publish renders the event into an ntfy message and posts it. Events the
// configuration has switched off return nil without a request.
func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	switch event {
	case EventJobCompleted:
		if !n.jobCompleted {
			return nil
		}
		return n.send(ctx, message{
			title:    "Lyrebird - Job Complete",
			body:     fmt.Sprintf("✅ Karaoke ready: %s", payloadString(payload, "title")),
			tags:     []string{"lyrebird", "job", "completed"},
			priority: "high",
		})

	case EventJobFailed:
		if !n.jobFailed {
			return nil
		}
		body := fmt.Sprintf("❌ %s failed", payloadString(payload, "title"))
		if stage := payloadString(payload, "stage"); stage != "" {
			body = fmt.Sprintf("%s at %s", body, stage)
		}
		if detail := payloadString(payload, "error"); detail != "" {
			body = fmt.Sprintf("%s: %s", body, detail)
		}
		return n.send(ctx, message{
			title:    "Lyrebird - Job Failed",
			body:     body,
			tags:     []string{"lyrebird", "error", "alert"},
			priority: "high",
		})

	case EventQueueStarted:
		return n.send(ctx, message{
			title: "Lyrebird - Queue Started",
			body:  fmt.Sprintf("Started processing %d jobs", payloadInt(payload, "count")),
			tags:  []string{"lyrebird", "queue", "started"},
		})

	case EventQueueDrained:
		processed := payloadInt(payload, "processed")
		failed := payloadInt(payload, "failed")
		duration := payloadDuration(payload, "duration").Round(time.Second)
		if duration < 0 {
			duration = 0
		}
		title := "Lyrebird - Queue Drained"
		body := fmt.Sprintf("Queue drained: %d jobs processed in %s", processed, duration)
		if failed > 0 {
			title = "Lyrebird - Queue Drained (with errors)"
			body = fmt.Sprintf("Queue drained: %d succeeded, %d failed in %s", processed, failed, duration)
		}
		return n.send(ctx, message{
			title: title,
			body:  body,
			tags:  []string{"lyrebird", "queue", "drained"},
		})

	case EventTest:
		return n.send(ctx, message{
			title:    "Lyrebird - Test",
			body:     "\U0001f9ea Notification system test",
			tags:     []string{"lyrebird", "test"},
			priority: "low",
		})
	}
	return fmt.Errorf("unknown notification event %q", event)
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func payloadString(payload Payload, key string) string {
	if payload == nil {
		return ""
	}
	switch value := payload[key].(type) {
	case string:
		return strings.TrimSpace(value)
	case error:
		if value == nil {
			return ""
		}
		return strings.TrimSpace(value.Error())
	case fmt.Stringer:
		return strings.TrimSpace(value.String())
	default:
		return ""
	}
}

func payloadInt(payload Payload, key string) int {
	if payload == nil {
		return 0
	}
	switch value := payload[key].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	default:
		return 0
	}
}

func payloadDuration(payload Payload, key string) time.Duration {
	if payload == nil {
		return 0
	}
	if value, ok := payload[key].(time.Duration); ok {
		return value
	}
	return 0
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
