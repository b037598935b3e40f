package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lyrebird/internal/config"
	"lyrebird/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventJobCompleted, notifications.Payload{"title": "Example"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "job completed",
			event: notifications.EventJobCompleted,
			payload: notifications.Payload{
				"title": "Sound of Silence",
			},
			expectTitle:    "Lyrebird - Job Complete",
			expectMessage:  "✅ Karaoke ready: Sound of Silence",
			expectTags:     "lyrebird,job,completed",
			expectPriority: "high",
		},
		{
			name:  "job failed",
			event: notifications.EventJobFailed,
			payload: notifications.Payload{
				"title": "Sound of Silence",
				"stage": "separation",
				"error": "demucs exited with status 1",
			},
			expectTitle:    "Lyrebird - Job Failed",
			expectMessage:  "❌ Sound of Silence failed at separation: demucs exited with status 1",
			expectTags:     "lyrebird,error,alert",
			expectPriority: "high",
		},
		{
			name:  "queue started",
			event: notifications.EventQueueStarted,
			payload: notifications.Payload{
				"count": 3,
			},
			expectTitle:   "Lyrebird - Queue Started",
			expectMessage: "Started processing 3 jobs",
			expectTags:    "lyrebird,queue,started",
		},
		{
			name:  "queue drained cleanly",
			event: notifications.EventQueueDrained,
			payload: notifications.Payload{
				"processed": 4,
				"failed":    0,
				"duration":  90 * time.Second,
			},
			expectTitle:   "Lyrebird - Queue Drained",
			expectMessage: "Queue drained: 4 jobs processed in 1m30s",
			expectTags:    "lyrebird,queue,drained",
		},
		{
			name:  "queue drained with failures",
			event: notifications.EventQueueDrained,
			payload: notifications.Payload{
				"processed": 3,
				"failed":    1,
				"duration":  45 * time.Second,
			},
			expectTitle:   "Lyrebird - Queue Drained (with errors)",
			expectMessage: "Queue drained: 3 succeeded, 1 failed in 45s",
			expectTags:    "lyrebird,queue,drained",
		},
		{
			name:           "test",
			event:          notifications.EventTest,
			payload:        nil,
			expectTitle:    "Lyrebird - Test",
			expectMessage:  "\U0001f9ea Notification system test",
			expectTags:     "lyrebird,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Fatalf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceHonorsEventSwitches(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected call for disabled event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.JobCompleted = false
	cfg.Notifications.JobFailed = false

	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventJobCompleted, notifications.Payload{"title": "x"}); err != nil {
		t.Fatalf("expected disabled event to be dropped, got %v", err)
	}
	if err := svc.Publish(context.Background(), notifications.EventJobFailed, notifications.Payload{"title": "x"}); err != nil {
		t.Fatalf("expected disabled event to be dropped, got %v", err)
	}
}

func TestNtfyServiceReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic over quota", http.StatusTooManyRequests)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL

	svc := notifications.NewService(&cfg)
	err := svc.Publish(context.Background(), notifications.EventTest, nil)
	if err == nil {
		t.Fatal("expected error from non-2xx response")
	}
}
