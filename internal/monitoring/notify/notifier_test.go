package notify

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	monitoringapp "cosafe/internal/monitoring/application"
	monitoring "cosafe/internal/monitoring/domain"
)

type stubAlertReader struct {
	mu     sync.Mutex
	alerts map[string]monitoring.Alert
}

func (s *stubAlertReader) Alert(id string) (monitoring.Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[id]
	return alert, ok
}

type recordingChannel struct {
	mu       sync.Mutex
	contents []string
}

func (c *recordingChannel) Send(_ context.Context, content string) error {
	c.mu.Lock()
	c.contents = append(c.contents, content)
	c.mu.Unlock()
	return nil
}

func (c *recordingChannel) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.contents...)
}

func criticalAlert() monitoring.Alert {
	return monitoring.Alert{
		ID:        "alert_1",
		Timestamp: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		Level:     monitoring.AlertCritical,
		Title:     "Critical CO spike",
		Message:   "72 ppm above the critical limit",
		SourceID:  "dev-1",
	}
}

func TestWebhookNotifierPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	alert := criticalAlert()
	reader := &stubAlertReader{alerts: map[string]monitoring.Alert{alert.ID: alert}}
	notifier, err := NewNotifier(reader, channel, nil, WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), monitoringapp.AlertEvent{Type: monitoringapp.AlertEventRaised, Alert: alert, EmergencyContact: "911"})

	select {
	case payload := <-payloadCh:
		if payload.MsgType != "text" {
			t.Fatalf("unexpected msgtype %q", payload.MsgType)
		}
		for _, want := range []string{"Critical CO spike", "critical", "dev-1", "Emergency contact: 911"} {
			if !strings.Contains(payload.Text.Content, want) {
				t.Fatalf("payload missing %q: %s", want, payload.Text.Content)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("webhook not called")
	}
}

func TestSilencedEventsAreNotSent(t *testing.T) {
	channel := &recordingChannel{}
	notifier, err := NewNotifier(&stubAlertReader{}, channel, nil)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	notifier.Notify(context.Background(), monitoringapp.AlertEvent{Type: monitoringapp.AlertEventRaised, Alert: criticalAlert(), Silenced: true})
	notifier.Close()
	if n := len(channel.list()); n != 0 {
		t.Fatalf("expected no sends, got %d", n)
	}
}

func TestEscalationCancelledByAcknowledge(t *testing.T) {
	channel := &recordingChannel{}
	alert := criticalAlert()
	reader := &stubAlertReader{alerts: map[string]monitoring.Alert{alert.ID: alert}}
	notifier, err := NewNotifier(reader, channel, nil, WithEscalation(20*time.Millisecond))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	defer notifier.Close()
	ctx := context.Background()
	notifier.Notify(ctx, monitoringapp.AlertEvent{Type: monitoringapp.AlertEventRaised, Alert: alert})
	acked := alert
	acked.Acknowledged = true
	notifier.Notify(ctx, monitoringapp.AlertEvent{Type: monitoringapp.AlertEventAcknowledged, Alert: acked})
	time.Sleep(60 * time.Millisecond)
	for _, content := range channel.list() {
		if strings.Contains(content, "Escalated") {
			t.Fatalf("unexpected escalation after acknowledge")
		}
	}
}

func TestEscalationFiresForUnacknowledged(t *testing.T) {
	channel := &recordingChannel{}
	alert := criticalAlert()
	reader := &stubAlertReader{alerts: map[string]monitoring.Alert{alert.ID: alert}}
	notifier, err := NewNotifier(reader, channel, nil, WithEscalation(10*time.Millisecond))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	defer notifier.Close()
	notifier.Notify(context.Background(), monitoringapp.AlertEvent{Type: monitoringapp.AlertEventRaised, Alert: alert})

	deadline := time.Now().Add(time.Second)
	for {
		contents := channel.list()
		if len(contents) == 2 && strings.Contains(contents[1], "Escalated") {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected escalation, got %v", contents)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCooldownSuppressesRepeats(t *testing.T) {
	channel := &recordingChannel{}
	notifier, err := NewNotifier(&stubAlertReader{}, channel, nil, WithCooldown(time.Hour))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	ctx := context.Background()
	event := monitoringapp.AlertEvent{Type: monitoringapp.AlertEventRaised, Alert: monitoring.Alert{ID: "a", Level: monitoring.AlertWarning, Title: "CO level elevated"}}
	notifier.Notify(ctx, event)
	notifier.Notify(ctx, event)
	notifier.Close()
	if n := len(channel.list()); n != 1 {
		t.Fatalf("expected 1 send, got %d", n)
	}
}

type blockingChannel struct {
	release chan struct{}
	sent    chan string
}

func (c *blockingChannel) Send(ctx context.Context, content string) error {
	select {
	case <-c.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.sent <- content
	return nil
}

func TestNotifyDoesNotWaitForSlowChannel(t *testing.T) {
	channel := &blockingChannel{release: make(chan struct{}), sent: make(chan string, 1)}
	notifier, err := NewNotifier(&stubAlertReader{}, channel, nil, WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	start := time.Now()
	notifier.Notify(context.Background(), monitoringapp.AlertEvent{Type: monitoringapp.AlertEventRaised, Alert: criticalAlert()})
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("notify blocked for %s", elapsed)
	}
	close(channel.release)
	select {
	case content := <-channel.sent:
		if !strings.Contains(content, "Critical CO spike") {
			t.Fatalf("unexpected content %s", content)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("queued notification never sent")
	}
	notifier.Close()
}
