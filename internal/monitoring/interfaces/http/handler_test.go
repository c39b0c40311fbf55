package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cosafe/internal/auth"
	monitoringapp "cosafe/internal/monitoring/application"
	monitoring "cosafe/internal/monitoring/domain"
)

type stubSimulator struct {
	mu      sync.Mutex
	running bool
}

func (s *stubSimulator) Start(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	started := !s.running
	s.running = true
	return started
}

func (s *stubSimulator) Stop(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	stopped := s.running
	s.running = false
	return stopped
}

func (s *stubSimulator) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func newTestHandler(t *testing.T) (*Handler, *monitoringapp.Controller) {
	t.Helper()
	controller, err := monitoringapp.NewController()
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	handler, err := NewHandler(controller, &stubSimulator{})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler, controller
}

func doRequest(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func mustTime(t *testing.T, raw string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	return ts
}

func TestIngestEndpointRaisesAlert(t *testing.T) {
	h, controller := newTestHandler(t)
	resp := doRequest(h, http.MethodPost, "/api/v1/readings", `{"co_level": 62, "timestamp": "2026-03-01T10:00:00Z"}`)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}
	var result monitoringapp.IngestResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Alert == nil || result.Alert.Level != monitoring.AlertCritical {
		t.Fatalf("expected critical alert, got %+v", result.Alert)
	}
	if controller.ActiveAlertsCount() != 1 {
		t.Fatalf("expected 1 active alert")
	}

	resp = doRequest(h, http.MethodPost, "/api/v1/readings", `{"co_level": 10, "timestamp": "2026-03-01T09:00:00Z"}`)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 for out of order reading, got %d", resp.Code)
	}
	resp = doRequest(h, http.MethodPost, "/api/v1/readings", `{"co_level": -4}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid reading, got %d", resp.Code)
	}
}

func TestAcknowledgeAndClearEndpoints(t *testing.T) {
	h, controller := newTestHandler(t)
	alert := controller.RaiseAlert(context.Background(), monitoring.AlertWarning, "CO level elevated", "", "")

	resp := doRequest(h, http.MethodPost, "/api/v1/alerts/"+alert.ID+"/ack", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	resp = doRequest(h, http.MethodPost, "/api/v1/alerts/"+alert.ID+"/ack", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("repeat ack: expected 200, got %d", resp.Code)
	}
	resp = doRequest(h, http.MethodPost, "/api/v1/alerts/missing/ack", "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	resp = doRequest(h, http.MethodGet, "/api/v1/alerts?active=true", "")
	var active []monitoring.Alert
	if err := json.NewDecoder(resp.Body).Decode(&active); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active alerts, got %d", len(active))
	}
	resp = doRequest(h, http.MethodDelete, "/api/v1/alerts", "")
	if resp.Code != http.StatusOK || len(controller.Alerts()) != 0 {
		t.Fatalf("expected ledger cleared, code=%d", resp.Code)
	}
}

func TestSettingsPatchValidation(t *testing.T) {
	h, controller := newTestHandler(t)
	resp := doRequest(h, http.MethodPatch, "/api/v1/settings", `{"thresholds": {"warning": 70, "critical": 40}}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	resp = doRequest(h, http.MethodPatch, "/api/v1/settings", `{"thresholds": {"warning": 20, "critical": 45}, "dark_mode": true}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	settings := controller.Settings()
	if settings.Thresholds.Warning != 20 || !settings.DarkMode {
		t.Fatalf("settings not applied: %+v", settings)
	}
	resp = doRequest(h, http.MethodPost, "/api/v1/settings/mute", `{"muted": true}`)
	if resp.Code != http.StatusOK || !controller.Settings().MuteAlarms {
		t.Fatalf("expected alarms muted, code=%d", resp.Code)
	}
}

func TestSimulationToggle(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := doRequest(h, http.MethodPost, "/api/v1/simulation", "")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"simulating":true`) {
		t.Fatalf("expected simulation started, got %d %s", resp.Code, resp.Body.String())
	}
	resp = doRequest(h, http.MethodPost, "/api/v1/simulation", `{"enabled": false}`)
	if !strings.Contains(resp.Body.String(), `"simulating":false`) {
		t.Fatalf("expected simulation stopped, got %s", resp.Body.String())
	}
}

func TestMeAndLogout(t *testing.T) {
	h, controller := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/me", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "tenant-a", auth.RoleOperator, "user-7"))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if state := controller.State(); !state.IsAuthenticated || state.User.Subject != "user-7" {
		t.Fatalf("expected user recorded, got %+v", state.User)
	}
	controller.Ingest(context.Background(), monitoring.Reading{Timestamp: mustTime(t, "2026-03-01T10:00:00Z"), Value: 80})
	resp = doRequest(h, http.MethodPost, "/api/v1/logout", "")
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	state := controller.State()
	if state.IsAuthenticated || state.HistorySize != 0 || len(state.Alerts) != 0 {
		t.Fatalf("expected cleared state, got %+v", state)
	}
}

func TestExportFormats(t *testing.T) {
	controller, err := monitoringapp.NewController()
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	controller.Ingest(context.Background(), monitoring.Reading{Timestamp: mustTime(t, "2026-03-01T10:00:00Z"), Value: 30})
	controller.Ingest(context.Background(), monitoring.Reading{Timestamp: mustTime(t, "2026-03-01T10:00:02Z"), Value: 55})
	h, err := NewExportHandler(controller)
	if err != nil {
		t.Fatalf("new export handler: %v", err)
	}

	resp := doRequest(h, http.MethodGet, "/api/v1/export.json", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("json export: expected 200, got %d", resp.Code)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	for _, key := range []string{"history", "alerts", "settings", "exportTimestamp"} {
		if _, ok := doc[key]; !ok {
			t.Fatalf("export missing %q", key)
		}
	}
	if cd := resp.Header().Get("Content-Disposition"); !strings.Contains(cd, "cosafe-data-") {
		t.Fatalf("unexpected content disposition %q", cd)
	}

	resp = doRequest(h, http.MethodGet, "/api/v1/export.xlsx", "")
	if resp.Code != http.StatusOK || !bytes.HasPrefix(resp.Body.Bytes(), []byte("PK")) {
		t.Fatalf("xlsx export: unexpected response %d", resp.Code)
	}
	resp = doRequest(h, http.MethodGet, "/api/v1/export.pdf", "")
	if resp.Code != http.StatusOK || !bytes.HasPrefix(resp.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("pdf export: unexpected response %d", resp.Code)
	}
}

func TestSSEBrokerStreamsAlertEvents(t *testing.T) {
	broker := NewSSEBroker()
	ch := broker.Subscribe()
	defer broker.Unsubscribe(ch)

	broker.Notify(context.Background(), monitoringapp.AlertEvent{
		Type:  monitoringapp.AlertEventRaised,
		Alert: monitoring.Alert{ID: "alert_1", Level: monitoring.AlertCritical},
	})
	select {
	case payload := <-ch:
		if !strings.Contains(string(payload), `"alert_1"`) {
			t.Fatalf("unexpected payload %s", payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for broadcast")
	}
}
