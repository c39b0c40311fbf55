package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cosafe/internal/auth"
	monitoringapp "cosafe/internal/monitoring/application"
	monitoring "cosafe/internal/monitoring/domain"
)

const maxBodyBytes = 1 << 20

// Simulator toggles the demo reading generator.
type Simulator interface {
	Start(ctx context.Context) bool
	Stop(ctx context.Context) bool
	Running() bool
}

// Handler provides monitoring HTTP endpoints.
type Handler struct {
	controller *monitoringapp.Controller
	simulator  Simulator
	now        func() time.Time
}

// NewHandler constructs a handler. simulator may be nil.
func NewHandler(controller *monitoringapp.Controller, simulator Simulator) (*Handler, error) {
	if controller == nil {
		return nil, errors.New("monitoring handler: nil controller")
	}
	return &Handler{
		controller: controller,
		simulator:  simulator,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// ServeHTTP routes /api/v1 monitoring endpoints.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/api/v1/state":
		h.requireMethod(w, r, http.MethodGet, h.handleState)
	case path == "/api/v1/history":
		switch r.Method {
		case http.MethodGet:
			h.handleHistory(w, r)
		case http.MethodDelete:
			h.controller.ClearHistory(r.Context())
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case path == "/api/v1/readings":
		h.requireMethod(w, r, http.MethodPost, h.handleIngest)
	case path == "/api/v1/alerts":
		switch r.Method {
		case http.MethodGet:
			h.handleAlerts(w, r)
		case http.MethodPost:
			h.handleRaise(w, r)
		case http.MethodDelete:
			count := h.controller.ClearAlerts(r.Context())
			writeJSON(w, http.StatusOK, map[string]int{"cleared": count})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case strings.HasPrefix(path, "/api/v1/alerts/"):
		h.handleAlertAction(w, r)
	case path == "/api/v1/settings":
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, h.controller.Settings())
		case http.MethodPatch:
			h.handleSettings(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case path == "/api/v1/settings/mute":
		h.requireMethod(w, r, http.MethodPost, h.handleMute)
	case path == "/api/v1/device":
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, h.controller.State().Device)
		case http.MethodPatch:
			h.handleDevice(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case path == "/api/v1/simulation":
		h.requireMethod(w, r, http.MethodPost, h.handleSimulation)
	case path == "/api/v1/emergency-banner":
		h.requireMethod(w, r, http.MethodPost, h.handleBanner)
	case path == "/api/v1/me":
		h.requireMethod(w, r, http.MethodPost, h.handleMe)
	case path == "/api/v1/logout":
		h.requireMethod(w, r, http.MethodPost, h.handleLogout)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) requireMethod(w http.ResponseWriter, r *http.Request, method string, next func(http.ResponseWriter, *http.Request)) {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	next(w, r)
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.State())
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	points := h.controller.History()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		if len(points) > limit {
			points = points[len(points)-limit:]
		}
	}
	writeJSON(w, http.StatusOK, points)
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}
	reading, err := monitoringapp.DecodeReading(body, h.now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result := h.controller.Ingest(r.Context(), reading)
	if result.Rejected {
		writeJSON(w, http.StatusConflict, result)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("active") == "true" {
		writeJSON(w, http.StatusOK, h.controller.ActiveAlerts())
		return
	}
	writeJSON(w, http.StatusOK, h.controller.Alerts())
}

type raiseRequest struct {
	Level    monitoring.AlertLevel `json:"level"`
	Title    string                `json:"title"`
	Message  string                `json:"message"`
	SourceID string                `json:"source_id"`
}

func (h *Handler) handleRaise(w http.ResponseWriter, r *http.Request) {
	var req raiseRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	switch req.Level {
	case monitoring.AlertInfo, monitoring.AlertWarning, monitoring.AlertCritical, monitoring.AlertEmergency:
	default:
		http.Error(w, "level must be info, warning, critical or emergency", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		http.Error(w, "title is required", http.StatusBadRequest)
		return
	}
	alert := h.controller.RaiseAlert(r.Context(), req.Level, req.Title, req.Message, req.SourceID)
	writeJSON(w, http.StatusCreated, alert)
}

func (h *Handler) handleAlertAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "ack" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if !h.controller.Acknowledge(r.Context(), parts[0]) {
		http.Error(w, "alert not found", http.StatusNotFound)
		return
	}
	alert, _ := h.controller.Alert(parts[0])
	writeJSON(w, http.StatusOK, alert)
}

func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	var patch monitoring.SettingsPatch
	if err := decodeJSON(r, &patch); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	settings, err := h.controller.UpdateSettings(r.Context(), patch)
	if err != nil {
		if errors.Is(err, monitoring.ErrInvalidThresholds) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) handleMute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Muted bool `json:"muted"`
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	settings, err := h.controller.MuteAlarms(r.Context(), req.Muted)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) handleDevice(w http.ResponseWriter, r *http.Request) {
	var patch monitoring.DeviceStatusPatch
	if err := decodeJSON(r, &patch); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if patch.Battery != nil && (*patch.Battery < 0 || *patch.Battery > 100) {
		http.Error(w, "battery must be within 0..100", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, h.controller.UpdateDeviceStatus(r.Context(), patch))
}

func (h *Handler) handleSimulation(w http.ResponseWriter, r *http.Request) {
	if h.simulator == nil {
		http.Error(w, "simulation unavailable", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	enable := !h.simulator.Running()
	if req.Enabled != nil {
		enable = *req.Enabled
	}
	// the simulator outlives this request
	ctx := context.WithoutCancel(r.Context())
	if enable {
		h.simulator.Start(ctx)
	} else {
		h.simulator.Stop(ctx)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"simulating": h.simulator.Running()})
}

func (h *Handler) handleBanner(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Visible bool `json:"visible"`
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	h.controller.SetEmergencyBanner(r.Context(), req.Visible)
	writeJSON(w, http.StatusOK, map[string]bool{"visible": req.Visible})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	subject := auth.SubjectFromContext(r.Context())
	if subject == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	user := monitoring.User{
		Subject:  subject,
		TenantID: auth.TenantIDFromContext(r.Context()),
		Role:     string(auth.RoleFromContext(r.Context())),
	}
	h.controller.SetUser(r.Context(), user)
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if h.simulator != nil && h.simulator.Running() {
		h.simulator.Stop(r.Context())
	}
	h.controller.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(r *http.Request, out any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
