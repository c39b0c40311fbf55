package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"cosafe/internal/auth"
	monitoring "cosafe/internal/monitoring/domain"
	"cosafe/internal/remote"
	sessionsapp "cosafe/internal/sessions/application"
	sessions "cosafe/internal/sessions/domain"
)

const maxBodyBytes = 1 << 20

// Hydrator replaces local history.
type Hydrator interface {
	Hydrate(ctx context.Context, readings []monitoring.Reading) int
}

// Handler provides session lifecycle endpoints.
type Handler struct {
	manager  *sessionsapp.Manager
	hydrator Hydrator
}

// NewHandler constructs a handler. hydrator may be nil.
func NewHandler(manager *sessionsapp.Manager, hydrator Hydrator) (*Handler, error) {
	if manager == nil {
		return nil, errors.New("sessions handler: nil manager")
	}
	return &Handler{manager: manager, hydrator: hydrator}, nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ServeHTTP routes /api/v1/sessions and /api/v1/history/hydrate.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/api/v1/history/hydrate":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleHydrate(w, r)
	case path == "/api/v1/sessions":
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r)
		case http.MethodPost:
			h.handleStart(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case path == "/api/v1/sessions/active":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleActive(w, r)
	case strings.HasPrefix(path, "/api/v1/sessions/"):
		h.handleSession(w, r, strings.Split(strings.TrimPrefix(path, "/api/v1/sessions/"), "/"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type deviceRequest struct {
	DeviceID string `json:"device_id"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}
	session, err := h.manager.StartMonitoringSession(r.Context(), req.DeviceID, auth.SubjectFromContext(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.manager.ListSessions(r.Context(), r.URL.Query().Get("device_id"))
	if err != nil {
		respondError(w, err)
		return
	}
	if list == nil {
		list = []remote.Session{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleActive(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}
	active, err := h.manager.ActiveSession(r.Context(), deviceID)
	if err != nil {
		respondError(w, err)
		return
	}
	if active == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, active)
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 0 || parts[0] == "" || len(parts) > 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id := parts[0]
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}
	ctx := r.Context()
	switch {
	case action == "" && r.Method == http.MethodGet:
		session, err := h.manager.GetSession(ctx, id)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	case action == "stop" && r.Method == http.MethodPost:
		var req deviceRequest
		if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		session, err := h.manager.StopMonitoringSession(ctx, id, req.DeviceID)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	case action == "heartbeat" && r.Method == http.MethodPost:
		h.manager.UpdateSessionHeartbeat(ctx, id)
		w.WriteHeader(http.StatusAccepted)
	case action == "readings" && r.Method == http.MethodGet:
		readings, err := h.manager.SessionReadings(ctx, id)
		if err != nil {
			respondError(w, err)
			return
		}
		if readings == nil {
			readings = []remote.Reading{}
		}
		writeJSON(w, http.StatusOK, readings)
	case action == "stats" && r.Method == http.MethodGet:
		stats, err := h.manager.SessionStats(ctx, id)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	case action == "analysis" && r.Method == http.MethodPut:
		var req struct {
			Analysis string `json:"analysis"`
		}
		if err := decodeJSON(r, &req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		session, err := h.manager.UpdateSessionAnalysis(ctx, id, req.Analysis)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	case action == "" || action == "stop" || action == "heartbeat" || action == "readings" || action == "stats" || action == "analysis":
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleHydrate(w http.ResponseWriter, r *http.Request) {
	if h.hydrator == nil {
		http.Error(w, "hydrate unavailable", http.StatusServiceUnavailable)
		return
	}
	var req deviceRequest
	if err := decodeJSON(r, &req); err != nil || req.DeviceID == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}
	n, err := h.manager.HydrateHistory(r.Context(), req.DeviceID, h.hydrator)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"readings": n})
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sessions.ErrDeviceInUse):
		writeJSON(w, http.StatusConflict, errorResponse{Error: string(sessions.KindDeviceInUse), Message: err.Error()})
	case errors.Is(err, sessions.ErrCommandFailed):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: string(sessions.KindCommandFailed), Message: err.Error()})
	case errors.Is(err, sessions.ErrNetwork):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: string(sessions.KindNetwork), Message: err.Error()})
	case errors.Is(err, remote.ErrSessionNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func decodeJSON(r *http.Request, out any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
