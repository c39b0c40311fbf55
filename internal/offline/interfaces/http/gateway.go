package http

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	offlineapp "cosafe/internal/offline/application"
	offline "cosafe/internal/offline/domain"
)

const maxBodyBytes = 4 << 20

// Gateway serves the UI origin through the offline router.
type Gateway struct {
	worker *offlineapp.Worker
	logger *log.Logger
}

// NewGateway constructs a gateway.
func NewGateway(worker *offlineapp.Worker, logger *log.Logger) (*Gateway, error) {
	if worker == nil {
		return nil, errors.New("offline gateway: nil worker")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Gateway{worker: worker, logger: logger}, nil
}

// ServeHTTP answers from cache or upstream.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := toRequest(r)
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}
	resp, err := g.worker.Fetch(r.Context(), req)
	if err != nil {
		g.logger.Printf("offline gateway error: path=%s err=%v", r.URL.Path, err)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	if resp.Source != "" {
		w.Header().Set("X-Cache-Source", resp.Source)
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}

func toRequest(r *http.Request) (offline.Request, error) {
	req := offline.Request{
		Method:   r.Method,
		Origin:   r.Header.Get("Origin"),
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
		Navigate: isNavigation(r),
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			return offline.Request{}, err
		}
		req.Body = body
		req.Header = r.Header.Clone()
	}
	return req, nil
}

func isNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// EventsHandler exposes worker lifecycle events.
type EventsHandler struct {
	worker *offlineapp.Worker
}

// NewEventsHandler constructs the lifecycle handler.
func NewEventsHandler(worker *offlineapp.Worker) (*EventsHandler, error) {
	if worker == nil {
		return nil, errors.New("offline events: nil worker")
	}
	return &EventsHandler{worker: worker}, nil
}

type workerStatus struct {
	Partition   string `json:"partition"`
	Installed   bool   `json:"installed"`
	Controlling bool   `json:"controlling"`
}

// ServeHTTP handles /api/v1/offline and /api/v1/offline/{event}.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/offline"), "/")
	if name == "" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, workerStatus{
			Partition:   h.worker.CorePartition(),
			Installed:   h.worker.Installed(),
			Controlling: h.worker.Controlling(),
		})
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var event offlineapp.Event
	switch name {
	case "install":
		event = offlineapp.InstallEvent{}
	case "activate":
		event = offlineapp.ActivateEvent{}
	case "sync":
		var req struct {
			Tag string `json:"tag"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		event = offlineapp.SyncEvent{Tag: req.Tag}
	case "push":
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "read body failed", http.StatusBadRequest)
			return
		}
		event = offlineapp.PushEvent{Payload: payload}
	case "notificationclick":
		var req struct {
			Action string `json:"action"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		event = offlineapp.NotificationClickEvent{Action: req.Action}
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	res, err := h.worker.Handle(r.Context(), event)
	if err != nil {
		if errors.Is(err, offline.ErrInstallFailed) {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted":      res.Deleted,
		"synced":       res.Synced,
		"notification": res.Notification,
		"open_url":     res.OpenURL,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
