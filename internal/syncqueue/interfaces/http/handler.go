package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	syncqueueapp "cosafe/internal/syncqueue/application"
	syncqueue "cosafe/internal/syncqueue/domain"
)

// Handler exposes the sync queue.
type Handler struct {
	controller *syncqueueapp.Controller
}

// NewHandler constructs a handler.
func NewHandler(controller *syncqueueapp.Controller) (*Handler, error) {
	if controller == nil {
		return nil, errors.New("syncqueue handler: nil controller")
	}
	return &Handler{controller: controller}, nil
}

type tasksResponse struct {
	Pending []syncqueue.Task `json:"pending"`
	Dead    []syncqueue.Task `json:"dead"`
}

// ServeHTTP routes /api/v1/sync endpoints.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/sync/tasks":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		pending, err := h.controller.Pending(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		dead, err := h.controller.Dead(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if pending == nil {
			pending = []syncqueue.Task{}
		}
		if dead == nil {
			dead = []syncqueue.Task{}
		}
		writeJSON(w, http.StatusOK, tasksResponse{Pending: pending, Dead: dead})
	case r.URL.Path == "/api/v1/sync/drain":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		report, err := h.controller.Drain(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, report)
	case strings.HasPrefix(r.URL.Path, "/api/v1/sync/tasks/"):
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/sync/tasks/"), "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] != "retry" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		task, err := h.controller.Retry(r.Context(), parts[0])
		if err != nil {
			if errors.Is(err, syncqueue.ErrTaskNotFound) {
				http.Error(w, "task not found", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, task)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
