package application

import (
	"context"
	"encoding/json"
	"fmt"

	offline "cosafe/internal/offline/domain"
)

// SyncTag is the background sync tag that drains queued work.
const SyncTag = "co-data-sync"

// Event is a worker lifecycle event.
type Event interface {
	eventName() string
}

type InstallEvent struct{}

type ActivateEvent struct{}

type FetchEvent struct {
	Request offline.Request
}

type SyncEvent struct {
	Tag string
}

type PushEvent struct {
	Payload []byte
}

type NotificationClickEvent struct {
	Action string
}

func (InstallEvent) eventName() string           { return "install" }
func (ActivateEvent) eventName() string          { return "activate" }
func (FetchEvent) eventName() string             { return "fetch" }
func (SyncEvent) eventName() string              { return "sync" }
func (PushEvent) eventName() string              { return "push" }
func (NotificationClickEvent) eventName() string { return "notificationclick" }

// NotificationAction is a button on a notification.
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Notification describes a system notification to display.
type Notification struct {
	Title              string               `json:"title"`
	Body               string               `json:"body"`
	Icon               string               `json:"icon"`
	Badge              string               `json:"badge"`
	Tag                string               `json:"tag"`
	RequireInteraction bool                 `json:"require_interaction"`
	Actions            []NotificationAction `json:"actions"`
	Data               json.RawMessage      `json:"data,omitempty"`
}

// Notification click actions.
const (
	ActionOpen = "open"
	ActionCall = "call"
)

// EmergencyNotification builds the critical CO notification.
func EmergencyNotification(payload []byte) Notification {
	n := Notification{
		Title:              "CO-SAFE Alert",
		Body:               "Critical CO levels detected!",
		Icon:               "/favicon.png",
		Badge:              "/favicon.png",
		Tag:                "co-emergency",
		RequireInteraction: true,
		Actions: []NotificationAction{
			{Action: ActionOpen, Title: "Open App"},
			{Action: ActionCall, Title: "Call Emergency"},
		},
	}
	if len(payload) > 0 && json.Valid(payload) {
		n.Data = append(json.RawMessage(nil), payload...)
	}
	return n
}

// Result is the outcome of a handled event.
type Result struct {
	Response     *offline.Response
	Deleted      []string
	Synced       bool
	Notification *Notification
	OpenURL      string
}

// Handle dispatches a lifecycle event.
func (w *Worker) Handle(ctx context.Context, event Event) (Result, error) {
	switch e := event.(type) {
	case InstallEvent:
		return Result{}, w.Install(ctx)
	case ActivateEvent:
		deleted, err := w.Activate(ctx)
		return Result{Deleted: deleted}, err
	case FetchEvent:
		resp, err := w.Fetch(ctx, e.Request)
		if err != nil {
			return Result{}, err
		}
		return Result{Response: &resp}, nil
	case SyncEvent:
		if e.Tag != SyncTag || w.sync == nil {
			return Result{}, nil
		}
		if err := w.sync(ctx); err != nil {
			w.logger.Printf("offline sync error: tag=%s err=%v", e.Tag, err)
			return Result{}, err
		}
		return Result{Synced: true}, nil
	case PushEvent:
		n := EmergencyNotification(e.Payload)
		return Result{Notification: &n}, nil
	case NotificationClickEvent:
		if e.Action == ActionCall {
			return Result{OpenURL: "tel:" + w.contact()}, nil
		}
		return Result{OpenURL: offline.ShellRoot()}, nil
	default:
		return Result{}, fmt.Errorf("offline worker: unsupported event %T", event)
	}
}
