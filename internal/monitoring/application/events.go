package application

import (
	"context"

	monitoring "cosafe/internal/monitoring/domain"
)

// Event is a typed state change published to subscribers.
type Event interface {
	EventType() string
}

// ReadingIngested is published after an accepted reading.
type ReadingIngested struct {
	Reading         monitoring.Reading `json:"reading"`
	PreviousTier    monitoring.Tier    `json:"previous_tier"`
	EmergencyBanner bool               `json:"emergency_banner"`
}

// AlertRaised is published for every new ledger entry.
type AlertRaised struct {
	Alert monitoring.Alert `json:"alert"`
}

// AlertAcknowledged is published the first time an alert is acknowledged.
type AlertAcknowledged struct {
	Alert monitoring.Alert `json:"alert"`
}

// AlertsCleared is published when the ledger is emptied.
type AlertsCleared struct {
	Count int `json:"count"`
}

// SettingsUpdated carries the merged settings.
type SettingsUpdated struct {
	Settings monitoring.Settings `json:"settings"`
}

// DeviceStatusChanged carries the new device status.
type DeviceStatusChanged struct {
	Device monitoring.DeviceStatus `json:"device"`
}

// HistoryCleared is published when history is dropped.
type HistoryCleared struct{}

// SimulationToggled carries the simulation flag.
type SimulationToggled struct {
	Simulating bool `json:"simulating"`
}

// EmergencyBannerChanged carries the banner flag.
type EmergencyBannerChanged struct {
	Visible bool `json:"visible"`
}

// UserChanged is published on login state changes.
type UserChanged struct {
	User *monitoring.User `json:"user,omitempty"`
}

func (ReadingIngested) EventType() string        { return "reading" }
func (AlertRaised) EventType() string            { return "alert.raised" }
func (AlertAcknowledged) EventType() string      { return "alert.acknowledged" }
func (AlertsCleared) EventType() string          { return "alerts.cleared" }
func (SettingsUpdated) EventType() string        { return "settings" }
func (DeviceStatusChanged) EventType() string    { return "device" }
func (HistoryCleared) EventType() string         { return "history.cleared" }
func (SimulationToggled) EventType() string      { return "simulation" }
func (EmergencyBannerChanged) EventType() string { return "emergency_banner" }
func (UserChanged) EventType() string            { return "user" }

// AlertNotifier publishes alert lifecycle events.
type AlertNotifier interface {
	Notify(ctx context.Context, event AlertEvent)
}

// AlertEvent is an alert lifecycle update handed to notifiers.
type AlertEvent struct {
	Type             string           `json:"type"`
	Alert            monitoring.Alert `json:"alert"`
	Silenced         bool             `json:"silenced"`
	EmergencyContact string           `json:"emergency_contact,omitempty"`
}

// Alert lifecycle event types.
const (
	AlertEventRaised       = "raised"
	AlertEventAcknowledged = "acknowledged"
	AlertEventCleared      = "cleared"
)
