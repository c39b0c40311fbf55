package application

import (
	"encoding/json"
	"time"

	monitoring "cosafe/internal/monitoring/domain"
)

// ExportDocument is the user data export.
type ExportDocument struct {
	History         []monitoring.HistoryPoint `json:"history"`
	Alerts          []monitoring.Alert        `json:"alerts"`
	Settings        monitoring.Settings       `json:"settings"`
	ExportTimestamp time.Time                 `json:"exportTimestamp"`
}

// Export captures history, the full ledger and settings.
func (c *Controller) Export() ExportDocument {
	if c == nil {
		return ExportDocument{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return ExportDocument{
		History:         c.history.Points(),
		Alerts:          append([]monitoring.Alert{}, c.alerts...),
		Settings:        c.settings,
		ExportTimestamp: c.clock.Now(),
	}
}

// ExportJSON renders the export as indented JSON.
func (c *Controller) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(c.Export(), "", "  ")
}
