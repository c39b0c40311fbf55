package monitoring

import "time"

// BatteryLowThreshold is the percentage below which a low battery alert is raised.
const BatteryLowThreshold = 20

// DeviceStatus describes the sensor link.
type DeviceStatus struct {
	DeviceID     string    `json:"device_id,omitempty"`
	Name         string    `json:"name,omitempty"`
	Connected    bool      `json:"connected"`
	Battery      *int      `json:"battery,omitempty"`
	FilterHealth *int      `json:"filter_health,omitempty"`
	LastUpdate   time.Time `json:"last_update"`
}

// DeviceStatusPatch carries a partial device update.
type DeviceStatusPatch struct {
	DeviceID     *string `json:"device_id,omitempty"`
	Name         *string `json:"name,omitempty"`
	Connected    *bool   `json:"connected,omitempty"`
	Battery      *int    `json:"battery,omitempty"`
	FilterHealth *int    `json:"filter_health,omitempty"`
}

// Apply returns a copy of s with the patch applied.
func (p DeviceStatusPatch) Apply(s DeviceStatus) DeviceStatus {
	if p.DeviceID != nil {
		s.DeviceID = *p.DeviceID
	}
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Connected != nil {
		s.Connected = *p.Connected
	}
	if p.Battery != nil {
		v := *p.Battery
		s.Battery = &v
	}
	if p.FilterHealth != nil {
		v := *p.FilterHealth
		s.FilterHealth = &v
	}
	return s
}

// User is the authenticated identity recorded by the client.
type User struct {
	Subject  string `json:"subject"`
	TenantID string `json:"tenant_id,omitempty"`
	Role     string `json:"role,omitempty"`
}
