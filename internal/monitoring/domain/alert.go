package monitoring

import "time"

// AlertLevel grades an alert.
type AlertLevel string

const (
	AlertInfo      AlertLevel = "info"
	AlertWarning   AlertLevel = "warning"
	AlertCritical  AlertLevel = "critical"
	AlertEmergency AlertLevel = "emergency"
)

// Alert is a ledger entry. Only Acknowledged changes after creation.
type Alert struct {
	ID           string     `json:"id"`
	Timestamp    time.Time  `json:"timestamp"`
	Level        AlertLevel `json:"level"`
	Title        string     `json:"title"`
	Message      string     `json:"message,omitempty"`
	Acknowledged bool       `json:"acknowledged"`
	SourceID     string     `json:"source_id,omitempty"`
}

// AlertLevelForTier maps an escalated tier to the alert level it raises.
func AlertLevelForTier(t Tier) (AlertLevel, bool) {
	switch t {
	case TierWarning:
		return AlertWarning, true
	case TierCritical:
		return AlertCritical, true
	default:
		return "", false
	}
}

// AlertTitleForTier returns the headline used for an escalation alert.
func AlertTitleForTier(t Tier) string {
	if t == TierCritical {
		return "Critical CO spike"
	}
	return "CO level elevated"
}
