package monitoring

// Settings holds user preferences.
type Settings struct {
	AudibleAlarms    bool       `json:"audible_alarms"`
	EmergencyContact string     `json:"emergency_contact"`
	Units            string     `json:"units"`
	Thresholds       Thresholds `json:"thresholds"`
	MuteAlarms       bool       `json:"mute_alarms"`
	DarkMode         bool       `json:"dark_mode"`
	Notifications    bool       `json:"notifications"`
}

// DefaultSettings returns the factory preferences.
func DefaultSettings() Settings {
	return Settings{
		AudibleAlarms:    true,
		EmergencyContact: "911",
		Units:            "ppm",
		Thresholds:       DefaultThresholds(),
		Notifications:    true,
	}
}

// SettingsPatch is a partial settings update.
type SettingsPatch struct {
	AudibleAlarms    *bool       `json:"audible_alarms,omitempty"`
	EmergencyContact *string     `json:"emergency_contact,omitempty"`
	Units            *string     `json:"units,omitempty"`
	Thresholds       *Thresholds `json:"thresholds,omitempty"`
	MuteAlarms       *bool       `json:"mute_alarms,omitempty"`
	DarkMode         *bool       `json:"dark_mode,omitempty"`
	Notifications    *bool       `json:"notifications,omitempty"`
}

// Apply validates the patch and returns the merged settings.
func (p SettingsPatch) Apply(s Settings) (Settings, error) {
	if p.Thresholds != nil {
		if err := p.Thresholds.Validate(); err != nil {
			return s, err
		}
		s.Thresholds = *p.Thresholds
	}
	if p.AudibleAlarms != nil {
		s.AudibleAlarms = *p.AudibleAlarms
	}
	if p.EmergencyContact != nil {
		s.EmergencyContact = *p.EmergencyContact
	}
	if p.Units != nil {
		s.Units = *p.Units
	}
	if p.MuteAlarms != nil {
		s.MuteAlarms = *p.MuteAlarms
	}
	if p.DarkMode != nil {
		s.DarkMode = *p.DarkMode
	}
	if p.Notifications != nil {
		s.Notifications = *p.Notifications
	}
	return s, nil
}
