package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	monitoring "cosafe/internal/monitoring/domain"
	"cosafe/internal/observability/metrics"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// IngestResult describes what a reading did to the state.
type IngestResult struct {
	Reading      monitoring.Reading `json:"reading"`
	PreviousTier monitoring.Tier    `json:"previous_tier"`
	Alert        *monitoring.Alert  `json:"alert,omitempty"`
	Rejected     bool               `json:"rejected"`
	Reason       string             `json:"reason,omitempty"`
}

// State is a point-in-time view of the client state without history.
type State struct {
	Current                *monitoring.Reading     `json:"current,omitempty"`
	Status                 monitoring.Tier         `json:"status"`
	HistorySize            int                     `json:"history_size"`
	Alerts                 []monitoring.Alert      `json:"alerts"`
	ActiveAlerts           []monitoring.Alert      `json:"active_alerts"`
	Settings               monitoring.Settings     `json:"settings"`
	Device                 monitoring.DeviceStatus `json:"device"`
	User                   *monitoring.User        `json:"user,omitempty"`
	IsAuthenticated        bool                    `json:"is_authenticated"`
	IsSimulating           bool                    `json:"is_simulating"`
	EmergencyBannerVisible bool                    `json:"emergency_banner_visible"`
}

// Controller owns the monitoring state. Every operation is serialized.
type Controller struct {
	mu sync.Mutex

	current         *monitoring.Reading
	history         *monitoring.History
	alerts          []monitoring.Alert
	settings        monitoring.Settings
	device          monitoring.DeviceStatus
	user            *monitoring.User
	simulating      bool
	emergencyBanner bool

	alertSeq uint64
	version  uint64

	clock           Clock
	notifier        AlertNotifier
	gateway         *Gateway
	logger          *log.Logger
	historyCapacity int

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int

	listenMu  sync.Mutex
	listeners []ReadingListener
}

// ReadingListener receives every accepted reading in ingest order. It runs on the
// ingest path, so it must not call back into the controller.
type ReadingListener interface {
	OnReading(ctx context.Context, event ReadingIngested)
}

// Option customizes the controller.
type Option func(*Controller)

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithNotifier assigns an alert notifier.
func WithNotifier(notifier AlertNotifier) Option {
	return func(c *Controller) {
		c.notifier = notifier
	}
}

// WithGateway assigns the persistence gateway.
func WithGateway(gateway *Gateway) Option {
	return func(c *Controller) {
		c.gateway = gateway
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHistoryCapacity overrides the in-memory history bound.
func WithHistoryCapacity(capacity int) Option {
	return func(c *Controller) {
		if capacity > 0 {
			c.historyCapacity = capacity
		}
	}
}

// NewController constructs a controller with default settings.
func NewController(opts ...Option) (*Controller, error) {
	c := &Controller{
		settings:        monitoring.DefaultSettings(),
		alerts:          []monitoring.Alert{},
		clock:           systemClock{},
		logger:          log.Default(),
		historyCapacity: monitoring.DefaultHistoryCapacity,
		subs:            make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.historyCapacity <= 0 {
		return nil, errors.New("monitoring: invalid history capacity")
	}
	c.history = monitoring.NewHistory(c.historyCapacity)
	return c, nil
}

type effects struct {
	events      []Event
	alertEvents []AlertEvent
	persist     bool
	snapshot    PersistedState
	version     uint64
}

// Restore loads the last snapshot from the gateway.
func (c *Controller) Restore(ctx context.Context) bool {
	if c == nil || c.gateway == nil {
		return false
	}
	state, ok := c.gateway.Load(ctx)
	c.mu.Lock()
	c.history.Replace(state.History)
	c.alerts = append([]monitoring.Alert{}, state.Alerts...)
	c.settings = state.Settings
	c.device = state.Device
	c.user = state.User
	c.simulating = state.IsSimulating
	c.current = nil
	if points := c.history.Last(1); len(points) == 1 {
		reading := monitoring.Reading{
			Timestamp: points[0].Timestamp,
			Value:     points[0].Value,
			Tier:      monitoring.Classify(points[0].Value, c.settings.Thresholds),
		}
		c.current = &reading
	}
	c.mu.Unlock()
	metrics.SetDeviceConnected(false)
	return ok
}

// Ingest applies a reading. Out of order or invalid readings are rejected and never fail the caller.
func (c *Controller) Ingest(ctx context.Context, reading monitoring.Reading) IngestResult {
	if c == nil {
		return IngestResult{Reading: reading, Rejected: true, Reason: "nil controller"}
	}
	start := time.Now()
	if err := monitoring.ValidateReading(reading); err != nil {
		metrics.IncReadingRejected("invalid")
		c.logger.Printf("reading rejected: err=%v", err)
		return IngestResult{Reading: reading, Rejected: true, Reason: err.Error()}
	}

	c.mu.Lock()
	previous := monitoring.TierSafe
	if c.current != nil {
		previous = c.current.Tier
		if reading.Timestamp.Before(c.current.Timestamp) {
			last := c.current.Timestamp
			c.mu.Unlock()
			metrics.IncReadingRejected("out_of_order")
			c.logger.Printf("reading rejected: out of order ts=%s last=%s", reading.Timestamp.Format(time.RFC3339Nano), last.Format(time.RFC3339Nano))
			return IngestResult{Reading: reading, PreviousTier: previous, Rejected: true, Reason: "out of order"}
		}
	}

	reading.Tier = monitoring.Classify(reading.Value, c.settings.Thresholds)
	stored := reading
	c.current = &stored
	c.history.Append(monitoring.HistoryPoint{Timestamp: reading.Timestamp, Value: reading.Value})
	c.device.LastUpdate = c.clock.Now()
	banner := reading.Value >= c.settings.Thresholds.Critical
	bannerChanged := banner != c.emergencyBanner
	c.emergencyBanner = banner

	var fx effects
	result := IngestResult{Reading: reading, PreviousTier: previous}
	if reading.Tier.MoreSevereThan(previous) {
		level, _ := monitoring.AlertLevelForTier(reading.Tier)
		message := fmt.Sprintf("%.0f ppm above the %s limit", reading.Value, reading.Tier)
		alert := c.raiseLocked(&fx, level, monitoring.AlertTitleForTier(reading.Tier), message, c.device.DeviceID)
		result.Alert = &alert
	}
	ingested := ReadingIngested{Reading: reading, PreviousTier: previous, EmergencyBanner: banner}
	fx.events = append(fx.events, ingested)
	if bannerChanged {
		fx.events = append(fx.events, EmergencyBannerChanged{Visible: banner})
	}
	c.markDirtyLocked(&fx)
	c.listenMu.Lock()
	c.mu.Unlock()
	for _, listener := range c.listeners {
		listener.OnReading(ctx, ingested)
	}
	c.listenMu.Unlock()

	c.finish(ctx, fx)
	metrics.ObserveIngest(string(reading.Tier), time.Since(start))
	return result
}

// RaiseAlert records an externally triggered alert.
func (c *Controller) RaiseAlert(ctx context.Context, level monitoring.AlertLevel, title, message, sourceID string) monitoring.Alert {
	if c == nil {
		return monitoring.Alert{}
	}
	var fx effects
	c.mu.Lock()
	alert := c.raiseLocked(&fx, level, title, message, sourceID)
	c.markDirtyLocked(&fx)
	c.mu.Unlock()
	c.finish(ctx, fx)
	return alert
}

// Acknowledge marks an alert acknowledged. Unknown ids and repeats are no-ops.
func (c *Controller) Acknowledge(ctx context.Context, id string) bool {
	if c == nil || id == "" {
		return false
	}
	var fx effects
	found := false
	c.mu.Lock()
	for i := range c.alerts {
		if c.alerts[i].ID != id {
			continue
		}
		found = true
		if c.alerts[i].Acknowledged {
			break
		}
		c.alerts[i].Acknowledged = true
		alert := c.alerts[i]
		fx.events = append(fx.events, AlertAcknowledged{Alert: alert})
		fx.alertEvents = append(fx.alertEvents, c.alertEventLocked(AlertEventAcknowledged, alert))
		c.markDirtyLocked(&fx)
		break
	}
	c.mu.Unlock()
	c.finish(ctx, fx)
	return found
}

// ClearAlerts empties the ledger.
func (c *Controller) ClearAlerts(ctx context.Context) int {
	if c == nil {
		return 0
	}
	var fx effects
	c.mu.Lock()
	count := len(c.alerts)
	c.alerts = []monitoring.Alert{}
	fx.events = append(fx.events, AlertsCleared{Count: count})
	fx.alertEvents = append(fx.alertEvents, AlertEvent{Type: AlertEventCleared, Silenced: c.silencedLocked()})
	c.markDirtyLocked(&fx)
	c.mu.Unlock()
	c.finish(ctx, fx)
	return count
}

// UpdateSettings merges a partial update. Invalid thresholds leave settings unchanged.
func (c *Controller) UpdateSettings(ctx context.Context, patch monitoring.SettingsPatch) (monitoring.Settings, error) {
	if c == nil {
		return monitoring.Settings{}, errors.New("monitoring: nil controller")
	}
	var fx effects
	c.mu.Lock()
	merged, err := patch.Apply(c.settings)
	if err != nil {
		current := c.settings
		c.mu.Unlock()
		return current, err
	}
	c.settings = merged
	fx.events = append(fx.events, SettingsUpdated{Settings: merged})
	c.markDirtyLocked(&fx)
	c.mu.Unlock()
	c.finish(ctx, fx)
	return merged, nil
}

// MuteAlarms toggles alarm muting.
func (c *Controller) MuteAlarms(ctx context.Context, muted bool) (monitoring.Settings, error) {
	return c.UpdateSettings(ctx, monitoring.SettingsPatch{MuteAlarms: &muted})
}

// UpdateDeviceStatus merges a device patch. Link and battery edges raise alerts.
func (c *Controller) UpdateDeviceStatus(ctx context.Context, patch monitoring.DeviceStatusPatch) monitoring.DeviceStatus {
	if c == nil {
		return monitoring.DeviceStatus{}
	}
	var fx effects
	c.mu.Lock()
	before := c.device
	after := patch.Apply(before)
	after.LastUpdate = c.clock.Now()
	c.device = after

	name := after.Name
	if name == "" {
		name = after.DeviceID
	}
	if after.Connected != before.Connected {
		if after.Connected {
			c.raiseLocked(&fx, monitoring.AlertInfo, "Device connected", fmt.Sprintf("Connected to %s", displayName(name)), after.DeviceID)
		} else {
			c.raiseLocked(&fx, monitoring.AlertInfo, "Device disconnected", fmt.Sprintf("Lost connection to %s", displayName(name)), after.DeviceID)
		}
	}
	if batteryCrossedLow(before.Battery, after.Battery) {
		c.raiseLocked(&fx, monitoring.AlertWarning, "Low battery", fmt.Sprintf("Battery at %d%%", *after.Battery), after.DeviceID)
	}
	fx.events = append(fx.events, DeviceStatusChanged{Device: after})
	c.markDirtyLocked(&fx)
	c.mu.Unlock()

	if after.Connected != before.Connected {
		metrics.SetDeviceConnected(after.Connected)
	}
	c.finish(ctx, fx)
	return after
}

// SetConnected is a shortcut for link state changes.
func (c *Controller) SetConnected(ctx context.Context, connected bool) monitoring.DeviceStatus {
	return c.UpdateDeviceStatus(ctx, monitoring.DeviceStatusPatch{Connected: &connected})
}

// SetSimulating records whether readings come from the simulator.
func (c *Controller) SetSimulating(ctx context.Context, simulating bool) {
	if c == nil {
		return
	}
	var fx effects
	c.mu.Lock()
	if c.simulating == simulating {
		c.mu.Unlock()
		return
	}
	c.simulating = simulating
	fx.events = append(fx.events, SimulationToggled{Simulating: simulating})
	c.markDirtyLocked(&fx)
	c.mu.Unlock()
	c.finish(ctx, fx)
}

// ClearHistory drops every history point and the current reading.
func (c *Controller) ClearHistory(ctx context.Context) {
	if c == nil {
		return
	}
	var fx effects
	c.mu.Lock()
	c.history.Reset()
	c.current = nil
	fx.events = append(fx.events, HistoryCleared{})
	c.markDirtyLocked(&fx)
	c.mu.Unlock()
	c.finish(ctx, fx)
}

// SetEmergencyBanner overrides the banner until the next reading.
func (c *Controller) SetEmergencyBanner(ctx context.Context, visible bool) {
	if c == nil {
		return
	}
	var fx effects
	c.mu.Lock()
	c.emergencyBanner = visible
	fx.events = append(fx.events, EmergencyBannerChanged{Visible: visible})
	c.mu.Unlock()
	c.finish(ctx, fx)
}

// SetUser records the authenticated identity.
func (c *Controller) SetUser(ctx context.Context, user monitoring.User) {
	if c == nil {
		return
	}
	var fx effects
	c.mu.Lock()
	c.user = &user
	fx.events = append(fx.events, UserChanged{User: &user})
	c.markDirtyLocked(&fx)
	c.mu.Unlock()
	c.finish(ctx, fx)
}

// Logout clears the identity together with history and alerts.
func (c *Controller) Logout(ctx context.Context) {
	if c == nil {
		return
	}
	var fx effects
	c.mu.Lock()
	c.user = nil
	c.history.Reset()
	c.current = nil
	c.alerts = []monitoring.Alert{}
	c.emergencyBanner = false
	fx.events = append(fx.events, UserChanged{}, HistoryCleared{}, AlertsCleared{})
	c.markDirtyLocked(&fx)
	c.mu.Unlock()
	c.finish(ctx, fx)
}

// Hydrate replaces history with readings fetched from the remote authority.
func (c *Controller) Hydrate(ctx context.Context, readings []monitoring.Reading) int {
	if c == nil || len(readings) == 0 {
		return 0
	}
	sorted := make([]monitoring.Reading, 0, len(readings))
	for _, r := range readings {
		if monitoring.ValidateReading(r) == nil {
			sorted = append(sorted, r)
		}
	}
	if len(sorted) == 0 {
		return 0
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	var fx effects
	c.mu.Lock()
	points := make([]monitoring.HistoryPoint, 0, len(sorted))
	for _, r := range sorted {
		points = append(points, monitoring.HistoryPoint{Timestamp: r.Timestamp, Value: r.Value})
	}
	c.history.Replace(points)
	latest := sorted[len(sorted)-1]
	latest.Tier = monitoring.Classify(latest.Value, c.settings.Thresholds)
	c.current = &latest
	c.device.Connected = true
	c.device.LastUpdate = c.clock.Now()
	fx.events = append(fx.events, ReadingIngested{Reading: latest, PreviousTier: latest.Tier}, DeviceStatusChanged{Device: c.device})
	c.markDirtyLocked(&fx)
	c.mu.Unlock()
	metrics.SetDeviceConnected(true)
	c.finish(ctx, fx)
	return len(points)
}

// State returns a consistent view of the current state.
func (c *Controller) State() State {
	if c == nil {
		return State{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	state := State{
		Status:                 c.statusLocked(),
		HistorySize:            c.history.Len(),
		Alerts:                 append([]monitoring.Alert{}, c.alerts...),
		ActiveAlerts:           c.activeLocked(),
		Settings:               c.settings,
		Device:                 c.device,
		IsAuthenticated:        c.user != nil,
		IsSimulating:           c.simulating,
		EmergencyBannerVisible: c.emergencyBanner,
	}
	if c.current != nil {
		current := *c.current
		state.Current = &current
	}
	if c.user != nil {
		user := *c.user
		state.User = &user
	}
	return state
}

// History returns history oldest first.
func (c *Controller) History() []monitoring.HistoryPoint {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Points()
}

// Alerts returns the full ledger, newest first.
func (c *Controller) Alerts() []monitoring.Alert {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]monitoring.Alert{}, c.alerts...)
}

// ActiveAlerts returns unacknowledged alerts, newest first.
func (c *Controller) ActiveAlerts() []monitoring.Alert {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeLocked()
}

// ActiveAlertsCount returns the number of unacknowledged alerts.
func (c *Controller) ActiveAlertsCount() int {
	return len(c.ActiveAlerts())
}

// CurrentStatus returns the tier of the current reading, safe when none.
func (c *Controller) CurrentStatus() monitoring.Tier {
	if c == nil {
		return monitoring.TierSafe
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// LatestReading returns the current reading.
func (c *Controller) LatestReading() (monitoring.Reading, bool) {
	if c == nil {
		return monitoring.Reading{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return monitoring.Reading{}, false
	}
	return *c.current, true
}

// Settings returns the current settings.
func (c *Controller) Settings() monitoring.Settings {
	if c == nil {
		return monitoring.DefaultSettings()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// AddReadingListener registers a durable consumer of accepted readings.
func (c *Controller) AddReadingListener(listener ReadingListener) {
	if c == nil || listener == nil {
		return
	}
	c.listenMu.Lock()
	c.listeners = append(c.listeners, listener)
	c.listenMu.Unlock()
}

// Subscribe returns a channel of state events and a cancel func.
// Slow subscribers miss events instead of blocking the controller; durable
// consumers use AddReadingListener.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	if c == nil {
		close(ch)
		return ch, func() {}
	}
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
			close(ch)
		})
	}
}

func (c *Controller) raiseLocked(fx *effects, level monitoring.AlertLevel, title, message, sourceID string) monitoring.Alert {
	now := c.clock.Now()
	c.alertSeq++
	alert := monitoring.Alert{
		ID:        fmt.Sprintf("alert_%d_%d", now.UnixMilli(), c.alertSeq),
		Timestamp: now,
		Level:     level,
		Title:     title,
		Message:   message,
		SourceID:  sourceID,
	}
	c.alerts = append([]monitoring.Alert{alert}, c.alerts...)
	fx.events = append(fx.events, AlertRaised{Alert: alert})
	fx.alertEvents = append(fx.alertEvents, c.alertEventLocked(AlertEventRaised, alert))
	return alert
}

func (c *Controller) alertEventLocked(eventType string, alert monitoring.Alert) AlertEvent {
	return AlertEvent{
		Type:             eventType,
		Alert:            alert,
		Silenced:         c.silencedLocked(),
		EmergencyContact: c.settings.EmergencyContact,
	}
}

func (c *Controller) silencedLocked() bool {
	return c.settings.MuteAlarms || !c.settings.Notifications
}

func (c *Controller) markDirtyLocked(fx *effects) {
	if c.gateway == nil {
		return
	}
	c.version++
	fx.persist = true
	fx.version = c.version
	fx.snapshot = PersistedState{
		History:         c.history.Last(PersistHistoryLimit),
		Alerts:          append([]monitoring.Alert{}, c.alerts...),
		Settings:        c.settings,
		Device:          c.device,
		IsAuthenticated: c.user != nil,
		IsSimulating:    c.simulating,
	}
	if c.user != nil {
		user := *c.user
		fx.snapshot.User = &user
	}
}

func (c *Controller) finish(ctx context.Context, fx effects) {
	if fx.persist {
		c.gateway.Save(ctx, fx.snapshot, fx.version)
	}
	for _, evt := range fx.alertEvents {
		metrics.IncAlertEvent(evt.Type, string(evt.Alert.Level))
		if c.notifier != nil {
			c.notifier.Notify(ctx, evt)
		}
	}
	if len(fx.events) == 0 {
		return
	}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, evt := range fx.events {
		for _, ch := range c.subs {
			select {
			case ch <- evt:
			default:
			}
		}
	}
}

func (c *Controller) activeLocked() []monitoring.Alert {
	active := make([]monitoring.Alert, 0, len(c.alerts))
	for _, alert := range c.alerts {
		if !alert.Acknowledged {
			active = append(active, alert)
		}
	}
	return active
}

func (c *Controller) statusLocked() monitoring.Tier {
	if c.current == nil {
		return monitoring.TierSafe
	}
	return c.current.Tier
}

func batteryCrossedLow(before, after *int) bool {
	if after == nil || *after >= monitoring.BatteryLowThreshold {
		return false
	}
	return before == nil || *before >= monitoring.BatteryLowThreshold
}

func displayName(name string) string {
	if name == "" {
		return "sensor"
	}
	return name
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Alert looks up a ledger entry by id.
func (c *Controller) Alert(id string) (monitoring.Alert, bool) {
	if c == nil {
		return monitoring.Alert{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, alert := range c.alerts {
		if alert.ID == id {
			return alert, true
		}
	}
	return monitoring.Alert{}, false
}
