package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"log"
	"sync"
	"time"

	monitoringapp "cosafe/internal/monitoring/application"
	monitoring "cosafe/internal/monitoring/domain"
)

// AlertReader loads ledger entries.
type AlertReader interface {
	Alert(id string) (monitoring.Alert, bool)
}

// Clock provides time for scheduling.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// DefaultQueueSize bounds the sends waiting for the channel.
const DefaultQueueSize = 64

type dispatchJob struct {
	ctx       context.Context
	eventType string
	alert     monitoring.Alert
	contact   string
}

// Notifier renders alert events through a template and sends them on a channel.
// Sends run in order on a background worker so Notify never waits on the network.
// Unacknowledged critical alerts are re-sent once after the escalation delay.
type Notifier struct {
	alerts       AlertReader
	channel      Channel
	template     *Template
	logger       *log.Logger
	escalation   time.Duration
	cooldown     time.Duration
	dedupeWindow time.Duration
	timeout      time.Duration
	clock        Clock

	mu     sync.Mutex
	timers map[string]*time.Timer
	sent   map[string]sendRecord
	closed bool

	jobs chan dispatchJob
	done chan struct{}
}

// Option configures the notifier.
type Option func(*Notifier)

// WithEscalation configures escalation delay.
func WithEscalation(after time.Duration) Option {
	return func(n *Notifier) {
		if after > 0 {
			n.escalation = after
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same alert and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithRequestTimeout bounds each channel send.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.timeout = timeout
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewNotifier constructs an alert notifier.
func NewNotifier(alerts AlertReader, channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if alerts == nil {
		return nil, errors.New("alert notifier: nil alert reader")
	}
	if channel == nil {
		return nil, errors.New("alert notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		alerts:   alerts,
		channel:  channel,
		template: template,
		logger:   log.Default(),
		timeout:  5 * time.Second,
		clock:    systemClock{},
		timers:   make(map[string]*time.Timer),
		sent:     make(map[string]sendRecord),
		jobs:     make(chan dispatchJob, DefaultQueueSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	go n.run()
	return n, nil
}

// Notify implements AlertNotifier. Silenced events are not sent.
func (n *Notifier) Notify(ctx context.Context, event monitoringapp.AlertEvent) {
	if n == nil || n.channel == nil {
		return
	}
	switch event.Type {
	case monitoringapp.AlertEventCleared:
		n.cancelAll()
		return
	case monitoringapp.AlertEventAcknowledged:
		n.cancelEscalation(event.Alert.ID)
	}
	if event.Silenced {
		return
	}
	n.enqueue(dispatchJob{
		ctx:       context.WithoutCancel(ctx),
		eventType: event.Type,
		alert:     event.Alert,
		contact:   event.EmergencyContact,
	})
	if event.Type == monitoringapp.AlertEventRaised {
		n.scheduleEscalation(event)
	}
}

// Close stops pending escalation timers and waits for queued sends.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.cancelAll()
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.jobs)
	}
	n.mu.Unlock()
	<-n.done
}

func (n *Notifier) enqueue(job dispatchJob) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	select {
	case n.jobs <- job:
	default:
		n.logger.Printf("alert notify queue full: alert=%s event=%s", job.alert.ID, job.eventType)
	}
}

func (n *Notifier) run() {
	defer close(n.done)
	for job := range n.jobs {
		n.dispatch(job.ctx, job.eventType, job.alert, job.contact)
	}
}

func (n *Notifier) dispatch(ctx context.Context, eventType string, alert monitoring.Alert, contact string) {
	content, err := n.template.Render(buildTemplateData(eventType, alert, contact))
	if err != nil {
		n.logger.Printf("alert notify render error: alert=%s err=%v", alert.ID, err)
		return
	}
	if !n.shouldSend(alert.ID, eventType, content) {
		return
	}
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}
	if err := n.channel.Send(ctx, content); err != nil {
		n.logger.Printf("alert notify send error: alert=%s err=%v", alert.ID, err)
		return
	}
	n.markSent(alert.ID, eventType, content)
}

func (n *Notifier) scheduleEscalation(event monitoringapp.AlertEvent) {
	if n.escalation <= 0 || event.Alert.ID == "" || !escalates(event.Alert.Level) {
		return
	}
	alertID := event.Alert.ID
	contact := event.EmergencyContact
	n.mu.Lock()
	if existing, ok := n.timers[alertID]; ok && existing != nil {
		existing.Stop()
	}
	n.timers[alertID] = time.AfterFunc(n.escalation, func() {
		n.runEscalation(alertID, contact)
	})
	n.mu.Unlock()
}

func (n *Notifier) cancelEscalation(alertID string) {
	if alertID == "" {
		return
	}
	n.mu.Lock()
	timer := n.timers[alertID]
	delete(n.timers, alertID)
	n.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (n *Notifier) cancelAll() {
	if n == nil {
		return
	}
	n.mu.Lock()
	timers := n.timers
	n.timers = make(map[string]*time.Timer)
	n.mu.Unlock()
	for _, timer := range timers {
		if timer != nil {
			timer.Stop()
		}
	}
}

func (n *Notifier) runEscalation(alertID, contact string) {
	n.mu.Lock()
	delete(n.timers, alertID)
	n.mu.Unlock()

	alert, ok := n.alerts.Alert(alertID)
	if !ok || alert.Acknowledged {
		return
	}
	n.dispatch(context.Background(), "escalated", alert, contact)
}

func buildTemplateData(eventType string, alert monitoring.Alert, contact string) TemplateData {
	status := "active"
	if alert.Acknowledged {
		status = "acknowledged"
	}
	data := TemplateData{
		AlertID:    alert.ID,
		Title:      alert.Title,
		Level:      string(alert.Level),
		Message:    alert.Message,
		Device:     alert.SourceID,
		Time:       alert.Timestamp.UTC().Format(time.RFC3339),
		Status:     status,
		Suggestion: suggestionFor(alert.Level),
		Event:      eventType,
		EventLabel: eventLabel(eventType),
	}
	if escalates(alert.Level) {
		data.EmergencyContact = contact
	}
	return data
}

func eventLabel(event string) string {
	switch event {
	case monitoringapp.AlertEventRaised:
		return "Alert"
	case monitoringapp.AlertEventAcknowledged:
		return "Acknowledged"
	case "escalated":
		return "Escalated"
	default:
		return event
	}
}

func suggestionFor(level monitoring.AlertLevel) string {
	switch level {
	case monitoring.AlertEmergency, monitoring.AlertCritical:
		return "Leave the area now and ventilate. Call emergency services if anyone feels unwell."
	case monitoring.AlertWarning:
		return "Open windows and check fuel-burning appliances."
	default:
		return "No action required."
	}
}

func escalates(level monitoring.AlertLevel) bool {
	return level == monitoring.AlertCritical || level == monitoring.AlertEmergency
}

func (n *Notifier) shouldSend(alertID, eventType, content string) bool {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	now := n.clock.Now().UTC()
	n.mu.Lock()
	record, ok := n.sent[notificationKey(alertID, eventType)]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hashContent(content) && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(alertID, eventType, content string) {
	n.mu.Lock()
	n.sent[notificationKey(alertID, eventType)] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func notificationKey(alertID, eventType string) string {
	return alertID + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
