package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	monitoringapp "cosafe/internal/monitoring/application"
	monitoring "cosafe/internal/monitoring/domain"
	"cosafe/internal/observability/metrics"
)

const (
	defaultConnectTimeout = 10 * time.Second
	disconnectQuiesceMs   = 250
)

// ErrDeviceMismatch reports a payload addressed to another device.
var ErrDeviceMismatch = errors.New("mqtt source: payload device mismatch")

// ReadingSink receives decoded readings and link state changes.
type ReadingSink interface {
	Ingest(ctx context.Context, reading monitoring.Reading) monitoringapp.IngestResult
	SetConnected(ctx context.Context, connected bool) monitoring.DeviceStatus
}

// TopicFor returns the readings topic of a device.
func TopicFor(deviceID string) string {
	return "cosafe/" + deviceID + "/readings"
}

// Source subscribes to a device readings topic and forwards samples to the sink.
type Source struct {
	sink     ReadingSink
	deviceID string
	topic    string
	logger   *log.Logger
	now      func() time.Time
	onLink   func(connected bool)
	timeout  time.Duration

	client paho.Client
}

// Option customizes the source.
type Option func(*Source)

// WithTopic overrides the subscription topic.
func WithTopic(topic string) Option {
	return func(s *Source) {
		if strings.TrimSpace(topic) != "" {
			s.topic = topic
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLinkHook is called after every broker connect and connection loss.
func WithLinkHook(fn func(connected bool)) Option {
	return func(s *Source) {
		s.onLink = fn
	}
}

// WithConnectTimeout bounds Start.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSource builds a source for brokerURL. The client is not connected until Start.
func NewSource(brokerURL, deviceID string, sink ReadingSink, opts ...Option) (*Source, error) {
	if strings.TrimSpace(brokerURL) == "" {
		return nil, errors.New("mqtt source: broker url is required")
	}
	if strings.TrimSpace(deviceID) == "" {
		return nil, errors.New("mqtt source: device id is required")
	}
	if sink == nil {
		return nil, errors.New("mqtt source: nil sink")
	}
	s := &Source{
		sink:     sink,
		deviceID: deviceID,
		topic:    TopicFor(deviceID),
		logger:   log.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		timeout:  defaultConnectTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID("cosafe-" + deviceID).
		SetAutoReconnect(true).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(s.onConnectionLost)
	s.client = paho.NewClient(clientOpts)
	return s, nil
}

// Topic returns the subscription topic.
func (s *Source) Topic() string {
	return s.topic
}

// Start connects to the broker. Subscription happens in the connect handler so it survives reconnects.
func (s *Source) Start(_ context.Context) error {
	token := s.client.Connect()
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("mqtt source: connect timed out after %s", s.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt source: connect: %w", err)
	}
	return nil
}

// Stop disconnects from the broker and marks the device offline.
func (s *Source) Stop(ctx context.Context) {
	if s.client.IsConnected() {
		s.client.Disconnect(disconnectQuiesceMs)
	}
	s.sink.SetConnected(ctx, false)
}

func (s *Source) onConnect(client paho.Client) {
	token := client.Subscribe(s.topic, 0, s.onMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		s.logger.Printf("mqtt subscribe error: topic=%s err=%v", s.topic, err)
		return
	}
	s.logger.Printf("mqtt subscribed: topic=%s", s.topic)
	s.setLink(true)
}

func (s *Source) onConnectionLost(_ paho.Client, err error) {
	s.logger.Printf("mqtt connection lost: topic=%s err=%v", s.topic, err)
	s.setLink(false)
}

func (s *Source) setLink(connected bool) {
	s.sink.SetConnected(context.Background(), connected)
	if s.onLink != nil {
		s.onLink(connected)
	}
}

func (s *Source) onMessage(_ paho.Client, msg paho.Message) {
	if _, err := s.HandlePayload(context.Background(), msg.Payload()); err != nil {
		s.logger.Printf("mqtt reading error: topic=%s err=%v", msg.Topic(), err)
	}
}

// HandlePayload decodes one message and ingests it.
func (s *Source) HandlePayload(ctx context.Context, body []byte) (monitoringapp.IngestResult, error) {
	var payload monitoringapp.ReadingPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		metrics.IncReadingRejected("decode")
		return monitoringapp.IngestResult{}, fmt.Errorf("%w: %v", monitoring.ErrInvalidReading, err)
	}
	if payload.DeviceID != "" && payload.DeviceID != s.deviceID {
		metrics.IncReadingRejected("device")
		return monitoringapp.IngestResult{}, ErrDeviceMismatch
	}
	reading, err := payload.Reading(s.now())
	if err != nil {
		metrics.IncReadingRejected("payload")
		return monitoringapp.IngestResult{}, err
	}
	return s.sink.Ingest(ctx, reading), nil
}
