package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	monitoringapp "cosafe/internal/monitoring/application"
	"cosafe/internal/remote"
	syncqueue "cosafe/internal/syncqueue/domain"
)

// Uploader defaults.
const (
	DefaultUploadBatchSize = 20
	DefaultUploadInterval  = 10 * time.Second
)

// Uploader batches readings ingested during an active session into telemetry tasks.
// It is registered on the controller as a ReadingListener so no reading is skipped.
type Uploader struct {
	queue     Queue
	logger    *log.Logger
	batchSize int
	interval  time.Duration

	mu      sync.Mutex
	session *remote.Session
	buffer  []syncqueue.TelemetryReading
}

// UploaderOption customizes the uploader.
type UploaderOption func(*Uploader)

// WithUploaderLogger overrides the logger.
func WithUploaderLogger(logger *log.Logger) UploaderOption {
	return func(u *Uploader) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// WithBatch overrides the batch size and flush interval.
func WithBatch(size int, interval time.Duration) UploaderOption {
	return func(u *Uploader) {
		if size > 0 {
			u.batchSize = size
		}
		if interval > 0 {
			u.interval = interval
		}
	}
}

// NewUploader constructs an uploader.
func NewUploader(queue Queue, opts ...UploaderOption) (*Uploader, error) {
	if queue == nil {
		return nil, errors.New("sessions uploader: nil queue")
	}
	u := &Uploader{
		queue:     queue,
		logger:    log.Default(),
		batchSize: DefaultUploadBatchSize,
		interval:  DefaultUploadInterval,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

// SessionStarted starts collecting readings for the session.
func (u *Uploader) SessionStarted(session remote.Session) {
	u.mu.Lock()
	defer u.mu.Unlock()
	s := session
	u.session = &s
	u.buffer = nil
}

// SessionStopped flushes what was collected and stops collecting.
func (u *Uploader) SessionStopped(ctx context.Context, session remote.Session) {
	u.mu.Lock()
	if u.session == nil || u.session.ID != session.ID {
		u.mu.Unlock()
		return
	}
	payload, ok := u.takeLocked()
	u.session = nil
	u.mu.Unlock()
	if ok {
		u.enqueue(ctx, payload)
	}
}

// Add buffers a reading when a session is active.
func (u *Uploader) Add(ctx context.Context, event monitoringapp.ReadingIngested) {
	u.mu.Lock()
	if u.session == nil {
		u.mu.Unlock()
		return
	}
	u.buffer = append(u.buffer, syncqueue.TelemetryReading{
		Timestamp:    event.Reading.Timestamp,
		COLevel:      event.Reading.Value,
		Status:       string(event.Reading.Tier),
		MosfetStatus: event.Reading.AuxFlag,
	})
	if len(u.buffer) < u.batchSize {
		u.mu.Unlock()
		return
	}
	payload, ok := u.takeLocked()
	u.mu.Unlock()
	if ok {
		u.enqueue(ctx, payload)
	}
}

// Flush enqueues buffered readings.
func (u *Uploader) Flush(ctx context.Context) {
	u.mu.Lock()
	payload, ok := u.takeLocked()
	u.mu.Unlock()
	if ok {
		u.enqueue(ctx, payload)
	}
}

// OnReading implements monitoringapp.ReadingListener.
func (u *Uploader) OnReading(ctx context.Context, event monitoringapp.ReadingIngested) {
	u.Add(ctx, event)
}

// Run flushes partial batches every interval until ctx is done.
func (u *Uploader) Run(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			u.Flush(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			u.Flush(ctx)
		}
	}
}

func (u *Uploader) takeLocked() (syncqueue.TelemetryBatchPayload, bool) {
	if u.session == nil || len(u.buffer) == 0 {
		return syncqueue.TelemetryBatchPayload{}, false
	}
	payload := syncqueue.TelemetryBatchPayload{
		SessionID: u.session.ID,
		DeviceID:  u.session.DeviceID,
		Readings:  u.buffer,
	}
	u.buffer = nil
	return payload, true
}

func (u *Uploader) enqueue(ctx context.Context, payload syncqueue.TelemetryBatchPayload) {
	if _, err := u.queue.Enqueue(ctx, syncqueue.KindTelemetryBatch, payload); err != nil {
		u.logger.Printf("sessions upload enqueue error: session=%s readings=%d err=%v", payload.SessionID, len(payload.Readings), err)
	}
}
