package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"cosafe/internal/observability/metrics"
	syncqueue "cosafe/internal/syncqueue/domain"
)

// Defaults for delivery.
const (
	DefaultMaxAttempts = 5
	DefaultBackoffBase = time.Second
	DefaultBackoffCap  = 5 * time.Minute
	DefaultInterval    = 30 * time.Second
)

// Store persists pending and dead-lettered tasks.
type Store interface {
	// Append assigns the FIFO sequence number and stores the task.
	Append(ctx context.Context, task syncqueue.Task) (syncqueue.Task, error)
	// Pending lists pending tasks in FIFO order.
	Pending(ctx context.Context) ([]syncqueue.Task, error)
	Update(ctx context.Context, task syncqueue.Task) error
	Delete(ctx context.Context, id string) error
	MoveToDead(ctx context.Context, task syncqueue.Task) error
	Dead(ctx context.Context) ([]syncqueue.Task, error)
	// Revive moves a dead task back to pending.
	Revive(ctx context.Context, id string) (syncqueue.Task, error)
}

// Handler delivers one task. Wrap syncqueue.ErrPermanent to skip retries.
type Handler func(ctx context.Context, task syncqueue.Task) error

// FailureReporter is told about every dead-lettered task.
type FailureReporter interface {
	ReportFailure(ctx context.Context, task syncqueue.Task, err error)
}

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

// DrainReport summarizes one drain pass.
type DrainReport struct {
	Delivered int `json:"delivered"`
	Retried   int `json:"retried"`
	Dead      int `json:"dead"`
	Deferred  int `json:"deferred"`
	Remaining int `json:"remaining"`
}

// Controller delivers queued tasks to registered handlers.
type Controller struct {
	store       Store
	clock       Clock
	logger      *log.Logger
	reporter    FailureReporter
	maxAttempts int
	base        time.Duration
	cap         time.Duration
	interval    time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler

	drainMu sync.Mutex
	online  chan struct{}
}

// Option customizes the controller.
type Option func(*Controller)

// WithClock sets the clock.
func WithClock(clock Clock) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithFailureReporter sets the dead-letter reporter.
func WithFailureReporter(reporter FailureReporter) Option {
	return func(c *Controller) {
		c.reporter = reporter
	}
}

// WithMaxAttempts sets the attempts before dead-lettering.
func WithMaxAttempts(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff sets exponential backoff bounds.
func WithBackoff(base, limit time.Duration) Option {
	return func(c *Controller) {
		if base > 0 {
			c.base = base
		}
		if limit > 0 {
			c.cap = limit
		}
	}
}

// WithInterval sets the Run drain period.
func WithInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// NewController constructs a controller.
func NewController(store Store, opts ...Option) (*Controller, error) {
	if store == nil {
		return nil, errors.New("syncqueue: nil store")
	}
	c := &Controller{
		store:       store,
		clock:       systemClock{},
		logger:      log.Default(),
		maxAttempts: DefaultMaxAttempts,
		base:        DefaultBackoffBase,
		cap:         DefaultBackoffCap,
		interval:    DefaultInterval,
		handlers:    make(map[string]Handler),
		online:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Register binds a handler to a task kind.
func (c *Controller) Register(kind string, handler Handler) {
	if c == nil || handler == nil {
		return
	}
	c.mu.Lock()
	c.handlers[kind] = handler
	c.mu.Unlock()
}

// Enqueue persists a task. payload is JSON encoded.
func (c *Controller) Enqueue(ctx context.Context, kind string, payload any) (syncqueue.Task, error) {
	if c == nil {
		return syncqueue.Task{}, errors.New("syncqueue: nil controller")
	}
	if kind == "" {
		return syncqueue.Task{}, errors.New("syncqueue: empty kind")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return syncqueue.Task{}, fmt.Errorf("syncqueue: encode payload: %w", err)
	}
	now := c.clock.Now()
	task, err := c.store.Append(ctx, syncqueue.Task{
		ID:            uuid.New().String(),
		Kind:          kind,
		Payload:       body,
		CreatedAt:     now,
		NextAttemptAt: now,
	})
	if err != nil {
		metrics.IncStorageError("syncqueue")
		return syncqueue.Task{}, fmt.Errorf("syncqueue: append: %w", err)
	}
	c.logger.Printf("syncqueue enqueued: id=%s kind=%s", task.ID, task.Kind)
	c.refreshDepth(ctx)
	return task, nil
}

// Drain attempts every due task once, in FIFO order.
func (c *Controller) Drain(ctx context.Context) (DrainReport, error) {
	if c == nil {
		return DrainReport{}, nil
	}
	c.drainMu.Lock()
	defer c.drainMu.Unlock()

	tasks, err := c.store.Pending(ctx)
	if err != nil {
		metrics.IncStorageError("syncqueue")
		return DrainReport{}, fmt.Errorf("syncqueue: list pending: %w", err)
	}
	var report DrainReport
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			report.Remaining = c.refreshDepth(ctx)
			return report, err
		}
		now := c.clock.Now()
		if !task.Due(now) {
			report.Deferred++
			continue
		}
		handler := c.handler(task.Kind)
		if handler == nil {
			c.deadLetter(ctx, task, fmt.Errorf("%w: %s", syncqueue.ErrNoHandler, task.Kind))
			report.Dead++
			continue
		}
		err := handler(ctx, task)
		switch {
		case err == nil:
			if delErr := c.store.Delete(ctx, task.ID); delErr != nil {
				metrics.IncStorageError("syncqueue")
				c.logger.Printf("syncqueue delete error: id=%s err=%v", task.ID, delErr)
			}
			metrics.IncSyncTask(task.Kind, metrics.SyncResultDelivered)
			report.Delivered++
		case errors.Is(err, syncqueue.ErrPermanent):
			task.Attempts++
			c.deadLetter(ctx, task, err)
			report.Dead++
		default:
			task.Attempts++
			task.LastError = err.Error()
			if task.Attempts >= c.maxAttempts {
				c.deadLetter(ctx, task, err)
				report.Dead++
				continue
			}
			task.NextAttemptAt = now.Add(syncqueue.Backoff(task.Attempts, c.base, c.cap))
			if updErr := c.store.Update(ctx, task); updErr != nil {
				metrics.IncStorageError("syncqueue")
				c.logger.Printf("syncqueue update error: id=%s err=%v", task.ID, updErr)
			}
			c.logger.Printf("syncqueue retry scheduled: id=%s kind=%s attempts=%d next=%s err=%v",
				task.ID, task.Kind, task.Attempts, task.NextAttemptAt.Format(time.RFC3339), err)
			metrics.IncSyncTask(task.Kind, metrics.SyncResultRetry)
			report.Retried++
		}
	}
	report.Remaining = c.refreshDepth(ctx)
	return report, nil
}

// NotifyOnline requests an immediate drain from Run.
func (c *Controller) NotifyOnline() {
	if c == nil {
		return
	}
	select {
	case c.online <- struct{}{}:
	default:
	}
}

// Run drains on every tick and on every NotifyOnline until ctx is done.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	drain := func(trigger string) {
		report, err := c.Drain(ctx)
		if err != nil && ctx.Err() == nil {
			c.logger.Printf("syncqueue drain error: trigger=%s err=%v", trigger, err)
			return
		}
		if report.Delivered > 0 || report.Dead > 0 {
			c.logger.Printf("syncqueue drained: trigger=%s delivered=%d retried=%d dead=%d remaining=%d",
				trigger, report.Delivered, report.Retried, report.Dead, report.Remaining)
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			drain("interval")
		case <-c.online:
			drain("online")
		}
	}
}

// Pending lists tasks awaiting delivery.
func (c *Controller) Pending(ctx context.Context) ([]syncqueue.Task, error) {
	return c.store.Pending(ctx)
}

// Dead lists dead-lettered tasks.
func (c *Controller) Dead(ctx context.Context) ([]syncqueue.Task, error) {
	return c.store.Dead(ctx)
}

// Retry moves a dead task back to pending with a fresh attempt budget.
func (c *Controller) Retry(ctx context.Context, id string) (syncqueue.Task, error) {
	task, err := c.store.Revive(ctx, id)
	if err != nil {
		return syncqueue.Task{}, err
	}
	c.refreshDepth(ctx)
	c.NotifyOnline()
	return task, nil
}

func (c *Controller) handler(kind string) Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handlers[kind]
}

func (c *Controller) deadLetter(ctx context.Context, task syncqueue.Task, cause error) {
	task.LastError = cause.Error()
	if err := c.store.MoveToDead(ctx, task); err != nil {
		metrics.IncStorageError("syncqueue")
		c.logger.Printf("syncqueue dead letter error: id=%s err=%v", task.ID, err)
	}
	metrics.IncSyncTask(task.Kind, metrics.SyncResultDead)
	c.logger.Printf("syncqueue dead letter: id=%s kind=%s attempts=%d err=%v", task.ID, task.Kind, task.Attempts, cause)
	if c.reporter != nil {
		c.reporter.ReportFailure(ctx, task, cause)
	}
}

func (c *Controller) refreshDepth(ctx context.Context) int {
	pending, err := c.store.Pending(ctx)
	if err != nil {
		return 0
	}
	metrics.SetSyncQueueDepth(len(pending))
	return len(pending)
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
