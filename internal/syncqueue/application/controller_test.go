package application

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	syncqueue "cosafe/internal/syncqueue/domain"
	"cosafe/internal/syncqueue/infrastructure/memory"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingReporter struct {
	mu     sync.Mutex
	failed []syncqueue.Task
}

func (r *recordingReporter) ReportFailure(_ context.Context, task syncqueue.Task, _ error) {
	r.mu.Lock()
	r.failed = append(r.failed, task)
	r.mu.Unlock()
}

func newTestController(t *testing.T, opts ...Option) (*Controller, *manualClock) {
	t.Helper()
	clock := &manualClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock), WithLogger(log.New(io.Discard, "", 0))}, opts...)
	c, err := NewController(memory.NewStore(), opts...)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	return c, clock
}

func TestDrainDeliversInFIFOOrder(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()
	var order []string
	c.Register(syncqueue.KindDeviceCommand, func(_ context.Context, task syncqueue.Task) error {
		order = append(order, string(task.Payload))
		return nil
	})
	for _, cmd := range []string{"a", "b", "c"} {
		if _, err := c.Enqueue(ctx, syncqueue.KindDeviceCommand, cmd); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	report, err := c.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if report.Delivered != 3 || report.Remaining != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(order) != 3 || order[0] != `"a"` || order[2] != `"c"` {
		t.Fatalf("unexpected delivery order %v", order)
	}
}

func TestDrainBacksOffThenDeadLetters(t *testing.T) {
	reporter := &recordingReporter{}
	c, clock := newTestController(t, WithFailureReporter(reporter), WithMaxAttempts(3))
	ctx := context.Background()
	calls := 0
	c.Register(syncqueue.KindSessionClose, func(context.Context, syncqueue.Task) error {
		calls++
		return errors.New("connection reset")
	})
	if _, err := c.Enqueue(ctx, syncqueue.KindSessionClose, syncqueue.SessionClosePayload{SessionID: "s1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	report, _ := c.Drain(ctx)
	if report.Retried != 1 || calls != 1 {
		t.Fatalf("expected first retry, got %+v calls=%d", report, calls)
	}
	report, _ = c.Drain(ctx)
	if report.Deferred != 1 || calls != 1 {
		t.Fatalf("task must wait for its backoff, got %+v", report)
	}
	clock.Advance(time.Second)
	report, _ = c.Drain(ctx)
	if report.Retried != 1 || calls != 2 {
		t.Fatalf("expected second retry, got %+v", report)
	}
	pending, _ := c.Pending(ctx)
	if len(pending) != 1 || pending[0].Attempts != 2 || !pending[0].NextAttemptAt.Equal(clock.Now().Add(2*time.Second)) {
		t.Fatalf("unexpected backoff state %+v", pending)
	}
	clock.Advance(2 * time.Second)
	report, _ = c.Drain(ctx)
	if report.Dead != 1 || report.Remaining != 0 {
		t.Fatalf("expected dead letter, got %+v", report)
	}
	dead, _ := c.Dead(ctx)
	if len(dead) != 1 || dead[0].LastError != "connection reset" {
		t.Fatalf("unexpected dead letters %+v", dead)
	}
	if len(reporter.failed) != 1 {
		t.Fatalf("expected failure reported, got %d", len(reporter.failed))
	}
}

func TestPermanentFailureAndUnknownKind(t *testing.T) {
	reporter := &recordingReporter{}
	c, _ := newTestController(t, WithFailureReporter(reporter))
	ctx := context.Background()
	c.Register(syncqueue.KindDeviceCommand, func(context.Context, syncqueue.Task) error {
		return errors.Join(syncqueue.ErrPermanent, errors.New("unknown device"))
	})
	_, _ = c.Enqueue(ctx, syncqueue.KindDeviceCommand, "x")
	_, _ = c.Enqueue(ctx, "mystery.kind", "y")
	report, _ := c.Drain(ctx)
	if report.Dead != 2 {
		t.Fatalf("expected 2 dead letters, got %+v", report)
	}
	if len(reporter.failed) != 2 {
		t.Fatalf("every dead letter must be reported")
	}
}

func TestRetryRevivesDeadTask(t *testing.T) {
	c, _ := newTestController(t, WithMaxAttempts(1))
	ctx := context.Background()
	fail := true
	c.Register(syncqueue.KindTelemetryBatch, func(context.Context, syncqueue.Task) error {
		if fail {
			return errors.New("timeout")
		}
		return nil
	})
	task, _ := c.Enqueue(ctx, syncqueue.KindTelemetryBatch, syncqueue.TelemetryBatchPayload{SessionID: "s1"})
	_, _ = c.Drain(ctx)
	if _, err := c.Retry(ctx, task.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	fail = false
	report, _ := c.Drain(ctx)
	if report.Delivered != 1 {
		t.Fatalf("expected revived task delivered, got %+v", report)
	}
}

func TestRunDrainsOnOnlineNotification(t *testing.T) {
	c, _ := newTestController(t, WithInterval(time.Hour))
	delivered := make(chan struct{}, 1)
	c.Register(syncqueue.KindDeviceCommand, func(context.Context, syncqueue.Task) error {
		delivered <- struct{}{}
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := c.Enqueue(ctx, syncqueue.KindDeviceCommand, "STOP_SESSION"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	c.NotifyOnline()
	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatalf("online notification did not trigger a drain")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop")
	}
}
