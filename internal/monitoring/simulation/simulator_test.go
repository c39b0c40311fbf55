package simulation

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	monitoringapp "cosafe/internal/monitoring/application"
	monitoring "cosafe/internal/monitoring/domain"
)

type recordingSink struct {
	mu         sync.Mutex
	readings   []monitoring.Reading
	simulating []bool
}

func (s *recordingSink) Ingest(_ context.Context, r monitoring.Reading) monitoringapp.IngestResult {
	s.mu.Lock()
	s.readings = append(s.readings, r)
	s.mu.Unlock()
	return monitoringapp.IngestResult{Reading: r}
}

func (s *recordingSink) SetSimulating(_ context.Context, v bool) {
	s.mu.Lock()
	s.simulating = append(s.simulating, v)
	s.mu.Unlock()
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readings)
}

func TestGeneratorStaysInRange(t *testing.T) {
	gen := NewGenerator(42)
	for i := 0; i < 10000; i++ {
		v := gen.Next()
		if v < 0 || v > 100 {
			t.Fatalf("value %d out of range: %f", i, v)
		}
	}
}

func TestSimulatorStartStop(t *testing.T) {
	sink := &recordingSink{}
	sim, err := NewSimulator(sink, log.New(io.Discard, "", 0), WithInterval(5*time.Millisecond), WithSeed(1))
	if err != nil {
		t.Fatalf("new simulator: %v", err)
	}
	ctx := context.Background()
	if !sim.Start(ctx) {
		t.Fatalf("expected start")
	}
	if sim.Start(ctx) {
		t.Fatalf("second start should be a no-op")
	}
	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("simulator produced %d readings", sink.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !sim.Stop(ctx) {
		t.Fatalf("expected stop")
	}
	stopped := sink.count()
	time.Sleep(30 * time.Millisecond)
	if sink.count() != stopped {
		t.Fatalf("readings produced after stop")
	}
	if sim.Running() {
		t.Fatalf("expected simulator stopped")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.simulating) != 2 || !sink.simulating[0] || sink.simulating[1] {
		t.Fatalf("unexpected simulating flags: %v", sink.simulating)
	}
}
