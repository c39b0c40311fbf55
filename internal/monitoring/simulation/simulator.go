package simulation

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	monitoringapp "cosafe/internal/monitoring/application"
	monitoring "cosafe/internal/monitoring/domain"
)

// Defaults for the demo signal.
const (
	DefaultInterval = 1500 * time.Millisecond

	spikeChance   = 0.04
	spikeMin      = 20.0
	spikeRange    = 50.0
	driftRange    = 3.0
	maxValue      = 100.0
	auxFlagAbove  = 200.0
	baselineMin   = 10.0
	baselineRange = 10.0
)

// Sink receives simulated readings.
type Sink interface {
	Ingest(ctx context.Context, reading monitoring.Reading) monitoringapp.IngestResult
	SetSimulating(ctx context.Context, simulating bool)
}

// Generator produces the next value of the demo signal. It is not safe for concurrent use.
type Generator struct {
	rng     *rand.Rand
	current float64
}

// NewGenerator seeds a generator and picks a baseline in [10,20).
func NewGenerator(seed int64) *Generator {
	rng := rand.New(rand.NewSource(seed))
	return &Generator{rng: rng, current: baselineMin + rng.Float64()*baselineRange}
}

// Next advances the signal with drift and an occasional spike, clamped to [0,100].
func (g *Generator) Next() float64 {
	spike := 0.0
	if g.rng.Float64() < spikeChance {
		spike = spikeMin + g.rng.Float64()*spikeRange
	}
	drift := (g.rng.Float64() - 0.5) * driftRange
	value := g.current + drift + spike
	if value < 0 {
		value = 0
	}
	if value > maxValue {
		value = maxValue
	}
	g.current = value
	return value
}

// Simulator feeds generated readings into a sink on a ticker.
type Simulator struct {
	sink     Sink
	interval time.Duration
	logger   *log.Logger
	seed     func() int64
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option customizes the simulator.
type Option func(*Simulator)

// WithInterval overrides the tick interval.
func WithInterval(interval time.Duration) Option {
	return func(s *Simulator) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithSeed fixes the generator seed.
func WithSeed(seed int64) Option {
	return func(s *Simulator) {
		s.seed = func() int64 { return seed }
	}
}

// NewSimulator constructs a simulator.
func NewSimulator(sink Sink, logger *log.Logger, opts ...Option) (*Simulator, error) {
	if sink == nil {
		return nil, errors.New("simulation: nil sink")
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Simulator{
		sink:     sink,
		interval: DefaultInterval,
		logger:   logger,
		seed:     func() int64 { return time.Now().UnixNano() },
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Running reports whether the simulator is producing readings.
func (s *Simulator) Running() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Start begins producing readings. Starting twice is a no-op.
func (s *Simulator) Start(ctx context.Context) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return false
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.sink.SetSimulating(ctx, true)
	go s.run(runCtx, done)
	return true
}

// Stop halts the simulator and waits for the loop to exit.
func (s *Simulator) Stop(ctx context.Context) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	<-done
	s.sink.SetSimulating(ctx, false)
	return true
}

// Toggle flips the simulator state and returns whether it is now running.
func (s *Simulator) Toggle(ctx context.Context) bool {
	if s.Running() {
		s.Stop(ctx)
		return false
	}
	s.Start(ctx)
	return true
}

func (s *Simulator) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	gen := NewGenerator(s.seed())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			value := gen.Next()
			reading := monitoring.Reading{
				Timestamp: s.now(),
				Value:     value,
				AuxFlag:   value > auxFlagAbove,
			}
			if res := s.sink.Ingest(ctx, reading); res.Rejected {
				s.logger.Printf("simulation reading rejected: value=%.1f reason=%s", value, res.Reason)
			}
		}
	}
}
