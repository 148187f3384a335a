package transport

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/ignite/mailblast/internal/config"
)

// Simulated is a transport that sleeps and fails a configurable fraction of
// sends. Used in development and load testing so the dispatch pipeline can be
// exercised end to end without a mail provider.
type Simulated struct {
	latency     time.Duration
	failureRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulated builds a simulated transport from configuration. Defaults:
// 100ms latency, 10% failure rate.
func NewSimulated(cfg config.TransportConfig) *Simulated {
	latency := time.Duration(cfg.SimulatedLatencyMillis) * time.Millisecond
	if cfg.SimulatedLatencyMillis <= 0 {
		latency = 100 * time.Millisecond
	}
	rate := cfg.SimulatedFailureRate
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	return &Simulated{
		latency:     latency,
		failureRate: rate,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Simulated) Name() string { return "simulated" }

// Send sleeps for the configured latency then fails at the configured rate.
func (s *Simulated) Send(ctx context.Context, msg Message) error {
	select {
	case <-time.After(s.latency):
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	roll := s.rng.Float64()
	s.mu.Unlock()

	if roll < s.failureRate {
		return &SendError{Reason: "simulated delivery failure", Permanent: false}
	}
	return nil
}
