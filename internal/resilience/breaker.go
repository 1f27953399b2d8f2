// Package resilience guards the runtime's remote dependencies: model
// endpoints, the embedding service, and the memory tiers. It provides a
// three-state breaker for fail-fast behaviour under sustained outages,
// ordered failover across equivalent backends, and jittered retry for
// transient faults.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without invoking the guarded call while a
// breaker is cooling down.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is a breaker's operating mode.
type State uint8

const (
	// Closed forwards every call.
	Closed State = iota

	// Open rejects calls until the cooldown elapses.
	Open

	// HalfOpen lets a bounded number of probe calls through to decide
	// whether the backend has recovered.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

const (
	defaultFailureThreshold = 5
	defaultCooldown         = 30 * time.Second
	defaultProbeQuota       = 3
)

// Breaker is a three-state circuit breaker. Consecutive failures trip it
// open; after a cooldown a probe quota decides whether it closes again.
//
// Context cancellations and deadline expiries are neutral: a user
// abandoning a turn says nothing about the backend's health, so they
// neither trip the breaker nor count as probe outcomes.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	quota     int

	mu         sync.Mutex
	state      State
	failures   int
	openedAt   time.Time
	probes     int
	probeOK    int
}

// BreakerOption is a functional option for [NewBreaker].
type BreakerOption func(*Breaker)

// WithFailureThreshold sets how many consecutive failures trip the
// breaker. Default 5.
func WithFailureThreshold(n int) BreakerOption {
	return func(b *Breaker) { b.threshold = n }
}

// WithCooldown sets how long the breaker rejects calls before probing
// again. Default 30s.
func WithCooldown(d time.Duration) BreakerOption {
	return func(b *Breaker) { b.cooldown = d }
}

// WithProbeQuota sets how many successful probes close the breaker
// again. Default 3.
func WithProbeQuota(n int) BreakerOption {
	return func(b *Breaker) { b.quota = n }
}

// NewBreaker returns a closed [Breaker] named for log messages.
func NewBreaker(name string, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		name:      name,
		threshold: defaultFailureThreshold,
		cooldown:  defaultCooldown,
		quota:     defaultProbeQuota,
	}
	for _, o := range opts {
		o(b)
	}
	if b.threshold <= 0 {
		b.threshold = defaultFailureThreshold
	}
	if b.cooldown <= 0 {
		b.cooldown = defaultCooldown
	}
	if b.quota <= 0 {
		b.quota = defaultProbeQuota
	}
	return b
}

// Do runs fn when the breaker allows it, recording the outcome. While
// open it returns [ErrCircuitOpen] without calling fn.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	callErr := fn()
	b.observe(probe, callErr)
	return callErr
}

// admit decides whether a call may proceed and whether it counts as a
// probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if time.Since(b.openedAt) < b.cooldown {
			return false, ErrCircuitOpen
		}
		b.state = HalfOpen
		b.probes = 0
		b.probeOK = 0
		slog.Info("breaker probing backend", "name", b.name)
		fallthrough
	case HalfOpen:
		if b.probes >= b.quota {
			return false, ErrCircuitOpen
		}
		b.probes++
		return true, nil
	}
	return false, nil
}

// observe folds one call outcome into the breaker state.
func (b *Breaker) observe(probe bool, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		b.unprobe(probe)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		if probe {
			// One failed probe sends the breaker straight back to open.
			b.trip()
			return
		}
		b.failures++
		if b.failures >= b.threshold {
			b.trip()
		}
		return
	}

	if probe {
		b.probeOK++
		if b.probeOK >= b.quota {
			b.state = Closed
			b.failures = 0
			slog.Info("breaker closed after recovery", "name", b.name)
		}
		return
	}
	b.failures = 0
}

// unprobe returns an unused probe slot after a neutral outcome.
func (b *Breaker) unprobe(probe bool) {
	if !probe {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.probes > 0 {
		b.probes--
	}
}

// trip opens the breaker. Must be called with b.mu held.
func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = time.Now()
	b.failures = 0
	slog.Warn("breaker opened", "name", b.name)
}

// State reports the effective state: an open breaker whose cooldown has
// elapsed reports [HalfOpen] even before the next call performs the
// transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && time.Since(b.openedAt) >= b.cooldown {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probes = 0
	b.probeOK = 0
}
