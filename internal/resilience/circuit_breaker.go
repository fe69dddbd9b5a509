// SPDX-License-Identifier: MIT

// Package resilience provides the per-plugin circuit breaker that sheds load
// from repeatedly failing plugins during fan-out.
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/scrapecast/scrapecast/internal/metrics"
)

// State represents the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// ErrCircuitOpen is returned when a call is rejected without dispatch. The
// orchestrators treat it as "omit this plugin from the fan-out".
var ErrCircuitOpen = errors.New("circuit breaker is open")

const (
	defaultThreshold = 5
	defaultCooldown  = 60 * time.Second
)

// clock abstracts time for tests.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Breaker is the per-plugin state machine. While Open, calls fail fast until
// the cooldown expires; the first call after expiry is admitted as the single
// half-open probe and decides the next state.
type Breaker struct {
	mu        sync.Mutex
	name      string
	state     State
	failures  int
	threshold int
	cooldown  time.Duration
	openUntil time.Time
	probing   bool // a half-open probe is in flight
	clock     clock
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock injects a test clock.
func WithClock(c clock) Option {
	return func(b *Breaker) { b.clock = c }
}

// NewBreaker creates a closed breaker for the named plugin.
func NewBreaker(name string, threshold int, cooldown time.Duration, opts ...Option) *Breaker {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	b := &Breaker{
		name:      name,
		state:     StateClosed,
		threshold: threshold,
		cooldown:  cooldown,
		clock:     realClock{},
	}
	for _, opt := range opts {
		opt(b)
	}
	metrics.SetCircuitBreakerState(b.name, string(b.state))
	return b
}

// Allow reports whether a call may be dispatched now. A true return from the
// half-open transition admits exactly one probe; concurrent callers keep
// getting false until that probe reports its outcome.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if !b.clock.Now().Before(b.openUntil) {
			b.transitionTo(StateHalfOpen)
			b.probing = true
			return true
		}
		return false
	default: // StateHalfOpen
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

// Execute runs fn under the breaker. Rejected calls return ErrCircuitOpen
// without invoking fn.
func (b *Breaker) Execute(fn func() error) error {
	if !b.Allow() {
		return ErrCircuitOpen
	}
	err := fn()
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// RecordSuccess closes the breaker and resets the failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probing = false
	if b.state != StateClosed {
		b.transitionTo(StateClosed)
	}
}

// RecordFailure counts one failure. Failures include plugin timeouts,
// plugin errors, captcha-blocked responses and empty probe results.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++

	switch b.state {
	case StateHalfOpen:
		b.probing = false
		metrics.RecordCircuitBreakerTrip(b.name, "half_open_failure")
		b.open()
	case StateClosed:
		if b.failures >= b.threshold {
			metrics.RecordCircuitBreakerTrip(b.name, "threshold_exceeded")
			b.open()
		}
	case StateOpen:
		// Failures while open (late callbacks) do not extend the cooldown.
	}
}

// open transitions to Open and arms the cooldown. Caller holds the lock.
func (b *Breaker) open() {
	b.openUntil = b.clock.Now().Add(b.cooldown)
	b.transitionTo(StateOpen)
}

func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}
	b.state = newState
	metrics.SetCircuitBreakerState(b.name, string(newState))
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot reports the state for the stats endpoint.
type Snapshot struct {
	Plugin    string    `json:"plugin"`
	State     State     `json:"state"`
	Failures  int       `json:"failures"`
	OpenUntil time.Time `json:"open_until,omitzero"`
}

// Snapshot returns a point-in-time view of the breaker.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{Plugin: b.name, State: b.state, Failures: b.failures}
	if b.state == StateOpen {
		s.OpenUntil = b.openUntil
	}
	return s
}

// Registry hands out one breaker per plugin.
type Registry struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	breakers  map[string]*Breaker
	opts      []Option
}

// NewRegistry creates a breaker registry with shared thresholds.
func NewRegistry(threshold int, cooldown time.Duration, opts ...Option) *Registry {
	return &Registry{
		threshold: threshold,
		cooldown:  cooldown,
		breakers:  make(map[string]*Breaker),
		opts:      opts,
	}
}

// For returns the breaker for a plugin, creating it on first use.
func (r *Registry) For(plugin string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[plugin]
	if !ok {
		b = NewBreaker(plugin, r.threshold, r.cooldown, r.opts...)
		r.breakers[plugin] = b
	}
	return b
}

// Snapshots returns the state of every known breaker.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}
