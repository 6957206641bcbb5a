// Package circuitbreaker tracks consecutive failures against a remote
// endpoint and stops traffic to it for a cooldown once a threshold is hit.
//
// States:
//   - Closed: requests allowed
//   - Open: requests rejected until the cooldown elapses
//   - HalfOpen: a single probe request is in flight
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Do when the breaker rejects the call.
var ErrOpen = errors.New("circuit breaker open")

// State represents the state of a circuit breaker.
type State int

const (
	Closed State = iota
	Open
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
	default:
		return "unknown"
	}
}

// Config holds configuration for a circuit breaker.
type Config struct {
	Threshold int           // consecutive failures before opening (default: 5)
	Cooldown  time.Duration // time spent open before a probe (default: 30s)

	// IsFailure classifies errors returned to Do. Errors it rejects leave
	// the breaker untouched. Nil counts every error.
	IsFailure func(error) bool

	// OnStateChange is called after every transition, without the lock held.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns the defaults applied to zero fields.
func DefaultConfig() Config {
	return Config{
		Threshold: 5,
		Cooldown:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	return c
}

// Breaker guards a single remote resource.
type Breaker struct {
	name   string
	config Config
	now    func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a closed breaker. name is passed to Config.OnStateChange.
func New(name string, cfg Config) *Breaker {
	return &Breaker{
		name:   name,
		config: cfg.withDefaults(),
		now:    time.Now,
		state:  Closed,
	}
}

// Allow reports whether a request may be attempted. Once the cooldown has
// elapsed an open breaker lets exactly one probe through; every further call
// is rejected until that probe is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	var from State
	changed := false
	allowed := true

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.config.Cooldown {
			allowed = false
			break
		}
		from, changed = b.state, true
		b.state = HalfOpen
		b.probing = true
	case HalfOpen:
		if b.probing {
			allowed = false
		} else {
			b.probing = true
		}
	}
	b.mu.Unlock()

	if changed {
		b.notify(from, HalfOpen)
	}
	return allowed
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.transition(func() State {
		b.failures = 0
		return Closed
	})
}

// RecordFailure counts a failure. A failed probe reopens the breaker
// immediately.
func (b *Breaker) RecordFailure() {
	b.transition(func() State {
		b.failures++
		if b.state == HalfOpen || b.failures >= b.config.Threshold {
			b.openedAt = b.now()
			return Open
		}
		return b.state
	})
}

// Do runs fn if the breaker allows it and records the outcome. It returns
// ErrOpen without calling fn when the breaker rejects the call.
func (b *Breaker) Do(fn func() error) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn()
	switch {
	case err == nil:
		b.RecordSuccess()
	case b.config.IsFailure == nil || b.config.IsFailure(err):
		b.RecordFailure()
	default:
		b.release()
	}
	return err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.transition(func() State {
		b.failures = 0
		return Closed
	})
}

// release ends a probe whose outcome says nothing about the resource.
func (b *Breaker) release() {
	b.mu.Lock()
	b.probing = false
	b.mu.Unlock()
}

func (b *Breaker) transition(apply func() State) {
	b.mu.Lock()
	from := b.state
	to := apply()
	b.state = to
	b.probing = false
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) notify(from, to State) {
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, from, to)
	}
}
