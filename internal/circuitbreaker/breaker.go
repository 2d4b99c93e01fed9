// Package circuitbreaker guards egress paths, the probe's submission loop in
// particular, against a dead or drowning collector. Failures trip the breaker
// open and calls fail fast; after a cooldown a handful of trial calls decide
// whether it closes again.
package circuitbreaker

import (
	"errors"
	"log"
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	ErrOpen            = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many trial requests in half-open state")
)

// Config tunes one breaker.
type Config struct {
	// Name appears in state-change logs.
	Name string

	// TrialRequests is how many calls may probe the backend in half-open
	// state. That many consecutive successes close the breaker again.
	TrialRequests uint32

	// Interval clears the closed-state counts so an old failure streak does
	// not linger forever. Zero keeps counts indefinitely.
	Interval time.Duration

	// Cooldown is how long the breaker stays open before trialing.
	Cooldown time.Duration

	// ShouldTrip inspects the counts after every closed-state failure.
	ShouldTrip func(counts Counts) bool

	// OnStateChange fires on every transition.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig trips after five consecutive failures and trials after 30s.
func DefaultConfig(name string) Config {
	return Config{
		Name:          name,
		TrialRequests: 3,
		Interval:      time.Minute,
		Cooldown:      30 * time.Second,
		ShouldTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to State) {
			log.Printf("⚡ Breaker %s: %s -> %s", name, from, to)
		},
	}
}

// Counts accumulates call outcomes within one generation.
type Counts struct {
	Requests             uint32
	Successes            uint32
	Failures             uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Requests is counted on admission in before(); these record outcomes only.
func (c *Counts) success() {
	c.Successes++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) failure() {
	c.Failures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// Breaker is a single circuit breaker. The zero value is not usable; call New.
type Breaker struct {
	cfg Config

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	expiry     time.Time
}

func New(cfg Config) *Breaker {
	if cfg.TrialRequests == 0 {
		cfg.TrialRequests = 1
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = DefaultConfig(cfg.Name).ShouldTrip
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

// Do runs fn if the breaker allows it and records the outcome. When the
// breaker is open, fn never runs and Do returns ErrOpen immediately.
func (b *Breaker) Do(fn func() error) error {
	generation, err := b.before()
	if err != nil {
		return err
	}

	err = fn()
	b.after(generation, err == nil)
	return err
}

// State resolves cooldown expiry before reporting.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, _ := b.current(time.Now())
	return state
}

// Counts returns a copy of the current generation's counters.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

func (b *Breaker) before() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, generation := b.current(now)

	if state == StateOpen {
		return generation, ErrOpen
	}
	if state == StateHalfOpen && b.counts.Requests >= b.cfg.TrialRequests {
		return generation, ErrTooManyRequests
	}

	b.counts.Requests++
	return generation, nil
}

func (b *Breaker) after(generation uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, current := b.current(now)
	if generation != current {
		// The breaker moved on while fn ran; this outcome belongs to a
		// finished generation.
		return
	}

	if success {
		b.onSuccess(state, now)
	} else {
		b.onFailure(state, now)
	}
}

func (b *Breaker) onSuccess(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.counts.success()
	case StateHalfOpen:
		b.counts.success()
		if b.counts.ConsecutiveSuccesses >= b.cfg.TrialRequests {
			b.transition(StateClosed, now)
		}
	}
}

func (b *Breaker) onFailure(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.counts.failure()
		if b.cfg.ShouldTrip(b.counts) {
			b.transition(StateOpen, now)
		}
	case StateHalfOpen:
		// A single trial failure sends it straight back to open.
		b.transition(StateOpen, now)
	}
}

func (b *Breaker) current(now time.Time) (State, uint64) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.newGeneration(now)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.transition(StateHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) transition(state State, now time.Time) {
	if b.state == state {
		return
	}
	from := b.state
	b.state = state
	b.newGeneration(now)

	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, state)
	}
}

func (b *Breaker) newGeneration(now time.Time) {
	b.generation++
	b.counts = Counts{}

	switch b.state {
	case StateClosed:
		if b.cfg.Interval > 0 {
			b.expiry = now.Add(b.cfg.Interval)
		} else {
			b.expiry = time.Time{}
		}
	case StateOpen:
		b.expiry = now.Add(b.cfg.Cooldown)
	default:
		b.expiry = time.Time{}
	}
}
