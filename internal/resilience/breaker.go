// Package resilience guards calls to the remote suggestion service with a
// circuit breaker so an unreachable endpoint degrades to verbatim input
// instead of stalling every word on a request timeout.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Breaker.Do while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a Breaker.
type State int

const (
	// Closed forwards every call.
	Closed State = iota
	// Open rejects calls until the cool-down elapses.
	Open
	// HalfOpen lets a bounded number of probe calls through.
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

// Options tunes a Breaker. Zero values take defaults.
type Options struct {
	Name string

	// MaxFailures consecutive failures open the breaker. Default 5.
	MaxFailures int

	// Cooldown is how long the breaker stays open. Default 30s.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls needed to close. Default 1.
	Probes int

	// OnStateChange is called outside the lock after every transition.
	OnStateChange func(name string, from, to State)

	// IsFailure classifies errors. Nil counts every non-nil error.
	IsFailure func(error) bool
}

// Breaker is a three-state circuit breaker. It is safe for concurrent use.
type Breaker struct {
	opts Options
	now  func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	inflight  int
	successes int
}

// New creates a Breaker.
func New(opts Options) *Breaker {
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 5
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 30 * time.Second
	}
	if opts.Probes <= 0 {
		opts.Probes = 1
	}
	return &Breaker{opts: opts, now: time.Now}
}

// Do runs fn unless the breaker is open.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn()
	b.record(probe, err)
	return err
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	var changed bool
	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.opts.Cooldown {
			b.mu.Unlock()
			return false, ErrCircuitOpen
		}
		changed = true
		b.state = HalfOpen
		b.inflight = 0
		b.successes = 0
	case HalfOpen:
		if b.inflight >= b.opts.Probes {
			b.mu.Unlock()
			return false, ErrCircuitOpen
		}
	}
	probe = b.state == HalfOpen
	if probe {
		b.inflight++
	}
	b.mu.Unlock()

	if changed {
		b.notify(Open, HalfOpen)
	}
	return probe, nil
}

func (b *Breaker) record(probe bool, err error) {
	failed := err != nil
	if failed && b.opts.IsFailure != nil {
		failed = b.opts.IsFailure(err)
	}

	b.mu.Lock()
	from := b.state
	switch {
	case failed && probe:
		b.trip()
	case failed:
		b.failures++
		if b.state == Closed && b.failures >= b.opts.MaxFailures {
			b.trip()
		}
	case probe:
		b.inflight--
		b.successes++
		if b.state == HalfOpen && b.successes >= b.opts.Probes {
			b.state = Closed
			b.failures = 0
		}
	default:
		b.failures = 0
	}
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

// trip opens the breaker. Caller holds b.mu.
func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = b.now()
	b.inflight = 0
	b.successes = 0
}

func (b *Breaker) notify(from, to State) {
	slog.Info("circuit breaker state change", "name", b.opts.Name, "from", from.String(), "to", to.String())
	if b.opts.OnStateChange != nil {
		b.opts.OnStateChange(b.opts.Name, from, to)
	}
}

// State reports the current state. An open breaker whose cool-down has
// elapsed reports HalfOpen; the transition itself happens on the next Do.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.opts.Cooldown {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = Closed
	b.failures = 0
	b.inflight = 0
	b.successes = 0
	b.mu.Unlock()

	if from != Closed {
		b.notify(from, Closed)
	}
}
