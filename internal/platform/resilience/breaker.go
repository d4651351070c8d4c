// Package resilience provides the call guards Meridian places in front of
// external dependencies.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is the breaker's position in its lifecycle.
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
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when the breaker rejects a call without invoking the
// dependency. Callers must take their fallback path on this error instead of
// treating it as an application failure.
var ErrOpen = errors.New("circuit breaker is open")

// Config tunes a breaker. The defaults mirror our payment-gateway policy:
// trip on 5 consecutive failures or half the rolling window failing, stay
// open 30 seconds, then probe with 3 trial calls.
type Config struct {
	// ConsecutiveFailures trips the breaker regardless of the window ratio.
	// Zero disables the consecutive check.
	ConsecutiveFailures int

	// FailureRateThreshold is the failure ratio over a full rolling window
	// at which the breaker opens.
	FailureRateThreshold float64

	// WindowSize is the number of recent outcomes considered.
	WindowSize int

	// OpenDuration is how long the breaker fast-fails before moving to
	// half-open.
	OpenDuration time.Duration

	// HalfOpenTrials is the number of probe calls admitted in half-open.
	// Any probe failing reopens the breaker; all succeeding closes it.
	HalfOpenTrials int
}

// DefaultConfig returns the payment-gateway policy defaults.
func DefaultConfig() Config {
	return Config{
		ConsecutiveFailures:  5,
		FailureRateThreshold: 0.5,
		WindowSize:           10,
		OpenDuration:         30 * time.Second,
		HalfOpenTrials:       3,
	}
}

// Breaker guards calls to one named external dependency. State is shared by
// all callers in the process; every mutation happens under the mutex so
// concurrent observers see a single linearizable history.
type Breaker struct {
	name string
	cfg  Config

	mu                sync.Mutex
	state             State
	window            []bool // true = failure
	windowPos         int
	windowCount       int
	windowFailures    int
	consecutive       int
	lastTransition    time.Time
	halfOpenInFlight  int
	halfOpenSuccesses int

	now           func() time.Time
	onStateChange func(name string, from, to State)
	logger        *slog.Logger
}

// BreakerOption configures a breaker.
type BreakerOption func(*Breaker)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// WithOnStateChange registers a transition hook. It is invoked outside hot
// paths but inside the state lock; keep it fire-and-forget.
func WithOnStateChange(fn func(name string, from, to State)) BreakerOption {
	return func(b *Breaker) { b.onStateChange = fn }
}

// WithBreakerLogger attaches a logger.
func WithBreakerLogger(logger *slog.Logger) BreakerOption {
	return func(b *Breaker) { b.logger = logger }
}

// New constructs a breaker for the named dependency.
func New(name string, cfg Config, opts ...BreakerOption) *Breaker {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultConfig().WindowSize
	}
	if cfg.FailureRateThreshold <= 0 {
		cfg.FailureRateThreshold = DefaultConfig().FailureRateThreshold
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = DefaultConfig().OpenDuration
	}
	if cfg.HalfOpenTrials <= 0 {
		cfg.HalfOpenTrials = DefaultConfig().HalfOpenTrials
	}

	b := &Breaker{
		name:   name,
		cfg:    cfg,
		window: make([]bool, cfg.WindowSize),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastTransition = b.now()
	return b
}

// Name returns the guarded dependency name.
func (b *Breaker) Name() string { return b.name }

// State reports the current state, applying the open-duration timeout.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// Execute runs fn under the breaker. When the breaker is open the call is
// rejected with ErrOpen without invoking fn.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn(ctx)
	b.record(err == nil)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeHalfOpen()

	switch b.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if b.halfOpenInFlight+b.halfOpenSuccesses >= b.cfg.HalfOpenTrials {
			return ErrOpen
		}
		b.halfOpenInFlight++
		return nil
	default:
		return ErrOpen
	}
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.halfOpenInFlight--
		if !success {
			b.transition(StateOpen)
			return
		}
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.HalfOpenTrials {
			b.transition(StateClosed)
		}

	case StateClosed:
		b.push(!success)
		if success {
			b.consecutive = 0
			return
		}
		b.consecutive++
		if b.cfg.ConsecutiveFailures > 0 && b.consecutive >= b.cfg.ConsecutiveFailures {
			b.transition(StateOpen)
			return
		}
		if b.windowCount >= b.cfg.WindowSize &&
			float64(b.windowFailures)/float64(b.windowCount) >= b.cfg.FailureRateThreshold {
			b.transition(StateOpen)
		}

	case StateOpen:
		// Outcome of a call admitted before the trip; the window restarts
		// when the breaker closes again, so drop it.
	}
}

// maybeHalfOpen moves Open to HalfOpen once the open duration elapsed.
// Callers must hold the lock.
func (b *Breaker) maybeHalfOpen() {
	if b.state == StateOpen && b.now().Sub(b.lastTransition) >= b.cfg.OpenDuration {
		b.transition(StateHalfOpen)
	}
}

// transition switches state and resets the bookkeeping of the target state.
// Callers must hold the lock.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.lastTransition = b.now()
	b.halfOpenInFlight = 0
	b.halfOpenSuccesses = 0
	if to == StateClosed {
		b.resetWindow()
	}

	b.logger.Info("circuit breaker state changed",
		"event", "breaker_transition",
		"module", "internal/platform/resilience",
		"layer", "platform",
		"dependency", b.name,
		"from", from.String(),
		"to", to.String(),
	)
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}

func (b *Breaker) push(failure bool) {
	if b.windowCount == len(b.window) {
		if b.window[b.windowPos] {
			b.windowFailures--
		}
	} else {
		b.windowCount++
	}
	b.window[b.windowPos] = failure
	if failure {
		b.windowFailures++
	}
	b.windowPos = (b.windowPos + 1) % len(b.window)
}

func (b *Breaker) resetWindow() {
	for i := range b.window {
		b.window[i] = false
	}
	b.windowPos = 0
	b.windowCount = 0
	b.windowFailures = 0
	b.consecutive = 0
}
