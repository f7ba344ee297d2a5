package backend

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BreakerState represents the state of the circuit breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // Normal operation
	BreakerOpen                         // Failing, reject requests
	BreakerHalfOpen                     // Testing if the backend recovered
)

// ErrBreakerOpen is returned while the circuit is open.
var ErrBreakerOpen = errors.New("circuit breaker is open: backend unavailable")

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold int           // Consecutive failures before opening
	SuccessThreshold int           // Successes to close from half-open
	Cooldown         time.Duration // How long to stay open before half-open
}

// Breaker wraps a Backend with circuit breaker logic so a failing
// upstream does not absorb every request's full timeout.
type Breaker struct {
	inner Backend
	cfg   BreakerConfig

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	lastFailure time.Time
}

// NewBreaker wraps inner with a circuit breaker.
func NewBreaker(inner Backend, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{inner: inner, cfg: cfg, state: BreakerClosed}
}

// Name reports the wrapped backend's name.
func (b *Breaker) Name() string { return b.inner.Name() }

// Generate forwards to the wrapped backend unless the circuit is open.
func (b *Breaker) Generate(ctx context.Context, systemPrompt string, turns []Message) (*Response, error) {
	if err := b.admit(); err != nil {
		return nil, err
	}

	resp, err := b.inner.Generate(ctx, systemPrompt, turns)
	if err != nil {
		b.recordFailure()
		return nil, err
	}
	b.recordSuccess()
	return resp, nil
}

// State returns the current circuit state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns circuit breaker statistics.
func (b *Breaker) Stats() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()

	stateStr := "closed"
	switch b.state {
	case BreakerOpen:
		stateStr = "open"
	case BreakerHalfOpen:
		stateStr = "half-open"
	}
	return map[string]any{
		"state":    stateStr,
		"failures": b.failures,
	}
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		if time.Since(b.lastFailure) > b.cfg.Cooldown {
			b.state = BreakerHalfOpen
			b.successes = 0
			return nil
		}
		return ErrBreakerOpen
	}
	return nil
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		return
	}
	if b.failures >= b.cfg.FailureThreshold {
		b.state = BreakerOpen
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = BreakerClosed
			b.failures = 0
		}
		return
	}
	b.failures = 0
}
