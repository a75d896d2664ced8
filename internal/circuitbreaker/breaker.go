package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

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

// ErrOpen is returned without invoking the wrapped call while the breaker
// is tripped.
var ErrOpen = errors.New("circuit breaker is open")

type Config struct {
	Name        string
	MaxFailures int           // consecutive failures before tripping
	Timeout     time.Duration // how long the breaker stays open
	MaxRequests int           // probe budget while half-open
}

// Breaker guards calls to the backend order API. After MaxFailures
// consecutive failures it rejects calls for Timeout, then lets a limited
// number of probes through before closing again.
type Breaker struct {
	name        string
	maxFailures int
	timeout     time.Duration
	maxRequests int
	logger      *logrus.Logger

	mu           sync.Mutex
	state        State
	failures     int
	requests     int
	lastFailTime time.Time

	totalRequests  int64
	totalFailures  int64
	totalSuccesses int64
}

func New(config Config, logger *logrus.Logger) *Breaker {
	if config.Name == "" {
		config.Name = "unnamed"
	}
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = 1
	}

	return &Breaker{
		name:        config.Name,
		maxFailures: config.MaxFailures,
		timeout:     config.Timeout,
		maxRequests: config.MaxRequests,
		state:       StateClosed,
		logger:      logger,
	}
}

// Execute runs fn unless the breaker is open. Context cancellation counts as
// a caller decision, not a backend failure, and does not trip the breaker.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			b.totalFailures++
			return err
		}
		b.onFailure()
		b.totalFailures++
		return err
	}

	b.onSuccess()
	b.totalSuccesses++
	return nil
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if time.Since(b.lastFailTime) > b.timeout {
			b.setState(StateHalfOpen)
			b.requests = 0
		} else {
			return ErrOpen
		}
	}

	if b.state == StateHalfOpen && b.requests >= b.maxRequests {
		return ErrOpen
	}

	b.totalRequests++
	if b.state == StateHalfOpen {
		b.requests++
	}
	return nil
}

func (b *Breaker) onSuccess() {
	b.failures = 0
	if b.state == StateHalfOpen {
		b.setState(StateClosed)
		b.requests = 0
	}
}

func (b *Breaker) onFailure() {
	b.failures++
	b.lastFailTime = time.Now()

	if b.state == StateHalfOpen || (b.state == StateClosed && b.failures >= b.maxFailures) {
		b.setState(StateOpen)
		b.requests = 0
	}
}

func (b *Breaker) setState(next State) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next

	b.logger.WithFields(logrus.Fields{
		"circuit_breaker": b.name,
		"from_state":      prev.String(),
		"to_state":        next.String(),
	}).Info("Circuit breaker state changed")
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Metrics() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	return map[string]interface{}{
		"name":            b.name,
		"state":           b.state.String(),
		"failures":        b.failures,
		"total_requests":  b.totalRequests,
		"total_failures":  b.totalFailures,
		"total_successes": b.totalSuccesses,
	}
}

func (b *Breaker) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fmt.Sprintf("Breaker(name=%s, state=%s, failures=%d/%d)",
		b.name, b.state.String(), b.failures, b.maxFailures)
}
