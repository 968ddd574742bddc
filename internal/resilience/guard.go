// Package resilience protects calls to external collaborators with a
// per-call timeout and a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "heartbeat-trader/internal/errors"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"    // Normal operation
	CircuitOpen     CircuitState = "open"      // Failing, rejecting requests
	CircuitHalfOpen CircuitState = "half_open" // Testing if the collaborator recovered
)

// ErrCircuitOpen is returned while the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds guard configuration.
type Config struct {
	// CallTimeout bounds each call (0 = caller's context only)
	CallTimeout time.Duration
	// FailureThreshold is the number of consecutive failures before opening (0 = never open)
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes needed to close
	SuccessThreshold int
	// OpenTimeout is how long the circuit stays open before a trial call
	OpenTimeout time.Duration
}

// DefaultConfig returns the reader defaults.
func DefaultConfig() Config {
	return Config{
		CallTimeout:      30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		OpenTimeout:      time.Minute,
	}
}

// Guard wraps one collaborator.
type Guard struct {
	name   string
	config Config
	now    func() time.Time

	mu              sync.Mutex
	state           CircuitState
	failures        int
	successes       int
	lastFailureTime time.Time

	totalRequests  int64
	totalFailures  int64
	totalTimeouts  int64
	totalRejected  int64
	totalSuccesses int64
}

// NewGuard creates a guard for the named collaborator.
func NewGuard(name string, config Config) *Guard {
	return &Guard{name: name, config: config, state: CircuitClosed, now: time.Now}
}

// Call runs fn under the guard. A call that outlives the timeout returns a
// CollaboratorTimeout even if fn ignores its context; fn's late result is discarded.
func Call[T any](g *Guard, ctx context.Context, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if err := g.allow(); err != nil {
		return zero, apperrors.NewCollaboratorError(g.name, operation, err)
	}

	if g.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.CallTimeout)
		defer cancel()
	}

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			g.recordFailure(false)
			if errors.Is(r.err, context.DeadlineExceeded) {
				return zero, apperrors.NewCollaboratorTimeout(g.name, operation, r.err)
			}
			return zero, apperrors.NewCollaboratorError(g.name, operation, r.err)
		}
		g.recordSuccess()
		return r.value, nil
	case <-ctx.Done():
		g.recordFailure(true)
		return zero, apperrors.NewCollaboratorTimeout(g.name, operation, ctx.Err())
	}
}

func (g *Guard) allow() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.totalRequests++
	if g.state == CircuitOpen {
		if g.now().Sub(g.lastFailureTime) >= g.config.OpenTimeout {
			g.transitionTo(CircuitHalfOpen)
			return nil
		}
		g.totalRejected++
		return ErrCircuitOpen
	}
	return nil
}

func (g *Guard) recordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.totalSuccesses++
	switch g.state {
	case CircuitHalfOpen:
		g.successes++
		if g.successes >= g.config.SuccessThreshold {
			g.transitionTo(CircuitClosed)
		}
	case CircuitClosed:
		g.failures = 0
	}
}

func (g *Guard) recordFailure(timeout bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.totalFailures++
	if timeout {
		g.totalTimeouts++
	}
	g.lastFailureTime = g.now()

	switch g.state {
	case CircuitClosed:
		g.failures++
		if g.config.FailureThreshold > 0 && g.failures >= g.config.FailureThreshold {
			g.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		g.transitionTo(CircuitOpen)
	}
}

func (g *Guard) transitionTo(state CircuitState) {
	g.state = state
	g.failures = 0
	g.successes = 0
}

// State returns the current circuit state.
func (g *Guard) State() CircuitState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Stats holds guard statistics.
type Stats struct {
	Name           string       `json:"name"`
	State          CircuitState `json:"state"`
	TotalRequests  int64        `json:"total_requests"`
	TotalSuccesses int64        `json:"total_successes"`
	TotalFailures  int64        `json:"total_failures"`
	TotalTimeouts  int64        `json:"total_timeouts"`
	TotalRejected  int64        `json:"total_rejected"`
}

// Stats returns a snapshot of the guard's counters.
func (g *Guard) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		Name:           g.name,
		State:          g.state,
		TotalRequests:  g.totalRequests,
		TotalSuccesses: g.totalSuccesses,
		TotalFailures:  g.totalFailures,
		TotalTimeouts:  g.totalTimeouts,
		TotalRejected:  g.totalRejected,
	}
}

// Registry hands out one guard per collaborator name.
type Registry struct {
	mu     sync.RWMutex
	guards map[string]*Guard
	config Config
}

// NewRegistry creates a registry whose guards default to config.
func NewRegistry(config Config) *Registry {
	return &Registry{guards: make(map[string]*Guard), config: config}
}

// Get returns or creates the guard for name.
func (r *Registry) Get(name string) *Guard {
	return r.GetWithTimeout(name, 0)
}

// GetWithTimeout returns or creates the guard for name with a call timeout
// override (0 keeps the registry default). The override only applies on creation.
func (r *Registry) GetWithTimeout(name string, timeout time.Duration) *Guard {
	r.mu.RLock()
	if g, ok := r.guards[name]; ok {
		r.mu.RUnlock()
		return g
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.guards[name]; ok {
		return g
	}
	cfg := r.config
	if timeout > 0 {
		cfg.CallTimeout = timeout
	}
	g := NewGuard(name, cfg)
	r.guards[name] = g
	return g
}

// AllStats returns statistics for every guard, ordered by name.
func (r *Registry) AllStats() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]Stats, 0, len(r.guards))
	for _, g := range r.guards {
		stats = append(stats, g.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}
