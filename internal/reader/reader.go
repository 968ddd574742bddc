// Package reader defines the data reader collaborator contract and a registry
// that executes readers under an independent per-reader timeout.
package reader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "heartbeat-trader/internal/errors"
	"heartbeat-trader/internal/resilience"
)

// DefaultTimeout bounds a reader call when none is configured.
const DefaultTimeout = 30 * time.Second

// Context describes the heartbeat a reader runs for.
type Context struct {
	RequestID   string    `json:"request_id"`
	TriggeredBy string    `json:"triggered_by"`
	Timestamp   time.Time `json:"timestamp"`
	TraderID    string    `json:"trader_id"`
	Symbol      string    `json:"symbol"`
	Timeframe   string    `json:"timeframe"`
}

// Metadata carries execution details.
type Metadata struct {
	ExecutionTime time.Duration `json:"execution_time"`
}

// Result is what a reader returns.
type Result struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
	Metadata Metadata        `json:"metadata"`
}

// Reader fetches one kind of data for a heartbeat.
type Reader interface {
	ID() string
	Execute(ctx context.Context, params map[string]interface{}, rc Context) (*Result, error)
}

// Options configures a registered reader.
type Options struct {
	Timeout    time.Duration
	Parameters map[string]interface{}
}

type entry struct {
	reader  Reader
	timeout time.Duration
	params  map[string]interface{}
	guard   *resilience.Guard
}

// Registry holds the readers known to the engine.
type Registry struct {
	mu             sync.RWMutex
	readers        map[string]*entry
	guards         *resilience.Registry
	defaultTimeout time.Duration
	logger         zerolog.Logger
}

// NewRegistry creates an empty registry. A zero defaultTimeout uses DefaultTimeout.
func NewRegistry(defaultTimeout time.Duration, logger zerolog.Logger) *Registry {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	guardCfg := resilience.DefaultConfig()
	guardCfg.CallTimeout = defaultTimeout
	return &Registry{
		readers:        make(map[string]*entry),
		guards:         resilience.NewRegistry(guardCfg),
		defaultTimeout: defaultTimeout,
		logger:         logger.With().Str("component", "readers").Logger(),
	}
}

// Register adds a reader. Registering an existing id is an error.
func (r *Registry) Register(rd Reader, opts Options) error {
	id := rd.ID()
	if id == "" {
		return apperrors.NewValidationError("reader.id", id, "must not be empty")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.readers[id]; exists {
		return apperrors.NewValidationError("reader.id", id, "already registered")
	}
	r.readers[id] = &entry{
		reader:  rd,
		timeout: timeout,
		params:  opts.Parameters,
		guard:   r.guards.GetWithTimeout(id, timeout),
	}
	r.logger.Debug().Str("reader_id", id).Dur("timeout", timeout).Msg("Reader registered")
	return nil
}

// IDs returns the registered reader ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.readers))
	for id := range r.readers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Timeout returns the configured timeout for id.
func (r *Registry) Timeout(id string) (time.Duration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.readers[id]
	if !ok {
		return 0, false
	}
	return e.timeout, true
}

// Stats returns per-reader guard statistics.
func (r *Registry) Stats() []resilience.Stats {
	return r.guards.AllStats()
}

// Union merges id lists, keeping first-seen order and dropping duplicates and blanks.
func Union(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, id := range list {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// Execute runs reader id. The returned Result is never nil: on failure it has
// Success=false, the error text and the elapsed time, and the error is also returned.
func (r *Registry) Execute(ctx context.Context, id string, rc Context) (*Result, error) {
	start := time.Now()

	r.mu.RLock()
	e, ok := r.readers[id]
	r.mu.RUnlock()
	if !ok {
		err := apperrors.NewNotFoundError("reader", id)
		return &Result{Error: err.Error()}, err
	}

	res, err := resilience.Call(e.guard, ctx, "execute", func(ctx context.Context) (*Result, error) {
		res, err := e.reader.Execute(ctx, e.params, rc)
		if err != nil {
			return nil, err
		}
		if res == nil {
			return nil, errors.New("reader returned no result")
		}
		if !res.Success {
			msg := res.Error
			if msg == "" {
				msg = "reader reported failure"
			}
			return nil, errors.New(msg)
		}
		return res, nil
	})
	elapsed := time.Since(start)
	if err != nil {
		return &Result{Error: err.Error(), Metadata: Metadata{ExecutionTime: elapsed}}, err
	}
	res.Metadata.ExecutionTime = elapsed
	return res, nil
}

func stringParam(params map[string]interface{}, key, fallback string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

func intParam(params map[string]interface{}, key string, fallback int) (int, error) {
	v, ok := params[key]
	if !ok {
		return fallback, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("parameter %s: expected a number, got %T", key, v)
	}
}
