// Package registry provides the top-level queue directory: create-if-
// absent queue lookup, automatic dead-letter-queue wiring, and an optional
// per-publish rate limit. None of this touches the core engine's state
// machine; it is the thin external-collaborator layer spec.md §6 describes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/arjunv/vaultq/internal/queue"
)

// ErrQueueNotFound is returned by GetQueue for an unregistered name.
var ErrQueueNotFound = errors.New("registry: queue not found")

// Registry owns every queue in a process and hands out shared *queue.Queue
// instances by name.
type Registry struct {
	mu      sync.Mutex
	queues  map[string]*queue.Queue
	logger  *slog.Logger
	metrics queue.MetricsRecorder
	limiter *rate.Limiter
}

// Option customizes a Registry at construction time.
type Option func(*Registry)

// WithLogger overrides the registry's and every queue it creates' logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics attaches a MetricsRecorder to every queue the registry creates.
func WithMetrics(m queue.MetricsRecorder) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithProducerRateLimit caps the aggregate rate of Registry.Publish across
// every queue, the direct analogue of a producer-side throttle. burst <= 0
// disables the limit.
func WithProducerRateLimit(ratePerSec float64, burst int) Option {
	return func(r *Registry) {
		if burst > 0 {
			r.limiter = rate.NewLimiter(rate.Limit(ratePerSec), burst)
		}
	}
}

// New constructs an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		queues: make(map[string]*queue.Queue),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateQueue returns the queue named name, creating it (and, if
// cfg.DeadLetterQueueName is set, its dead-letter queue) if it does not
// already exist. Concurrent callers racing to create the same name all
// observe the same *queue.Queue; CreateQueue holds the registry lock across
// the whole operation, which is what makes create-if-absent atomic.
func (r *Registry) CreateQueue(name string, cfg queue.Config) (*queue.Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if q, ok := r.queues[name]; ok {
		return q, nil
	}

	var dlq *queue.Queue
	if cfg.DeadLetterQueueName != "" {
		d, ok := r.queues[cfg.DeadLetterQueueName]
		if !ok {
			dlqCfg := queue.DefaultConfig()
			dlqCfg.LogDirectory = cfg.LogDirectory
			var err error
			d, err = r.newQueue(cfg.DeadLetterQueueName, dlqCfg, nil)
			if err != nil {
				return nil, fmt.Errorf("registry: create dlq %q for %q: %w", cfg.DeadLetterQueueName, name, err)
			}
			r.queues[cfg.DeadLetterQueueName] = d
		}
		dlq = d
	}

	q, err := r.newQueue(name, cfg, dlq)
	if err != nil {
		return nil, fmt.Errorf("registry: create %q: %w", name, err)
	}
	r.queues[name] = q
	return q, nil
}

func (r *Registry) newQueue(name string, cfg queue.Config, dlq *queue.Queue) (*queue.Queue, error) {
	var opts []queue.Option
	opts = append(opts, queue.WithLogger(r.logger))
	if r.metrics != nil {
		opts = append(opts, queue.WithMetrics(r.metrics))
	}
	return queue.New(name, cfg, dlq, opts...)
}

// GetQueue returns the queue named name, or ErrQueueNotFound.
func (r *Registry) GetQueue(name string) (*queue.Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[name]
	if !ok {
		return nil, ErrQueueNotFound
	}
	return q, nil
}

// DeleteQueue closes and unregisters the queue named name. Deleting an
// unregistered name is a silent no-op.
func (r *Registry) DeleteQueue(name string) error {
	r.mu.Lock()
	q, ok := r.queues[name]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.queues, name)
	r.mu.Unlock()
	return q.Close()
}

// ListQueues returns every registered queue name, in no particular order.
func (r *Registry) ListQueues() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	return names
}

// Stats is a read-only snapshot of a queue's depth.
type Stats struct {
	Name     string
	Ready    int
	InFlight int
}

// Stats snapshots every registered queue. It performs no WAL interaction.
func (r *Registry) Stats() []Stats {
	r.mu.Lock()
	snapshot := make(map[string]*queue.Queue, len(r.queues))
	for name, q := range r.queues {
		snapshot[name] = q
	}
	r.mu.Unlock()

	out := make([]Stats, 0, len(snapshot))
	for name, q := range snapshot {
		out = append(out, Stats{Name: name, Ready: q.Len(), InFlight: q.InFlightCount()})
	}
	return out
}

// Publish creates queueName if necessary, applies the registry-wide
// producer rate limit if one is configured, and publishes payload to it.
func (r *Registry) Publish(ctx context.Context, queueName string, cfg queue.Config, payload []byte) (string, error) {
	q, err := r.CreateQueue(queueName, cfg)
	if err != nil {
		return "", err
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("registry: rate limit: %w", err)
		}
	}
	return q.Publish(payload)
}

// Close closes every registered queue.
func (r *Registry) Close() error {
	r.mu.Lock()
	queues := make([]*queue.Queue, 0, len(r.queues))
	for _, q := range r.queues {
		queues = append(queues, q)
	}
	r.queues = make(map[string]*queue.Queue)
	r.mu.Unlock()

	var firstErr error
	for _, q := range queues {
		if err := q.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
