// Package queue implements the durable, at-least-once queue engine: the
// ready FIFO, the in-flight table, the visibility scanner, and the
// monitor/condition-variable concurrency model that binds them together.
package queue

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/arjunv/vaultq/internal/ident"
	"github.com/arjunv/vaultq/internal/logentry"
	"github.com/arjunv/vaultq/internal/wal"
)

// ErrClosed is returned by Publish, Consume and TryConsume on a closed
// queue, and to any consumer blocked in Consume when the queue closes.
// Acknowledge, Nack and Release do not check for closure.
var ErrClosed = errors.New("queue: closed")

// ErrCancelled is returned by Consume when its context is cancelled while
// blocked waiting for a message.
var ErrCancelled = errors.New("queue: consume cancelled")

// ErrInvalidReceipt is returned by Acknowledge or Nack when the receipt
// handle does not name a message currently in flight — either it was
// already resolved, or it never existed.
var ErrInvalidReceipt = errors.New("queue: invalid receipt handle")

// Message is a single payload moving through the queue. ID is assigned at
// Publish time and never changes for the life of the message, including
// across retries.
type Message struct {
	ID      string
	Payload []byte
}

// Receipt is returned by Consume: Handle names this specific delivery
// attempt and is required by Acknowledge/Nack; it is distinct from
// Message.ID because the same message may be delivered more than once.
type Receipt struct {
	Handle  string
	Message *Message
}

// InFlightEntry is the immutable record of one outstanding delivery.
// Nothing mutates an entry after it is inserted; a retry removes the old
// entry and inserts a new one.
type InFlightEntry struct {
	Message    *Message
	ConsumedAt time.Time
	RetryCount int
}

// MetricsRecorder is the optional hook a queue calls on every state
// transition. Implementations must not block meaningfully: ObserveConsume
// and ObserveDepth are called while the queue's monitor lock is held, the
// others just after it is released.
type MetricsRecorder interface {
	ObservePublish(queueName string)
	ObserveConsume(queueName string)
	ObserveAck(queueName string)
	ObserveNack(queueName string)
	ObserveRequeue(queueName string)
	ObserveDeadLetter(queueName string)
	ObserveDrop(queueName string)
	ObserveDepth(queueName string, ready, inFlight int)
}

// Config configures a Queue. Zero value is not valid; use DefaultConfig
// and override fields as needed.
type Config struct {
	// VisibilityTimeout is how long a delivery may remain unacknowledged
	// before the visibility scanner reclaims it.
	VisibilityTimeout time.Duration
	// MaxRetries is the number of deliveries (including the first) a
	// message may receive before it is dead-lettered or dropped. A NACK
	// (explicit or implicit) that would bring the retry count to
	// MaxRetries or beyond routes the message away from this queue instead
	// of requeuing it.
	MaxRetries int
	// DeadLetterQueueName, if non-empty, names the queue new deliveries
	// exceeding MaxRetries are published to. Resolved by the registry, not
	// by Queue itself; New takes the already-resolved *Queue.
	DeadLetterQueueName string
	// LogDirectory, if non-empty, enables durability: the queue's WAL file
	// is opened (and replayed) at filepath.Join(LogDirectory, name+".log").
	// Empty means purely in-memory, no crash recovery.
	LogDirectory string
	// ScanInterval is how often the visibility scanner looks for expired
	// in-flight entries. Defaults to one second; tests typically override
	// this to a few tens of milliseconds.
	ScanInterval time.Duration
}

// DefaultConfig returns sane defaults: a 30s visibility timeout, 3 max
// retries, a 1s scan interval, and no persistence.
func DefaultConfig() Config {
	return Config{
		VisibilityTimeout: 30 * time.Second,
		MaxRetries:        3,
		ScanInterval:      time.Second,
	}
}

// Option customizes a Queue at construction time.
type Option func(*Queue)

// WithLogger overrides the queue's logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithMetrics attaches a MetricsRecorder. Unset by default; observability
// is entirely optional and costs nothing when absent.
func WithMetrics(m MetricsRecorder) Option {
	return func(q *Queue) { q.metrics = m }
}

// Queue is a single durable FIFO with at-least-once delivery semantics.
// The zero value is not usable; construct with New.
type Queue struct {
	name string
	cfg  Config

	logger  *slog.Logger
	metrics MetricsRecorder

	mu   sync.Mutex
	cond *sync.Cond

	ready     *list.List               // FIFO of *Message, front = next to deliver
	readyElem map[string]*list.Element // msgID -> its *list.Element in ready, only while ready
	inFlight  map[string]*InFlightEntry
	retry     map[string]int // msgID -> failed deliveries so far; kept while in flight, cleared on ack, dead-letter or drop
	closed    bool
	closeOnce sync.Once

	dlq *Queue // wired by the registry; never the reverse edge

	w *wal.WAL

	scanStop chan struct{}
	scanDone chan struct{}
}

// New constructs a Queue named name. If dlq is non-nil, deliveries that
// exhaust cfg.MaxRetries are published to it instead of being dropped. If
// cfg.LogDirectory is set, the queue's on-disk log is opened and replayed
// before New returns, so the returned Queue already reflects any state
// recovered from a previous run.
func New(name string, cfg Config, dlq *Queue, opts ...Option) (*Queue, error) {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}

	q := &Queue{
		name:      name,
		cfg:       cfg,
		logger:    slog.Default(),
		ready:     list.New(),
		readyElem: make(map[string]*list.Element),
		inFlight:  make(map[string]*InFlightEntry),
		retry:     make(map[string]int),
		dlq:       dlq,
		scanStop:  make(chan struct{}),
		scanDone:  make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}

	if cfg.LogDirectory != "" {
		path := filepath.Join(cfg.LogDirectory, name+".log")
		w, err := wal.Open(path)
		if err != nil {
			return nil, fmt.Errorf("queue %q: %w", name, err)
		}
		q.w = w
		if err := q.replay(); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("queue %q: replay: %w", name, err)
		}
	}

	q.mu.Lock()
	q.emitDepthLocked()
	q.mu.Unlock()

	go q.runScanner()
	return q, nil
}

// Name returns the queue's name.
func (q *Queue) Name() string { return q.name }

// Publish enqueues msg. id is assigned here and returned to the caller;
// spec.md's producer-observes-program-order guarantee holds because the
// monitor lock serializes this call against every other Publish and
// against the WAL append that records it.
func (q *Queue) Publish(payload []byte) (string, error) {
	id := ident.Must()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrClosed
	}

	msg := &Message{ID: id, Payload: payload}
	elem := q.ready.PushBack(msg)
	q.readyElem[id] = elem
	q.cond.Broadcast()

	var walErr error
	if q.w != nil {
		walErr = q.w.Append(logentry.Publish(id, payload, nowMs()))
	}
	q.emitDepthLocked()
	q.mu.Unlock()

	if walErr != nil {
		q.logger.Warn("wal append failed on publish", "queue", q.name, "msgId", id, "err", walErr)
	}
	if q.metrics != nil {
		q.metrics.ObservePublish(q.name)
	}
	return id, walErr
}

// Consume blocks until a message is ready or ctx is done, then returns a
// Receipt naming a fresh delivery. It honors cancellation: if ctx is
// cancelled while waiting, Consume returns ErrCancelled rather than
// blocking indefinitely.
func (q *Queue) Consume(ctx context.Context) (*Receipt, error) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-stop:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}
	for q.ready.Len() == 0 {
		if q.closed {
			return nil, ErrClosed
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		q.cond.Wait()
	}

	return q.popFrontLocked(), nil
}

// ErrEmpty is returned by TryConsume when no message is ready right now.
var ErrEmpty = errors.New("queue: empty")

// TryConsume returns a Receipt immediately if a message is ready, or
// ErrEmpty without blocking if the queue is empty. It exists for batch
// tools (see internal/dlqtools) that need to drain exactly what is
// currently present without waiting for more to arrive.
func (q *Queue) TryConsume() (*Receipt, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}
	if q.ready.Len() == 0 {
		return nil, ErrEmpty
	}
	return q.popFrontLocked(), nil
}

// popFrontLocked removes the head of the ready list and records its
// delivery. Callers must hold q.mu and must have already checked the
// ready list is non-empty.
func (q *Queue) popFrontLocked() *Receipt {
	front := q.ready.Front()
	msg := front.Value.(*Message)
	q.ready.Remove(front)
	delete(q.readyElem, msg.ID)

	retryCount := q.retry[msg.ID]
	handle := ident.Must()
	entry := &InFlightEntry{Message: msg, ConsumedAt: time.Now(), RetryCount: retryCount}
	q.inFlight[handle] = entry

	if q.w != nil {
		if err := q.w.Append(logentry.Consume(msg.ID, handle, retryCount, nowMs())); err != nil {
			q.logger.Warn("wal append failed on consume", "queue", q.name, "msgId", msg.ID, "err", err)
		}
	}
	if q.metrics != nil {
		q.metrics.ObserveConsume(q.name)
	}
	q.emitDepthLocked()
	return &Receipt{Handle: handle, Message: msg}
}

// Acknowledge finalizes the delivery named by handle: the message is
// removed from the queue permanently and its retry count forgotten.
func (q *Queue) Acknowledge(handle string) error {
	q.mu.Lock()
	entry, ok := q.inFlight[handle]
	if !ok {
		q.mu.Unlock()
		return ErrInvalidReceipt
	}
	delete(q.inFlight, handle)
	delete(q.retry, entry.Message.ID)

	var walErr error
	if q.w != nil {
		walErr = q.w.Append(logentry.Ack(handle, nowMs()))
	}
	q.emitDepthLocked()
	q.mu.Unlock()

	if walErr != nil {
		q.logger.Warn("wal append failed on ack", "queue", q.name, "handle", handle, "err", walErr)
	}
	if q.metrics != nil {
		q.metrics.ObserveAck(q.name)
	}
	return nil
}

// Nack explicitly rejects the delivery named by handle. The message is
// either requeued with an incremented retry count, or — if that would
// meet or exceed MaxRetries — routed to the dead-letter queue (if wired)
// or dropped.
func (q *Queue) Nack(handle string) error {
	q.mu.Lock()
	entry, ok := q.inFlight[handle]
	if !ok {
		q.mu.Unlock()
		return ErrInvalidReceipt
	}
	delete(q.inFlight, handle)

	if q.w != nil {
		if err := q.w.Append(logentry.Nack(handle, nowMs())); err != nil {
			q.logger.Warn("wal append failed on nack", "queue", q.name, "handle", handle, "err", err)
		}
	}

	outcome := q.resolveFailedDelivery(entry)
	q.emitDepthLocked()
	q.mu.Unlock()

	if q.metrics != nil {
		switch outcome {
		case outcomeRequeued:
			q.metrics.ObserveRequeue(q.name)
		case outcomeDeadLettered:
			q.metrics.ObserveDeadLetter(q.name)
		case outcomeDropped:
			q.metrics.ObserveDrop(q.name)
		}
		q.metrics.ObserveNack(q.name)
	}
	return nil
}

// Release returns the delivery named by handle to the front of the ready
// queue exactly as it was before it was consumed: the retry count is left
// untouched and the dead-letter decision never runs. Unlike Nack, Release
// is not a delivery failure; it exists for callers (see internal/dlqtools's
// Peek) that need to look at an in-flight message without it counting
// against MaxRetries.
func (q *Queue) Release(handle string) error {
	q.mu.Lock()
	entry, ok := q.inFlight[handle]
	if !ok {
		q.mu.Unlock()
		return ErrInvalidReceipt
	}
	delete(q.inFlight, handle)

	elem := q.ready.PushFront(entry.Message)
	q.readyElem[entry.Message.ID] = elem
	if entry.RetryCount != 0 {
		q.retry[entry.Message.ID] = entry.RetryCount
	}
	q.cond.Broadcast()

	var walErr error
	if q.w != nil {
		e := logentry.Publish(entry.Message.ID, entry.Message.Payload, nowMs())
		e.RetryCount = entry.RetryCount
		walErr = q.w.Append(e)
	}
	q.emitDepthLocked()
	q.mu.Unlock()

	if walErr != nil {
		q.logger.Warn("wal append failed on release", "queue", q.name, "handle", handle, "err", walErr)
	}
	return nil
}

// emitDepthLocked reports the current ready/in-flight depth to the
// metrics recorder, if one is attached. Callers must hold q.mu.
func (q *Queue) emitDepthLocked() {
	if q.metrics != nil {
		q.metrics.ObserveDepth(q.name, q.ready.Len(), len(q.inFlight))
	}
}

type failureOutcome int

const (
	outcomeRequeued failureOutcome = iota
	outcomeDeadLettered
	outcomeDropped
)

// resolveFailedDelivery applies the requeue-or-dead-letter decision for a
// delivery that has just been explicitly or implicitly NACKed. Must be
// called with q.mu held; publishing to the dead-letter queue while this
// queue's monitor is held is intentional (spec.md §5) and safe because the
// DLQ is a distinct Queue with its own monitor, and the edge is one-way.
func (q *Queue) resolveFailedDelivery(entry *InFlightEntry) failureOutcome {
	next := entry.RetryCount + 1
	if next < q.cfg.MaxRetries {
		q.retry[entry.Message.ID] = next
		elem := q.ready.PushBack(entry.Message)
		q.readyElem[entry.Message.ID] = elem
		q.cond.Broadcast()
		return outcomeRequeued
	}

	delete(q.retry, entry.Message.ID)
	if q.dlq != nil {
		if _, err := q.dlq.Publish(entry.Message.Payload); err != nil {
			q.logger.Warn("dead-letter publish failed", "queue", q.name, "dlq", q.dlq.name, "msgId", entry.Message.ID, "err", err)
		}
		return outcomeDeadLettered
	}

	q.logger.Warn("dropping message after exceeding max retries", "queue", q.name, "msgId", entry.Message.ID, "retries", next)
	return outcomeDropped
}

// Len returns the number of messages currently ready for delivery.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready.Len()
}

// InFlightCount returns the number of outstanding, unacknowledged deliveries.
func (q *Queue) InFlightCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}

// Close stops the visibility scanner and releases the WAL handle. Close is
// idempotent and safe to call more than once. Any consumer blocked in
// Consume wakes with ErrClosed.
func (q *Queue) Close() error {
	var closeErr error
	q.closeOnce.Do(func() {
		close(q.scanStop)
		<-q.scanDone

		q.mu.Lock()
		q.closed = true
		q.cond.Broadcast()
		q.mu.Unlock()

		if q.w != nil {
			closeErr = q.w.Close()
		}
	})
	return closeErr
}

func nowMs() int64 { return time.Now().UnixMilli() }
