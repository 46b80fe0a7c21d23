package dlqtools

import (
	"context"
	"testing"
	"time"

	"github.com/arjunv/vaultq/internal/queue"
	"github.com/arjunv/vaultq/internal/registry"
)

func setup(t *testing.T) (*registry.Registry, *queue.Queue) {
	t.Helper()
	reg := registry.New()
	t.Cleanup(func() { _ = reg.Close() })

	cfg := queue.DefaultConfig()
	cfg.MaxRetries = 1
	cfg.DeadLetterQueueName = "orders.dlq"
	cfg.ScanInterval = 20 * time.Millisecond

	q, err := reg.CreateQueue("orders", cfg)
	if err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}
	return reg, q
}

func nackOnce(t *testing.T, q *queue.Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	recv, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if err := q.Nack(recv.Handle); err != nil {
		t.Fatalf("Nack: %v", err)
	}
}

func TestPeekLeavesMessageInDLQ(t *testing.T) {
	reg, q := setup(t)
	if _, err := q.Publish([]byte("x")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	nackOnce(t, q)

	msgs, err := Peek(reg, "orders.dlq", 10)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if len(msgs) != 1 || string(msgs[0].Payload) != "x" {
		t.Fatalf("got %+v, want one message with payload x", msgs)
	}

	dlq, err := reg.GetQueue("orders.dlq")
	if err != nil {
		t.Fatalf("GetQueue: %v", err)
	}
	if dlq.Len() != 1 {
		t.Fatalf("Peek must not remove the message, ready=%d", dlq.Len())
	}
}

// TestPeekReturnsDistinctMessagesAndPreservesOrder exercises Peek against a
// multi-message DLQ: it must return each distinct message exactly once, in
// FIFO order, not the head message repeated limit times.
func TestPeekReturnsDistinctMessagesAndPreservesOrder(t *testing.T) {
	reg, q := setup(t)
	for _, payload := range []string{"a", "b", "c"} {
		if _, err := q.Publish([]byte(payload)); err != nil {
			t.Fatalf("Publish %q: %v", payload, err)
		}
		nackOnce(t, q)
	}

	msgs, err := Peek(reg, "orders.dlq", 10)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3 distinct messages", len(msgs))
	}
	got := []string{string(msgs[0].Payload), string(msgs[1].Payload), string(msgs[2].Payload)}
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got payload order %v, want %v", got, want)
		}
	}

	dlq, err := reg.GetQueue("orders.dlq")
	if err != nil {
		t.Fatalf("GetQueue: %v", err)
	}
	if dlq.Len() != 3 {
		t.Fatalf("Peek must leave every message in place, ready=%d", dlq.Len())
	}

	// Peek again: the same three messages must come back, not fewer (a
	// regression here would mean the first Peek left the list misordered
	// or partially consumed).
	msgs2, err := Peek(reg, "orders.dlq", 10)
	if err != nil {
		t.Fatalf("second Peek: %v", err)
	}
	if len(msgs2) != 3 {
		t.Fatalf("second Peek: got %d messages, want 3", len(msgs2))
	}
}

// TestPeekDoesNotExhaustRetries proves Peek's non-destructiveness goes
// beyond "leaves it in the queue": unlike Nack, repeated Peek calls must
// never themselves cause the message to be dead-lettered or dropped, since
// the DLQ used here has no dead-letter queue of its own.
func TestPeekDoesNotExhaustRetries(t *testing.T) {
	reg, q := setup(t)
	if _, err := q.Publish([]byte("x")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	nackOnce(t, q)

	for i := 0; i < 10; i++ {
		msgs, err := Peek(reg, "orders.dlq", 10)
		if err != nil {
			t.Fatalf("Peek %d: %v", i, err)
		}
		if len(msgs) != 1 {
			t.Fatalf("Peek %d: got %d messages, want 1 (message must survive repeated peeking)", i, len(msgs))
		}
	}
}

func TestDrainRemovesMessagesFromDLQ(t *testing.T) {
	reg, q := setup(t)
	if _, err := q.Publish([]byte("x")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	nackOnce(t, q)

	msgs, err := Drain(reg, "orders.dlq", 10)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d drained messages, want 1", len(msgs))
	}

	dlq, err := reg.GetQueue("orders.dlq")
	if err != nil {
		t.Fatalf("GetQueue: %v", err)
	}
	if dlq.Len() != 0 {
		t.Fatalf("Drain must remove messages, ready=%d", dlq.Len())
	}
}

func TestReplayPublishesFreshToTarget(t *testing.T) {
	reg, q := setup(t)
	originalID, err := q.Publish([]byte("x"))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	nackOnce(t, q)

	n, err := Replay(reg, "orders.dlq", "orders", 10)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d replayed, want 1", n)
	}

	if q.Len() != 1 {
		t.Fatalf("target queue should have the replayed message, ready=%d", q.Len())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	recv, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if string(recv.Message.Payload) != "x" {
		t.Fatalf("got payload %q, want %q", recv.Message.Payload, "x")
	}
	if recv.Message.ID == originalID {
		t.Fatalf("replay must publish a fresh message id, got the original %q back", originalID)
	}
}
