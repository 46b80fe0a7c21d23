// Package dlqtools layers dead-letter inspection and recovery operations
// on top of a registry.Registry. None of it mutates the core engine's
// state machine; everything here is built from the queue package's public
// contract, the way the teacher's dead-letter manager sits on top of its
// own queue manager.
package dlqtools

import (
	"errors"
	"fmt"

	"github.com/arjunv/vaultq/internal/queue"
	"github.com/arjunv/vaultq/internal/registry"
)

// Peek returns up to limit distinct messages currently sitting in the named
// dead-letter queue, without consuming them. It does so by consuming up to
// limit receipts first, then releasing all of them back (see
// queue.Queue.Release) once the collecting loop is done, in reverse
// delivery order so the ready list ends up in the same FIFO order it
// started in. Releasing inside the collecting loop would hand the very
// same head message back to the next TryConsume, so PEEK is not free of
// side effects on the WAL (each message round-trips through a
// CONSUME/PUBLISH pair), but unlike Nack, Release never increments the
// retry count or risks routing the message away — repeated Peek calls
// cannot, on their own, cause a message to be dropped.
func Peek(reg *registry.Registry, dlqName string, limit int) ([]*queue.Message, error) {
	q, err := reg.GetQueue(dlqName)
	if err != nil {
		return nil, fmt.Errorf("dlqtools: peek %q: %w", dlqName, err)
	}

	var receipts []*queue.Receipt
	for i := 0; i < limit; i++ {
		recv, err := q.TryConsume()
		if errors.Is(err, queue.ErrEmpty) {
			break
		}
		if err != nil {
			return messagesOf(receipts), fmt.Errorf("dlqtools: peek %q: %w", dlqName, err)
		}
		receipts = append(receipts, recv)
	}

	for i := len(receipts) - 1; i >= 0; i-- {
		if err := q.Release(receipts[i].Handle); err != nil {
			return messagesOf(receipts), fmt.Errorf("dlqtools: peek %q: release: %w", dlqName, err)
		}
	}
	return messagesOf(receipts), nil
}

func messagesOf(receipts []*queue.Receipt) []*queue.Message {
	if receipts == nil {
		return nil
	}
	out := make([]*queue.Message, len(receipts))
	for i, r := range receipts {
		out[i] = r.Message
	}
	return out
}

// Drain destructively removes up to limit messages from the named
// dead-letter queue, acknowledging each one so it never comes back.
func Drain(reg *registry.Registry, dlqName string, limit int) ([]*queue.Message, error) {
	q, err := reg.GetQueue(dlqName)
	if err != nil {
		return nil, fmt.Errorf("dlqtools: drain %q: %w", dlqName, err)
	}

	var out []*queue.Message
	for i := 0; i < limit; i++ {
		recv, err := q.TryConsume()
		if errors.Is(err, queue.ErrEmpty) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("dlqtools: drain %q: %w", dlqName, err)
		}
		if err := q.Acknowledge(recv.Handle); err != nil {
			return out, fmt.Errorf("dlqtools: drain %q: ack: %w", dlqName, err)
		}
		out = append(out, recv.Message)
	}
	return out, nil
}

// Replay moves up to limit messages from the named dead-letter queue back
// onto target for reprocessing. Each replayed message is published fresh:
// a new message id and a reset retry count, exactly as if a producer had
// published it for the first time.
func Replay(reg *registry.Registry, dlqName, targetName string, limit int) (int, error) {
	dlq, err := reg.GetQueue(dlqName)
	if err != nil {
		return 0, fmt.Errorf("dlqtools: replay %q: %w", dlqName, err)
	}
	target, err := reg.GetQueue(targetName)
	if err != nil {
		return 0, fmt.Errorf("dlqtools: replay to %q: %w", targetName, err)
	}

	replayed := 0
	for i := 0; i < limit; i++ {
		recv, err := dlq.TryConsume()
		if errors.Is(err, queue.ErrEmpty) {
			break
		}
		if err != nil {
			return replayed, fmt.Errorf("dlqtools: replay %q: %w", dlqName, err)
		}
		if _, err := target.Publish(recv.Message.Payload); err != nil {
			return replayed, fmt.Errorf("dlqtools: replay to %q: publish: %w", targetName, err)
		}
		if err := dlq.Acknowledge(recv.Handle); err != nil {
			return replayed, fmt.Errorf("dlqtools: replay %q: ack: %w", dlqName, err)
		}
		replayed++
	}
	return replayed, nil
}
