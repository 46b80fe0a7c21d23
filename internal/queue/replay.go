package queue

import "github.com/arjunv/vaultq/internal/logentry"

// replay reconstructs in-memory state from the WAL, then re-resolves every
// delivery that was still outstanding at crash time as an implicit NACK,
// then compacts the log to one PUBLISH record per surviving message. It
// runs before the scanner starts and before New returns, so no other
// goroutine can observe q yet and replay does not need q.mu.
func (q *Queue) replay() error {
	entries, err := q.w.ReadAll(func(lineNo int, err error) {
		q.logger.Warn("skipping corrupt wal line", "queue", q.name, "line", lineNo, "err", err)
	})
	if err != nil {
		return err
	}

	msgsByID := make(map[string]*Message)
	inFlightByHandle := make(map[string]*InFlightEntry)

	for _, e := range entries {
		switch e.Op {
		case logentry.OpPublish:
			// A PUBLISH for a message that is still in flight was written by
			// Release: the delivery went back to the front of the ready list.
			var released []string
			for h, entry := range inFlightByHandle {
				if entry.Message.ID == e.MsgID {
					released = append(released, h)
				}
			}
			for _, h := range released {
				delete(inFlightByHandle, h)
			}
			msg := &Message{ID: e.MsgID, Payload: e.Payload}
			msgsByID[e.MsgID] = msg
			elem := q.ready.PushBack(msg)
			if len(released) > 0 {
				q.ready.MoveToFront(elem)
			}
			q.readyElem[e.MsgID] = elem
			if e.RetryCount != 0 {
				q.retry[e.MsgID] = e.RetryCount
			}

		case logentry.OpConsume:
			msg, ok := msgsByID[e.MsgID]
			if !ok {
				// CONSUME for a message this log segment never saw PUBLISHed;
				// nothing to recover it from, skip.
				continue
			}
			if elem, ok := q.readyElem[e.MsgID]; ok {
				q.ready.Remove(elem)
				delete(q.readyElem, e.MsgID)
			}
			inFlightByHandle[e.Handle] = &InFlightEntry{
				Message:    msg,
				RetryCount: e.RetryCount,
			}

		case logentry.OpAck:
			if entry, ok := inFlightByHandle[e.Handle]; ok {
				delete(inFlightByHandle, e.Handle)
				delete(q.retry, entry.Message.ID)
			}

		case logentry.OpNack:
			if entry, ok := inFlightByHandle[e.Handle]; ok {
				delete(inFlightByHandle, e.Handle)
				q.resolveFailedDelivery(entry)
			}
		}
	}

	// Every delivery still outstanding after the log is exhausted was
	// in flight when the process stopped; spec.md §4.4 treats this as an
	// implicit NACK so no message is ever stranded as unreachable.
	for _, entry := range inFlightByHandle {
		q.resolveFailedDelivery(entry)
	}

	return q.compactToSurvivors()
}

// compactToSurvivors rewrites the WAL to hold exactly one PUBLISH entry per
// message currently ready, in delivery order, carrying its current retry
// count. This keeps the on-disk log bounded by |Q| regardless of how many
// consume/ack/nack cycles produced it, and a subsequent replay of the
// compacted file alone reproduces the same state.
func (q *Queue) compactToSurvivors() error {
	survivors := make([]logentry.Entry, 0, q.ready.Len())
	for elem := q.ready.Front(); elem != nil; elem = elem.Next() {
		msg := elem.Value.(*Message)
		survivors = append(survivors, logentry.Publish(msg.ID, msg.Payload, nowMs()))
		if rc := q.retry[msg.ID]; rc != 0 {
			survivors[len(survivors)-1].RetryCount = rc
		}
	}
	return q.w.Compact(survivors)
}
