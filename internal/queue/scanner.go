package queue

import "time"

// runScanner is the visibility-timeout reaper: it wakes on cfg.ScanInterval,
// collects every in-flight entry whose visibility window has elapsed, then
// resolves each one as an implicit NACK. Collecting the expired handles
// before mutating q.inFlight avoids invalidating the map iteration, the
// same shape as the reaper in the engine this package is modeled on.
func (q *Queue) runScanner() {
	ticker := time.NewTicker(q.cfg.ScanInterval)
	defer ticker.Stop()
	defer close(q.scanDone)

	for {
		select {
		case <-q.scanStop:
			return
		case <-ticker.C:
			q.scanOnce()
		}
	}
}

func (q *Queue) scanOnce() {
	now := time.Now()

	q.mu.Lock()
	var expired []*InFlightEntry
	var expiredHandles []string
	for handle, entry := range q.inFlight {
		if now.Sub(entry.ConsumedAt) >= q.cfg.VisibilityTimeout {
			expired = append(expired, entry)
			expiredHandles = append(expiredHandles, handle)
		}
	}
	for _, h := range expiredHandles {
		delete(q.inFlight, h)
	}

	outcomes := make([]failureOutcome, 0, len(expired))
	for _, entry := range expired {
		outcomes = append(outcomes, q.resolveFailedDelivery(entry))
	}
	if len(expired) > 0 {
		q.emitDepthLocked()
	}
	q.mu.Unlock()

	if q.metrics != nil {
		for _, outcome := range outcomes {
			switch outcome {
			case outcomeRequeued:
				q.metrics.ObserveRequeue(q.name)
			case outcomeDeadLettered:
				q.metrics.ObserveDeadLetter(q.name)
			case outcomeDropped:
				q.metrics.ObserveDrop(q.name)
			}
		}
	}
}
