// Package ident generates globally unique, lexicographically time-ordered
// string identifiers used for message ids and receipt handles.
//
// ULIDs are used instead of a plain counter or a random UUID because they
// sort lexicographically in creation order. Queue replay (see
// internal/queue) does not sort by id: it rebuilds the ready list in the
// order of the write-ahead log's records.
package ident

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// monoMu guards monoEntropy: ulid.Monotonic is not safe for concurrent use
// on its own, and a single shared source is what keeps ids monotonically
// increasing even when several are minted within the same millisecond.
var (
	monoMu      sync.Mutex
	monoEntropy io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// New returns a fresh, process-wide unique identifier.
func New() (string, error) {
	monoMu.Lock()
	defer monoMu.Unlock()

	ms := ulid.Timestamp(time.Now())
	id, err := ulid.New(ms, monoEntropy)
	if err != nil {
		return "", fmt.Errorf("ident: generate: %w", err)
	}
	return id.String(), nil
}

// Must is like New but panics on error. The only failure mode is entropy
// exhaustion, which does not happen with crypto/rand in practice; Must
// keeps call sites that cannot sensibly handle that failure uncluttered.
func Must() string {
	id, err := New()
	if err != nil {
		panic(fmt.Sprintf("ident.Must: %v", err))
	}
	return id
}
