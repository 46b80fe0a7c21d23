package logentry

import (
	"encoding/json"
	"fmt"
)

// EncodeLine renders e as a single self-describing textual line, without a
// trailing newline. Payload is JSON-encoded as a byte slice, which
// encoding/json transparently base64-encodes — this is the "safer framing"
// spec.md §4.1 asks for instead of naively interpolating raw payload bytes
// into a flat string, where an embedded quote or newline would corrupt the
// line.
func EncodeLine(e Entry) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("logentry: encode: %w", err)
	}
	return b, nil
}

// DecodeLine parses a single textual line back into an Entry.
//
// Callers (the WAL reader during replay) must treat any error here as
// skip-and-warn rather than fatal: a truncated line is expected at the tail
// of a log written right up to a crash, and replay must make forward
// progress regardless of where in the file the corruption occurs.
func DecodeLine(line []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(line, &e); err != nil {
		return Entry{}, fmt.Errorf("logentry: decode: %w", err)
	}
	switch e.Op {
	case OpPublish, OpConsume, OpAck, OpNack:
	default:
		return Entry{}, fmt.Errorf("logentry: decode: unknown op %q", e.Op)
	}
	return e, nil
}
