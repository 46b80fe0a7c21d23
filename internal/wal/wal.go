// Package wal implements the per-queue write-ahead log: an append-only,
// line-oriented textual stream of logentry.Entry records, durable on
// return from Append, with an atomic compaction operation that rewrites
// the file to a given survivor list.
package wal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/arjunv/vaultq/internal/logentry"
)

// maxLineBytes bounds a single log line so a corrupted length marker or a
// pathologically large payload cannot make bufio.Scanner allocate without
// limit.
const maxLineBytes = 16 << 20 // 16 MiB

// IOError wraps an underlying I/O failure from Append or Compact, per
// spec.md §7: WAL failures are surfaced to the caller as IOError, never
// treated as process-fatal.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("wal: %s: %v", e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// WAL is the durable append-only log for a single queue. All methods are
// safe for concurrent use; Append and Compact share a mutex because
// concurrent appends during compaction are explicitly disallowed by
// spec.md §4.2 ("serialize internally").
type WAL struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Open opens (or creates) the WAL file at path, creating its parent
// directory if necessary.
func Open(path string) (*WAL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, &IOError{Op: "open", Err: err}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, &IOError{Op: "open", Err: err}
	}
	return &WAL{file: f, path: path}, nil
}

// Path returns the filesystem path backing this WAL.
func (w *WAL) Path() string { return w.path }

// Append durably writes e to the end of the log. On return without error,
// a crash will observe this entry on the next read (flush-per-append is
// the fixed durability policy; spec.md §4.2 treats batching as
// out-of-scope for this core).
func (w *WAL) Append(e logentry.Entry) error {
	line, err := logentry.EncodeLine(e)
	if err != nil {
		return &IOError{Op: "append", Err: err}
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Write(line); err != nil {
		return &IOError{Op: "append", Err: err}
	}
	if err := w.file.Sync(); err != nil {
		return &IOError{Op: "append", Err: err}
	}
	return nil
}

// ReadAll scans the log from the beginning and returns every line that
// decodes successfully, in file order. A line that fails to decode —
// whether it is the truncated terminal line from a crash mid-write, or a
// corrupt line anywhere else — is skipped; warn is called with its 1-based
// line number and the decode error so the caller can log it. warn may be
// nil.
func (w *WAL) ReadAll(warn func(lineNo int, err error)) ([]logentry.Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.Open(w.path)
	if err != nil {
		return nil, &IOError{Op: "read", Err: err}
	}
	defer f.Close()

	var entries []logentry.Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		entry, err := logentry.DecodeLine(line)
		if err != nil {
			if warn != nil {
				warn(lineNo, err)
			}
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, &IOError{Op: "read", Err: err}
	}
	return entries, nil
}

// Compact atomically replaces the log's contents with exactly survivors,
// in the given order. It writes to a sibling temp file, fsyncs it, and
// renames it over the live path — atomic on every filesystem this package
// targets (POSIX rename semantics).
func (w *WAL) Compact(survivors []logentry.Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	tmpPath := w.path + ".compact.tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return &IOError{Op: "compact", Err: err}
	}

	for _, e := range survivors {
		line, err := logentry.EncodeLine(e)
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			return &IOError{Op: "compact", Err: err}
		}
		line = append(line, '\n')
		if _, err := tmp.Write(line); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			return &IOError{Op: "compact", Err: err}
		}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return &IOError{Op: "compact", Err: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return &IOError{Op: "compact", Err: err}
	}

	if err := os.Rename(tmpPath, w.path); err != nil {
		_ = os.Remove(tmpPath)
		return &IOError{Op: "compact", Err: err}
	}

	// The old *os.File now refers to the unlinked inode; reopen against the
	// path so subsequent Append calls hit the compacted file.
	if err := w.file.Close(); err != nil {
		return &IOError{Op: "compact", Err: err}
	}
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return &IOError{Op: "compact", Err: err}
	}
	w.file = f
	return nil
}

// Close flushes and releases the underlying file handle.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		return &IOError{Op: "close", Err: err}
	}
	return w.file.Close()
}
