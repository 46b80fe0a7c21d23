package wal

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/arjunv/vaultq/internal/logentry"
)

func newWAL(t *testing.T) (*WAL, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.log")
	w, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w, path
}

func TestAppendThenReadAll(t *testing.T) {
	w, _ := newWAL(t)

	want := []logentry.Entry{
		logentry.Publish("msg-1", []byte("a"), 1),
		logentry.Publish("msg-2", []byte("b"), 2),
		logentry.Consume("msg-1", "h1", 0, 3),
		logentry.Ack("h1", 4),
	}
	for _, e := range want {
		if err := w.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := w.ReadAll(nil)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if !reflect.DeepEqual(got[i], want[i]) {
			t.Fatalf("entry %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestReadAllSkipsTruncatedTrailingLine(t *testing.T) {
	w, path := newWAL(t)

	if err := w.Append(logentry.Publish("msg-1", []byte("a"), 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteString(`{"op":"PUBLISH","msgId":"msg-2","payl`); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	w2, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w2.Close()

	var warnings int
	entries, err := w2.ReadAll(func(lineNo int, err error) { warnings++ })
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1 (truncated line must be skipped)", len(entries))
	}
	if warnings != 1 {
		t.Fatalf("got %d warnings, want 1", warnings)
	}
}

func TestCompactRewritesToSurvivorsOnly(t *testing.T) {
	w, path := newWAL(t)

	for _, e := range []logentry.Entry{
		logentry.Publish("msg-1", []byte("a"), 1),
		logentry.Publish("msg-2", []byte("b"), 2),
		logentry.Consume("msg-1", "h1", 0, 3),
		logentry.Ack("h1", 4),
	} {
		if err := w.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	survivors := []logentry.Entry{logentry.Publish("msg-2", []byte("b"), 5)}
	if err := w.Compact(survivors); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	got, err := w.ReadAll(nil)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 1 || got[0].MsgID != "msg-2" {
		t.Fatalf("got %+v, want exactly one survivor for msg-2", got)
	}

	// Append must still work against the reopened handle after compaction.
	if err := w.Append(logentry.Publish("msg-3", []byte("c"), 6)); err != nil {
		t.Fatalf("Append after compact: %v", err)
	}
	got, err = w.ReadAll(nil)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries after post-compact append, want 2", len(got))
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("compacted file unexpectedly empty")
	}
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "queue.log")
	w, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("parent directory not created: %v", err)
	}
}
