package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate(): %v", err)
	}
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("got %+v, want Default()", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vaultq.yaml")
	doc := `
logDirectory: /var/lib/vaultq
queue:
  visibilityTimeout: 1m
  maxRetries: 5
  deadLetterSuffix: .dead
  scanInterval: 500ms
producer:
  maxRate: 100
  burst: 10
`
	if err := os.WriteFile(path, []byte(doc), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogDirectory != "/var/lib/vaultq" {
		t.Fatalf("got LogDirectory %q", cfg.LogDirectory)
	}
	if cfg.Queue.MaxRetries != 5 {
		t.Fatalf("got MaxRetries %d, want 5", cfg.Queue.MaxRetries)
	}
	if cfg.Queue.VisibilityTimeout != time.Minute {
		t.Fatalf("got VisibilityTimeout %s, want 1m", cfg.Queue.VisibilityTimeout)
	}
	if cfg.Producer.Burst != 10 {
		t.Fatalf("got Burst %d, want 10", cfg.Producer.Burst)
	}
}

func TestQueueConfigDerivesDeadLetterName(t *testing.T) {
	cfg := Default()
	cfg.LogDirectory = "/var/lib/vaultq"
	qc := cfg.QueueConfig("orders")

	if qc.DeadLetterQueueName != "orders.dlq" {
		t.Fatalf("got DeadLetterQueueName %q, want %q", qc.DeadLetterQueueName, "orders.dlq")
	}
	if qc.LogDirectory != cfg.LogDirectory {
		t.Fatalf("got LogDirectory %q, want %q", qc.LogDirectory, cfg.LogDirectory)
	}
	if qc.MaxRetries != cfg.Queue.MaxRetries || qc.VisibilityTimeout != cfg.Queue.VisibilityTimeout || qc.ScanInterval != cfg.Queue.ScanInterval {
		t.Fatalf("got %+v, did not carry over queue defaults from %+v", qc, cfg.Queue)
	}
}

func TestValidateRejectsNonPositiveMaxRetries(t *testing.T) {
	cfg := Default()
	cfg.Queue.MaxRetries = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() succeeded, want error for zero MaxRetries")
	}
}
