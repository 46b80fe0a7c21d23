// Package config loads vaultq's ambient settings from YAML, the same
// library and layering the teacher repo this module is grounded on uses
// for its own configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arjunv/vaultq/internal/queue"
)

// QueueDefaults holds the per-queue settings applied when a queue is
// created without caller-supplied overrides.
type QueueDefaults struct {
	VisibilityTimeout time.Duration `yaml:"visibilityTimeout"`
	MaxRetries        int           `yaml:"maxRetries"`
	DeadLetterSuffix  string        `yaml:"deadLetterSuffix"`
	ScanInterval      time.Duration `yaml:"scanInterval"`
}

// ProducerLimits holds the registry-wide producer throttle.
type ProducerLimits struct {
	MaxRate float64 `yaml:"maxRate"`
	Burst   int     `yaml:"burst"`
}

// Config is vaultq's top-level configuration document.
type Config struct {
	LogDirectory string         `yaml:"logDirectory"`
	Queue        QueueDefaults  `yaml:"queue"`
	Producer     ProducerLimits `yaml:"producer"`
}

// Default returns the built-in configuration: a 30s visibility timeout,
// 3 max retries, dead-letter queues named "<queue>.dlq", a 1s scanner
// interval, no persistence, and no producer rate limit.
func Default() Config {
	return Config{
		Queue: QueueDefaults{
			VisibilityTimeout: 30 * time.Second,
			MaxRetries:        3,
			DeadLetterSuffix:  ".dlq",
			ScanInterval:      time.Second,
		},
	}
}

// Load reads a YAML document at path and merges it over Default(). A
// missing file is not an error; Load returns Default() unchanged.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// QueueConfig builds a queue.Config for a queue named name from these
// defaults, deriving its dead-letter queue name by appending
// DeadLetterSuffix. Callers that need different per-queue overrides can
// still mutate the returned value before passing it to a Registry.
func (c Config) QueueConfig(name string) queue.Config {
	return queue.Config{
		VisibilityTimeout:   c.Queue.VisibilityTimeout,
		MaxRetries:          c.Queue.MaxRetries,
		DeadLetterQueueName: name + c.Queue.DeadLetterSuffix,
		LogDirectory:        c.LogDirectory,
		ScanInterval:        c.Queue.ScanInterval,
	}
}

// Validate checks the configuration for internally inconsistent values.
func (c Config) Validate() error {
	if c.Queue.MaxRetries <= 0 {
		return fmt.Errorf("queue.maxRetries must be positive, got %d", c.Queue.MaxRetries)
	}
	if c.Queue.VisibilityTimeout <= 0 {
		return fmt.Errorf("queue.visibilityTimeout must be positive, got %s", c.Queue.VisibilityTimeout)
	}
	if c.Producer.Burst < 0 {
		return fmt.Errorf("producer.burst must not be negative, got %d", c.Producer.Burst)
	}
	return nil
}
