// Command vaultqdemo is a minimal walkthrough of vaultq's public surface:
// load config, publish, consume, nack a message into a dead-letter queue,
// drain it back out, and scrape the metrics produced along the way.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/arjunv/vaultq/internal/config"
	"github.com/arjunv/vaultq/internal/dlqtools"
	"github.com/arjunv/vaultq/internal/metrics"
	"github.com/arjunv/vaultq/internal/registry"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	configPath := "vaultq.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}
	cfg.LogDirectory = mustTempDir()

	metricsReg := metrics.New()
	reg := registry.New(
		registry.WithLogger(logger),
		registry.WithMetrics(metricsReg),
		registry.WithProducerRateLimit(cfg.Producer.MaxRate, cfg.Producer.Burst),
	)
	defer reg.Close()

	ordersCfg := cfg.QueueConfig("orders")
	ordersCfg.MaxRetries = 2
	ordersCfg.VisibilityTimeout = 200 * time.Millisecond

	orders, err := reg.CreateQueue("orders", ordersCfg)
	if err != nil {
		logger.Error("create queue", "err", err)
		os.Exit(1)
	}

	id, err := orders.Publish([]byte(`{"orderId":"A1"}`))
	if err != nil {
		logger.Error("publish", "err", err)
		os.Exit(1)
	}
	fmt.Println("published", id)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < ordersCfg.MaxRetries; i++ {
		recv, err := orders.Consume(ctx)
		if err != nil {
			logger.Error("consume", "err", err)
			os.Exit(1)
		}
		fmt.Printf("delivery %d: msg=%s payload=%s\n", i+1, recv.Message.ID, recv.Message.Payload)
		if err := orders.Nack(recv.Handle); err != nil {
			logger.Error("nack", "err", err)
			os.Exit(1)
		}
	}

	dead, err := dlqtools.Drain(reg, ordersCfg.DeadLetterQueueName, 10)
	if err != nil {
		logger.Error("drain dlq", "err", err)
		os.Exit(1)
	}
	fmt.Printf("dead-lettered %d message(s)\n", len(dead))

	printMetrics(metricsReg)
}

// printMetrics scrapes the metrics registry over a real HTTP round trip,
// the same handler a Prometheus server would poll in production, so the
// demo exercises the metrics package end to end rather than just calling
// its Go API directly.
func printMetrics(reg *metrics.Registry) {
	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		fmt.Println("scrape metrics:", err)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Println("read metrics:", err)
		return
	}
	fmt.Println("--- metrics ---")
	fmt.Print(string(body))
}

func mustTempDir() string {
	dir, err := os.MkdirTemp("", "vaultqdemo-*")
	if err != nil {
		panic(err)
	}
	return dir
}
