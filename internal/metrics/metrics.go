// Package metrics exposes queue engine activity as Prometheus metrics.
// Registry implements queue.MetricsRecorder; vaultq itself never opens a
// listener, so callers mount Registry.Handler() on their own mux.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry collects per-queue counters and gauges for every state
// transition the queue engine exposes.
type Registry struct {
	reg *prometheus.Registry

	published     *prometheus.CounterVec
	consumed      *prometheus.CounterVec
	acked         *prometheus.CounterVec
	nacked        *prometheus.CounterVec
	requeued      *prometheus.CounterVec
	deadLettered  *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	readyDepth    *prometheus.GaugeVec
	inFlightDepth *prometheus.GaugeVec
}

// New builds a Registry with its own isolated prometheus.Registry, so
// embedding vaultq in a host process never collides with that process's
// default registry.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultq_published_total",
			Help: "Messages published, by queue.",
		}, []string{"queue"}),
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultq_consumed_total",
			Help: "Deliveries handed to a consumer, by queue.",
		}, []string{"queue"}),
		acked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultq_acked_total",
			Help: "Deliveries acknowledged, by queue.",
		}, []string{"queue"}),
		nacked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultq_nacked_total",
			Help: "Deliveries explicitly nacked, by queue.",
		}, []string{"queue"}),
		requeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultq_requeued_total",
			Help: "Failed deliveries requeued for another attempt, by queue.",
		}, []string{"queue"}),
		deadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultq_dead_lettered_total",
			Help: "Messages routed to a dead-letter queue after exhausting retries, by queue.",
		}, []string{"queue"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultq_dropped_total",
			Help: "Messages dropped after exhausting retries with no dead-letter queue wired, by queue.",
		}, []string{"queue"}),
		readyDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vaultq_ready_depth",
			Help: "Messages currently ready for delivery, by queue.",
		}, []string{"queue"}),
		inFlightDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vaultq_in_flight_depth",
			Help: "Deliveries currently outstanding, by queue.",
		}, []string{"queue"}),
	}

	reg.MustRegister(
		r.published, r.consumed, r.acked, r.nacked,
		r.requeued, r.deadLettered, r.dropped,
		r.readyDepth, r.inFlightDepth,
	)
	return r
}

// Handler returns an http.Handler serving this Registry's metrics in the
// Prometheus exposition format, for mounting on a caller-owned mux.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) ObservePublish(queueName string)    { r.published.WithLabelValues(queueName).Inc() }
func (r *Registry) ObserveConsume(queueName string)    { r.consumed.WithLabelValues(queueName).Inc() }
func (r *Registry) ObserveAck(queueName string)        { r.acked.WithLabelValues(queueName).Inc() }
func (r *Registry) ObserveNack(queueName string)       { r.nacked.WithLabelValues(queueName).Inc() }
func (r *Registry) ObserveRequeue(queueName string)    { r.requeued.WithLabelValues(queueName).Inc() }
func (r *Registry) ObserveDeadLetter(queueName string) { r.deadLettered.WithLabelValues(queueName).Inc() }
func (r *Registry) ObserveDrop(queueName string)       { r.dropped.WithLabelValues(queueName).Inc() }

func (r *Registry) ObserveDepth(queueName string, ready, inFlight int) {
	r.readyDepth.WithLabelValues(queueName).Set(float64(ready))
	r.inFlightDepth.WithLabelValues(queueName).Set(float64(inFlight))
}
