// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhangyu-521/my-doc-sub002/pkg/plugin"
)

// Status label values for hook calls.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Metrics holds the runtime's Prometheus collectors. It satisfies
// bus.Observer and its ObserveHookCall method matches hook.CallObserver.
type Metrics struct {
	Transitions     *prometheus.CounterVec
	PluginStates    *prometheus.GaugeVec
	HookCalls       *prometheus.CounterVec
	HookDuration    *prometheus.HistogramVec
	EventsEmitted   *prometheus.CounterVec
	EventDeliveries *prometheus.CounterVec
	HandlerFailures *prometheus.CounterVec
	QueueMessages   *prometheus.CounterVec
	QueueDeliveries *prometheus.CounterVec
}

// NewMetrics creates the runtime collectors and registers them with reg.
// Panics if registration fails (following prometheus convention).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugrt_lifecycle_transitions_total",
				Help: "Total number of plugin state transitions",
			},
			[]string{"from", "to"},
		),
		PluginStates: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "plugrt_plugins",
				Help: "Number of plugins by lifecycle state",
			},
			[]string{"state"},
		),
		HookCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugrt_hook_calls_total",
				Help: "Total number of hook invocations by hook, kind and status",
			},
			[]string{"hook", "kind", "status"},
		),
		HookDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "plugrt_hook_duration_seconds",
				Help:    "Hook invocation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"hook", "kind"},
		),
		EventsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugrt_bus_events_total",
				Help: "Total number of events emitted by topic",
			},
			[]string{"topic"},
		),
		EventDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugrt_bus_event_deliveries_total",
				Help: "Total number of event handler invocations by topic",
			},
			[]string{"topic"},
		),
		HandlerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugrt_bus_handler_failures_total",
				Help: "Total number of failed bus handlers by kind",
			},
			[]string{"kind"},
		),
		QueueMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugrt_queue_messages_total",
				Help: "Total number of queued messages by topic",
			},
			[]string{"topic"},
		),
		QueueDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugrt_queue_deliveries_total",
				Help: "Total number of queue handler invocations by topic",
			},
			[]string{"topic"},
		),
	}

	reg.MustRegister(
		m.Transitions,
		m.PluginStates,
		m.HookCalls,
		m.HookDuration,
		m.EventsEmitted,
		m.EventDeliveries,
		m.HandlerFailures,
		m.QueueMessages,
		m.QueueDeliveries,
	)
	return m
}

// RecordTransition counts a plugin state change.
func (m *Metrics) RecordTransition(from, to string) {
	m.Transitions.WithLabelValues(from, to).Inc()
}

// SetPluginStates replaces the per-state plugin gauge. States missing from
// counts are reported as zero.
func (m *Metrics) SetPluginStates(states []string, counts map[string]int) {
	for _, s := range states {
		m.PluginStates.WithLabelValues(s).Set(float64(counts[s]))
	}
}

// ObserveHookCall records one hook invocation.
func (m *Metrics) ObserveHookCall(name string, kind plugin.HookKind, elapsed time.Duration, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.HookCalls.WithLabelValues(name, kind.String(), status).Inc()
	m.HookDuration.WithLabelValues(name, kind.String()).Observe(elapsed.Seconds())
}

// EventEmitted implements bus.Observer.
func (m *Metrics) EventEmitted(topic string, delivered int) {
	m.EventsEmitted.WithLabelValues(topic).Inc()
	m.EventDeliveries.WithLabelValues(topic).Add(float64(delivered))
}

// HandlerFailed implements bus.Observer.
func (m *Metrics) HandlerFailed(kind string) {
	m.HandlerFailures.WithLabelValues(kind).Inc()
}

// MessageEnqueued implements bus.Observer.
func (m *Metrics) MessageEnqueued(topic string, delivered int) {
	m.QueueMessages.WithLabelValues(topic).Inc()
	m.QueueDeliveries.WithLabelValues(topic).Add(float64(delivered))
}
