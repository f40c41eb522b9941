// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsTotal counts packets read from the tunnel device
	PacketsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hostguard_packets_total",
			Help: "Total number of packets read from the tunnel device",
		},
	)

	// VerdictsTotal counts classification results by action and protocol
	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostguard_verdicts_total",
			Help: "Total number of classification verdicts",
		},
		[]string{"action", "proto"},
	)

	// BlockedTotal counts packets that matched the blocklist
	BlockedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostguard_blocked_total",
			Help: "Total number of packets whose domain matched the blocklist",
		},
		[]string{"proto"},
	)

	// ClassifyLatencySeconds measures per-packet classification latency
	ClassifyLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hostguard_classify_seconds",
			Help:    "Latency of per-packet classification in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0000001, 2, 20), // 100ns to ~50ms
		},
	)

	// LoopErrorsTotal counts tunnel loop failures by kind
	LoopErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostguard_loop_errors_total",
			Help: "Total number of tunnel loop errors",
		},
		[]string{"kind"},
	)

	// BlocklistSize tracks the number of blocked domains
	BlocklistSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hostguard_blocklist_size",
			Help: "Current number of domains in the blocklist",
		},
	)

	// BlocklistReloadsTotal counts blocklist reloads by result
	BlocklistReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostguard_blocklist_reloads_total",
			Help: "Total number of blocklist reloads",
		},
		[]string{"result"},
	)

	// EngineStatus tracks whether the tunnel loop is running
	EngineStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hostguard_engine_status",
			Help: "Current engine status (0=stopped, 1=running)",
		},
	)
)

// EngineStatusValue represents engine status as a numeric value for Prometheus gauge
const (
	EngineStatusStopped = 0
	EngineStatusRunning = 1
)
