// Package metrics exposes the Prometheus collectors shared by the API
// service and the runner.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsCreated counts run submissions by source (api, webhook, schedule,
	// chain-watch, http-poll, social-poll)
	RunsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "veilflow",
		Name:      "runs_created_total",
		Help:      "Workflow runs created, by submission source.",
	}, []string{"source"})

	// RunsCompleted counts terminal runs by status
	RunsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "veilflow",
		Name:      "runs_completed_total",
		Help:      "Workflow runs reaching a terminal status.",
	}, []string{"status"})

	// RunDuration observes end-to-end engine execution time
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "veilflow",
		Name:      "run_duration_seconds",
		Help:      "Engine execution time per run.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	// BlockDuration observes per-block execution time by block id
	BlockDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "veilflow",
		Name:      "block_duration_seconds",
		Help:      "Handler execution time per block.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"block"})

	// QueueDepth tracks the waiting-list length sampled by the worker pool
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "veilflow",
		Name:      "queue_depth",
		Help:      "Jobs waiting in the run queue.",
	})

	// JobRetries counts requeues with backoff
	JobRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "veilflow",
		Name:      "job_retries_total",
		Help:      "Jobs requeued after a retryable failure.",
	})

	// TriggerFires counts trigger activations by type
	TriggerFires = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "veilflow",
		Name:      "trigger_fires_total",
		Help:      "Trigger activations that produced a run.",
	}, []string{"type"})

	// CreditsDebited counts credits debited by operation
	CreditsDebited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "veilflow",
		Name:      "credits_debited_total",
		Help:      "Credits debited, by priced operation.",
	}, []string{"operation"})
)
