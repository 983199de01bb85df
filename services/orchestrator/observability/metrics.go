// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the debate
// orchestrator: session and turn counters, streaming latency histograms,
// and live subscriber gauges. Metrics are exposed via /metrics; all
// operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "agora"
const debateSubsystem = "debate"

// DebateMetrics holds all Prometheus metrics for debate operations.
//
// # Fields
//
//   - DebatesTotal: Counter of created debates by format.
//   - DebatesFinishedTotal: Counter of finished debates by terminal status.
//   - TurnsTotal: Counter of terminal turns by status and model.
//   - TurnDurationSeconds: Histogram of turn duration by model.
//   - EventsStreamedTotal: Counter of events delivered to subscribers by
//     transport (sse, websocket) and event type.
//   - ActiveSubscribers: Gauge of live stream subscribers by transport.
//   - ActiveDebates: Gauge of currently registered sessions.
//   - JudgeCallsTotal: Counter of evaluation calls by outcome.
//   - FirstDeltaSeconds: Histogram of time from turn start to first
//     streamed delta, by model.
//   - BackendErrorsTotal: Counter of backend call failures by error class.
type DebateMetrics struct {
	DebatesTotal         *prometheus.CounterVec
	DebatesFinishedTotal *prometheus.CounterVec
	TurnsTotal           *prometheus.CounterVec
	TurnDurationSeconds  *prometheus.HistogramVec
	EventsStreamedTotal  *prometheus.CounterVec
	ActiveSubscribers    *prometheus.GaugeVec
	ActiveDebates        prometheus.Gauge
	JudgeCallsTotal      *prometheus.CounterVec
	FirstDeltaSeconds    *prometheus.HistogramVec
	BackendErrorsTotal   *prometheus.CounterVec
}

var (
	defaultMetrics *DebateMetrics
	initOnce       sync.Once
)

// Get returns the metrics singleton, registering it on first use.
// promauto panics on duplicate registration, so initialization is
// guarded by a Once rather than left to the caller's discipline.
func Get() *DebateMetrics {
	initOnce.Do(func() {
		defaultMetrics = &DebateMetrics{
			DebatesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: debateSubsystem,
					Name:      "sessions_total",
					Help:      "Total debate sessions created by format",
				},
				[]string{"format"},
			),

			DebatesFinishedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: debateSubsystem,
					Name:      "sessions_finished_total",
					Help:      "Total debate sessions finished by terminal status",
				},
				[]string{"status"},
			),

			TurnsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: debateSubsystem,
					Name:      "turns_total",
					Help:      "Total terminal turns by status and model",
				},
				[]string{"status", "model"},
			),

			TurnDurationSeconds: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: metricsNamespace,
					Subsystem: debateSubsystem,
					Name:      "turn_duration_seconds",
					Help:      "Turn duration from dispatch to terminal status",
					Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
				},
				[]string{"model"},
			),

			EventsStreamedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: debateSubsystem,
					Name:      "events_streamed_total",
					Help:      "Events delivered to stream subscribers by transport and type",
				},
				[]string{"transport", "type"},
			),

			ActiveSubscribers: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: metricsNamespace,
					Subsystem: debateSubsystem,
					Name:      "active_subscribers",
					Help:      "Currently connected stream subscribers by transport",
				},
				[]string{"transport"},
			),

			ActiveDebates: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: metricsNamespace,
					Subsystem: debateSubsystem,
					Name:      "active_sessions",
					Help:      "Currently registered debate sessions",
				},
			),

			JudgeCallsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: debateSubsystem,
					Name:      "judge_calls_total",
					Help:      "Evaluation judge calls by outcome",
				},
				[]string{"outcome"},
			),

			FirstDeltaSeconds: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: metricsNamespace,
					Subsystem: debateSubsystem,
					Name:      "first_delta_seconds",
					Help:      "Time from turn start to first streamed delta",
					Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
				},
				[]string{"model"},
			),

			BackendErrorsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: debateSubsystem,
					Name:      "backend_errors_total",
					Help:      "Backend call failures by error class",
				},
				[]string{"class"},
			),
		}
	})
	return defaultMetrics
}
