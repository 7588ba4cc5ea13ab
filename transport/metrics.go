// SPDX-FileCopyrightText: © 2025 the Clarity authors
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	inboundEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clarity_inbound_events_total",
			Help: "Number of inbound relay events seen by a transport",
		},
		[]string{"role"},
	)
	droppedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clarity_dropped_events_total",
			Help: "Number of inbound events dropped without dispatch",
		},
		[]string{"reason"},
	)
	publishedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clarity_published_events_total",
			Help: "Number of events published to the relay network",
		},
		[]string{"role"},
	)
	requestTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clarity_request_timeouts_total",
			Help: "Number of requests that expired without a reply",
		},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "clarity_active_sessions",
			Help: "Number of live server sessions",
		},
	)

	metricsOnce sync.Once
)

const (
	dropReasonUnwrap    = "unwrap_failed"
	dropReasonMalformed = "malformed"
	dropReasonPlaintext = "plaintext_refused"
	dropReasonOversize  = "oversize"
	dropReasonUnmatched = "unmatched"
)

// registerMetrics registers the transport collectors with the default
// prometheus registry. Called from both transport constructors; the
// first call wins.
func registerMetrics() {
	metricsOnce.Do(func() {
		prometheus.MustRegister(inboundEvents)
		prometheus.MustRegister(droppedEvents)
		prometheus.MustRegister(publishedEvents)
		prometheus.MustRegister(requestTimeouts)
		prometheus.MustRegister(activeSessions)
	})
}
