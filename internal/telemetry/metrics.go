/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP API metrics.
var (
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reeltime_api_request_duration_seconds",
		Help:    "HTTP request latency by method, route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reeltime_api_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reeltime_api_active_connections",
		Help: "In-flight HTTP requests.",
	})

	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reeltime_api_websocket_connections",
		Help: "Open event stream websockets.",
	})
)

// Playback engine metrics.
var (
	EnginesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reeltime_engines_active",
		Help: "Live playback engines.",
	})

	PlaybackStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reeltime_playback_state_transitions_total",
		Help: "Clock state changes by target state.",
	}, []string{"state"})

	PlaybackEndReachedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reeltime_playback_end_reached_total",
		Help: "Times playback reached the end bound.",
	})

	SegmentSwitchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reeltime_segment_switches_total",
		Help: "Active segment changes by media kind.",
	}, []string{"kind"})
)

// Media pool metrics.
var (
	PoolResources = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reeltime_pool_resources",
		Help: "Pooled media elements by kind.",
	}, []string{"kind"})

	PoolLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reeltime_pool_loads_total",
		Help: "Media source assignments by kind.",
	}, []string{"kind"})

	PoolSeeksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reeltime_pool_seeks_total",
		Help: "Seeks issued to pooled elements by kind and reason.",
	}, []string{"kind", "reason"})

	PoolEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reeltime_pool_evictions_total",
		Help: "Pooled elements evicted by the size limit.",
	}, []string{"kind"})

	PoolStaleCallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reeltime_pool_stale_callbacks_total",
		Help: "Metadata callbacks discarded because their load was superseded.",
	})

	MediaErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reeltime_media_errors_total",
		Help: "Media load and playback failures by kind.",
	}, []string{"kind"})
)

// Persistence metrics.
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reeltime_database_query_duration_seconds",
		Help:    "Database operation latency.",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reeltime_database_errors_total",
		Help: "Failed database operations.",
	}, []string{"operation", "type"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reeltime_database_connections_active",
		Help: "Open database connections.",
	})

	CacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reeltime_cache_requests_total",
		Help: "Segment cache lookups by result.",
	}, []string{"result"})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
