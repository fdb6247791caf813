// Package metrics defines and registers the custom Prometheus metrics of the
// user service. It is the single source of truth for metric names, labels and
// help strings. Metrics register with the default registry on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "user_service"

// ── User lifecycle ────────────────────────────────────────────────────────────

// UsersCreatedTotal counts records persisted by the create operation.
var UsersCreatedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "users_created_total",
		Help:      "Total number of user records created.",
	},
)

// UsersDeletedTotal counts records removed by the delete operation.
var UsersDeletedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "users_deleted_total",
		Help:      "Total number of user records deleted.",
	},
)

// ── Cache ─────────────────────────────────────────────────────────────────────

// CacheLookupsTotal counts read-through lookups.
// Label:
//   - result: "hit", "miss" or "error" (read failure or corrupt entry, treated as a miss)
var CacheLookupsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Total number of cache lookups on get-by-id, labelled by result.",
	},
	[]string{"result"},
)

// ── Events ────────────────────────────────────────────────────────────────────

// EventsPublishedTotal counts lifecycle events accepted by the broker.
// Label:
//   - type: USER_CREATED, USER_DELETED
var EventsPublishedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Total number of lifecycle events published.",
	},
	[]string{"type"},
)

// EventsPublishErrorsTotal counts lifecycle events that could not be published.
var EventsPublishErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_publish_errors_total",
		Help:      "Total number of lifecycle events that failed to publish.",
	},
	[]string{"type"},
)

// BrokerConnectionState reports the publisher state: 0 disconnected, 1 connecting, 2 connected.
var BrokerConnectionState = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "broker_connection_state",
		Help:      "Event publisher connection state (0 disconnected, 1 connecting, 2 connected).",
	},
)

// ── Side-effect dispatcher ────────────────────────────────────────────────────

// SideEffectsFailedTotal counts background tasks whose Run returned an error.
// Label:
//   - task: task name (e.g. "cache.populate", "event.user_created")
var SideEffectsFailedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "side_effects_failed_total",
		Help:      "Total number of background side effects that failed.",
	},
	[]string{"task"},
)

// SideEffectsDroppedTotal counts tasks rejected because their worker queue was full
// or the dispatcher was stopped.
var SideEffectsDroppedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "side_effects_dropped_total",
		Help:      "Total number of background side effects dropped before running.",
	},
	[]string{"task"},
)

// SideEffectDuration measures how long a background task takes to run.
var SideEffectDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "side_effect_duration_seconds",
		Help:      "Duration of background side effects from dequeue to completion.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"task"},
)
