// Package metrics defines the Prometheus instrumentation shared across the
// hub, scheduler, bus, and sink adapters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Broadcast hub metrics
var (
	// HubActiveChannels tracks channels with at least one live sink
	HubActiveChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_active_channels",
			Help: "Number of channels with at least one connected sink",
		},
	)

	// HubConnectedSinks tracks total connected sinks across all channels
	HubConnectedSinks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_connected_sinks_total",
			Help: "Total number of connected sinks across all channels",
		},
	)

	// HubOriginEvictionsTotal tracks sinks evicted because their origin reconnected
	HubOriginEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_origin_evictions_total",
			Help: "Total sinks evicted due to a newer connection from the same origin",
		},
	)

	// HubSinkWriteFailuresTotal tracks failed event deliveries to individual sinks
	HubSinkWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_sink_write_failures_total",
			Help: "Total sink write failures that caused a sink to be dropped",
		},
	)

	// HubCommandChannelDepth tracks current hub command channel depth
	HubCommandChannelDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_command_channel_depth",
			Help: "Current hub command channel depth",
		},
	)

	// HubPanicsTotal tracks hub panic recoveries
	HubPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_panics_total",
			Help: "Total hub panic recoveries",
		},
	)

	// HubUndecodablePayloadsTotal tracks payloads delivered without URL rewriting
	HubUndecodablePayloadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_undecodable_payloads_total",
			Help: "Fan-out payloads that could not be decoded as events and were delivered unrewritten",
		},
	)
)

// Rotation scheduler metrics
var (
	// SchedulerRotationsTotal tracks rotations by trigger
	SchedulerRotationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_rotations_total",
			Help: "Total view rotations by trigger (timer, next, previous, manual)",
		},
		[]string{"trigger"},
	)

	// SchedulerActiveOverrides tracks currently overridden views
	SchedulerActiveOverrides = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_active_overrides",
			Help: "Number of manually overridden views across all channels",
		},
	)

	// SchedulerStaleTimerFiresTotal tracks superseded timer fires (silent no-ops)
	SchedulerStaleTimerFiresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_stale_timer_fires_total",
			Help: "Rotation timers that fired after their view was superseded",
		},
	)

	// EnrichmentFailuresTotal tracks data-injection failures by view type
	EnrichmentFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_enrichment_failures_total",
			Help: "Data injection failures by view type (logged and swallowed)",
		},
		[]string{"view_type"},
	)
)

// Message bus metrics
var (
	// BusPublishesTotal tracks published bus messages by status
	BusPublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_publishes_total",
			Help: "Total bus publishes by status",
		},
		[]string{"status"},
	)

	// BusActiveSubscriptions tracks open bus subscriptions
	BusActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bus_active_subscriptions",
			Help: "Number of open bus topic subscriptions",
		},
	)

	// RedisBreakerState tracks the Redis circuit breaker state (0 closed, 1 half-open, 2 open)
	RedisBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bus_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
	)

	// RedisBreakerStateChangesTotal tracks Redis circuit breaker transitions by new state
	RedisBreakerStateChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_redis_circuit_breaker_state_changes_total",
			Help: "Redis circuit breaker state transitions by new state",
		},
		[]string{"state"},
	)
)

// Sink adapter metrics
var (
	// SinkKeepalivesFailedTotal tracks failed keepalive pings
	SinkKeepalivesFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sink_keepalive_failures_total",
			Help: "Keepalive pings that failed, indicating a dead connection",
		},
	)

	// SinkFramesTotal tracks chunked-transport frames by tag
	SinkFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sink_chunked_frames_total",
			Help: "Chunked-transport frames sent by frame tag",
		},
		[]string{"tag"},
	)

	// SinkDiscardedEventsTotal tracks events dropped for lack of a receiver
	SinkDiscardedEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sink_discarded_events_total",
			Help: "Chunked-transport events discarded because no receiver was attached",
		},
	)
)
