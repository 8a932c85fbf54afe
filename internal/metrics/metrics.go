package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Directive metrics
	DirectivesSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "phoenix_directives_submitted_total",
			Help: "Total number of directives submitted",
		},
	)

	DirectivesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phoenix_directives_completed_total",
			Help: "Total number of directives resolved to a result",
		},
		[]string{"status"},
	)

	DirectiveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "phoenix_directive_duration_seconds",
			Help:    "End-to-end directive processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Council metrics
	CouncilDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phoenix_council_decisions_total",
			Help: "Council decisions by outcome",
		},
		[]string{"outcome"},
	)

	CouncilScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "phoenix_council_score",
			Help:    "Normalized council score distribution",
			Buckets: []float64{-1, -0.5, -0.25, 0, 0.25, 0.5, 0.7, 0.85, 1},
		},
	)

	// Scheduler metrics
	TasksEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phoenix_tasks_enqueued_total",
			Help: "Tasks enqueued per agent queue",
		},
		[]string{"agent"},
	)

	TasksDequeued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phoenix_tasks_dequeued_total",
			Help: "Tasks dequeued per agent queue",
		},
		[]string{"agent"},
	)

	AgentQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "phoenix_agent_queue_depth",
			Help: "Current backlog per agent queue",
		},
		[]string{"agent"},
	)

	AgentEfficiency = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "phoenix_agent_efficiency_factor",
			Help: "Adaptive efficiency factor per agent",
		},
		[]string{"agent"},
	)

	// Agent execution metrics
	AgentExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phoenix_agent_executions_total",
			Help: "Total number of agent task executions",
		},
		[]string{"agent", "status"},
	)

	AgentExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "phoenix_agent_execution_duration_ms",
			Help:    "Agent execution duration in milliseconds",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000, 30000},
		},
		[]string{"agent"},
	)

	// Coordinator metrics
	CoordinatorState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "phoenix_coordinator_state",
			Help: "Current coordinator state machine state (enum ordinal)",
		},
	)

	CoordinatorErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "phoenix_coordinator_errors_total",
			Help: "Coordinator faults routed through the ERROR state",
		},
	)

	Escalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "phoenix_escalations_total",
			Help: "Directives escalated for human review",
		},
	)

	AlignmentRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "phoenix_alignment_rejections_total",
			Help: "Tasks rejected by the pre-dispatch alignment gate",
		},
	)

	// Snapshot metrics
	SnapshotSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phoenix_snapshot_saves_total",
			Help: "Coordinator state snapshot writes",
		},
		[]string{"status"},
	)

	// Event sink metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phoenix_events_published_total",
			Help: "Events published to the sink by type",
		},
		[]string{"type"},
	)
)
