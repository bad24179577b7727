package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for LoopVault.
type Metrics struct {
	// --- Position lifecycle ---
	PositionsOpened     prometheus.Counter
	PositionsClosed     *prometheus.CounterVec
	PositionsOpen       prometheus.Gauge
	LoopIterations      prometheus.Histogram
	OperationDuration   *prometheus.HistogramVec
	OperationsRejected  *prometheus.CounterVec
	TotalValueLocked    prometheus.Gauge
	TotalDebt           prometheus.Gauge

	// --- Health & risk ---
	HealthFactor        *prometheus.GaugeVec
	LoopsTruncated      prometheus.Counter
	LiquidationsSwept   prometheus.Counter
	CompromisedFlag     prometheus.Gauge
	EmergencyModeFlag   prometheus.Gauge

	// --- External venues ---
	ExternalCalls       *prometheus.CounterVec
	ExternalCallErrors  *prometheus.CounterVec
	ExternalCallLatency *prometheus.HistogramVec
	TransferFeeObserved prometheus.Counter

	// --- Ledger ---
	JournalsGenerated *prometheus.CounterVec
	LedgerSequence    prometheus.Gauge

	// --- Channel & backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	PublishDrops       prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- HTTP API ---
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opDurationBuckets := []float64{
		0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0,
	}

	return &Metrics{
		// Position lifecycle
		PositionsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loopvault_positions_opened_total",
			Help: "Positions successfully opened",
		}),

		PositionsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loopvault_positions_closed_total",
			Help: "Positions removed (closed/liquidated)",
		}, []string{"outcome"}),

		PositionsOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "loopvault_positions_open",
			Help: "Currently open positions",
		}),

		LoopIterations: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "loopvault_loop_iterations",
			Help:    "Executed loop iterations per open",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 10, 15, 20},
		}),

		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loopvault_operation_duration_seconds",
			Help:    "End-to-end duration of engine operations",
			Buckets: opDurationBuckets,
		}, []string{"operation"}),

		OperationsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loopvault_operations_rejected_total",
			Help: "Operations rejected before execution",
		}, []string{"operation", "reason"}),

		TotalValueLocked: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "loopvault_tvl",
			Help: "Sum of open position collateral (quote scale)",
		}),

		TotalDebt: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "loopvault_total_debt",
			Help: "Sum of outstanding borrowed amounts (quote scale)",
		}),

		// Health & risk
		HealthFactor: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "loopvault_health_factor",
			Help: "Last observed health factor per owner (ratio scale 1e4)",
		}, []string{"owner"}),

		LoopsTruncated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loopvault_loops_truncated_total",
			Help: "Loop sequences stopped early by the health projection",
		}),

		LiquidationsSwept: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loopvault_liquidations_total",
			Help: "Forced unwinds triggered by the health sweep",
		}),

		CompromisedFlag: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "loopvault_compromised",
			Help: "1 when the sticky compromised flag is set",
		}),

		EmergencyModeFlag: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "loopvault_emergency_mode",
			Help: "1 while the strategy is paused",
		}),

		// External venues
		ExternalCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loopvault_external_calls_total",
			Help: "Calls issued to external venues",
		}, []string{"venue", "method"}),

		ExternalCallErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loopvault_external_call_errors_total",
			Help: "External venue call failures",
		}, []string{"venue", "method"}),

		ExternalCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loopvault_external_call_latency_seconds",
			Help:    "External venue call latency",
			Buckets: opDurationBuckets,
		}, []string{"venue", "method"}),

		TransferFeeObserved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loopvault_transfer_fee_observed_total",
			Help: "Cumulative shortfall between requested and measured transfers",
		}),

		// Ledger
		JournalsGenerated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loopvault_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		LedgerSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "loopvault_ledger_sequence",
			Help: "Current journal batch sequence",
		}),

		// Channel & backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "loopvault_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "loopvault_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "loopvault_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loopvault_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loopvault_persist_backpressure_total",
			Help: "Times the engine blocked on the persist channel",
		}),

		// Persistence
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loopvault_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loopvault_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "loopvault_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "loopvault_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loopvault_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loopvault_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "loopvault_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// HTTP API
		APIRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loopvault_api_requests_total",
			Help: "API requests",
		}, []string{"endpoint", "status"}),

		APIDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loopvault_api_duration_seconds",
			Help:    "API request latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
