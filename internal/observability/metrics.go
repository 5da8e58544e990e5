package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for CoverLedger.
type Metrics struct {
	// --- Core Processing ---
	CoreCommandsApplied  *prometheus.CounterVec
	CoreCommandsRejected *prometheus.CounterVec
	CoreCommandDuration  *prometheus.HistogramVec
	CoreJournals         *prometheus.CounterVec
	CoreSequence         prometheus.Gauge

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupTier2Errors      prometheus.Counter

	// --- Pool ---
	PoolCapital          *prometheus.GaugeVec
	PoolValue            prometheus.Gauge
	PoolTotalShares      prometheus.Gauge
	PoolCoverageRatioBps prometheus.Gauge
	WithdrawalFees       *prometheus.CounterVec

	// --- Claims ---
	ClaimsTransitions   *prometheus.CounterVec
	ClaimsPaidTotal     *prometheus.CounterVec
	PayoutLimitSignals  *prometheus.CounterVec
	ClaimsDailyAutoPaid prometheus.Gauge

	// --- Persistence ---
	PersistEnvelopesWritten prometheus.Counter
	PersistJournalsWritten  prometheus.Counter
	PersistBatchDur         prometheus.Histogram
	PersistErrors           *prometheus.CounterVec
	PersistLastSequence     prometheus.Gauge

	// --- Checkpoint ---
	CheckpointTaken    prometheus.Counter
	CheckpointDuration prometheus.Histogram
	CheckpointLastSeq  prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in the service and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreCommandsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_core_commands_applied_total",
			Help: "Commands successfully applied by core",
		}, []string{"operation"}),

		CoreCommandsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_core_commands_rejected_total",
			Help: "Commands rejected, by error kind",
		}, []string{"operation", "reason"}),

		CoreCommandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cover_core_command_apply_duration_seconds",
			Help:    "Time to apply a single command in core",
			Buckets: latencyBuckets,
		}, []string{"operation"}),

		CoreJournals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cover_core_sequence",
			Help: "Next sequence the core will assign",
		}),

		// Channel & Backpressure
		ChannelSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cover_channel_size",
			Help: "Current number of items buffered in a channel",
		}, []string{"channel"}),

		PublishDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "cover_publish_drops_total",
			Help: "Audit envelopes dropped because the publish channel was full",
		}),

		PersistBackpressure: factory.NewCounter(prometheus.CounterOpts{
			Name: "cover_persist_backpressure_total",
			Help: "Times the core blocked on a full persist channel",
		}),

		// Idempotency
		IdempotencyDuplicates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_idempotency_duplicates_total",
			Help: "Duplicate commands detected, by tier",
		}, []string{"operation", "tier"}),

		DedupLRUSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cover_dedup_lru_size",
			Help: "Entries in the idempotency LRU",
		}),

		DedupTier2Errors: factory.NewCounter(prometheus.CounterOpts{
			Name: "cover_dedup_tier2_errors_total",
			Help: "Failed database idempotency lookups",
		}),

		// Pool
		PoolCapital: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cover_pool_capital",
			Help: "Pool capital per asset",
		}, []string{"asset"}),

		PoolValue: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cover_pool_value",
			Help: "Capital + premiums + interest - claims paid",
		}),

		PoolTotalShares: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cover_pool_total_shares",
			Help: "Outstanding ownership shares",
		}),

		PoolCoverageRatioBps: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cover_pool_coverage_ratio_bps",
			Help: "Solvency ratio in basis points",
		}),

		WithdrawalFees: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_pool_withdrawal_fees_total",
			Help: "Withdrawal fees retained by the pool",
		}, []string{"asset"}),

		// Claims
		ClaimsTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_claims_transitions_total",
			Help: "Claims entering a status",
		}, []string{"status"}),

		ClaimsPaidTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_claims_paid_amount_total",
			Help: "Claim payouts disbursed",
		}, []string{"asset"}),

		PayoutLimitSignals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_claims_payout_limit_signals_total",
			Help: "Payouts over the auto-payout ceiling or daily limit",
		}, []string{"limit", "outcome"}),

		ClaimsDailyAutoPaid: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cover_claims_daily_auto_paid",
			Help: "Amount paid in the current daily bucket",
		}),

		// Persistence
		PersistEnvelopesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "cover_persist_envelopes_written_total",
			Help: "Audit envelopes written to the database",
		}),

		PersistJournalsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "cover_persist_journals_written_total",
			Help: "Journal entries written to the database",
		}),

		PersistBatchDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cover_persist_batch_duration_seconds",
			Help:    "Time to flush one persistence batch",
			Buckets: prometheus.DefBuckets,
		}),

		PersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_persist_errors_total",
			Help: "Persistence failures by stage",
		}, []string{"stage"}),

		PersistLastSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cover_persist_last_sequence",
			Help: "Highest sequence durably written",
		}),

		// Checkpoint
		CheckpointTaken: factory.NewCounter(prometheus.CounterOpts{
			Name: "cover_checkpoint_taken_total",
			Help: "State checkpoints written",
		}),

		CheckpointDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cover_checkpoint_duration_seconds",
			Help:    "Time to write a state checkpoint",
			Buckets: prometheus.DefBuckets,
		}),

		CheckpointLastSeq: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cover_checkpoint_last_sequence",
			Help: "Sequence of the latest checkpoint",
		}),

		// Query API
		QueryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_query_requests_total",
			Help: "Query API requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cover_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
}
