package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the clearing engine.
type Metrics struct {
	// --- Core Processing ---
	CoreOpsApplied   *prometheus.CounterVec
	CoreOpsRejected  *prometheus.CounterVec
	CoreOpDuration   *prometheus.HistogramVec
	CoreJournals     *prometheus.CounterVec
	CoreStateHashDur prometheus.Histogram
	CoreSequence     prometheus.Gauge

	// --- Latency ---
	IngestToApply   *prometheus.HistogramVec
	ApplyToPersist  prometheus.Histogram
	NATSPullLatency *prometheus.HistogramVec
	PersistBatchDur prometheus.Histogram

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Duration    prometheus.Histogram

	// --- Oracle ---
	PricesAccepted *prometheus.CounterVec
	PricesRejected *prometheus.CounterVec
	LastPrice      *prometheus.GaugeVec
	TwapTimeAcc    *prometheus.GaugeVec

	// --- Risk ---
	MarginCalls         *prometheus.CounterVec
	LiquidationsFlagged *prometheus.CounterVec
	MarkToMarketChecks  *prometheus.CounterVec

	// --- Settlement ---
	DealsOpened        *prometheus.CounterVec
	DealsSettledCash   *prometheus.CounterVec
	DealsCanceled      *prometheus.CounterVec
	DeliveriesVerified *prometheus.CounterVec
	DeliveredKg        *prometheus.CounterVec
	CertMintedTotal    *prometheus.CounterVec
	InsuranceDraws     *prometheus.CounterVec
	FeeTreasuryBalance *prometheus.GaugeVec
	InsuranceBalance   *prometheus.GaugeVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		CoreOpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_core_ops_applied_total",
			Help: "Operations successfully applied by the clearing core",
		}, []string{"op"}),

		CoreOpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_core_ops_rejected_total",
			Help: "Operations rejected (dedup, validation, auth)",
		}, []string{"op", "reason"}),

		CoreOpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coffee_core_op_apply_duration_seconds",
			Help:    "Time to apply a single operation in the core",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		CoreJournals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreStateHashDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "coffee_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "coffee_core_sequence",
			Help: "Current global sequence number",
		}),

		IngestToApply: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coffee_ingest_to_apply_seconds",
			Help:    "NATS receive to core apply complete",
			Buckets: ingestBuckets,
		}, []string{"op"}),

		ApplyToPersist: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "coffee_apply_to_persist_seconds",
			Help:    "Core emit to Postgres commit",
			Buckets: latencyBuckets,
		}),

		NATSPullLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coffee_nats_pull_latency_seconds",
			Help:    "NATS pull request latency",
			Buckets: ingestBuckets,
		}, []string{"subject"}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "coffee_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coffee_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coffee_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coffee_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coffee_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coffee_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"op", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "coffee_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coffee_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		DedupTier2Duration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "coffee_dedup_tier2_duration_seconds",
			Help:    "Postgres dedup lookup latency",
			Buckets: latencyBuckets,
		}),

		PricesAccepted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_oracle_prices_accepted_total",
			Help: "Oracle price updates accepted",
		}, []string{"market_id"}),

		PricesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_oracle_prices_rejected_total",
			Help: "Oracle price updates rejected (stale/band/nonce)",
		}, []string{"market_id", "reason"}),

		LastPrice: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coffee_oracle_last_price_per_kg",
			Help: "Last accepted price per kg",
		}, []string{"market_id"}),

		TwapTimeAcc: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coffee_oracle_twap_time_acc_seconds",
			Help: "Accumulated TWAP window seconds",
		}, []string{"market_id"}),

		MarginCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_margin_calls_total",
			Help: "Margin calls issued (manual and auto)",
		}, []string{"market_id", "source"}),

		LiquidationsFlagged: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_liquidations_flagged_total",
			Help: "Deals flagged liquidated after grace expiry",
		}, []string{"market_id"}),

		MarkToMarketChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_mark_to_market_checks_total",
			Help: "Mark-to-market checks run",
		}, []string{"market_id", "outcome"}),

		DealsOpened: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_deals_opened_total",
			Help: "Deals opened",
		}, []string{"market_id"}),

		DealsSettledCash: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_deals_settled_cash_total",
			Help: "Deals settled in cash",
		}, []string{"market_id"}),

		DealsCanceled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_deals_canceled_total",
			Help: "Deals canceled before funding completed",
		}, []string{"market_id"}),

		DeliveriesVerified: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_deliveries_verified_total",
			Help: "Physical delivery tranches verified",
		}, []string{"market_id"}),

		DeliveredKg: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_delivered_kg_total",
			Help: "Total kilograms delivered and verified",
		}, []string{"market_id"}),

		CertMintedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_cert_minted_total",
			Help: "Delivery certificates minted",
		}, []string{"market_id"}),

		InsuranceDraws: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_insurance_draws_total",
			Help: "Insurance treasury draws during settlement",
		}, []string{"market_id"}),

		FeeTreasuryBalance: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coffee_fee_treasury_balance",
			Help: "Current fee treasury balance",
		}, []string{"market_id"}),

		InsuranceBalance: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coffee_insurance_treasury_balance",
			Help: "Current insurance treasury balance",
		}, []string{"market_id"}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coffee_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coffee_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "coffee_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coffee_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "coffee_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coffee_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
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
