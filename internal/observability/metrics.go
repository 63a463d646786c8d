// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"math/big"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"token-ledger/internal/domain"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Operation metrics
	OperationsTotal  *prometheus.CounterVec
	OperationLatency *prometheus.HistogramVec
	EventsCommitted  *prometheus.CounterVec

	// Token flow metrics, in whole tokens
	TransferVolume *prometheus.CounterVec
	TaxTotal       *prometheus.CounterVec
	TotalSupply    prometheus.Gauge
	LastSeq        prometheus.Gauge

	// Governance metrics
	PendingTax  prometheus.Gauge
	PendingMint prometheus.Gauge

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
	ArchiveLag      prometheus.Gauge

	// Transport metrics
	RPCRequests   *prometheus.CounterVec
	WSSubscribers prometheus.Gauge

	// Health metrics
	UptimeSeconds prometheus.Counter
}

// NewMetrics creates a new Metrics instance registered with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "token_ledger"
	}
	factory := promauto.With(reg)

	return &Metrics{
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Total number of ledger operations by operation and status",
		}, []string{"operation", "status"}),
		OperationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation duration in seconds, persistence included",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		EventsCommitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "events_committed_total",
			Help:      "Total number of committed events by kind",
		}, []string{"kind"}),

		TransferVolume: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transfer_volume_tokens_total",
			Help:      "Gross transferred tokens by counterparty class",
		}, []string{"classification"}),
		TaxTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "tax_tokens_total",
			Help:      "Tax tokens by disposition",
		}, []string{"disposition"}),
		TotalSupply: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "total_supply_tokens",
			Help:      "Current total supply in tokens",
		}),
		LastSeq: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "last_event_seq",
			Help:      "Sequence number of the last committed event",
		}),

		PendingTax: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "pending_tax_proposal",
			Help:      "1 if a tax proposal is pending",
		}),
		PendingMint: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "pending_mint_proposal",
			Help:      "1 if a mint proposal is pending",
		}),

		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
		ArchiveLag: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "archive_lag_events",
			Help:      "Committed events not yet copied to the archive",
		}),

		RPCRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "rpc_requests_total",
			Help:      "Total number of JSON-RPC requests by method and outcome",
		}, []string{"method", "outcome"}),
		WSSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "ws_subscriptions",
			Help:      "Current number of websocket event subscriptions",
		}),

		UptimeSeconds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", prometheus.DefaultRegisterer)

// RecordOperation records the outcome and duration of one ledger operation.
func (m *Metrics) RecordOperation(operation string, err error, seconds float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
	m.OperationLatency.WithLabelValues(operation).Observe(seconds)
}

// RecordEvents updates flow and supply metrics from committed events.
func (m *Metrics) RecordEvents(events []*domain.Event) {
	for _, e := range events {
		m.EventsCommitted.WithLabelValues(string(e.Kind)).Inc()
		m.LastSeq.Set(float64(e.Seq))
		if e.TotalSupply != nil {
			m.TotalSupply.Set(Tokens(e.TotalSupply))
		}
		if e.Kind != domain.EventTransfer || e.Classification == domain.ClassUntaxed {
			continue
		}
		m.TransferVolume.WithLabelValues(string(e.Classification)).Add(Tokens(e.Amount))
		if e.Tax != nil && !e.Tax.IsZero() {
			m.TaxTotal.WithLabelValues(string(e.Disposition)).Add(Tokens(e.Tax))
		}
	}
}

// SetPending updates the pending proposal gauges.
func (m *Metrics) SetPending(tax, mint bool) {
	m.PendingTax.Set(boolGauge(tax))
	m.PendingMint.Set(boolGauge(mint))
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, seconds float64, err error) {
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordRPC records one JSON-RPC request.
func (m *Metrics) RecordRPC(method, outcome string) {
	m.RPCRequests.WithLabelValues(method, outcome).Inc()
}

var weiPerToken = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(domain.Decimals), nil))

// Tokens converts base units to whole tokens for gauges. Precision loss is
// acceptable for monitoring.
func Tokens(a *domain.Amount) float64 {
	if a == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(a.ToBig()), weiPerToken).Float64()
	return f
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
