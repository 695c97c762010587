package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespaceCoordinator = "coordinator"
	namespaceTxSelector  = "txselector"
	namespaceAPI         = "api"
)

var (
	// LastBatchNum last committed batch num
	LastBatchNum = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespaceCoordinator,
			Name:      "last_batch_num",
			Help:      "",
		})

	// SettledBatches settled tx batches count
	SettledBatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespaceCoordinator,
			Name:      "settled_batches_total",
			Help:      "",
		})

	// RejectedBatches rejected tx batches count, by error kind
	RejectedBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespaceCoordinator,
			Name:      "rejected_batches_total",
			Help:      "",
		}, []string{"kind"})

	// Operations committed operations count, by operation
	Operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespaceCoordinator,
			Name:      "operations_total",
			Help:      "",
		}, []string{"operation"})

	// TotalUsers initialized accounts
	TotalUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespaceCoordinator,
			Name:      "total_users",
			Help:      "",
		})

	// TotalTransactions settled offline transactions
	TotalTransactions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespaceCoordinator,
			Name:      "total_transactions",
			Help:      "",
		})

	// TotalDeposited deposited amount by token, in the token unit
	TotalDeposited = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespaceCoordinator,
			Name:      "total_deposited",
			Help:      "",
		}, []string{"token"})

	// ProcessBatch duration of the settlement of a batch
	ProcessBatch = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespaceCoordinator,
			Name:      "process_batch_ms",
			Help:      "",
		}, []string{"result"})

	// TxSelection tx selection count
	TxSelection = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespaceTxSelector,
			Name:      "txselection_total",
			Help:      "",
		})

	// DiscardedTxs txs discarded by the tx selection
	DiscardedTxs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespaceTxSelector,
			Name:      "discarded_txs_total",
			Help:      "",
		})

	// Requests HTTP requests duration, by method, route and status
	Requests = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespaceAPI,
			Name:      "request_ms",
			Help:      "",
		}, []string{"method", "route", "status"})
)

func init() {
	prometheus.MustRegister(LastBatchNum)
	prometheus.MustRegister(SettledBatches)
	prometheus.MustRegister(RejectedBatches)
	prometheus.MustRegister(Operations)
	prometheus.MustRegister(TotalUsers)
	prometheus.MustRegister(TotalTransactions)
	prometheus.MustRegister(TotalDeposited)
	prometheus.MustRegister(ProcessBatch)
	prometheus.MustRegister(TxSelection)
	prometheus.MustRegister(DiscardedTxs)
	prometheus.MustRegister(Requests)
}

// MeasureDuration measure the method execution duration
// and save it into a histogram metric
func MeasureDuration(histogram *prometheus.HistogramVec, start time.Time, lvs ...string) {
	duration := time.Since(start)
	histogram.WithLabelValues(lvs...).Observe(float64(duration.Milliseconds()))
}
