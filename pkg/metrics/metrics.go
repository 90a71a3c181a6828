// Package metrics defines the Prometheus instrumentation for the indexer and
// the migration executor, plus the HTTP server that exposes it.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "migration_tool"

	// Status label values for success/error metrics
	StatusSuccess = "success"
	StatusError   = "error"
)

// Labels holds constant labels applied to all metrics, used to tell apart
// concurrent deployments (e.g. mainnet vs testnet scans).
type Labels struct {
	Network     string // chain network name (e.g. "mainnet", "testnet")
	Contract    string // tracked contract account id
	Environment string // deployment environment
}

func (l Labels) toPrometheusLabels() prometheus.Labels {
	labels := prometheus.Labels{}
	if l.Network != "" {
		labels["network"] = l.Network
	}
	if l.Contract != "" {
		labels["contract"] = l.Contract
	}
	if l.Environment != "" {
		labels["environment"] = l.Environment
	}
	return labels
}

type Metrics struct {
	// Scan progress
	CurrentHeight     prometheus.Gauge
	LastHandledHeight prometheus.Gauge
	ChainTip          prometheus.Gauge
	MissedBlocks      prometheus.Gauge
	Reorgs            prometheus.Counter
	BlocksIndexed     prometheus.Counter

	// Dataset size
	AccountsDiscovered prometheus.Gauge
	ProofsDiscovered   prometheus.Gauge

	// RPC traffic
	rpcCalls    *prometheus.CounterVec
	RPCInFlight prometheus.Gauge

	// Migration progress
	BatchesCommitted prometheus.Counter
	batchesVerified  *prometheus.CounterVec
}

// New registers all collectors on the given registry.
func New(reg prometheus.Registerer, labels Labels) (*Metrics, error) {
	if reg == nil {
		return nil, errors.New("invalid registerer: must not be nil")
	}
	constLabels := labels.toPrometheusLabels()

	m := &Metrics{
		CurrentHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        "current_height",
			Help:        "Next block height the scan loop will attempt",
			ConstLabels: constLabels,
		}),
		LastHandledHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        "last_handled_height",
			Help:        "Last block height successfully merged into the dataset",
			ConstLabels: constLabels,
		}),
		ChainTip: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        "chain_tip",
			Help:        "Last observed final chain height",
			ConstLabels: constLabels,
		}),
		MissedBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        "missed_blocks",
			Help:        "Number of heights whose fetch failed and was skipped",
			ConstLabels: constLabels,
		}),
		Reorgs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "reorgs_total",
			Help:        "Detected chain reorganizations",
			ConstLabels: constLabels,
		}),
		BlocksIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "blocks_indexed_total",
			Help:        "Blocks fetched and merged",
			ConstLabels: constLabels,
		}),
		AccountsDiscovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        "accounts_discovered",
			Help:        "Distinct accounts in the indexed dataset",
			ConstLabels: constLabels,
		}),
		ProofsDiscovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        "proofs_discovered",
			Help:        "Distinct deposit proofs in the indexed dataset",
			ConstLabels: constLabels,
		}),
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "rpc_calls_total",
			Help:        "Remote RPC calls by method and status",
			ConstLabels: constLabels,
		}, []string{"method", "status"}),
		RPCInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        "rpc_in_flight",
			Help:        "Remote RPC calls currently in flight",
			ConstLabels: constLabels,
		}),
		BatchesCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "batches_committed_total",
			Help:        "Migration batches committed to the target contract",
			ConstLabels: constLabels,
		}),
		batchesVerified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "batches_verified_total",
			Help:        "Migration batches verified by result",
			ConstLabels: constLabels,
		}, []string{"result"}),
	}

	collectors := []prometheus.Collector{
		m.CurrentHeight, m.LastHandledHeight, m.ChainTip, m.MissedBlocks,
		m.Reorgs, m.BlocksIndexed,
		m.AccountsDiscovered, m.ProofsDiscovered,
		m.rpcCalls, m.RPCInFlight,
		m.BatchesCommitted, m.batchesVerified,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordRPCCall counts one finished remote call.
func (m *Metrics) RecordRPCCall(method string, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.rpcCalls.WithLabelValues(method, status).Inc()
}

// RecordVerification counts one classified verification outcome
// (e.g. "success", "account_not_exist").
func (m *Metrics) RecordVerification(result string) {
	m.batchesVerified.WithLabelValues(result).Inc()
}
