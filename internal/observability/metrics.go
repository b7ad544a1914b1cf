/**
 * @description
 * This package wires the service's Prometheus metrics. The settlement
 * dispatcher depends on these for operational alerting: a withdrawal whose
 * submission retries are exhausted stays pending in the ledger and is
 * surfaced to operators only through the exhausted-retries counter and logs.
 *
 * @dependencies
 * - github.com/prometheus/client_golang: Metrics primitives and the /metrics handler.
 */

package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the service's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	TransactionsCreated        *prometheus.CounterVec
	SettlementSubmissions      *prometheus.CounterVec
	SettlementRetriesExhausted prometheus.Counter
	RateReservations           *prometheus.CounterVec
}

// NewMetrics creates and registers the service collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		TransactionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_transactions_created_total",
			Help: "Transaction groups committed to the ledger, by group kind.",
		}, []string{"group_kind"}),
		SettlementSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_settlement_submissions_total",
			Help: "Settlement submission outcomes, by result.",
		}, []string{"outcome"}),
		SettlementRetriesExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_settlement_retries_exhausted_total",
			Help: "Withdrawal legs left pending after the submission retry budget ran out.",
		}),
		RateReservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_rate_reservations_total",
			Help: "Rate reservation operations, by kind.",
		}, []string{"kind"}),
	}
	registry.MustRegister(
		m.TransactionsCreated,
		m.SettlementSubmissions,
		m.SettlementRetriesExhausted,
		m.RateReservations,
	)
	return m
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
