package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	reconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_total",
			Help: "Reconciliation attempts by source and outcome",
		},
		[]string{"source", "outcome"},
	)
	commissionPaidTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commission_payouts_total",
			Help: "Commission ledger entries written per referral level",
		},
		[]string{"level"},
	)
	ledgerPostingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_postings_total",
			Help: "Balance mutations by ledger reason",
		},
		[]string{"reason"},
	)
	pollerChecked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "poller_checked_total",
			Help: "Pending transactions looked up at their provider",
		},
	)
)

func init() {
	prometheus.MustRegister(reconcileTotal)
	prometheus.MustRegister(commissionPaidTotal)
	prometheus.MustRegister(ledgerPostingsTotal)
	prometheus.MustRegister(pollerChecked)
}
