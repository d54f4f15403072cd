package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settle_transfers_total",
		Help: "Transfer requests by outcome",
	}, []string{"result"})

	settlementAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settle_settlement_attempts_total",
		Help: "Second-leg settlement attempts by outcome",
	}, []string{"outcome"})

	reconcileRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settle_reconcile_runs_total",
		Help: "Completed reconciliation runs",
	})

	reconcileCorrections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settle_reconcile_corrections_total",
		Help: "Local balances overwritten from the external ledger",
	})

	syncJobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settle_sync_jobs_processed_total",
		Help: "Sync jobs processed by terminal outcome of the cycle",
	}, []string{"status"})
)
