// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks total HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxoffice_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration tracks HTTP request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boxoffice_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// HoldsTotal counts hold attempts by result (ok, already_held, capacity, unknown_unit, inactive, error).
	HoldsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxoffice_holds_total",
			Help: "Inventory hold attempts by result",
		},
		[]string{"result"},
	)

	// HoldsReleased counts holds released, by cause.
	HoldsReleased = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxoffice_holds_released_total",
			Help: "Inventory holds released by cause",
		},
		[]string{"cause"},
	)

	// BookingTransitions counts applied booking status transitions.
	BookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxoffice_booking_transitions_total",
			Help: "Applied booking status transitions",
		},
		[]string{"from", "to"},
	)

	// LedgerEntries counts ledger entries written, by type.
	LedgerEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxoffice_ledger_entries_total",
			Help: "Ledger entries written by type",
		},
		[]string{"type"},
	)

	// WebhooksTotal counts gateway callbacks by gateway and result.
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxoffice_webhooks_total",
			Help: "Gateway callbacks by gateway and result",
		},
		[]string{"gateway", "result"},
	)

	// SweepRuns counts background job runs and the items each one resolved.
	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxoffice_job_runs_total",
			Help: "Background job runs by job",
		},
		[]string{"job"},
	)
	SweepItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxoffice_job_items_total",
			Help: "Items resolved by background jobs",
		},
		[]string{"job"},
	)

	// ConflictRetries counts retried storage conflicts.
	ConflictRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boxoffice_conflict_retries_total",
			Help: "Retried check-and-set conflicts and deadlocks",
		},
	)

	// PayoutsTotal counts payout attempts by result.
	PayoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxoffice_payouts_total",
			Help: "Payout gateway calls by result",
		},
		[]string{"result"},
	)

	// UnrecoverableReversals counts gateway reversals acknowledged without a
	// ledger change because the vendor had already been paid out.
	UnrecoverableReversals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boxoffice_unrecoverable_reversals_total",
			Help: "Gateway reversals that need manual recovery",
		},
	)

	// StaleWithdrawals counts processing withdrawals picked up by the retry job.
	StaleWithdrawals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxoffice_stale_withdrawals_total",
			Help: "Stale processing withdrawals by action",
		},
		[]string{"action"},
	)

	// CircuitBreakerState tracks circuit breaker state (0=closed, 1=open, 2=half-open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "boxoffice_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"circuit_name"},
	)

	// CircuitBreakerFailures tracks circuit breaker failures
	CircuitBreakerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxoffice_circuit_breaker_failures_total",
			Help: "Total number of circuit breaker failures",
		},
		[]string{"circuit_name"},
	)
)
