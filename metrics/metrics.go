// Package metrics holds the engine's Prometheus instruments. Everything is
// registered on the default registry and served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ---------------- ASSIGNMENT LIFECYCLE ----------------

// AssignmentsCreated counts assignment offers issued to auditors.
var AssignmentsCreated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "impact_audit",
	Subsystem: "assignment",
	Name:      "offers_total",
	Help:      "Total assignment offers issued to auditors.",
})

// AssignmentsExpired counts offers that lapsed past their acceptance deadline.
var AssignmentsExpired = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "impact_audit",
	Subsystem: "assignment",
	Name:      "expired_total",
	Help:      "Total assignment offers expired by the queue sweep.",
})

// RemindersSent counts acceptance-deadline reminders sent (at most one per offer).
var RemindersSent = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "impact_audit",
	Subsystem: "assignment",
	Name:      "reminders_sent_total",
	Help:      "Total acceptance reminders sent.",
})

// Escalations counts escalation tickets by reason code.
var Escalations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "impact_audit",
	Subsystem: "assignment",
	Name:      "escalations_total",
	Help:      "Total audit requests escalated, by reason.",
}, []string{"reason"})

// SweepRuns counts queue-sweep executions.
var SweepRuns = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "impact_audit",
	Subsystem: "assignment",
	Name:      "sweep_runs_total",
	Help:      "Total queue sweep runs.",
})

// ---------------- REPORT SUBMISSION ----------------

// ReportsSubmitted counts accepted report submissions by decision.
var ReportsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "impact_audit",
	Subsystem: "submission",
	Name:      "reports_total",
	Help:      "Total accepted audit report submissions, by decision.",
}, []string{"decision"})

// ReportsRejected counts quality-gate rejections by violated rule.
var ReportsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "impact_audit",
	Subsystem: "submission",
	Name:      "rejected_total",
	Help:      "Total report submissions rejected by the quality gate, by rule.",
}, []string{"rule"})

// ---------------- SETTLEMENT ----------------

// TransfersIssued counts successful payment transfers.
var TransfersIssued = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "impact_audit",
	Subsystem: "settlement",
	Name:      "transfers_total",
	Help:      "Total fund-release transfers issued.",
})

// TransferFailures counts payment transfers that failed.
var TransferFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "impact_audit",
	Subsystem: "settlement",
	Name:      "transfer_failures_total",
	Help:      "Total fund-release transfers that failed.",
})

// FundsReleased accumulates released escrow in cents.
var FundsReleased = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "impact_audit",
	Subsystem: "settlement",
	Name:      "funds_released_cents_total",
	Help:      "Total escrow released in cents.",
})

// VersionConflicts counts optimistic-concurrency aborts on project writes.
var VersionConflicts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "impact_audit",
	Subsystem: "settlement",
	Name:      "version_conflicts_total",
	Help:      "Total project writes aborted on a stale version.",
})

// ---------------- COMPENSATION ----------------

// CompensationsCalculated counts finalized auditor compensations.
var CompensationsCalculated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "impact_audit",
	Subsystem: "compensation",
	Name:      "calculated_total",
	Help:      "Total auditor compensations calculated and persisted.",
})

// CompensationPersistFailures counts compensations that degraded to pending.
var CompensationPersistFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "impact_audit",
	Subsystem: "compensation",
	Name:      "persist_failures_total",
	Help:      "Total compensation writes that failed and were surfaced as pending.",
})

// ---------------- INTEREST ACCRUAL ----------------

// InterestRuns counts accrual runs.
var InterestRuns = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "impact_audit",
	Subsystem: "interest",
	Name:      "runs_total",
	Help:      "Total interest accrual runs.",
})

// InterestRecordsProcessed counts escrow records accrued.
var InterestRecordsProcessed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "impact_audit",
	Subsystem: "interest",
	Name:      "records_processed_total",
	Help:      "Total escrow records that accrued interest.",
})

// InterestAccrued accumulates accrued interest in cents.
var InterestAccrued = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "impact_audit",
	Subsystem: "interest",
	Name:      "accrued_cents_total",
	Help:      "Total interest accrued in cents.",
})

// IntegrityDiscrepancies counts reconciliation runs that found the ledger
// out of tolerance.
var IntegrityDiscrepancies = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "impact_audit",
	Subsystem: "interest",
	Name:      "integrity_discrepancies_total",
	Help:      "Total reconciliation runs that opened a critical ticket.",
})
