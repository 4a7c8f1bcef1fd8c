package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ResultStatus reports how completely a workflow finished. Partial means the
// primary outcome committed but a best-effort side effect (a transfer, the
// compensation write) degraded.
type ResultStatus string

const (
	ResultOK      ResultStatus = "ok"
	ResultPartial ResultStatus = "partial"
	ResultFailed  ResultStatus = "failed"
)

// SettlementResult reports one milestone transition and the escrow release
// that followed it. Transfer failures reduce FundsReleased; they never revert
// the milestone decision.
type SettlementResult struct {
	MilestoneID      string          `json:"milestone_id"`
	MilestoneStatus  MilestoneStatus `json:"milestone_status"`
	AutoRelease      bool            `json:"auto_release"`
	FundsReleased    int64           `json:"funds_released"`
	TransfersIssued  int             `json:"transfers_issued"`
	TransferFailures int             `json:"transfer_failures"`
	EntriesSkipped   int             `json:"entries_skipped"`
}

// CompensationOutcome carries the computed pay even when persisting it
// failed; Status stays pending in that case and Persisted is false.
type CompensationOutcome struct {
	BaseAmount        int64              `json:"base_amount"`
	FinalAmount       int64              `json:"final_amount"`
	QualityMultiplier float64            `json:"quality_multiplier"`
	TimingMultiplier  float64            `json:"timing_multiplier"`
	Status            CompensationStatus `json:"status"`
	Persisted         bool               `json:"persisted"`
}

// SubmissionResult is the full outcome of one report submission request.
type SubmissionResult struct {
	Status       ResultStatus         `json:"status"`
	AuditID      primitive.ObjectID   `json:"audit_id"`
	Decision     Decision             `json:"decision"`
	Settlement   SettlementResult     `json:"settlement"`
	Compensation *CompensationOutcome `json:"compensation,omitempty"`
	Warnings     []string             `json:"warnings,omitempty"`
	SubmittedAt  time.Time            `json:"submitted_at"`
}

// SweepSummary reports one queue-sweep run.
type SweepSummary struct {
	RunDate       time.Time `json:"run_date"`
	Expired       int       `json:"expired"`
	RemindersSent int       `json:"reminders_sent"`
	Assigned      int       `json:"assigned"`
	Escalated     int       `json:"escalated"`
	Failed        int       `json:"failed"`
}
