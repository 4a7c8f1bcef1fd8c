package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Typed partial updates. Each patch names every field its transaction is
// allowed to touch; the store turns them into targeted $set/$inc documents so
// untouched fields keep the "only touched fields change" contract.

// MilestoneAuditPatch writes a milestone's audit outcome and the project
// summary under the project's optimistic-concurrency version.
type MilestoneAuditPatch struct {
	ProjectID         primitive.ObjectID
	ExpectedVersion   int64
	MilestoneID       string
	MilestoneStatus   MilestoneStatus
	AuditStatus       string
	AuditScore        float64
	AuditedAt         time.Time
	ProjectAuditScore float64
	Summary           MilestoneAuditSummary
}

// AuditCompletionPatch finalizes the audit document in the same transaction
// as the milestone transition.
type AuditCompletionPatch struct {
	AuditID     primitive.ObjectID
	Status      AuditStatus
	Report      AuditReport
	CompletedAt *time.Time
}
