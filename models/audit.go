package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Decision string

const (
	DecisionApproved      Decision = "approved"
	DecisionRejected      Decision = "rejected"
	DecisionNeedsRevision Decision = "needs_revision"
)

type AuditStatus string

const (
	AuditAssigned        AuditStatus = "assigned"
	AuditAccepted        AuditStatus = "accepted"
	AuditInProgress      AuditStatus = "in_progress"
	AuditCompleted       AuditStatus = "completed"
	AuditPendingFollowUp AuditStatus = "pending_follow_up"
)

type CompensationStatus string

const (
	CompensationPending        CompensationStatus = "pending"
	CompensationCalculated     CompensationStatus = "calculated"
	CompensationPendingPayment CompensationStatus = "pending_payment"
)

// Audit is the engagement an auditor owns from acceptance to completion.
// Immutable after completed except for the compensation sub-fields.
type Audit struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ProjectID        primitive.ObjectID `bson:"project_id" json:"project_id"`
	AuditRequestID   primitive.ObjectID `bson:"audit_request_id" json:"audit_request_id"`
	AuditorID        primitive.ObjectID `bson:"auditor_id" json:"auditor_id"`
	Category         string             `bson:"category" json:"category"`
	Status           AuditStatus        `bson:"status" json:"status"`
	Deadline         time.Time          `bson:"deadline" json:"deadline"`
	Criteria         []AuditCriterion   `bson:"criteria" json:"criteria"`
	Compensation     AuditCompensation  `bson:"compensation" json:"compensation"`
	CurrentMilestone string             `bson:"current_milestone" json:"current_milestone"`
	Report           *AuditReport       `bson:"report,omitempty" json:"report,omitempty"`
	CompletedAt      *time.Time         `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	CreatedAt        time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time          `bson:"updated_at" json:"updated_at"`
}

type AuditCriterion struct {
	Name        string `bson:"name" json:"name"`
	Description string `bson:"description,omitempty" json:"description,omitempty"`
	Required    bool   `bson:"required" json:"required"`
}

type AuditCompensation struct {
	Amount      int64              `bson:"amount" json:"amount"`
	FinalAmount *int64             `bson:"final_amount,omitempty" json:"final_amount,omitempty"`
	Status      CompensationStatus `bson:"status" json:"status"`
}

// AuditReport is the accepted report snapshot embedded on the audit once the
// quality gate has passed.
type AuditReport struct {
	Decision        Decision          `bson:"decision" json:"decision"`
	Score           float64           `bson:"score" json:"score"`
	CriteriaResults []CriterionResult `bson:"criteria_results" json:"criteria_results"`
	Strengths       []string          `bson:"strengths,omitempty" json:"strengths,omitempty"`
	Weaknesses      []string          `bson:"weaknesses,omitempty" json:"weaknesses,omitempty"`
	Recommendations []string          `bson:"recommendations,omitempty" json:"recommendations,omitempty"`
	Documentation   []string          `bson:"documentation,omitempty" json:"documentation,omitempty"`
	Summary         string            `bson:"summary,omitempty" json:"summary,omitempty"`
	SubmittedAt     time.Time         `bson:"submitted_at" json:"submitted_at"`
}

type CriterionResult struct {
	Name     string  `bson:"name" json:"name"`
	Score    float64 `bson:"score" json:"score"`
	Comments string  `bson:"comments,omitempty" json:"comments,omitempty"`
}

// ReportSubmission is the inbound payload for a report submission request.
type ReportSubmission struct {
	Decision        Decision          `json:"decision" binding:"required"`
	Score           float64           `json:"score"`
	CriteriaResults []CriterionResult `json:"criteria_results"`
	Strengths       []string          `json:"strengths"`
	Weaknesses      []string          `json:"weaknesses"`
	Recommendations []string          `json:"recommendations"`
	Documentation   []string          `json:"documentation"`
	Summary         string            `json:"summary"`
}

// CompensationRecord is the append-only payout ledger row written once per
// completed audit.
type CompensationRecord struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	AuditID           primitive.ObjectID `bson:"audit_id" json:"audit_id"`
	AuditorID         primitive.ObjectID `bson:"auditor_id" json:"auditor_id"`
	BaseAmount        int64              `bson:"base_amount" json:"base_amount"`
	FinalAmount       int64              `bson:"final_amount" json:"final_amount"`
	QualityMultiplier float64            `bson:"quality_multiplier" json:"quality_multiplier"`
	TimingMultiplier  float64            `bson:"timing_multiplier" json:"timing_multiplier"`
	Status            CompensationStatus `bson:"status" json:"status"`
	CreatedAt         time.Time          `bson:"created_at" json:"created_at"`
}
