package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type AuditRequestStatus string

const (
	RequestPendingAssignment AuditRequestStatus = "pending_assignment"
	RequestPendingAcceptance AuditRequestStatus = "pending_acceptance"
	RequestAssigned          AuditRequestStatus = "assigned"
	RequestEscalated         AuditRequestStatus = "escalated"
)

type AssignmentStatus string

const (
	AssignmentPendingAcceptance AssignmentStatus = "pending_acceptance"
	AssignmentAccepted          AssignmentStatus = "accepted"
	AssignmentExpired           AssignmentStatus = "expired"
	AssignmentDeclined          AssignmentStatus = "declined"
)

type EscalationReason string

const (
	EscalationNoQualifiedAuditors EscalationReason = "no_qualified_auditors"
	EscalationAssignmentFailed    EscalationReason = "assignment_failed"
	EscalationRepeatedRejections  EscalationReason = "repeated_rejections"
	EscalationUrgentPriority      EscalationReason = "urgent_priority"
)

const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// AuditRequest is created when a milestone crosses the audit-required
// threshold. Only the assignment lifecycle mutates it; it is terminal once
// assigned and accepted, or escalated.
type AuditRequest struct {
	ID                       primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	ProjectID                primitive.ObjectID  `bson:"project_id" json:"project_id"`
	MilestoneID              string              `bson:"milestone_id" json:"milestone_id"`
	Category                 string              `bson:"category" json:"category"`
	Complexity               string              `bson:"complexity" json:"complexity"` // low, medium, high
	RequiredQualifications   []string            `bson:"required_qualifications" json:"required_qualifications"`
	PreferredSpecializations []string            `bson:"preferred_specializations" json:"preferred_specializations"`
	EstimatedAmount          int64               `bson:"estimated_amount" json:"estimated_amount"`
	Deadline                 time.Time           `bson:"deadline" json:"deadline"`
	Priority                 string              `bson:"priority" json:"priority"`
	Status                   AuditRequestStatus  `bson:"status" json:"status"`
	AssignedAuditorID        *primitive.ObjectID `bson:"assigned_auditor_id,omitempty" json:"assigned_auditor_id,omitempty"`
	AssignmentID             *primitive.ObjectID `bson:"assignment_id,omitempty" json:"assignment_id,omitempty"`
	AssignmentDeadline       *time.Time          `bson:"assignment_deadline,omitempty" json:"assignment_deadline,omitempty"`
	RejectionCount           int                 `bson:"rejection_count" json:"rejection_count"`
	Criteria                 []AuditCriterion    `bson:"criteria,omitempty" json:"criteria,omitempty"`
	CreatedAt                time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt                time.Time           `bson:"updated_at" json:"updated_at"`
}

// AuditAssignment is one offer of an audit request to one auditor. A request
// has at most one assignment in pending_acceptance at a time; expiring or
// declining it re-opens the request.
type AuditAssignment struct {
	ID                 primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	AuditRequestID     primitive.ObjectID `bson:"audit_request_id" json:"audit_request_id"`
	AuditorID          primitive.ObjectID `bson:"auditor_id" json:"auditor_id"`
	Status             AssignmentStatus   `bson:"status" json:"status"`
	AssignedAt         time.Time          `bson:"assigned_at" json:"assigned_at"`
	AcceptanceDeadline time.Time          `bson:"acceptance_deadline" json:"acceptance_deadline"`
	ReminderSent       bool               `bson:"reminder_sent" json:"reminder_sent"`
	RespondedAt        *time.Time         `bson:"responded_at,omitempty" json:"responded_at,omitempty"`
	CreatedAt          time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt          time.Time          `bson:"updated_at" json:"updated_at"`
}
