package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type MilestoneStatus string

const (
	MilestonePending       MilestoneStatus = "pending"
	MilestoneSubmitted     MilestoneStatus = "submitted"
	MilestoneCompleted     MilestoneStatus = "completed"
	MilestoneApproved      MilestoneStatus = "approved"
	MilestoneRejected      MilestoneStatus = "rejected"
	MilestoneNeedsRevision MilestoneStatus = "needs_revision"
)

// Project is a milestone-funded campaign. Version is the optimistic
// concurrency token: every accepted transactional mutation increments it by
// exactly one, and writers holding a stale version must abort and re-read.
type Project struct {
	ID                 primitive.ObjectID     `bson:"_id,omitempty" json:"id"`
	CreatorID          primitive.ObjectID     `bson:"creator_id" json:"creator_id"`
	Title              string                 `bson:"title" json:"title"`
	Description        string                 `bson:"description,omitempty" json:"description,omitempty"`
	Category           string                 `bson:"category" json:"category"` // education, healthcare, environment, ...
	Status             string                 `bson:"status" json:"status"`     // active, completed, suspended
	TargetAmount       int64                  `bson:"target_amount" json:"target_amount"`
	Currency           string                 `bson:"currency" json:"currency"`
	Version            int64                  `bson:"version" json:"version"`
	AutoRelease        bool                   `bson:"auto_release" json:"auto_release"`
	PayoutDestination  string                 `bson:"payout_destination" json:"payout_destination"`
	AuditScore         float64                `bson:"audit_score" json:"audit_score"`
	Milestones         []Milestone            `bson:"milestones" json:"milestones"`
	LastMilestoneAudit *MilestoneAuditSummary `bson:"last_milestone_audit,omitempty" json:"last_milestone_audit,omitempty"`
	Deadline           *time.Time             `bson:"deadline,omitempty" json:"deadline,omitempty"`
	CreatedAt          time.Time              `bson:"created_at" json:"created_at"`
	UpdatedAt          time.Time              `bson:"updated_at" json:"updated_at"`
}

type Milestone struct {
	ID                string          `bson:"id" json:"id"`
	Title             string          `bson:"title" json:"title"`
	Status            MilestoneStatus `bson:"status" json:"status"`
	FundingPercentage float64         `bson:"funding_percentage" json:"funding_percentage"`
	AuditRequired     bool            `bson:"audit_required" json:"audit_required"`
	AuditStatus       string          `bson:"audit_status" json:"audit_status"` // none, requested, in_progress, approved, rejected, needs_revision
	AuditScore        *float64        `bson:"audit_score,omitempty" json:"audit_score,omitempty"`
	AuditedAt         *time.Time      `bson:"audited_at,omitempty" json:"audited_at,omitempty"`
}

// MilestoneAuditSummary is the project-level snapshot of the most recent
// milestone audit outcome, written in the same transaction as the milestone
// itself.
type MilestoneAuditSummary struct {
	MilestoneID string    `bson:"milestone_id" json:"milestone_id"`
	AuditID     string    `bson:"audit_id" json:"audit_id"`
	Decision    Decision  `bson:"decision" json:"decision"`
	Score       float64   `bson:"score" json:"score"`
	AuditedAt   time.Time `bson:"audited_at" json:"audited_at"`
}

// FindMilestone returns the milestone with the given id, or false.
func (p *Project) FindMilestone(id string) (Milestone, bool) {
	for _, m := range p.Milestones {
		if m.ID == id {
			return m, true
		}
	}
	return Milestone{}, false
}
