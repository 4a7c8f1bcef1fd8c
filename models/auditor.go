package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Auditor is an independent reviewer profile. The counters are maintained by
// the assignment lifecycle through atomic increments; Stats feeds match
// scoring.
type Auditor struct {
	ID                  primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name                string             `bson:"name" json:"name"`
	Email               string             `bson:"email" json:"email"`
	Active              bool               `bson:"active" json:"active"`
	IdentityVerified    bool               `bson:"identity_verified" json:"identity_verified"`
	AuditingEnabled     bool               `bson:"auditing_enabled" json:"auditing_enabled"`
	Qualifications      []string           `bson:"qualifications" json:"qualifications"`
	Specializations     []string           `bson:"specializations" json:"specializations"`
	PreferredComplexity string             `bson:"preferred_complexity,omitempty" json:"preferred_complexity,omitempty"` // any, low, medium, high
	FeeRangeMin         int64              `bson:"fee_range_min" json:"fee_range_min"`
	FeeRangeMax         int64              `bson:"fee_range_max" json:"fee_range_max"`
	MaxConcurrentAudits int                `bson:"max_concurrent_audits" json:"max_concurrent_audits"`
	ActiveAudits        int                `bson:"active_audits" json:"active_audits"`
	PendingAssignments  int                `bson:"pending_assignments" json:"pending_assignments"`
	ExpiredAssignments  int                `bson:"expired_assignments" json:"expired_assignments"`
	DeclinedAssignments int                `bson:"declined_assignments" json:"declined_assignments"`
	Stats               AuditorStats       `bson:"stats" json:"stats"`
	CreatedAt           time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt           time.Time          `bson:"updated_at" json:"updated_at"`
}

type AuditorStats struct {
	CompletedAudits       int            `bson:"completed_audits" json:"completed_audits"`
	AverageScore          float64        `bson:"average_score" json:"average_score"`
	AverageCompletionDays float64        `bson:"average_completion_days" json:"average_completion_days"`
	CategoryExperience    map[string]int `bson:"category_experience,omitempty" json:"category_experience,omitempty"`
	TotalEarned           int64          `bson:"total_earned" json:"total_earned"`
}

// Utilization is the share of concurrent capacity currently in use, in [0,1].
func (a *Auditor) Utilization() float64 {
	if a.MaxConcurrentAudits <= 0 {
		return 1
	}
	u := float64(a.ActiveAudits) / float64(a.MaxConcurrentAudits)
	if u > 1 {
		return 1
	}
	return u
}

// AuditorCounterDelta adjusts the lifecycle counters on an auditor profile.
// Zero fields are left untouched.
type AuditorCounterDelta struct {
	PendingAssignments  int
	ExpiredAssignments  int
	DeclinedAssignments int
	ActiveAudits        int
}
