package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ContributionStatus string

const (
	ContributionPending   ContributionStatus = "pending"
	ContributionConfirmed ContributionStatus = "confirmed"
	ContributionFailed    ContributionStatus = "failed"
	ContributionRefunded  ContributionStatus = "refunded"
)

// Contribution is a single payment into a project. Confirmed contributions
// are escrow-held and pay out per milestone through the release schedule.
// All amounts are integer cents.
type Contribution struct {
	ID                 primitive.ObjectID     `bson:"_id,omitempty" json:"id"`
	ProjectID          primitive.ObjectID     `bson:"project_id" json:"project_id"`
	ContributorID      primitive.ObjectID     `bson:"contributor_id" json:"contributor_id"`
	ContributorName    string                 `bson:"contributor_name" json:"contributor_name"`
	ContributorContact string                 `bson:"contributor_contact,omitempty" json:"contributor_contact,omitempty"`
	Amount             int64                  `bson:"amount" json:"amount"`
	Currency           string                 `bson:"currency" json:"currency"`
	Method             string                 `bson:"method" json:"method"` // MPESA, STRIPE, CASH
	PaymentRef         string                 `bson:"payment_reference,omitempty" json:"payment_reference,omitempty"`
	Status             ContributionStatus     `bson:"status" json:"status"`
	Escrow             Escrow                 `bson:"escrow" json:"escrow"`
	ReleaseSchedule    []ReleaseScheduleEntry `bson:"release_schedule" json:"release_schedule"`
	CreatedAt          time.Time              `bson:"created_at" json:"created_at"`
	UpdatedAt          time.Time              `bson:"updated_at" json:"updated_at"`
}

// Escrow is the held-funds state of a confirmed contribution. Principal
// shrinks as release-schedule entries pay out; interest accrues on what
// remains held.
type Escrow struct {
	Held                    bool       `bson:"held" json:"held"`
	Principal               int64      `bson:"principal" json:"principal"`
	AccruedInterest         int64      `bson:"accrued_interest" json:"accrued_interest"`
	HeldSince               time.Time  `bson:"held_since" json:"held_since"`
	LastInterestCalculation *time.Time `bson:"last_interest_calculation,omitempty" json:"last_interest_calculation,omitempty"`
}

// ReleaseScheduleEntry is one milestone-tagged slice of an escrowed
// contribution. Released flips false to true at most once; the flag is part
// of the same update filter that sets it.
type ReleaseScheduleEntry struct {
	MilestoneID string     `bson:"milestone_id" json:"milestone_id"`
	Amount      int64      `bson:"amount" json:"amount"`
	Released    bool       `bson:"released" json:"released"`
	ReleasedAt  *time.Time `bson:"released_at,omitempty" json:"released_at,omitempty"`
	TransferID  string     `bson:"transfer_id,omitempty" json:"transfer_id,omitempty"`
}

// EntryForMilestone returns the first unreleased schedule entry for the
// milestone, or false when every matching entry has already paid out.
func (c *Contribution) EntryForMilestone(milestoneID string) (ReleaseScheduleEntry, bool) {
	for _, e := range c.ReleaseSchedule {
		if e.MilestoneID == milestoneID && !e.Released {
			return e, true
		}
	}
	return ReleaseScheduleEntry{}, false
}

// BuildReleaseSchedule splits amount across the project's milestones in
// proportion to their funding percentages. Cents that do not divide evenly
// go to the entries with the largest remainders (first by position on ties)
// so the schedule always sums to amount exactly.
func BuildReleaseSchedule(milestones []Milestone, amount int64) []ReleaseScheduleEntry {
	if len(milestones) == 0 || amount <= 0 {
		return nil
	}

	var totalPct float64
	for _, m := range milestones {
		totalPct += m.FundingPercentage
	}
	if totalPct <= 0 {
		return nil
	}

	entries := make([]ReleaseScheduleEntry, len(milestones))
	remainders := make([]float64, len(milestones))
	var allocated int64
	for i, m := range milestones {
		exact := float64(amount) * m.FundingPercentage / totalPct
		base := int64(exact)
		entries[i] = ReleaseScheduleEntry{MilestoneID: m.ID, Amount: base}
		remainders[i] = exact - float64(base)
		allocated += base
	}

	// Largest-remainder pass for the cents left over by truncation.
	for leftover := amount - allocated; leftover > 0; leftover-- {
		best := 0
		for i := 1; i < len(remainders); i++ {
			if remainders[i] > remainders[best] {
				best = i
			}
		}
		entries[best].Amount++
		remainders[best] = -1
	}
	return entries
}

type Contributor struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name             string             `bson:"name" json:"name"`
	Email            string             `bson:"email" json:"email"`
	LifetimeInterest int64              `bson:"lifetime_interest" json:"lifetime_interest"`
	CreatedAt        time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time          `bson:"updated_at" json:"updated_at"`
}
