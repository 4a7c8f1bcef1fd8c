package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// InterestCalculation is one accrual row for one escrow record in one run.
type InterestCalculation struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	EscrowID        primitive.ObjectID `bson:"escrow_id" json:"escrow_id"` // contribution id
	ProjectID       primitive.ObjectID `bson:"project_id" json:"project_id"`
	PrincipalAmount int64              `bson:"principal_amount" json:"principal_amount"`
	InterestRate    float64            `bson:"interest_rate" json:"interest_rate"`
	DaysHeld        int                `bson:"days_held" json:"days_held"`
	InterestEarned  int64              `bson:"interest_earned" json:"interest_earned"`
	CalculationDate time.Time          `bson:"calculation_date" json:"calculation_date"`
}

// InterestApplication is everything one accrual transaction writes: the
// escrow running total, the calculation row, the contributor lifetime
// counter and the platform ledger total.
type InterestApplication struct {
	ContributionID  primitive.ObjectID
	ContributorID   primitive.ObjectID
	ProjectID       primitive.ObjectID
	Principal       int64
	Rate            float64
	DaysHeld        int
	Earned          int64
	CalculationDate time.Time
}

// PlatformTotals is the singleton running ledger the integrity pass checks
// escrow state against.
type PlatformTotals struct {
	ID                   string    `bson:"_id" json:"id"`
	TotalAccruedInterest int64     `bson:"total_accrued_interest" json:"total_accrued_interest"`
	UpdatedAt            time.Time `bson:"updated_at" json:"updated_at"`
}

// InterestRunSummary reports one accrual run.
type InterestRunSummary struct {
	RunDate         time.Time `json:"run_date"`
	Processed       int       `json:"processed"`
	Skipped         int       `json:"skipped"`
	Failed          int       `json:"failed"`
	InterestAccrued int64     `json:"interest_accrued"`
}

// IntegrityReport is the outcome of one reconciliation pass. A discrepancy
// beyond tolerance opens a critical ticket; the ledger is never auto-corrected.
type IntegrityReport struct {
	CheckedAt       time.Time `json:"checked_at"`
	EscrowTotal     int64     `json:"escrow_total"`
	LedgerTotal     int64     `json:"ledger_total"`
	Difference      int64     `json:"difference"`
	WithinTolerance bool      `json:"within_tolerance"`
	TicketReference string    `json:"ticket_reference,omitempty"`
}
