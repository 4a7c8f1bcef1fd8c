package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type TicketKind string

const (
	TicketEscalation TicketKind = "escalation"
	TicketIntegrity  TicketKind = "integrity"
)

type TicketSeverity string

const (
	SeverityLow      TicketSeverity = "low"
	SeverityMedium   TicketSeverity = "medium"
	SeverityHigh     TicketSeverity = "high"
	SeverityCritical TicketSeverity = "critical"
)

type TicketStatus string

const (
	TicketOpen     TicketStatus = "open"
	TicketResolved TicketStatus = "resolved"
)

// Ticket is a manual-intervention record: assignment escalations and
// interest-ledger integrity alerts. Support tooling reads and resolves these;
// the engine only opens them.
type Ticket struct {
	ID               primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	Kind             TicketKind          `bson:"kind" json:"kind"`
	Reference        string              `bson:"reference" json:"reference"`
	Reason           string              `bson:"reason" json:"reason"`
	Severity         TicketSeverity      `bson:"severity" json:"severity"`
	Subject          string              `bson:"subject" json:"subject"`
	Details          string              `bson:"details,omitempty" json:"details,omitempty"`
	SuggestedActions []string            `bson:"suggested_actions,omitempty" json:"suggested_actions,omitempty"`
	AuditRequestID   *primitive.ObjectID `bson:"audit_request_id,omitempty" json:"audit_request_id,omitempty"`
	Status           TicketStatus        `bson:"status" json:"status"`
	CreatedAt        time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time           `bson:"updated_at" json:"updated_at"`
}
