package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type NotificationKind string

const (
	NotifyAssignmentOffer    NotificationKind = "assignment_offer"
	NotifyAssignmentReminder NotificationKind = "assignment_reminder"
	NotifyAssignmentExpired  NotificationKind = "assignment_expired"
	NotifyAuditDecision      NotificationKind = "audit_decision"
	NotifyEscalation         NotificationKind = "escalation"
	NotifyIntegrityAlert     NotificationKind = "integrity_alert"
)

type Notification struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	RecipientID primitive.ObjectID `bson:"recipient_id,omitempty" json:"recipient_id,omitempty"`
	Kind        NotificationKind   `bson:"kind" json:"kind"`
	Title       string             `bson:"title" json:"title"`
	Body        string             `bson:"body" json:"body"`
	Data        map[string]string  `bson:"data,omitempty" json:"data,omitempty"`
	Read        bool               `bson:"read" json:"read"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
}

// NotificationInput is what workflows hand to the notifier. Email is optional;
// when present a copy goes out through the mail collaborator best-effort.
type NotificationInput struct {
	RecipientID primitive.ObjectID
	Email       string
	Name        string
	Kind        NotificationKind
	Data        map[string]string
}
