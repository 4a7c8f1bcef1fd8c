package services

import (
	"context"
	"fmt"
	"log"
	"time"

	models "github.com/phillip/impact-audit-go/models"
)

type notificationStore interface {
	InsertNotification(ctx context.Context, n *models.Notification) error
}

// MailFunc delivers one email. A nil MailFunc disables outbound mail.
type MailFunc func(to, toName, subject, body string) error

// Notifier is the fire-and-forget notification collaborator. Every send
// persists an in-app notification document and, when the input carries an
// email address, mirrors it out through the mail hook. Failures are logged
// and never propagate to the owning workflow.
type Notifier struct {
	store    notificationStore
	mail     MailFunc
	opsEmail string
	now      func() time.Time
}

func NewNotifier(store notificationStore, mail MailFunc, opsEmail string) *Notifier {
	return &Notifier{store: store, mail: mail, opsEmail: opsEmail, now: time.Now}
}

// Send delivers one notification best-effort.
func (n *Notifier) Send(ctx context.Context, in models.NotificationInput) {
	title, body := renderNotification(in.Kind, in.Data)

	doc := models.Notification{
		RecipientID: in.RecipientID,
		Kind:        in.Kind,
		Title:       title,
		Body:        body,
		Data:        in.Data,
		CreatedAt:   n.now(),
	}
	if err := n.store.InsertNotification(ctx, &doc); err != nil {
		log.Printf("notifier: persist %s notification: %v", in.Kind, err)
	}

	if n.mail != nil && in.Email != "" {
		if err := n.mail(in.Email, in.Name, title, body); err != nil {
			log.Printf("notifier: email %s to %s: %v", in.Kind, in.Email, err)
		}
	}
}

// NotifyOps alerts the operations inbox. Used for escalations and integrity
// alerts where no single user is the recipient.
func (n *Notifier) NotifyOps(ctx context.Context, kind models.NotificationKind, data map[string]string) {
	n.Send(ctx, models.NotificationInput{
		Email: n.opsEmail,
		Name:  "Operations",
		Kind:  kind,
		Data:  data,
	})
}

func renderNotification(kind models.NotificationKind, data map[string]string) (title, body string) {
	switch kind {
	case models.NotifyAssignmentOffer:
		return "New audit assignment",
			fmt.Sprintf("You have been offered a %s audit. Accept or decline before %s.",
				data["category"], data["deadline"])
	case models.NotifyAssignmentReminder:
		return "Audit assignment expiring soon",
			fmt.Sprintf("Your pending audit assignment expires at %s. Please respond.",
				data["deadline"])
	case models.NotifyAssignmentExpired:
		return "Audit assignment expired",
			"A pending audit assignment passed its acceptance deadline and was returned to the queue."
	case models.NotifyAuditDecision:
		return fmt.Sprintf("Milestone audit %s", data["decision"]),
			fmt.Sprintf("The audit for milestone %s finished with decision %s (score %s).",
				data["milestone_id"], data["decision"], data["score"])
	case models.NotifyEscalation:
		return "Audit request escalated",
			fmt.Sprintf("Audit request %s was escalated: %s. Ticket %s.",
				data["request_id"], data["reason"], data["ticket"])
	case models.NotifyIntegrityAlert:
		return "Interest ledger discrepancy",
			fmt.Sprintf("Reconciliation found a %s cent discrepancy (ticket %s). Manual review required.",
				data["difference"], data["ticket"])
	default:
		return string(kind), ""
	}
}
