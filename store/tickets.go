package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	models "github.com/phillip/impact-audit-go/models"
)

// ---------------- TICKETS ----------------

func (s *Store) InsertTicket(ctx context.Context, t *models.Ticket) error {
	if t.ID.IsZero() {
		t.ID = primitive.NewObjectID()
	}
	if _, err := s.tickets().InsertOne(ctx, t); err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

func (s *Store) ListTickets(ctx context.Context, status, kind string) ([]models.Ticket, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	if kind != "" {
		filter["kind"] = kind
	}

	cursor, err := s.tickets().Find(ctx, filter,
		options.Find().SetSort(bson.M{"created_at": -1}))
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.Ticket
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode tickets: %w", err)
	}
	return out, nil
}

// ResolveTicketsForRequest closes every open ticket hanging off the request,
// used when an operator re-queues an escalated request.
func (s *Store) ResolveTicketsForRequest(ctx context.Context, requestID primitive.ObjectID, now time.Time) error {
	_, err := s.tickets().UpdateMany(ctx,
		bson.M{"audit_request_id": requestID, "status": models.TicketOpen},
		bson.M{"$set": bson.M{
			"status":     models.TicketResolved,
			"updated_at": now,
		}})
	if err != nil {
		return fmt.Errorf("resolve tickets: %w", err)
	}
	return nil
}

// ---------------- NOTIFICATIONS ----------------

func (s *Store) InsertNotification(ctx context.Context, n *models.Notification) error {
	if n.ID.IsZero() {
		n.ID = primitive.NewObjectID()
	}
	if _, err := s.notifications().InsertOne(ctx, n); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, recipientID primitive.ObjectID) ([]models.Notification, error) {
	cursor, err := s.notifications().Find(ctx,
		bson.M{"recipient_id": recipientID},
		options.Find().SetSort(bson.M{"created_at": -1}).SetLimit(100))
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.Notification
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	return out, nil
}

// MarkNotificationRead flips the read flag, scoped to the recipient so one
// user cannot touch another's inbox.
func (s *Store) MarkNotificationRead(ctx context.Context, id, recipientID primitive.ObjectID) error {
	res, err := s.notifications().UpdateOne(ctx,
		bson.M{"_id": id, "recipient_id": recipientID},
		bson.M{"$set": bson.M{"read": true}})
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("notification %s: %w", id.Hex(), models.ErrNotFound)
	}
	return nil
}
