package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	models "github.com/phillip/impact-audit-go/models"
)

// ---------------- AUDIT REQUESTS ----------------

func (s *Store) InsertRequest(ctx context.Context, req *models.AuditRequest) error {
	if req.ID.IsZero() {
		req.ID = primitive.NewObjectID()
	}
	if _, err := s.requests().InsertOne(ctx, req); err != nil {
		return fmt.Errorf("insert audit request: %w", err)
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id primitive.ObjectID) (*models.AuditRequest, error) {
	var req models.AuditRequest
	err := s.requests().FindOne(ctx, bson.M{"_id": id}).Decode(&req)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("audit request %s: %w", id.Hex(), models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get audit request: %w", err)
	}
	return &req, nil
}

func (s *Store) ListRequests(ctx context.Context, status string) ([]models.AuditRequest, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}

	cursor, err := s.requests().Find(ctx, filter,
		options.Find().SetSort(bson.M{"created_at": -1}))
	if err != nil {
		return nil, fmt.Errorf("list audit requests: %w", err)
	}
	defer cursor.Close(ctx)

	var reqs []models.AuditRequest
	if err := cursor.All(ctx, &reqs); err != nil {
		return nil, fmt.Errorf("decode audit requests: %w", err)
	}
	return reqs, nil
}

// PendingRequests returns requests waiting for an auditor, oldest first so
// the queue drains in arrival order.
func (s *Store) PendingRequests(ctx context.Context) ([]models.AuditRequest, error) {
	cursor, err := s.requests().Find(ctx,
		bson.M{"status": models.RequestPendingAssignment},
		options.Find().SetSort(bson.M{"created_at": 1}))
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	defer cursor.Close(ctx)

	var reqs []models.AuditRequest
	if err := cursor.All(ctx, &reqs); err != nil {
		return nil, fmt.Errorf("decode pending requests: %w", err)
	}
	return reqs, nil
}

// OfferRequest moves a pending request to pending_acceptance for the given
// auditor. The status guard makes concurrent assigners lose cleanly: the
// second writer sees ErrVersionConflict.
func (s *Store) OfferRequest(ctx context.Context, requestID, auditorID, assignmentID primitive.ObjectID, deadline, now time.Time) error {
	res, err := s.requests().UpdateOne(ctx,
		bson.M{"_id": requestID, "status": models.RequestPendingAssignment},
		bson.M{"$set": bson.M{
			"status":              models.RequestPendingAcceptance,
			"assigned_auditor_id": auditorID,
			"assignment_id":       assignmentID,
			"assignment_deadline": deadline,
			"updated_at":          now,
		}})
	if err != nil {
		return fmt.Errorf("offer request: %w", err)
	}
	if res.MatchedCount == 0 {
		return models.ErrVersionConflict
	}
	return nil
}

// ReopenRequest puts a request back in the assignment queue after its offer
// expired or was declined.
func (s *Store) ReopenRequest(ctx context.Context, requestID primitive.ObjectID, incRejection bool, now time.Time) error {
	update := bson.M{
		"$set": bson.M{
			"status":     models.RequestPendingAssignment,
			"updated_at": now,
		},
		"$unset": bson.M{
			"assigned_auditor_id": "",
			"assignment_id":       "",
			"assignment_deadline": "",
		},
	}
	if incRejection {
		update["$inc"] = bson.M{"rejection_count": 1}
	}

	res, err := s.requests().UpdateOne(ctx,
		bson.M{"_id": requestID, "status": models.RequestPendingAcceptance},
		update)
	if err != nil {
		return fmt.Errorf("reopen request: %w", err)
	}
	if res.MatchedCount == 0 {
		return models.ErrVersionConflict
	}
	return nil
}

// MarkRequestAssigned finalizes a request once its auditor accepted.
func (s *Store) MarkRequestAssigned(ctx context.Context, requestID primitive.ObjectID, now time.Time) error {
	res, err := s.requests().UpdateOne(ctx,
		bson.M{"_id": requestID, "status": models.RequestPendingAcceptance},
		bson.M{"$set": bson.M{
			"status":     models.RequestAssigned,
			"updated_at": now,
		}})
	if err != nil {
		return fmt.Errorf("mark request assigned: %w", err)
	}
	if res.MatchedCount == 0 {
		return models.ErrVersionConflict
	}
	return nil
}

// MarkRequestEscalated parks a request for manual intervention. Requests
// already assigned are left alone.
func (s *Store) MarkRequestEscalated(ctx context.Context, requestID primitive.ObjectID, now time.Time) error {
	res, err := s.requests().UpdateOne(ctx,
		bson.M{
			"_id": requestID,
			"status": bson.M{"$in": bson.A{
				models.RequestPendingAssignment,
				models.RequestPendingAcceptance,
			}},
		},
		bson.M{
			"$set": bson.M{
				"status":     models.RequestEscalated,
				"updated_at": now,
			},
			"$unset": bson.M{
				"assigned_auditor_id": "",
				"assignment_id":       "",
				"assignment_deadline": "",
			},
		})
	if err != nil {
		return fmt.Errorf("mark request escalated: %w", err)
	}
	if res.MatchedCount == 0 {
		return models.ErrVersionConflict
	}
	return nil
}

// ReassignEscalated returns an escalated request to the queue with a clean
// rejection count.
func (s *Store) ReassignEscalated(ctx context.Context, requestID primitive.ObjectID, now time.Time) error {
	res, err := s.requests().UpdateOne(ctx,
		bson.M{"_id": requestID, "status": models.RequestEscalated},
		bson.M{"$set": bson.M{
			"status":          models.RequestPendingAssignment,
			"rejection_count": 0,
			"updated_at":      now,
		}})
	if err != nil {
		return fmt.Errorf("reassign escalated request: %w", err)
	}
	if res.MatchedCount == 0 {
		return models.ErrVersionConflict
	}
	return nil
}

// ---------------- ASSIGNMENTS ----------------

func (s *Store) InsertAssignment(ctx context.Context, a *models.AuditAssignment) error {
	if a.ID.IsZero() {
		a.ID = primitive.NewObjectID()
	}
	if _, err := s.assignments().InsertOne(ctx, a); err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

func (s *Store) GetAssignment(ctx context.Context, id primitive.ObjectID) (*models.AuditAssignment, error) {
	var a models.AuditAssignment
	err := s.assignments().FindOne(ctx, bson.M{"_id": id}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("assignment %s: %w", id.Hex(), models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	return &a, nil
}

func (s *Store) ListAssignmentsByAuditor(ctx context.Context, auditorID primitive.ObjectID, status string) ([]models.AuditAssignment, error) {
	filter := bson.M{"auditor_id": auditorID}
	if status != "" {
		filter["status"] = status
	}

	cursor, err := s.assignments().Find(ctx, filter,
		options.Find().SetSort(bson.M{"created_at": -1}))
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.AuditAssignment
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode assignments: %w", err)
	}
	return out, nil
}

// OverdueAssignments returns offers whose acceptance deadline has passed.
func (s *Store) OverdueAssignments(ctx context.Context, now time.Time) ([]models.AuditAssignment, error) {
	cursor, err := s.assignments().Find(ctx, bson.M{
		"status":              models.AssignmentPendingAcceptance,
		"acceptance_deadline": bson.M{"$lt": now},
	})
	if err != nil {
		return nil, fmt.Errorf("list overdue assignments: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.AuditAssignment
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode overdue assignments: %w", err)
	}
	return out, nil
}

// DueReminders returns offers inside the reminder window that have not been
// reminded yet.
func (s *Store) DueReminders(ctx context.Context, now, windowEnd time.Time) ([]models.AuditAssignment, error) {
	cursor, err := s.assignments().Find(ctx, bson.M{
		"status":              models.AssignmentPendingAcceptance,
		"reminder_sent":       false,
		"acceptance_deadline": bson.M{"$gte": now, "$lte": windowEnd},
	})
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.AuditAssignment
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode due reminders: %w", err)
	}
	return out, nil
}

// ExpireAssignment marks an overdue offer expired. Losing the guard means an
// accept or decline landed first.
func (s *Store) ExpireAssignment(ctx context.Context, id primitive.ObjectID, now time.Time) error {
	res, err := s.assignments().UpdateOne(ctx,
		bson.M{"_id": id, "status": models.AssignmentPendingAcceptance},
		bson.M{"$set": bson.M{
			"status":     models.AssignmentExpired,
			"updated_at": now,
		}})
	if err != nil {
		return fmt.Errorf("expire assignment: %w", err)
	}
	if res.MatchedCount == 0 {
		return models.ErrVersionConflict
	}
	return nil
}

// RespondAssignment records the auditor's accept or decline. The status
// guard keeps a response from landing on an already-expired offer.
func (s *Store) RespondAssignment(ctx context.Context, id primitive.ObjectID, status models.AssignmentStatus, now time.Time) error {
	res, err := s.assignments().UpdateOne(ctx,
		bson.M{"_id": id, "status": models.AssignmentPendingAcceptance},
		bson.M{"$set": bson.M{
			"status":       status,
			"responded_at": now,
			"updated_at":   now,
		}})
	if err != nil {
		return fmt.Errorf("respond to assignment: %w", err)
	}
	if res.MatchedCount == 0 {
		return models.ErrVersionConflict
	}
	return nil
}

// ClaimReminder flips reminder_sent exactly once. A second sweep racing on
// the same offer loses the claim and sends nothing.
func (s *Store) ClaimReminder(ctx context.Context, id primitive.ObjectID, now time.Time) error {
	res, err := s.assignments().UpdateOne(ctx,
		bson.M{
			"_id":           id,
			"status":        models.AssignmentPendingAcceptance,
			"reminder_sent": false,
		},
		bson.M{"$set": bson.M{
			"reminder_sent": true,
			"updated_at":    now,
		}})
	if err != nil {
		return fmt.Errorf("claim reminder: %w", err)
	}
	if res.MatchedCount == 0 {
		return models.ErrVersionConflict
	}
	return nil
}

// VoidAssignment retires an offer that never reached its auditor because the
// request hand-off failed partway.
func (s *Store) VoidAssignment(ctx context.Context, id primitive.ObjectID, now time.Time) error {
	_, err := s.assignments().UpdateOne(ctx,
		bson.M{"_id": id, "status": models.AssignmentPendingAcceptance},
		bson.M{"$set": bson.M{
			"status":     models.AssignmentExpired,
			"updated_at": now,
		}})
	if err != nil {
		return fmt.Errorf("void assignment: %w", err)
	}
	return nil
}
