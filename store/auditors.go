package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	models "github.com/phillip/impact-audit-go/models"
)

func (s *Store) GetAuditor(ctx context.Context, id primitive.ObjectID) (*models.Auditor, error) {
	var a models.Auditor
	err := s.auditors().FindOne(ctx, bson.M{"_id": id}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("auditor %s: %w", id.Hex(), models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get auditor: %w", err)
	}
	return &a, nil
}

// EligibleAuditors returns every profile that is allowed to take work at
// all. Request-specific filters (qualifications, fee range, capacity) run in
// the matcher where the scoring needs the same fields anyway.
func (s *Store) EligibleAuditors(ctx context.Context) ([]models.Auditor, error) {
	cursor, err := s.auditors().Find(ctx, bson.M{
		"active":            true,
		"identity_verified": true,
		"auditing_enabled":  true,
	})
	if err != nil {
		return nil, fmt.Errorf("list eligible auditors: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.Auditor
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode auditors: %w", err)
	}
	return out, nil
}

// AdjustAuditorCounters applies the lifecycle counter deltas atomically.
// Zero deltas are omitted from the update.
func (s *Store) AdjustAuditorCounters(ctx context.Context, id primitive.ObjectID, delta models.AuditorCounterDelta) error {
	inc := bson.M{}
	if delta.PendingAssignments != 0 {
		inc["pending_assignments"] = delta.PendingAssignments
	}
	if delta.ExpiredAssignments != 0 {
		inc["expired_assignments"] = delta.ExpiredAssignments
	}
	if delta.DeclinedAssignments != 0 {
		inc["declined_assignments"] = delta.DeclinedAssignments
	}
	if delta.ActiveAudits != 0 {
		inc["active_audits"] = delta.ActiveAudits
	}
	if len(inc) == 0 {
		return nil
	}

	res, err := s.auditors().UpdateByID(ctx, id, bson.M{
		"$inc": inc,
		"$set": bson.M{"updated_at": time.Now()},
	})
	if err != nil {
		return fmt.Errorf("adjust auditor counters: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("auditor %s: %w", id.Hex(), models.ErrNotFound)
	}
	return nil
}

// ApplyAuditorCompletion writes the recomputed historical stats and frees one
// concurrency slot.
func (s *Store) ApplyAuditorCompletion(ctx context.Context, id primitive.ObjectID, stats models.AuditorStats, now time.Time) error {
	res, err := s.auditors().UpdateByID(ctx, id, bson.M{
		"$set": bson.M{
			"stats":      stats,
			"updated_at": now,
		},
		"$inc": bson.M{"active_audits": -1},
	})
	if err != nil {
		return fmt.Errorf("apply auditor completion: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("auditor %s: %w", id.Hex(), models.ErrNotFound)
	}
	return nil
}
