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

func (s *Store) InsertAudit(ctx context.Context, a *models.Audit) error {
	if a.ID.IsZero() {
		a.ID = primitive.NewObjectID()
	}
	if _, err := s.audits().InsertOne(ctx, a); err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

func (s *Store) GetAudit(ctx context.Context, id primitive.ObjectID) (*models.Audit, error) {
	var a models.Audit
	err := s.audits().FindOne(ctx, bson.M{"_id": id}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("audit %s: %w", id.Hex(), models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get audit: %w", err)
	}
	return &a, nil
}

func (s *Store) ListAuditsByAuditor(ctx context.Context, auditorID primitive.ObjectID, status string) ([]models.Audit, error) {
	filter := bson.M{"auditor_id": auditorID}
	if status != "" {
		filter["status"] = status
	}

	cursor, err := s.audits().Find(ctx, filter,
		options.Find().SetSort(bson.M{"created_at": -1}))
	if err != nil {
		return nil, fmt.Errorf("list audits: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.Audit
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode audits: %w", err)
	}
	return out, nil
}

// MarkAuditInProgress is the auditor's explicit start-of-work transition.
func (s *Store) MarkAuditInProgress(ctx context.Context, id, auditorID primitive.ObjectID, now time.Time) error {
	res, err := s.audits().UpdateOne(ctx,
		bson.M{"_id": id, "auditor_id": auditorID, "status": models.AuditAccepted},
		bson.M{"$set": bson.M{
			"status":     models.AuditInProgress,
			"updated_at": now,
		}})
	if err != nil {
		return fmt.Errorf("mark audit in progress: %w", err)
	}
	if res.MatchedCount == 0 {
		return models.ErrVersionConflict
	}
	return nil
}

// SetCompensationFinal records the computed payout on the audit document.
func (s *Store) SetCompensationFinal(ctx context.Context, auditID primitive.ObjectID, finalAmount int64, status models.CompensationStatus, now time.Time) error {
	res, err := s.audits().UpdateByID(ctx, auditID, bson.M{
		"$set": bson.M{
			"compensation.final_amount": finalAmount,
			"compensation.status":       status,
			"updated_at":                now,
		}})
	if err != nil {
		return fmt.Errorf("set compensation: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("audit %s: %w", auditID.Hex(), models.ErrNotFound)
	}
	return nil
}

// InsertCompensation appends one payout ledger row. The unique index on
// audit_id rejects a double payout at the database.
func (s *Store) InsertCompensation(ctx context.Context, rec *models.CompensationRecord) error {
	if rec.ID.IsZero() {
		rec.ID = primitive.NewObjectID()
	}
	if _, err := s.compensations().InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("insert compensation: %w", err)
	}
	return nil
}
