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

func (s *Store) GetProject(ctx context.Context, id primitive.ObjectID) (*models.Project, error) {
	var p models.Project
	err := s.projects().FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("project %s: %w", id.Hex(), models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

func (s *Store) ListProjects(ctx context.Context, status string) ([]models.Project, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}

	cursor, err := s.projects().Find(ctx, filter,
		options.Find().SetSort(bson.M{"updated_at": -1}))
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.Project
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode projects: %w", err)
	}
	return out, nil
}

// SubmitMilestone moves a pending milestone to submitted under the project
// version guard. auditRequested also stamps the milestone's audit_status so
// the creator sees the review is queued.
func (s *Store) SubmitMilestone(ctx context.Context, projectID primitive.ObjectID, expectedVersion int64, milestoneID string, auditRequested bool, now time.Time) error {
	set := bson.M{
		"milestones.$.status": models.MilestoneSubmitted,
		"updated_at":          now,
	}
	if auditRequested {
		set["milestones.$.audit_status"] = "requested"
	}

	res, err := s.projects().UpdateOne(ctx,
		bson.M{
			"_id":     projectID,
			"version": expectedVersion,
			"milestones": bson.M{"$elemMatch": bson.M{
				"id":     milestoneID,
				"status": models.MilestonePending,
			}},
		},
		bson.M{
			"$set": set,
			"$inc": bson.M{"version": 1},
		})
	if err != nil {
		return fmt.Errorf("submit milestone: %w", err)
	}
	if res.MatchedCount == 0 {
		return models.ErrVersionConflict
	}
	return nil
}

// ApplyMilestoneDecision commits a finished audit: the milestone transition,
// the project-level audit summary and the audit document's completion all
// land in one transaction, guarded by the project version. Either everything
// is visible or nothing is.
func (s *Store) ApplyMilestoneDecision(ctx context.Context, patch models.MilestoneAuditPatch, auditPatch models.AuditCompletionPatch) error {
	return s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		set := bson.M{
			"milestones.$[m].status":       patch.MilestoneStatus,
			"milestones.$[m].audit_status": patch.AuditStatus,
			"milestones.$[m].audit_score":  patch.AuditScore,
			"milestones.$[m].audited_at":   patch.AuditedAt,
			"audit_score":                  patch.ProjectAuditScore,
			"last_milestone_audit":         patch.Summary,
			"updated_at":                   patch.AuditedAt,
		}

		res, err := s.projects().UpdateOne(sc,
			bson.M{"_id": patch.ProjectID, "version": patch.ExpectedVersion},
			bson.M{
				"$set": set,
				"$inc": bson.M{"version": 1},
			},
			options.Update().SetArrayFilters(options.ArrayFilters{
				Filters: []interface{}{bson.M{"m.id": patch.MilestoneID}},
			}))
		if err != nil {
			return fmt.Errorf("apply milestone decision: %w", err)
		}
		if res.MatchedCount == 0 {
			return models.ErrVersionConflict
		}

		auditSet := bson.M{
			"status":     auditPatch.Status,
			"report":     auditPatch.Report,
			"updated_at": patch.AuditedAt,
		}
		if auditPatch.CompletedAt != nil {
			auditSet["completed_at"] = auditPatch.CompletedAt
		}

		ares, err := s.audits().UpdateByID(sc, auditPatch.AuditID, bson.M{"$set": auditSet})
		if err != nil {
			return fmt.Errorf("finalize audit: %w", err)
		}
		if ares.MatchedCount == 0 {
			return fmt.Errorf("audit %s: %w", auditPatch.AuditID.Hex(), models.ErrNotFound)
		}
		return nil
	})
}
