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

// ---------------- CONTRIBUTIONS ----------------

func (s *Store) InsertContribution(ctx context.Context, c *models.Contribution) error {
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	if _, err := s.contributions().InsertOne(ctx, c); err != nil {
		return fmt.Errorf("insert contribution: %w", err)
	}
	return nil
}

func (s *Store) GetContribution(ctx context.Context, id primitive.ObjectID) (*models.Contribution, error) {
	var c models.Contribution
	err := s.contributions().FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("contribution %s: %w", id.Hex(), models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get contribution: %w", err)
	}
	return &c, nil
}

func (s *Store) ListContributions(ctx context.Context, projectID *primitive.ObjectID) ([]models.Contribution, error) {
	filter := bson.M{}
	if projectID != nil {
		filter["project_id"] = *projectID
	}

	cursor, err := s.contributions().Find(ctx, filter,
		options.Find().SetSort(bson.M{"updated_at": -1}))
	if err != nil {
		return nil, fmt.Errorf("list contributions: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.Contribution
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode contributions: %w", err)
	}
	return out, nil
}

// HeldContributionsForMilestone returns the escrowed contributions with an
// unreleased schedule entry for the milestone. This is the settlement
// snapshot; the per-entry release guard handles anything that changes after.
func (s *Store) HeldContributionsForMilestone(ctx context.Context, projectID primitive.ObjectID, milestoneID string) ([]models.Contribution, error) {
	cursor, err := s.contributions().Find(ctx, bson.M{
		"project_id":  projectID,
		"status":      models.ContributionConfirmed,
		"escrow.held": true,
		"release_schedule": bson.M{"$elemMatch": bson.M{
			"milestone_id": milestoneID,
			"released":     false,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("list held contributions: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.Contribution
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode held contributions: %w", err)
	}
	return out, nil
}

// MarkEntryReleased flips one schedule entry to released and draws the
// amount down from the held principal. The released:false guard makes the
// flip happen at most once; a concurrent release of the same entry loses.
func (s *Store) MarkEntryReleased(ctx context.Context, contributionID primitive.ObjectID, milestoneID string, amount int64, transferID string, now time.Time) error {
	res, err := s.contributions().UpdateOne(ctx,
		bson.M{
			"_id": contributionID,
			"release_schedule": bson.M{"$elemMatch": bson.M{
				"milestone_id": milestoneID,
				"released":     false,
			}},
		},
		bson.M{
			"$set": bson.M{
				"release_schedule.$.released":    true,
				"release_schedule.$.released_at": now,
				"release_schedule.$.transfer_id": transferID,
				"updated_at":                     now,
			},
			"$inc": bson.M{"escrow.principal": -amount},
		})
	if err != nil {
		return fmt.Errorf("mark entry released: %w", err)
	}
	if res.MatchedCount == 0 {
		return models.ErrVersionConflict
	}
	return nil
}

// CloseSettledEscrow drops the held flag once every schedule entry has paid
// out. A contribution with entries still unreleased is left held; no error
// either way.
func (s *Store) CloseSettledEscrow(ctx context.Context, contributionID primitive.ObjectID, now time.Time) error {
	_, err := s.contributions().UpdateOne(ctx,
		bson.M{
			"_id":         contributionID,
			"escrow.held": true,
			"release_schedule": bson.M{"$not": bson.M{"$elemMatch": bson.M{
				"released": false,
			}}},
		},
		bson.M{"$set": bson.M{
			"escrow.held": false,
			"updated_at":  now,
		}})
	if err != nil {
		return fmt.Errorf("close settled escrow: %w", err)
	}
	return nil
}

// HeldEscrows returns every contribution still accruing interest.
func (s *Store) HeldEscrows(ctx context.Context) ([]models.Contribution, error) {
	cursor, err := s.contributions().Find(ctx, bson.M{
		"status":           models.ContributionConfirmed,
		"escrow.held":      true,
		"escrow.principal": bson.M{"$gt": 0},
	})
	if err != nil {
		return nil, fmt.Errorf("list held escrows: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.Contribution
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode held escrows: %w", err)
	}
	return out, nil
}

// ---------------- INTEREST ----------------

// ApplyInterest commits one accrual: the escrow running total, the
// calculation row, the contributor's lifetime counter and the platform
// ledger move together or not at all.
func (s *Store) ApplyInterest(ctx context.Context, app models.InterestApplication) error {
	return s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		res, err := s.contributions().UpdateByID(sc, app.ContributionID, bson.M{
			"$inc": bson.M{"escrow.accrued_interest": app.Earned},
			"$set": bson.M{
				"escrow.last_interest_calculation": app.CalculationDate,
				"updated_at":                       app.CalculationDate,
			}})
		if err != nil {
			return fmt.Errorf("accrue on contribution: %w", err)
		}
		if res.MatchedCount == 0 {
			return fmt.Errorf("contribution %s: %w", app.ContributionID.Hex(), models.ErrNotFound)
		}

		calc := models.InterestCalculation{
			ID:              primitive.NewObjectID(),
			EscrowID:        app.ContributionID,
			ProjectID:       app.ProjectID,
			PrincipalAmount: app.Principal,
			InterestRate:    app.Rate,
			DaysHeld:        app.DaysHeld,
			InterestEarned:  app.Earned,
			CalculationDate: app.CalculationDate,
		}
		if _, err := s.calculations().InsertOne(sc, calc); err != nil {
			return fmt.Errorf("insert calculation row: %w", err)
		}

		if _, err := s.contributors().UpdateByID(sc, app.ContributorID, bson.M{
			"$inc": bson.M{"lifetime_interest": app.Earned},
			"$set": bson.M{"updated_at": app.CalculationDate},
		}); err != nil {
			return fmt.Errorf("update contributor lifetime interest: %w", err)
		}

		_, err = s.platformTotals().UpdateOne(sc,
			bson.M{"_id": "platform"},
			bson.M{
				"$inc": bson.M{"total_accrued_interest": app.Earned},
				"$set": bson.M{"updated_at": app.CalculationDate},
			},
			options.Update().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("update platform totals: %w", err)
		}
		return nil
	})
}

// SumAccruedInterest totals accrued interest across every contribution,
// including escrows that have since settled, to match what the platform
// ledger accumulated.
func (s *Store) SumAccruedInterest(ctx context.Context) (int64, error) {
	cursor, err := s.contributions().Aggregate(ctx, []bson.M{
		{"$group": bson.M{
			"_id":   nil,
			"total": bson.M{"$sum": "$escrow.accrued_interest"},
		}},
	})
	if err != nil {
		return 0, fmt.Errorf("sum accrued interest: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Total int64 `bson:"total"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return 0, fmt.Errorf("decode interest total: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Total, nil
}

// GetPlatformTotals reads the singleton ledger document. Missing means no
// interest has ever accrued.
func (s *Store) GetPlatformTotals(ctx context.Context) (*models.PlatformTotals, error) {
	var t models.PlatformTotals
	err := s.platformTotals().FindOne(ctx, bson.M{"_id": "platform"}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &models.PlatformTotals{ID: "platform"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get platform totals: %w", err)
	}
	return &t, nil
}

// ---------------- CONTRIBUTORS ----------------

// UpsertContributor finds or creates a contributor by email and returns its
// id. Without an email there is nothing to match on, so each contact-less
// contribution gets its own contributor row.
func (s *Store) UpsertContributor(ctx context.Context, name, email string, now time.Time) (primitive.ObjectID, error) {
	if email == "" {
		c := models.Contributor{
			ID:        primitive.NewObjectID(),
			Name:      name,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if _, err := s.contributors().InsertOne(ctx, c); err != nil {
			return primitive.NilObjectID, fmt.Errorf("insert contributor: %w", err)
		}
		return c.ID, nil
	}

	var c models.Contributor
	err := s.contributors().FindOneAndUpdate(ctx,
		bson.M{"email": email},
		bson.M{
			"$setOnInsert": bson.M{
				"name":              name,
				"email":             email,
				"lifetime_interest": int64(0),
				"created_at":        now,
			},
			"$set": bson.M{"updated_at": now},
		},
		options.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(options.After),
	).Decode(&c)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("upsert contributor: %w", err)
	}
	return c.ID, nil
}
