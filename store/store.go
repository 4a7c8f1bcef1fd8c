// Package store is the Mongo persistence layer. Every multi-document
// mutation the engine needs (milestone decisions, interest accrual) runs
// through session transactions here; single-document state changes use
// guarded filters so a lost race surfaces as ErrVersionConflict instead of a
// silent double-write.
package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Store struct {
	client *mongo.Client
	dbName string
}

func New(client *mongo.Client, dbName string) *Store {
	return &Store{client: client, dbName: dbName}
}

func (s *Store) db() *mongo.Database {
	return s.client.Database(s.dbName)
}

func (s *Store) projects() *mongo.Collection      { return s.db().Collection("projects") }
func (s *Store) auditors() *mongo.Collection      { return s.db().Collection("auditors") }
func (s *Store) requests() *mongo.Collection      { return s.db().Collection("audit_requests") }
func (s *Store) assignments() *mongo.Collection   { return s.db().Collection("audit_assignments") }
func (s *Store) audits() *mongo.Collection        { return s.db().Collection("audits") }
func (s *Store) contributions() *mongo.Collection { return s.db().Collection("contributions") }
func (s *Store) contributors() *mongo.Collection  { return s.db().Collection("contributors") }
func (s *Store) compensations() *mongo.Collection { return s.db().Collection("compensations") }
func (s *Store) calculations() *mongo.Collection {
	return s.db().Collection("interest_calculations")
}
func (s *Store) platformTotals() *mongo.Collection { return s.db().Collection("platform_totals") }
func (s *Store) tickets() *mongo.Collection        { return s.db().Collection("tickets") }
func (s *Store) notifications() *mongo.Collection  { return s.db().Collection("notifications") }

// withTransaction runs fn inside a causally-consistent session transaction.
// fn must route every operation through the session context it receives.
func (s *Store) withTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// EnsureIndexes creates the indexes the query paths depend on. Safe to call
// on every boot.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	specs := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{s.requests(), []mongo.IndexModel{
			{Keys: bson.D{{Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "milestone_id", Value: 1}}},
		}},
		{s.assignments(), []mongo.IndexModel{
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "acceptance_deadline", Value: 1}}},
			{Keys: bson.D{{Key: "auditor_id", Value: 1}, {Key: "status", Value: 1}}},
		}},
		{s.audits(), []mongo.IndexModel{
			{Keys: bson.D{{Key: "auditor_id", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "project_id", Value: 1}}},
		}},
		{s.contributions(), []mongo.IndexModel{
			{Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "status", Value: 1}, {Key: "escrow.held", Value: 1}}},
			{Keys: bson.D{{Key: "escrow.held", Value: 1}, {Key: "escrow.last_interest_calculation", Value: 1}}},
		}},
		{s.calculations(), []mongo.IndexModel{
			{Keys: bson.D{{Key: "escrow_id", Value: 1}, {Key: "calculation_date", Value: -1}}},
		}},
		{s.notifications(), []mongo.IndexModel{
			{Keys: bson.D{{Key: "recipient_id", Value: 1}, {Key: "created_at", Value: -1}}},
		}},
		{s.tickets(), []mongo.IndexModel{
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "kind", Value: 1}}},
			{Keys: bson.D{{Key: "audit_request_id", Value: 1}}},
		}},
		{s.compensations(), []mongo.IndexModel{
			{Keys: bson.D{{Key: "audit_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
		{s.contributors(), []mongo.IndexModel{
			// Contact-less contributors are stored with an empty email and
			// stay out of the uniqueness constraint.
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"email": bson.M{"$gt": ""}})},
		}},
	}

	for _, spec := range specs {
		if _, err := spec.coll.Indexes().CreateMany(ctx, spec.models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", spec.coll.Name(), err)
		}
	}
	return nil
}
