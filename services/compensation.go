package services

import (
	"context"
	"log"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	config "github.com/phillip/impact-audit-go/config"
	metrics "github.com/phillip/impact-audit-go/metrics"
	models "github.com/phillip/impact-audit-go/models"
)

type compensationStore interface {
	InsertCompensation(ctx context.Context, rec *models.CompensationRecord) error
	SetCompensationFinal(ctx context.Context, auditID primitive.ObjectID, finalAmount int64, status models.CompensationStatus, now time.Time) error
	GetAuditor(ctx context.Context, id primitive.ObjectID) (*models.Auditor, error)
	ApplyAuditorCompletion(ctx context.Context, id primitive.ObjectID, stats models.AuditorStats, now time.Time) error
}

// Compensator turns a completed audit into auditor pay. Compensation is
// best-effort relative to the audit decision: when the ledger write fails the
// computed amount is still surfaced with status pending, and the submission
// that triggered it degrades to partial instead of failing.
type Compensator struct {
	store compensationStore
	cfg   config.CompensationConfig
	now   func() time.Time
}

func NewCompensator(store compensationStore, cfg config.CompensationConfig) *Compensator {
	return &Compensator{store: store, cfg: cfg, now: time.Now}
}

// Finalize computes and persists the payout for one completed audit, then
// folds the completion into the auditor's historical stats.
func (c *Compensator) Finalize(ctx context.Context, audit *models.Audit, score float64, completedAt time.Time) models.CompensationOutcome {
	quality := c.qualityMultiplier(score)
	timing := c.timingMultiplier(audit.Deadline, completedAt)
	final := int64(math.Round(float64(audit.Compensation.Amount) * quality * timing))

	outcome := models.CompensationOutcome{
		BaseAmount:        audit.Compensation.Amount,
		FinalAmount:       final,
		QualityMultiplier: quality,
		TimingMultiplier:  timing,
		Status:            models.CompensationPendingPayment,
		Persisted:         true,
	}

	rec := models.CompensationRecord{
		AuditID:           audit.ID,
		AuditorID:         audit.AuditorID,
		BaseAmount:        audit.Compensation.Amount,
		FinalAmount:       final,
		QualityMultiplier: quality,
		TimingMultiplier:  timing,
		Status:            models.CompensationPendingPayment,
		CreatedAt:         completedAt,
	}
	if err := c.store.InsertCompensation(ctx, &rec); err != nil {
		log.Printf("compensation: ledger write for audit %s: %v", audit.ID.Hex(), err)
		metrics.CompensationPersistFailures.Inc()
		outcome.Status = models.CompensationPending
		outcome.Persisted = false
	} else if err := c.store.SetCompensationFinal(ctx, audit.ID, final, models.CompensationCalculated, completedAt); err != nil {
		log.Printf("compensation: audit update for %s: %v", audit.ID.Hex(), err)
		metrics.CompensationPersistFailures.Inc()
		outcome.Status = models.CompensationPending
		outcome.Persisted = false
	} else {
		metrics.CompensationsCalculated.Inc()
	}

	c.updateAuditorStats(ctx, audit, score, final, completedAt)

	return outcome
}

func (c *Compensator) qualityMultiplier(score float64) float64 {
	switch {
	case score >= c.cfg.QualityBonusScore:
		return c.cfg.QualityBonusMultiplier
	case score < c.cfg.QualityPenaltyScore:
		return c.cfg.QualityPenaltyMultiplier
	default:
		return 1.0
	}
}

func (c *Compensator) timingMultiplier(deadline, completedAt time.Time) float64 {
	early := deadline.Sub(completedAt)
	if early > time.Duration(c.cfg.EarlyCompletionHours)*time.Hour {
		return c.cfg.EarlyCompletionMultiplier
	}
	return 1.0
}

// updateAuditorStats recomputes the running averages and frees a concurrency
// slot. Best-effort: a failure here never degrades the submission outcome.
func (c *Compensator) updateAuditorStats(ctx context.Context, audit *models.Audit, score float64, earned int64, completedAt time.Time) {
	auditor, err := c.store.GetAuditor(ctx, audit.AuditorID)
	if err != nil {
		log.Printf("compensation: load auditor %s: %v", audit.AuditorID.Hex(), err)
		return
	}

	stats := auditor.Stats
	n := float64(stats.CompletedAudits)
	completionDays := completedAt.Sub(audit.CreatedAt).Hours() / 24

	stats.AverageScore = (stats.AverageScore*n + score) / (n + 1)
	stats.AverageCompletionDays = (stats.AverageCompletionDays*n + completionDays) / (n + 1)
	stats.CompletedAudits++
	stats.TotalEarned += earned
	if stats.CategoryExperience == nil {
		stats.CategoryExperience = map[string]int{}
	}
	stats.CategoryExperience[audit.Category]++

	if err := c.store.ApplyAuditorCompletion(ctx, audit.AuditorID, stats, completedAt); err != nil {
		log.Printf("compensation: update auditor stats %s: %v", audit.AuditorID.Hex(), err)
	}
}
