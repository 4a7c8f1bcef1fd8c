package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	config "github.com/phillip/impact-audit-go/config"
	metrics "github.com/phillip/impact-audit-go/metrics"
	models "github.com/phillip/impact-audit-go/models"
)

type submissionStore interface {
	GetAudit(ctx context.Context, id primitive.ObjectID) (*models.Audit, error)
	GetProject(ctx context.Context, id primitive.ObjectID) (*models.Project, error)
}

// SubmissionEngine is the single entry point for report submissions: it runs
// the quality gate, commits the milestone decision, then finalizes
// compensation. The decision commit is all-or-nothing; everything after it
// degrades the result to partial instead of failing the submission.
type SubmissionEngine struct {
	store       submissionStore
	settler     *Settler
	compensator *Compensator
	notifier    *Notifier
	cfg         config.QualityConfig
	now         func() time.Time
}

func NewSubmissionEngine(store submissionStore, settler *Settler, compensator *Compensator, notifier *Notifier, cfg config.QualityConfig) *SubmissionEngine {
	return &SubmissionEngine{
		store:       store,
		settler:     settler,
		compensator: compensator,
		notifier:    notifier,
		cfg:         cfg,
		now:         time.Now,
	}
}

// SubmitReport validates and commits one audit report.
//
// Error contract: a *models.ValidationError means nothing was written and the
// same payload can never succeed; models.ErrVersionConflict means nothing was
// written and the caller should re-read and retry; any other error is
// infrastructure. A nil error with Status partial means the decision
// committed but a best-effort side effect (a transfer, the compensation
// write) degraded.
func (e *SubmissionEngine) SubmitReport(ctx context.Context, auditID, auditorID primitive.ObjectID, sub models.ReportSubmission) (*models.SubmissionResult, error) {
	now := e.now()

	audit, err := e.store.GetAudit(ctx, auditID)
	if err != nil {
		return nil, err
	}
	if audit.AuditorID != auditorID {
		return nil, models.ErrForbidden
	}
	if audit.Status != models.AuditAccepted && audit.Status != models.AuditInProgress {
		return nil, models.Validationf(models.RuleAuditState,
			"audit is %s; reports are accepted only while accepted or in_progress", audit.Status)
	}

	project, err := e.store.GetProject(ctx, audit.ProjectID)
	if err != nil {
		return nil, err
	}
	milestone, ok := project.FindMilestone(audit.CurrentMilestone)
	if !ok {
		return nil, fmt.Errorf("milestone %s on project %s: %w",
			audit.CurrentMilestone, project.ID.Hex(), models.ErrNotFound)
	}

	if err := ValidateReport(e.cfg, audit, milestone, sub); err != nil {
		var ve *models.ValidationError
		if errors.As(err, &ve) {
			metrics.ReportsRejected.WithLabelValues(ve.Rule).Inc()
		}
		return nil, err
	}

	report := models.AuditReport{
		Decision:        sub.Decision,
		Score:           sub.Score,
		CriteriaResults: sub.CriteriaResults,
		Strengths:       sub.Strengths,
		Weaknesses:      sub.Weaknesses,
		Recommendations: sub.Recommendations,
		Documentation:   sub.Documentation,
		Summary:         sub.Summary,
		SubmittedAt:     now,
	}

	settlement, err := e.settler.ApplyDecision(ctx, project, milestone, audit, report)
	if err != nil {
		return nil, err
	}
	metrics.ReportsSubmitted.WithLabelValues(string(sub.Decision)).Inc()

	result := &models.SubmissionResult{
		Status:      models.ResultOK,
		AuditID:     audit.ID,
		Decision:    sub.Decision,
		Settlement:  settlement,
		SubmittedAt: now,
	}

	if sub.Decision != models.DecisionNeedsRevision {
		outcome := e.compensator.Finalize(ctx, audit, sub.Score, now)
		result.Compensation = &outcome
		if !outcome.Persisted {
			result.Status = models.ResultPartial
			result.Warnings = append(result.Warnings,
				"compensation could not be persisted; computed amount returned with status pending")
		}
	}

	if settlement.TransferFailures > 0 {
		result.Status = models.ResultPartial
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%d escrow transfer(s) failed; unreleased entries remain for the next settlement pass",
				settlement.TransferFailures))
	}

	e.notifier.Send(ctx, models.NotificationInput{
		RecipientID: project.CreatorID,
		Kind:        models.NotifyAuditDecision,
		Data: map[string]string{
			"milestone_id": milestone.ID,
			"decision":     string(sub.Decision),
			"score":        strconv.FormatFloat(sub.Score, 'f', 1, 64),
		},
	})

	return result, nil
}
