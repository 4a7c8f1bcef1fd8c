package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	config "github.com/phillip/impact-audit-go/config"
	metrics "github.com/phillip/impact-audit-go/metrics"
	models "github.com/phillip/impact-audit-go/models"
	utils "github.com/phillip/impact-audit-go/utils"
)

type settlementStore interface {
	ApplyMilestoneDecision(ctx context.Context, patch models.MilestoneAuditPatch, auditPatch models.AuditCompletionPatch) error
	HeldContributionsForMilestone(ctx context.Context, projectID primitive.ObjectID, milestoneID string) ([]models.Contribution, error)
	MarkEntryReleased(ctx context.Context, contributionID primitive.ObjectID, milestoneID string, amount int64, transferID string, now time.Time) error
	CloseSettledEscrow(ctx context.Context, contributionID primitive.ObjectID, now time.Time) error
}

// TransferFunc issues one payment transfer. The reference inside the request
// is the idempotency key.
type TransferFunc func(ctx context.Context, req utils.TransferRequest) (*utils.TransferResult, error)

// Settler commits audit decisions to the project aggregate and releases
// escrow for approved milestones. The decision write is transactional and
// version-guarded; the escrow release that follows is per-entry best-effort
// and never rolls the decision back.
type Settler struct {
	store    settlementStore
	transfer TransferFunc
	cfg      config.SettlementConfig
	now      func() time.Time
}

func NewSettler(store settlementStore, transfer TransferFunc, cfg config.SettlementConfig) *Settler {
	// The release semaphore needs at least one slot.
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &Settler{store: store, transfer: transfer, cfg: cfg, now: time.Now}
}

func decisionStatus(d models.Decision) models.MilestoneStatus {
	switch d {
	case models.DecisionApproved:
		return models.MilestoneApproved
	case models.DecisionRejected:
		return models.MilestoneRejected
	default:
		return models.MilestoneNeedsRevision
	}
}

// ApplyDecision writes the milestone transition, the project audit summary
// and the audit completion in one version-guarded transaction, then runs the
// escrow release when the decision approves an auto-release project.
// A models.ErrVersionConflict return means nothing was written and the caller
// must re-read and resubmit.
func (s *Settler) ApplyDecision(ctx context.Context, project *models.Project, milestone models.Milestone, audit *models.Audit, report models.AuditReport) (models.SettlementResult, error) {
	now := s.now()
	status := decisionStatus(report.Decision)

	auditStatus := models.AuditCompleted
	var completedAt *time.Time
	if report.Decision == models.DecisionNeedsRevision {
		auditStatus = models.AuditPendingFollowUp
	} else {
		completedAt = &now
	}

	patch := models.MilestoneAuditPatch{
		ProjectID:         project.ID,
		ExpectedVersion:   project.Version,
		MilestoneID:       milestone.ID,
		MilestoneStatus:   status,
		AuditStatus:       string(report.Decision),
		AuditScore:        report.Score,
		AuditedAt:         now,
		ProjectAuditScore: projectAuditScore(project, milestone.ID, report.Score),
		Summary: models.MilestoneAuditSummary{
			MilestoneID: milestone.ID,
			AuditID:     audit.ID.Hex(),
			Decision:    report.Decision,
			Score:       report.Score,
			AuditedAt:   now,
		},
	}
	auditPatch := models.AuditCompletionPatch{
		AuditID:     audit.ID,
		Status:      auditStatus,
		Report:      report,
		CompletedAt: completedAt,
	}

	if err := s.store.ApplyMilestoneDecision(ctx, patch, auditPatch); err != nil {
		if errors.Is(err, models.ErrVersionConflict) {
			metrics.VersionConflicts.Inc()
		}
		return models.SettlementResult{}, err
	}

	result := models.SettlementResult{
		MilestoneID:     milestone.ID,
		MilestoneStatus: status,
		AutoRelease:     report.Decision == models.DecisionApproved && project.AutoRelease,
	}

	if result.AutoRelease {
		s.releaseEscrow(ctx, project, milestone.ID, &result)
	}

	return result, nil
}

// releaseEscrow pays out every unreleased schedule entry for the milestone.
// Entries settle independently in bounded batches; a failed transfer is
// logged and counted, the rest of the batch continues.
func (s *Settler) releaseEscrow(ctx context.Context, project *models.Project, milestoneID string, result *models.SettlementResult) {
	contributions, err := s.store.HeldContributionsForMilestone(ctx, project.ID, milestoneID)
	if err != nil {
		log.Printf("settlement: list held contributions for %s/%s: %v",
			project.ID.Hex(), milestoneID, err)
		result.TransferFailures++
		metrics.TransferFailures.Inc()
		return
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.cfg.BatchSize)
	)

	for i := range contributions {
		contribution := contributions[i]
		entry, ok := contribution.EntryForMilestone(milestoneID)
		if !ok {
			mu.Lock()
			result.EntriesSkipped++
			mu.Unlock()
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			released, failed := s.settleEntry(ctx, &contribution, entry, project.PayoutDestination, milestoneID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case failed:
				result.TransferFailures++
			case released > 0:
				result.FundsReleased += released
				result.TransfersIssued++
			default:
				result.EntriesSkipped++
			}
		}()
	}
	wg.Wait()
}

// settleEntry issues one transfer and flips the entry's released flag.
// Returns the released amount, or failed=true when the transfer itself
// failed. A zero, non-failed return means another worker released the entry
// first.
func (s *Settler) settleEntry(ctx context.Context, contribution *models.Contribution, entry models.ReleaseScheduleEntry, destination, milestoneID string) (released int64, failed bool) {
	ref := uuid.NewString()
	res, err := s.transfer(ctx, utils.TransferRequest{
		Amount:      entry.Amount,
		Currency:    contribution.Currency,
		Destination: destination,
		Reference:   ref,
		Metadata: map[string]string{
			"contribution_id": contribution.ID.Hex(),
			"milestone_id":    milestoneID,
		},
	})
	if err != nil {
		log.Printf("settlement: transfer %d cents for contribution %s: %v",
			entry.Amount, contribution.ID.Hex(), err)
		metrics.TransferFailures.Inc()
		return 0, true
	}

	now := s.now()
	err = s.store.MarkEntryReleased(ctx, contribution.ID, milestoneID, entry.Amount, res.TransferID, now)
	if errors.Is(err, models.ErrVersionConflict) {
		// A concurrent settlement already released this entry. The transfer
		// above duplicated it; surface loudly for manual review.
		log.Printf("settlement: entry %s/%s released concurrently, transfer %s needs review",
			contribution.ID.Hex(), milestoneID, res.TransferID)
		return 0, false
	}
	if err != nil {
		log.Printf("settlement: mark entry released %s/%s: %v",
			contribution.ID.Hex(), milestoneID, err)
		return 0, true
	}

	if err := s.store.CloseSettledEscrow(ctx, contribution.ID, now); err != nil {
		log.Printf("settlement: close escrow %s: %v", contribution.ID.Hex(), err)
	}

	metrics.TransfersIssued.Inc()
	metrics.FundsReleased.Add(float64(entry.Amount))
	return entry.Amount, false
}

// projectAuditScore averages the audit scores across every audited
// milestone, with the incoming score standing in for the milestone being
// decided.
func projectAuditScore(project *models.Project, milestoneID string, score float64) float64 {
	total, n := score, 1
	for _, m := range project.Milestones {
		if m.ID == milestoneID || m.AuditScore == nil {
			continue
		}
		total += *m.AuditScore
		n++
	}
	return total / float64(n)
}
