package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	config "github.com/phillip/impact-audit-go/config"
	metrics "github.com/phillip/impact-audit-go/metrics"
	models "github.com/phillip/impact-audit-go/models"
)

type interestStore interface {
	HeldEscrows(ctx context.Context) ([]models.Contribution, error)
	GetProject(ctx context.Context, id primitive.ObjectID) (*models.Project, error)
	ApplyInterest(ctx context.Context, app models.InterestApplication) error
	SumAccruedInterest(ctx context.Context) (int64, error)
	GetPlatformTotals(ctx context.Context) (*models.PlatformTotals, error)
	InsertTicket(ctx context.Context, t *models.Ticket) error
}

// InterestEngine accrues daily interest on held escrow and reconciles the
// platform ledger against it. Runs are re-entrant: the per-record last
// calculation timestamp makes a second run in the same day a no-op, and
// repeated runs compound because principal is not re-derived.
type InterestEngine struct {
	store    interestStore
	notifier *Notifier
	cfg      config.InterestConfig
	now      func() time.Time
}

func NewInterestEngine(store interestStore, notifier *Notifier, cfg config.InterestConfig) *InterestEngine {
	return &InterestEngine{store: store, notifier: notifier, cfg: cfg, now: time.Now}
}

// Run accrues interest on every held escrow record due for a calculation.
// Per-record failures are isolated; the run always returns a summary.
func (e *InterestEngine) Run(ctx context.Context) (models.InterestRunSummary, error) {
	now := e.now()
	summary := models.InterestRunSummary{RunDate: now}

	escrows, err := e.store.HeldEscrows(ctx)
	if err != nil {
		return summary, fmt.Errorf("interest run: %w", err)
	}

	minInterval := time.Duration(e.cfg.MinIntervalHours) * time.Hour

	type projectInfo struct {
		category string
		score    float64
	}
	projects := map[primitive.ObjectID]projectInfo{}

	for i := range escrows {
		c := &escrows[i]

		anchor := c.Escrow.HeldSince
		if c.Escrow.LastInterestCalculation != nil {
			anchor = *c.Escrow.LastInterestCalculation
		}
		if now.Sub(anchor) < minInterval {
			summary.Skipped++
			continue
		}
		daysHeld := int(now.Sub(anchor).Hours() / 24)
		if daysHeld <= 0 {
			summary.Skipped++
			continue
		}

		info, ok := projects[c.ProjectID]
		if !ok {
			project, err := e.store.GetProject(ctx, c.ProjectID)
			if err != nil {
				log.Printf("interest: load project %s: %v", c.ProjectID.Hex(), err)
				summary.Failed++
				continue
			}
			info = projectInfo{category: project.Category, score: project.AuditScore}
			projects[c.ProjectID] = info
		}

		holdingDays := int(now.Sub(c.Escrow.HeldSince).Hours() / 24)
		rate := e.rateFor(info.category, info.score, holdingDays)
		earned := int64(math.Round(float64(c.Escrow.Principal) * (rate / 365) * float64(daysHeld)))

		app := models.InterestApplication{
			ContributionID:  c.ID,
			ContributorID:   c.ContributorID,
			ProjectID:       c.ProjectID,
			Principal:       c.Escrow.Principal,
			Rate:            rate,
			DaysHeld:        daysHeld,
			Earned:          earned,
			CalculationDate: now,
		}
		if err := e.store.ApplyInterest(ctx, app); err != nil {
			log.Printf("interest: apply to contribution %s: %v", c.ID.Hex(), err)
			summary.Failed++
			continue
		}

		summary.Processed++
		summary.InterestAccrued += earned
		metrics.InterestRecordsProcessed.Inc()
		metrics.InterestAccrued.Add(float64(earned))
	}

	metrics.InterestRuns.Inc()
	return summary, nil
}

// rateFor is the annual rate for one escrow record: category base plus the
// project-performance bonus plus the holding-duration bonus, capped.
func (e *InterestEngine) rateFor(category string, projectScore float64, holdingDays int) float64 {
	rate, ok := e.cfg.BaseRates[category]
	if !ok {
		rate = e.cfg.DefaultRate
	}

	switch {
	case projectScore >= e.cfg.PerformanceBonusHighScore:
		rate += e.cfg.PerformanceBonusHigh
	case projectScore >= e.cfg.PerformanceBonusLowScore:
		rate += e.cfg.PerformanceBonusLow
	}

	switch {
	case holdingDays >= e.cfg.HoldingBonusLongDays:
		rate += e.cfg.HoldingBonusLong
	case holdingDays >= e.cfg.HoldingBonusShortDays:
		rate += e.cfg.HoldingBonusShort
	}

	if rate > e.cfg.MaxRate {
		rate = e.cfg.MaxRate
	}
	return rate
}

// Reconcile compares the summed accrued interest across contributions with
// the platform running total. A discrepancy beyond tolerance opens a
// critical ticket and alerts operators; the ledger is never auto-corrected.
func (e *InterestEngine) Reconcile(ctx context.Context) (models.IntegrityReport, error) {
	now := e.now()

	escrowTotal, err := e.store.SumAccruedInterest(ctx)
	if err != nil {
		return models.IntegrityReport{}, fmt.Errorf("reconcile: %w", err)
	}
	totals, err := e.store.GetPlatformTotals(ctx)
	if err != nil {
		return models.IntegrityReport{}, fmt.Errorf("reconcile: %w", err)
	}

	diff := escrowTotal - totals.TotalAccruedInterest
	report := models.IntegrityReport{
		CheckedAt:       now,
		EscrowTotal:     escrowTotal,
		LedgerTotal:     totals.TotalAccruedInterest,
		Difference:      diff,
		WithinTolerance: abs64(diff) <= e.cfg.ToleranceCents,
	}
	if report.WithinTolerance {
		return report, nil
	}

	ticket := models.Ticket{
		Kind:      models.TicketIntegrity,
		Reference: uuid.NewString(),
		Reason:    "interest_ledger_discrepancy",
		Severity:  models.SeverityCritical,
		Subject:   "Interest ledger out of tolerance",
		Details: fmt.Sprintf("escrow total %d cents, platform ledger %d cents, difference %d cents (tolerance %d)",
			escrowTotal, totals.TotalAccruedInterest, diff, e.cfg.ToleranceCents),
		SuggestedActions: []string{
			"Freeze interest runs until resolved",
			"Compare interest_calculations rows against escrow accrued totals",
			"Audit recent settlement activity for missed ledger writes",
		},
		Status:    models.TicketOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.InsertTicket(ctx, &ticket); err != nil {
		return report, fmt.Errorf("reconcile: open integrity ticket: %w", err)
	}
	report.TicketReference = ticket.Reference
	metrics.IntegrityDiscrepancies.Inc()

	e.notifier.NotifyOps(ctx, models.NotifyIntegrityAlert, map[string]string{
		"difference": strconv.FormatInt(diff, 10),
		"ticket":     ticket.Reference,
	})

	return report, nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
