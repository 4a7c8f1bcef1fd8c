// Package jobs runs the periodic engine passes inside the API process. The
// same passes are reachable as CLI one-shots for deployments that prefer
// external cron.
package jobs

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	config "github.com/phillip/impact-audit-go/config"
	services "github.com/phillip/impact-audit-go/services"
)

type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler registers the sweep, accrual and reconciliation jobs on the
// cron specs from config. Jobs are idempotent, so overlapping or missed
// ticks are harmless.
func NewScheduler(cfg *config.Config, assigner *services.Assigner, interest *services.InterestEngine) (*Scheduler, error) {
	c := cron.New()

	if _, err := c.AddFunc(cfg.SweepSpec, func() { RunSweep(assigner) }); err != nil {
		return nil, err
	}
	if _, err := c.AddFunc(cfg.AccrualSpec, func() { RunAccrual(interest) }); err != nil {
		return nil, err
	}
	if _, err := c.AddFunc(cfg.ReconcileSpec, func() { RunReconciliation(interest) }); err != nil {
		return nil, err
	}

	return &Scheduler{cron: c}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and returns a context that closes once running jobs
// finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunSweep executes one assignment lifecycle pass.
func RunSweep(assigner *services.Assigner) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	summary, err := assigner.Sweep(ctx)
	if err != nil {
		log.Printf("[sweep] run failed: %v", err)
		return
	}
	log.Printf("[sweep] expired=%d reminders=%d assigned=%d escalated=%d failed=%d",
		summary.Expired, summary.RemindersSent, summary.Assigned, summary.Escalated, summary.Failed)
}

// RunAccrual executes one interest accrual pass.
func RunAccrual(interest *services.InterestEngine) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	summary, err := interest.Run(ctx)
	if err != nil {
		log.Printf("[interest] run failed: %v", err)
		return
	}
	log.Printf("[interest] processed=%d skipped=%d failed=%d accrued=%d cents",
		summary.Processed, summary.Skipped, summary.Failed, summary.InterestAccrued)
}

// RunReconciliation compares escrow interest totals against the platform
// ledger.
func RunReconciliation(interest *services.InterestEngine) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	report, err := interest.Reconcile(ctx)
	if err != nil {
		log.Printf("[reconcile] run failed: %v", err)
		return
	}
	if report.WithinTolerance {
		log.Printf("[reconcile] ledger consistent: escrow=%d ledger=%d diff=%d",
			report.EscrowTotal, report.LedgerTotal, report.Difference)
		return
	}
	log.Printf("[reconcile] DISCREPANCY escrow=%d ledger=%d diff=%d ticket=%s",
		report.EscrowTotal, report.LedgerTotal, report.Difference, report.TicketReference)
}
