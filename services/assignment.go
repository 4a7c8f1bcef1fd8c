package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	config "github.com/phillip/impact-audit-go/config"
	metrics "github.com/phillip/impact-audit-go/metrics"
	models "github.com/phillip/impact-audit-go/models"
)

type assignmentStore interface {
	GetRequest(ctx context.Context, id primitive.ObjectID) (*models.AuditRequest, error)
	PendingRequests(ctx context.Context) ([]models.AuditRequest, error)
	ListRequests(ctx context.Context, status string) ([]models.AuditRequest, error)
	OfferRequest(ctx context.Context, requestID, auditorID, assignmentID primitive.ObjectID, deadline, now time.Time) error
	ReopenRequest(ctx context.Context, requestID primitive.ObjectID, incRejection bool, now time.Time) error
	MarkRequestAssigned(ctx context.Context, requestID primitive.ObjectID, now time.Time) error
	MarkRequestEscalated(ctx context.Context, requestID primitive.ObjectID, now time.Time) error
	ReassignEscalated(ctx context.Context, requestID primitive.ObjectID, now time.Time) error

	InsertAssignment(ctx context.Context, a *models.AuditAssignment) error
	GetAssignment(ctx context.Context, id primitive.ObjectID) (*models.AuditAssignment, error)
	OverdueAssignments(ctx context.Context, now time.Time) ([]models.AuditAssignment, error)
	DueReminders(ctx context.Context, now, windowEnd time.Time) ([]models.AuditAssignment, error)
	ExpireAssignment(ctx context.Context, id primitive.ObjectID, now time.Time) error
	RespondAssignment(ctx context.Context, id primitive.ObjectID, status models.AssignmentStatus, now time.Time) error
	ClaimReminder(ctx context.Context, id primitive.ObjectID, now time.Time) error
	VoidAssignment(ctx context.Context, id primitive.ObjectID, now time.Time) error

	GetAuditor(ctx context.Context, id primitive.ObjectID) (*models.Auditor, error)
	AdjustAuditorCounters(ctx context.Context, id primitive.ObjectID, delta models.AuditorCounterDelta) error
	InsertAudit(ctx context.Context, a *models.Audit) error
	InsertTicket(ctx context.Context, t *models.Ticket) error
	ResolveTicketsForRequest(ctx context.Context, requestID primitive.ObjectID, now time.Time) error
}

// AssignOutcome reports how AssignRequest resolved.
type AssignOutcome string

const (
	OutcomeAssigned  AssignOutcome = "assigned"
	OutcomeEscalated AssignOutcome = "escalated"
	// OutcomeSkipped means another worker claimed the request first.
	OutcomeSkipped AssignOutcome = "skipped"
)

// Assigner drives the assignment lifecycle: matching an auditor to a
// request, sweeping stale offers back into the queue, and escalating requests
// the automation cannot place.
type Assigner struct {
	store    assignmentStore
	matcher  *Matcher
	notifier *Notifier
	cfg      config.AssignmentConfig
	now      func() time.Time
}

func NewAssigner(store assignmentStore, matcher *Matcher, notifier *Notifier, cfg config.AssignmentConfig) *Assigner {
	return &Assigner{store: store, matcher: matcher, notifier: notifier, cfg: cfg, now: time.Now}
}

// AssignRequest offers the request to the top-scored candidate. No candidate
// at all escalates with reason no_qualified_auditors; an assignment write
// failure escalates with reason assignment_failed and leaves the request in
// the queue.
func (a *Assigner) AssignRequest(ctx context.Context, req *models.AuditRequest) (AssignOutcome, error) {
	now := a.now()

	candidates, err := a.matcher.TopCandidates(ctx, req)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("match candidates: %w", err)
	}
	if len(candidates) == 0 {
		if err := a.Escalate(ctx, req, models.EscalationNoQualifiedAuditors); err != nil {
			return OutcomeSkipped, err
		}
		return OutcomeEscalated, nil
	}

	pick := candidates[0].Auditor
	assignment := &models.AuditAssignment{
		AuditRequestID:     req.ID,
		AuditorID:          pick.ID,
		Status:             models.AssignmentPendingAcceptance,
		AssignedAt:         now,
		AcceptanceDeadline: now.Add(time.Duration(a.cfg.AcceptanceWindowHours) * time.Hour),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := a.store.InsertAssignment(ctx, assignment); err != nil {
		log.Printf("assignment: insert for request %s: %v", req.ID.Hex(), err)
		if eerr := a.Escalate(ctx, req, models.EscalationAssignmentFailed); eerr != nil {
			return OutcomeSkipped, eerr
		}
		return OutcomeEscalated, nil
	}

	err = a.store.OfferRequest(ctx, req.ID, pick.ID, assignment.ID, assignment.AcceptanceDeadline, now)
	if errors.Is(err, models.ErrVersionConflict) {
		// Another worker placed the request first; retire our orphan offer.
		if verr := a.store.VoidAssignment(ctx, assignment.ID, now); verr != nil {
			log.Printf("assignment: void orphan %s: %v", assignment.ID.Hex(), verr)
		}
		return OutcomeSkipped, nil
	}
	if err != nil {
		log.Printf("assignment: offer request %s: %v", req.ID.Hex(), err)
		if verr := a.store.VoidAssignment(ctx, assignment.ID, now); verr != nil {
			log.Printf("assignment: void orphan %s: %v", assignment.ID.Hex(), verr)
		}
		if eerr := a.Escalate(ctx, req, models.EscalationAssignmentFailed); eerr != nil {
			return OutcomeSkipped, eerr
		}
		return OutcomeEscalated, nil
	}

	if err := a.store.AdjustAuditorCounters(ctx, pick.ID, models.AuditorCounterDelta{PendingAssignments: 1}); err != nil {
		log.Printf("assignment: bump pending counter for %s: %v", pick.ID.Hex(), err)
	}

	a.notifier.Send(ctx, models.NotificationInput{
		RecipientID: pick.ID,
		Email:       pick.Email,
		Name:        pick.Name,
		Kind:        models.NotifyAssignmentOffer,
		Data: map[string]string{
			"request_id": req.ID.Hex(),
			"category":   req.Category,
			"deadline":   assignment.AcceptanceDeadline.UTC().Format(time.RFC3339),
		},
	})

	metrics.AssignmentsCreated.Inc()
	return OutcomeAssigned, nil
}

// Accept records the auditor's acceptance and opens the audit engagement.
func (a *Assigner) Accept(ctx context.Context, assignmentID, auditorID primitive.ObjectID) (*models.Audit, error) {
	now := a.now()

	assignment, err := a.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if assignment.AuditorID != auditorID {
		return nil, models.ErrForbidden
	}
	if assignment.Status != models.AssignmentPendingAcceptance {
		return nil, models.Validationf(models.RuleAssignmentState,
			"assignment is %s, not awaiting acceptance", assignment.Status)
	}
	if now.After(assignment.AcceptanceDeadline) {
		return nil, models.Validationf(models.RuleAssignmentState,
			"acceptance deadline passed at %s", assignment.AcceptanceDeadline.UTC().Format(time.RFC3339))
	}

	if err := a.store.RespondAssignment(ctx, assignmentID, models.AssignmentAccepted, now); err != nil {
		return nil, err
	}

	req, err := a.store.GetRequest(ctx, assignment.AuditRequestID)
	if err != nil {
		return nil, err
	}
	if err := a.store.MarkRequestAssigned(ctx, req.ID, now); err != nil {
		// A conflict means another worker moved the request and owns the
		// follow-up. Anything else strands it in pending_acceptance behind an
		// accepted assignment the sweep no longer watches, so park it.
		if !errors.Is(err, models.ErrVersionConflict) {
			if eerr := a.Escalate(ctx, req, models.EscalationAssignmentFailed); eerr != nil {
				log.Printf("assignment: escalate accept failure for %s: %v", req.ID.Hex(), eerr)
			}
		}
		return nil, err
	}

	audit := &models.Audit{
		ProjectID:      req.ProjectID,
		AuditRequestID: req.ID,
		AuditorID:      auditorID,
		Category:       req.Category,
		Status:         models.AuditAccepted,
		Deadline:       a.auditDeadline(req, now),
		Criteria:       a.auditCriteria(req),
		Compensation: models.AuditCompensation{
			Amount: a.baseFee(req.EstimatedAmount),
			Status: models.CompensationPending,
		},
		CurrentMilestone: req.MilestoneID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := a.store.InsertAudit(ctx, audit); err != nil {
		// The acceptance is committed; without its audit document the request
		// cannot move again. Park it with operators.
		if eerr := a.Escalate(ctx, req, models.EscalationAssignmentFailed); eerr != nil {
			log.Printf("assignment: escalate accept failure for %s: %v", req.ID.Hex(), eerr)
		}
		return nil, fmt.Errorf("open audit for request %s: %w", req.ID.Hex(), err)
	}

	if err := a.store.AdjustAuditorCounters(ctx, auditorID, models.AuditorCounterDelta{
		PendingAssignments: -1,
		ActiveAudits:       1,
	}); err != nil {
		log.Printf("assignment: counters on accept for %s: %v", auditorID.Hex(), err)
	}

	return audit, nil
}

// Decline records the decline, returns the request to the queue, and either
// escalates (too many rejections) or immediately retries assignment.
func (a *Assigner) Decline(ctx context.Context, assignmentID, auditorID primitive.ObjectID) error {
	now := a.now()

	assignment, err := a.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return err
	}
	if assignment.AuditorID != auditorID {
		return models.ErrForbidden
	}
	if assignment.Status != models.AssignmentPendingAcceptance {
		return models.Validationf(models.RuleAssignmentState,
			"assignment is %s, not awaiting acceptance", assignment.Status)
	}

	if err := a.store.RespondAssignment(ctx, assignmentID, models.AssignmentDeclined, now); err != nil {
		return err
	}

	if err := a.store.AdjustAuditorCounters(ctx, auditorID, models.AuditorCounterDelta{
		PendingAssignments:  -1,
		DeclinedAssignments: 1,
	}); err != nil {
		log.Printf("assignment: counters on decline for %s: %v", auditorID.Hex(), err)
	}

	if err := a.store.ReopenRequest(ctx, assignment.AuditRequestID, true, now); err != nil {
		return fmt.Errorf("reopen request after decline: %w", err)
	}

	req, err := a.store.GetRequest(ctx, assignment.AuditRequestID)
	if err != nil {
		return err
	}
	if req.RejectionCount >= a.cfg.MaxRejections {
		return a.Escalate(ctx, req, models.EscalationRepeatedRejections)
	}

	// Best-effort immediate retry; the sweep covers anything this misses.
	if _, err := a.AssignRequest(ctx, req); err != nil {
		log.Printf("assignment: retry after decline for %s: %v", req.ID.Hex(), err)
	}
	return nil
}

// Reassign is the operator path out of escalation: resolve the open tickets,
// put the request back in the queue and run assignment once.
func (a *Assigner) Reassign(ctx context.Context, requestID primitive.ObjectID) (AssignOutcome, error) {
	now := a.now()

	current, err := a.store.GetRequest(ctx, requestID)
	if err != nil {
		return OutcomeSkipped, err
	}
	if current.Status != models.RequestEscalated {
		return OutcomeSkipped, models.Validationf(models.RuleRequestState,
			"request is %s, not escalated", current.Status)
	}

	if err := a.store.ReassignEscalated(ctx, requestID, now); err != nil {
		return OutcomeSkipped, err
	}
	if err := a.store.ResolveTicketsForRequest(ctx, requestID, now); err != nil {
		log.Printf("assignment: resolve tickets for %s: %v", requestID.Hex(), err)
	}

	req, err := a.store.GetRequest(ctx, requestID)
	if err != nil {
		return OutcomeSkipped, err
	}
	return a.AssignRequest(ctx, req)
}

// Sweep is the periodic queue pass: expire overdue offers, send one reminder
// per offer nearing its deadline, place pending requests, and escalate
// urgent requests the queue cannot serve in time. Re-entrant; every mutation
// is guarded so concurrent sweeps cannot double-apply.
func (a *Assigner) Sweep(ctx context.Context) (models.SweepSummary, error) {
	now := a.now()
	summary := models.SweepSummary{RunDate: now}

	a.expireOverdue(ctx, now, &summary)
	a.sendReminders(ctx, now, &summary)
	a.assignPending(ctx, now, &summary)
	a.escalateStalledUrgent(ctx, now, &summary)

	metrics.SweepRuns.Inc()
	return summary, nil
}

func (a *Assigner) expireOverdue(ctx context.Context, now time.Time, summary *models.SweepSummary) {
	overdue, err := a.store.OverdueAssignments(ctx, now)
	if err != nil {
		log.Printf("sweep: list overdue assignments: %v", err)
		summary.Failed++
		return
	}

	for i := range overdue {
		assignment := &overdue[i]

		err := a.store.ExpireAssignment(ctx, assignment.ID, now)
		if errors.Is(err, models.ErrVersionConflict) {
			continue // responded or expired in the meantime
		}
		if err != nil {
			log.Printf("sweep: expire assignment %s: %v", assignment.ID.Hex(), err)
			summary.Failed++
			continue
		}

		if err := a.store.AdjustAuditorCounters(ctx, assignment.AuditorID, models.AuditorCounterDelta{
			PendingAssignments: -1,
			ExpiredAssignments: 1,
		}); err != nil {
			log.Printf("sweep: counters on expiry for %s: %v", assignment.AuditorID.Hex(), err)
		}

		err = a.store.ReopenRequest(ctx, assignment.AuditRequestID, false, now)
		if err != nil && !errors.Is(err, models.ErrVersionConflict) {
			log.Printf("sweep: reopen request %s: %v", assignment.AuditRequestID.Hex(), err)
		}

		a.notifyAuditor(ctx, assignment.AuditorID, models.NotifyAssignmentExpired, map[string]string{
			"assignment_id": assignment.ID.Hex(),
		})

		summary.Expired++
		metrics.AssignmentsExpired.Inc()
	}
}

func (a *Assigner) sendReminders(ctx context.Context, now time.Time, summary *models.SweepSummary) {
	windowEnd := now.Add(time.Duration(a.cfg.ReminderWindowHours) * time.Hour)
	due, err := a.store.DueReminders(ctx, now, windowEnd)
	if err != nil {
		log.Printf("sweep: list due reminders: %v", err)
		summary.Failed++
		return
	}

	for i := range due {
		assignment := &due[i]

		err := a.store.ClaimReminder(ctx, assignment.ID, now)
		if errors.Is(err, models.ErrVersionConflict) {
			continue // another sweep claimed it
		}
		if err != nil {
			log.Printf("sweep: claim reminder %s: %v", assignment.ID.Hex(), err)
			summary.Failed++
			continue
		}

		a.notifyAuditor(ctx, assignment.AuditorID, models.NotifyAssignmentReminder, map[string]string{
			"assignment_id": assignment.ID.Hex(),
			"deadline":      assignment.AcceptanceDeadline.UTC().Format(time.RFC3339),
		})

		summary.RemindersSent++
		metrics.RemindersSent.Inc()
	}
}

func (a *Assigner) assignPending(ctx context.Context, now time.Time, summary *models.SweepSummary) {
	pending, err := a.store.PendingRequests(ctx)
	if err != nil {
		log.Printf("sweep: list pending requests: %v", err)
		summary.Failed++
		return
	}

	urgentWindow := time.Duration(a.cfg.UrgentEscalationWindowHours) * time.Hour
	for i := range pending {
		req := &pending[i]

		if req.Priority == models.PriorityUrgent && req.Deadline.Sub(now) <= urgentWindow {
			if err := a.Escalate(ctx, req, models.EscalationUrgentPriority); err != nil {
				log.Printf("sweep: escalate urgent request %s: %v", req.ID.Hex(), err)
				summary.Failed++
				continue
			}
			summary.Escalated++
			continue
		}

		outcome, err := a.AssignRequest(ctx, req)
		if err != nil {
			log.Printf("sweep: assign request %s: %v", req.ID.Hex(), err)
			summary.Failed++
			continue
		}
		switch outcome {
		case OutcomeAssigned:
			summary.Assigned++
		case OutcomeEscalated:
			summary.Escalated++
		}
	}
}

// escalateStalledUrgent pulls urgent requests whose offer is still
// unanswered this close to the audit deadline out of the queue entirely.
func (a *Assigner) escalateStalledUrgent(ctx context.Context, now time.Time, summary *models.SweepSummary) {
	waiting, err := a.store.ListRequests(ctx, string(models.RequestPendingAcceptance))
	if err != nil {
		log.Printf("sweep: list waiting requests: %v", err)
		summary.Failed++
		return
	}

	urgentWindow := time.Duration(a.cfg.UrgentEscalationWindowHours) * time.Hour
	for i := range waiting {
		req := &waiting[i]
		if req.Priority != models.PriorityUrgent || req.Deadline.Sub(now) > urgentWindow {
			continue
		}

		if req.AssignmentID != nil {
			if err := a.store.VoidAssignment(ctx, *req.AssignmentID, now); err != nil {
				log.Printf("sweep: void stalled offer %s: %v", req.AssignmentID.Hex(), err)
			}
		}
		if req.AssignedAuditorID != nil {
			if err := a.store.AdjustAuditorCounters(ctx, *req.AssignedAuditorID, models.AuditorCounterDelta{
				PendingAssignments: -1,
			}); err != nil {
				log.Printf("sweep: counters on urgent escalation for %s: %v", req.AssignedAuditorID.Hex(), err)
			}
		}

		if err := a.Escalate(ctx, req, models.EscalationUrgentPriority); err != nil {
			log.Printf("sweep: escalate stalled urgent %s: %v", req.ID.Hex(), err)
			summary.Failed++
			continue
		}
		summary.Escalated++
	}
}

// Escalate opens the manual-intervention ticket, parks the request and
// alerts operators. Terminal until an operator calls Reassign.
func (a *Assigner) Escalate(ctx context.Context, req *models.AuditRequest, reason models.EscalationReason) error {
	now := a.now()

	ticket := models.Ticket{
		Kind:             models.TicketEscalation,
		Reference:        uuid.NewString(),
		Reason:           string(reason),
		Severity:         escalationSeverity(reason),
		Subject:          fmt.Sprintf("Audit request %s needs manual assignment", req.ID.Hex()),
		Details:          escalationDetails(req, reason),
		SuggestedActions: escalationActions(req, reason),
		AuditRequestID:   &req.ID,
		Status:           models.TicketOpen,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := a.store.InsertTicket(ctx, &ticket); err != nil {
		return fmt.Errorf("open escalation ticket: %w", err)
	}

	err := a.store.MarkRequestEscalated(ctx, req.ID, now)
	if err != nil && !errors.Is(err, models.ErrVersionConflict) {
		return fmt.Errorf("mark request escalated: %w", err)
	}

	a.notifier.NotifyOps(ctx, models.NotifyEscalation, map[string]string{
		"request_id": req.ID.Hex(),
		"reason":     string(reason),
		"ticket":     ticket.Reference,
	})

	metrics.Escalations.WithLabelValues(string(reason)).Inc()
	return nil
}

func (a *Assigner) notifyAuditor(ctx context.Context, auditorID primitive.ObjectID, kind models.NotificationKind, data map[string]string) {
	in := models.NotificationInput{RecipientID: auditorID, Kind: kind, Data: data}
	if auditor, err := a.store.GetAuditor(ctx, auditorID); err == nil {
		in.Email = auditor.Email
		in.Name = auditor.Name
	}
	a.notifier.Send(ctx, in)
}

func (a *Assigner) auditDeadline(req *models.AuditRequest, now time.Time) time.Time {
	if !req.Deadline.IsZero() {
		return req.Deadline
	}
	return now.AddDate(0, 0, a.cfg.AuditDeadlineDays)
}

func (a *Assigner) auditCriteria(req *models.AuditRequest) []models.AuditCriterion {
	if len(req.Criteria) > 0 {
		return req.Criteria
	}
	return a.cfg.DefaultCriteria
}

func (a *Assigner) baseFee(estimatedAmount int64) int64 {
	fee := int64(math.Round(float64(estimatedAmount) * a.cfg.FeeRate))
	if fee < a.cfg.MinBaseFee {
		return a.cfg.MinBaseFee
	}
	if fee > a.cfg.MaxBaseFee {
		return a.cfg.MaxBaseFee
	}
	return fee
}

func escalationSeverity(reason models.EscalationReason) models.TicketSeverity {
	switch reason {
	case models.EscalationAssignmentFailed, models.EscalationUrgentPriority:
		return models.SeverityHigh
	default:
		return models.SeverityMedium
	}
}

func escalationDetails(req *models.AuditRequest, reason models.EscalationReason) string {
	return fmt.Sprintf("project %s milestone %s (category %s, complexity %s, fee estimate %d cents): %s after %d rejection(s)",
		req.ProjectID.Hex(), req.MilestoneID, req.Category, req.Complexity,
		req.EstimatedAmount, reason, req.RejectionCount)
}

func escalationActions(req *models.AuditRequest, reason models.EscalationReason) []string {
	switch reason {
	case models.EscalationNoQualifiedAuditors:
		return []string{
			"Review the request's required qualifications and fee estimate",
			fmt.Sprintf("Recruit auditors for the %s category", req.Category),
			"Relax the complexity constraint if acceptable",
		}
	case models.EscalationAssignmentFailed:
		return []string{
			"Inspect assignment write failures in the service logs",
			"Re-queue the request once the fault is cleared",
		}
	case models.EscalationRepeatedRejections:
		return []string{
			"Review the audit fee against the work involved",
			"Contact the declining auditors for feedback",
			"Assign an auditor manually",
		}
	case models.EscalationUrgentPriority:
		return []string{
			"Assign an auditor manually today",
			"Extend the audit deadline with the project creator",
		}
	default:
		return []string{"Review the request manually"}
	}
}
