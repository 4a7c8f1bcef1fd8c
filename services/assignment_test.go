package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	config "github.com/phillip/impact-audit-go/config"
	models "github.com/phillip/impact-audit-go/models"
)

var assignNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type counterCall struct {
	auditorID primitive.ObjectID
	delta     models.AuditorCounterDelta
}

// fakeAssignStore keeps live request/assignment state and applies the same
// status guards the real store enforces, so lifecycle races surface as
// ErrVersionConflict here too.
type fakeAssignStore struct {
	requests    map[primitive.ObjectID]*models.AuditRequest
	reqOrder    []primitive.ObjectID
	assignments map[primitive.ObjectID]*models.AuditAssignment
	asgOrder    []primitive.ObjectID
	auditors    map[primitive.ObjectID]*models.Auditor
	audOrder    []primitive.ObjectID

	offerErr        error
	insertAsgErr    error
	markAssignedErr error
	insertAuditErr  error
	ticketErr       error

	audits       []*models.Audit
	tickets      []models.Ticket
	voided       []primitive.ObjectID
	resolvedReqs []primitive.ObjectID
	counterCalls []counterCall
}

func newFakeAssignStore() *fakeAssignStore {
	return &fakeAssignStore{
		requests:    map[primitive.ObjectID]*models.AuditRequest{},
		assignments: map[primitive.ObjectID]*models.AuditAssignment{},
		auditors:    map[primitive.ObjectID]*models.Auditor{},
	}
}

func (f *fakeAssignStore) addRequest(r *models.AuditRequest) *models.AuditRequest {
	if r.ID.IsZero() {
		r.ID = primitive.NewObjectID()
	}
	f.requests[r.ID] = r
	f.reqOrder = append(f.reqOrder, r.ID)
	return r
}

func (f *fakeAssignStore) addAssignment(a *models.AuditAssignment) *models.AuditAssignment {
	if a.ID.IsZero() {
		a.ID = primitive.NewObjectID()
	}
	f.assignments[a.ID] = a
	f.asgOrder = append(f.asgOrder, a.ID)
	return a
}

func (f *fakeAssignStore) addAuditor(a *models.Auditor) *models.Auditor {
	if a.ID.IsZero() {
		a.ID = primitive.NewObjectID()
	}
	f.auditors[a.ID] = a
	f.audOrder = append(f.audOrder, a.ID)
	return a
}

func (f *fakeAssignStore) GetRequest(ctx context.Context, id primitive.ObjectID) (*models.AuditRequest, error) {
	if r, ok := f.requests[id]; ok {
		return r, nil
	}
	return nil, models.ErrNotFound
}

func (f *fakeAssignStore) PendingRequests(ctx context.Context) ([]models.AuditRequest, error) {
	var out []models.AuditRequest
	for _, id := range f.reqOrder {
		if f.requests[id].Status == models.RequestPendingAssignment {
			out = append(out, *f.requests[id])
		}
	}
	return out, nil
}

func (f *fakeAssignStore) ListRequests(ctx context.Context, status string) ([]models.AuditRequest, error) {
	var out []models.AuditRequest
	for _, id := range f.reqOrder {
		if status == "" || string(f.requests[id].Status) == status {
			out = append(out, *f.requests[id])
		}
	}
	return out, nil
}

func (f *fakeAssignStore) OfferRequest(ctx context.Context, requestID, auditorID, assignmentID primitive.ObjectID, deadline, now time.Time) error {
	if f.offerErr != nil {
		return f.offerErr
	}
	r, ok := f.requests[requestID]
	if !ok || r.Status != models.RequestPendingAssignment {
		return models.ErrVersionConflict
	}
	r.Status = models.RequestPendingAcceptance
	r.AssignedAuditorID = &auditorID
	r.AssignmentID = &assignmentID
	r.AssignmentDeadline = &deadline
	return nil
}

func (f *fakeAssignStore) ReopenRequest(ctx context.Context, requestID primitive.ObjectID, incRejection bool, now time.Time) error {
	r, ok := f.requests[requestID]
	if !ok || r.Status != models.RequestPendingAcceptance {
		return models.ErrVersionConflict
	}
	r.Status = models.RequestPendingAssignment
	r.AssignedAuditorID = nil
	r.AssignmentID = nil
	r.AssignmentDeadline = nil
	if incRejection {
		r.RejectionCount++
	}
	return nil
}

func (f *fakeAssignStore) MarkRequestAssigned(ctx context.Context, requestID primitive.ObjectID, now time.Time) error {
	if f.markAssignedErr != nil {
		return f.markAssignedErr
	}
	r, ok := f.requests[requestID]
	if !ok || r.Status != models.RequestPendingAcceptance {
		return models.ErrVersionConflict
	}
	r.Status = models.RequestAssigned
	return nil
}

func (f *fakeAssignStore) MarkRequestEscalated(ctx context.Context, requestID primitive.ObjectID, now time.Time) error {
	r, ok := f.requests[requestID]
	if !ok || (r.Status != models.RequestPendingAssignment && r.Status != models.RequestPendingAcceptance) {
		return models.ErrVersionConflict
	}
	r.Status = models.RequestEscalated
	r.AssignedAuditorID = nil
	r.AssignmentID = nil
	r.AssignmentDeadline = nil
	return nil
}

func (f *fakeAssignStore) ReassignEscalated(ctx context.Context, requestID primitive.ObjectID, now time.Time) error {
	r, ok := f.requests[requestID]
	if !ok || r.Status != models.RequestEscalated {
		return models.ErrVersionConflict
	}
	r.Status = models.RequestPendingAssignment
	r.RejectionCount = 0
	return nil
}

func (f *fakeAssignStore) InsertAssignment(ctx context.Context, a *models.AuditAssignment) error {
	if f.insertAsgErr != nil {
		return f.insertAsgErr
	}
	f.addAssignment(a)
	return nil
}

func (f *fakeAssignStore) GetAssignment(ctx context.Context, id primitive.ObjectID) (*models.AuditAssignment, error) {
	if a, ok := f.assignments[id]; ok {
		return a, nil
	}
	return nil, models.ErrNotFound
}

func (f *fakeAssignStore) OverdueAssignments(ctx context.Context, now time.Time) ([]models.AuditAssignment, error) {
	var out []models.AuditAssignment
	for _, id := range f.asgOrder {
		a := f.assignments[id]
		if a.Status == models.AssignmentPendingAcceptance && a.AcceptanceDeadline.Before(now) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeAssignStore) DueReminders(ctx context.Context, now, windowEnd time.Time) ([]models.AuditAssignment, error) {
	var out []models.AuditAssignment
	for _, id := range f.asgOrder {
		a := f.assignments[id]
		if a.Status == models.AssignmentPendingAcceptance && !a.ReminderSent &&
			!a.AcceptanceDeadline.Before(now) && !a.AcceptanceDeadline.After(windowEnd) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeAssignStore) ExpireAssignment(ctx context.Context, id primitive.ObjectID, now time.Time) error {
	a, ok := f.assignments[id]
	if !ok || a.Status != models.AssignmentPendingAcceptance {
		return models.ErrVersionConflict
	}
	a.Status = models.AssignmentExpired
	return nil
}

func (f *fakeAssignStore) RespondAssignment(ctx context.Context, id primitive.ObjectID, status models.AssignmentStatus, now time.Time) error {
	a, ok := f.assignments[id]
	if !ok || a.Status != models.AssignmentPendingAcceptance {
		return models.ErrVersionConflict
	}
	a.Status = status
	a.RespondedAt = &now
	return nil
}

func (f *fakeAssignStore) ClaimReminder(ctx context.Context, id primitive.ObjectID, now time.Time) error {
	a, ok := f.assignments[id]
	if !ok || a.Status != models.AssignmentPendingAcceptance || a.ReminderSent {
		return models.ErrVersionConflict
	}
	a.ReminderSent = true
	return nil
}

func (f *fakeAssignStore) VoidAssignment(ctx context.Context, id primitive.ObjectID, now time.Time) error {
	if a, ok := f.assignments[id]; ok {
		a.Status = models.AssignmentExpired
	}
	f.voided = append(f.voided, id)
	return nil
}

func (f *fakeAssignStore) GetAuditor(ctx context.Context, id primitive.ObjectID) (*models.Auditor, error) {
	if a, ok := f.auditors[id]; ok {
		return a, nil
	}
	return nil, models.ErrNotFound
}

func (f *fakeAssignStore) AdjustAuditorCounters(ctx context.Context, id primitive.ObjectID, delta models.AuditorCounterDelta) error {
	f.counterCalls = append(f.counterCalls, counterCall{id, delta})
	if a, ok := f.auditors[id]; ok {
		a.PendingAssignments += delta.PendingAssignments
		a.ExpiredAssignments += delta.ExpiredAssignments
		a.DeclinedAssignments += delta.DeclinedAssignments
		a.ActiveAudits += delta.ActiveAudits
	}
	return nil
}

func (f *fakeAssignStore) InsertAudit(ctx context.Context, a *models.Audit) error {
	if f.insertAuditErr != nil {
		return f.insertAuditErr
	}
	if a.ID.IsZero() {
		a.ID = primitive.NewObjectID()
	}
	f.audits = append(f.audits, a)
	return nil
}

func (f *fakeAssignStore) InsertTicket(ctx context.Context, t *models.Ticket) error {
	if f.ticketErr != nil {
		return f.ticketErr
	}
	f.tickets = append(f.tickets, *t)
	return nil
}

func (f *fakeAssignStore) ResolveTicketsForRequest(ctx context.Context, requestID primitive.ObjectID, now time.Time) error {
	f.resolvedReqs = append(f.resolvedReqs, requestID)
	return nil
}

// EligibleAuditors also backs the Matcher so the harness runs real matching.
func (f *fakeAssignStore) EligibleAuditors(ctx context.Context) ([]models.Auditor, error) {
	var out []models.Auditor
	for _, id := range f.audOrder {
		a := f.auditors[id]
		if a.Active && a.IdentityVerified && a.AuditingEnabled {
			out = append(out, *a)
		}
	}
	return out, nil
}

func newAssignHarness() (*Assigner, *fakeAssignStore, *fakeNoteStore) {
	store := newFakeAssignStore()
	notifier, notes := newTestNotifier()
	cfg := config.DefaultEngineConfig()
	a := NewAssigner(store, NewMatcher(store, cfg.Matching), notifier, cfg.Assignment)
	a.now = func() time.Time { return assignNow }
	return a, store, notes
}

func readyAuditor(name string) *models.Auditor {
	return &models.Auditor{
		ID:                  primitive.NewObjectID(),
		Name:                name,
		Email:               name + "@example.com",
		Active:              true,
		IdentityVerified:    true,
		AuditingEnabled:     true,
		Qualifications:      []string{"certified_auditor"},
		FeeRangeMin:         1_000,
		FeeRangeMax:         10_000_000,
		MaxConcurrentAudits: 5,
	}
}

func pendingRequest() *models.AuditRequest {
	return &models.AuditRequest{
		ID:                     primitive.NewObjectID(),
		ProjectID:              primitive.NewObjectID(),
		MilestoneID:            "m1",
		Category:               "education",
		Complexity:             "medium",
		RequiredQualifications: []string{"certified_auditor"},
		EstimatedAmount:        1_000_000,
		Deadline:               assignNow.AddDate(0, 0, 30),
		Priority:               models.PriorityNormal,
		Status:                 models.RequestPendingAssignment,
		CreatedAt:              assignNow.Add(-time.Hour),
	}
}

func TestAssignRequest_OffersTopCandidate(t *testing.T) {
	a, store, notes := newAssignHarness()
	auditor := store.addAuditor(readyAuditor("ann"))
	req := store.addRequest(pendingRequest())

	outcome, err := a.AssignRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("AssignRequest: %v", err)
	}
	if outcome != OutcomeAssigned {
		t.Fatalf("outcome = %s, want assigned", outcome)
	}

	if len(store.asgOrder) != 1 {
		t.Fatalf("assignments = %d, want 1", len(store.asgOrder))
	}
	assignment := store.assignments[store.asgOrder[0]]
	if assignment.AuditorID != auditor.ID || assignment.Status != models.AssignmentPendingAcceptance {
		t.Errorf("assignment = %+v, want pending offer to ann", assignment)
	}
	wantDeadline := assignNow.Add(24 * time.Hour)
	if !assignment.AcceptanceDeadline.Equal(wantDeadline) {
		t.Errorf("AcceptanceDeadline = %v, want %v", assignment.AcceptanceDeadline, wantDeadline)
	}

	if req.Status != models.RequestPendingAcceptance {
		t.Errorf("request status = %s, want pending_acceptance", req.Status)
	}
	if req.AssignedAuditorID == nil || *req.AssignedAuditorID != auditor.ID {
		t.Error("request missing assigned auditor reference")
	}
	if auditor.PendingAssignments != 1 {
		t.Errorf("PendingAssignments = %d, want 1", auditor.PendingAssignments)
	}

	if len(notes.notes) != 1 || notes.notes[0].Kind != models.NotifyAssignmentOffer {
		t.Fatalf("notifications = %+v, want one offer", notes.notes)
	}
	if notes.notes[0].Data["deadline"] != wantDeadline.UTC().Format(time.RFC3339) {
		t.Errorf("offer deadline = %q", notes.notes[0].Data["deadline"])
	}
}

// No qualified candidate: the request escalates instead of sitting silently.
func TestAssignRequest_NoCandidatesEscalates(t *testing.T) {
	a, store, notes := newAssignHarness()
	req := store.addRequest(pendingRequest())

	outcome, err := a.AssignRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("AssignRequest: %v", err)
	}
	if outcome != OutcomeEscalated {
		t.Fatalf("outcome = %s, want escalated", outcome)
	}

	if len(store.asgOrder) != 0 {
		t.Errorf("assignments = %d, want none", len(store.asgOrder))
	}
	if store.requests[req.ID].Status != models.RequestEscalated {
		t.Errorf("request status = %s, want escalated", store.requests[req.ID].Status)
	}
	if len(store.tickets) != 1 {
		t.Fatalf("tickets = %d, want 1", len(store.tickets))
	}
	ticket := store.tickets[0]
	if ticket.Kind != models.TicketEscalation || ticket.Reason != string(models.EscalationNoQualifiedAuditors) {
		t.Errorf("ticket = %s/%s", ticket.Kind, ticket.Reason)
	}
	if ticket.Severity != models.SeverityMedium {
		t.Errorf("Severity = %s, want medium", ticket.Severity)
	}
	if ticket.AuditRequestID == nil || *ticket.AuditRequestID != req.ID {
		t.Error("ticket missing request reference")
	}
	if len(notes.notes) != 1 || notes.notes[0].Kind != models.NotifyEscalation {
		t.Errorf("notifications = %+v, want one ops escalation alert", notes.notes)
	}
}

// Losing the offer race to another worker is not an error and not an
// escalation; the orphaned assignment is retired.
func TestAssignRequest_LostRaceIsSkipped(t *testing.T) {
	a, store, _ := newAssignHarness()
	store.addAuditor(readyAuditor("ann"))
	req := store.addRequest(pendingRequest())
	req.Status = models.RequestPendingAcceptance // another worker placed it already

	snapshot := *req
	snapshot.Status = models.RequestPendingAssignment // this worker's stale read

	outcome, err := a.AssignRequest(context.Background(), &snapshot)
	if err != nil {
		t.Fatalf("AssignRequest: %v", err)
	}
	if outcome != OutcomeSkipped {
		t.Fatalf("outcome = %s, want skipped", outcome)
	}
	if len(store.voided) != 1 {
		t.Errorf("voided = %d, want the orphan offer retired", len(store.voided))
	}
	if len(store.tickets) != 0 {
		t.Errorf("tickets = %d, want none for a lost race", len(store.tickets))
	}
}

func TestAssignRequest_OfferFailureEscalates(t *testing.T) {
	a, store, _ := newAssignHarness()
	store.addAuditor(readyAuditor("ann"))
	req := store.addRequest(pendingRequest())
	store.offerErr = errors.New("connection reset")

	outcome, err := a.AssignRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("AssignRequest: %v", err)
	}
	if outcome != OutcomeEscalated {
		t.Fatalf("outcome = %s, want escalated", outcome)
	}
	if len(store.voided) != 1 {
		t.Error("orphan assignment should be voided")
	}
	if len(store.tickets) != 1 || store.tickets[0].Reason != string(models.EscalationAssignmentFailed) {
		t.Fatalf("tickets = %+v, want assignment_failed", store.tickets)
	}
	if store.tickets[0].Severity != models.SeverityHigh {
		t.Errorf("Severity = %s, want high", store.tickets[0].Severity)
	}
}

func TestAccept_OpensAudit(t *testing.T) {
	a, store, _ := newAssignHarness()
	auditor := store.addAuditor(readyAuditor("ann"))
	auditor.PendingAssignments = 1
	req := store.addRequest(pendingRequest())
	req.Status = models.RequestPendingAcceptance
	assignment := store.addAssignment(&models.AuditAssignment{
		AuditRequestID:     req.ID,
		AuditorID:          auditor.ID,
		Status:             models.AssignmentPendingAcceptance,
		AcceptanceDeadline: assignNow.Add(10 * time.Hour),
	})

	audit, err := a.Accept(context.Background(), assignment.ID, auditor.ID)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}

	if assignment.Status != models.AssignmentAccepted || assignment.RespondedAt == nil {
		t.Errorf("assignment = %+v, want accepted with response time", assignment)
	}
	if req.Status != models.RequestAssigned {
		t.Errorf("request status = %s, want assigned", req.Status)
	}

	if audit.Status != models.AuditAccepted || audit.AuditorID != auditor.ID {
		t.Errorf("audit = %+v, want accepted for ann", audit)
	}
	if audit.CurrentMilestone != "m1" || audit.ProjectID != req.ProjectID {
		t.Errorf("audit references = %s/%s", audit.CurrentMilestone, audit.ProjectID.Hex())
	}
	if !audit.Deadline.Equal(req.Deadline) {
		t.Errorf("Deadline = %v, want the request deadline %v", audit.Deadline, req.Deadline)
	}
	// round(1,000,000 x 0.05) = 50,000 inside the clamp band.
	if audit.Compensation.Amount != 50_000 {
		t.Errorf("base fee = %d, want 50000", audit.Compensation.Amount)
	}
	if audit.Compensation.Status != models.CompensationPending {
		t.Errorf("compensation status = %s, want pending", audit.Compensation.Status)
	}
	if len(audit.Criteria) != 3 {
		t.Errorf("criteria = %d, want the 3 defaults", len(audit.Criteria))
	}

	if auditor.PendingAssignments != 0 || auditor.ActiveAudits != 1 {
		t.Errorf("counters = pending %d / active %d, want 0/1",
			auditor.PendingAssignments, auditor.ActiveAudits)
	}
}

func TestAccept_WrongAuditorIsForbidden(t *testing.T) {
	a, store, _ := newAssignHarness()
	auditor := store.addAuditor(readyAuditor("ann"))
	req := store.addRequest(pendingRequest())
	assignment := store.addAssignment(&models.AuditAssignment{
		AuditRequestID:     req.ID,
		AuditorID:          auditor.ID,
		Status:             models.AssignmentPendingAcceptance,
		AcceptanceDeadline: assignNow.Add(10 * time.Hour),
	})

	if _, err := a.Accept(context.Background(), assignment.ID, primitive.NewObjectID()); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	if assignment.Status != models.AssignmentPendingAcceptance {
		t.Error("assignment must stay untouched")
	}
}

func TestAccept_AfterDeadlineIsRejected(t *testing.T) {
	a, store, _ := newAssignHarness()
	auditor := store.addAuditor(readyAuditor("ann"))
	req := store.addRequest(pendingRequest())
	assignment := store.addAssignment(&models.AuditAssignment{
		AuditRequestID:     req.ID,
		AuditorID:          auditor.ID,
		Status:             models.AssignmentPendingAcceptance,
		AcceptanceDeadline: assignNow.Add(-time.Minute),
	})

	_, err := a.Accept(context.Background(), assignment.ID, auditor.ID)
	var ve *models.ValidationError
	if !errors.As(err, &ve) || ve.Rule != models.RuleAssignmentState {
		t.Fatalf("err = %v, want assignment_not_open validation error", err)
	}
}

// The audit-open failure lands after the acceptance writes are committed, so
// the request must surface to operators instead of stalling silently.
func TestAccept_AuditOpenFailureEscalates(t *testing.T) {
	a, store, notes := newAssignHarness()
	auditor := store.addAuditor(readyAuditor("ann"))
	auditor.PendingAssignments = 1
	req := store.addRequest(pendingRequest())
	req.Status = models.RequestPendingAcceptance
	assignment := store.addAssignment(&models.AuditAssignment{
		AuditRequestID:     req.ID,
		AuditorID:          auditor.ID,
		Status:             models.AssignmentPendingAcceptance,
		AcceptanceDeadline: assignNow.Add(10 * time.Hour),
	})
	store.insertAuditErr = errors.New("write timeout")

	_, err := a.Accept(context.Background(), assignment.ID, auditor.ID)
	if err == nil {
		t.Fatal("expected the audit-open failure to propagate")
	}

	if len(store.audits) != 0 {
		t.Errorf("audits = %d, want none", len(store.audits))
	}
	if len(store.tickets) != 1 {
		t.Fatalf("tickets = %d, want 1", len(store.tickets))
	}
	ticket := store.tickets[0]
	if ticket.Reason != string(models.EscalationAssignmentFailed) {
		t.Errorf("ticket reason = %s, want assignment_failed", ticket.Reason)
	}
	if ticket.AuditRequestID == nil || *ticket.AuditRequestID != req.ID {
		t.Error("ticket missing request reference")
	}
	// The committed transition stands; the ticket is the recovery path.
	if req.Status != models.RequestAssigned {
		t.Errorf("request status = %s, want assigned", req.Status)
	}
	if assignment.Status != models.AssignmentAccepted {
		t.Errorf("assignment status = %s, want accepted", assignment.Status)
	}
	if len(notes.notes) != 1 || notes.notes[0].Kind != models.NotifyEscalation {
		t.Errorf("notifications = %+v, want one ops escalation alert", notes.notes)
	}
}

// Failing to mark the request assigned leaves it in pending_acceptance behind
// an accepted assignment, which no sweep pass watches. The park here succeeds
// outright and the operator path can reopen it.
func TestAccept_AssignedMarkFailureEscalates(t *testing.T) {
	a, store, _ := newAssignHarness()
	auditor := store.addAuditor(readyAuditor("ann"))
	req := store.addRequest(pendingRequest())
	req.Status = models.RequestPendingAcceptance
	assignment := store.addAssignment(&models.AuditAssignment{
		AuditRequestID:     req.ID,
		AuditorID:          auditor.ID,
		Status:             models.AssignmentPendingAcceptance,
		AcceptanceDeadline: assignNow.Add(10 * time.Hour),
	})
	store.markAssignedErr = errors.New("write timeout")

	if _, err := a.Accept(context.Background(), assignment.ID, auditor.ID); err == nil {
		t.Fatal("expected the failure to propagate")
	}

	if len(store.tickets) != 1 || store.tickets[0].Reason != string(models.EscalationAssignmentFailed) {
		t.Fatalf("tickets = %+v, want assignment_failed", store.tickets)
	}
	if req.Status != models.RequestEscalated {
		t.Errorf("request status = %s, want escalated", req.Status)
	}
}

// A request that moved under the acceptance is a lost race, not a failure:
// the winning worker owns the follow-up, so no ticket opens here.
func TestAccept_RequestMovedConcurrentlyIsConflict(t *testing.T) {
	a, store, _ := newAssignHarness()
	auditor := store.addAuditor(readyAuditor("ann"))
	req := store.addRequest(pendingRequest())
	req.Status = models.RequestEscalated
	assignment := store.addAssignment(&models.AuditAssignment{
		AuditRequestID:     req.ID,
		AuditorID:          auditor.ID,
		Status:             models.AssignmentPendingAcceptance,
		AcceptanceDeadline: assignNow.Add(10 * time.Hour),
	})

	_, err := a.Accept(context.Background(), assignment.ID, auditor.ID)
	if !errors.Is(err, models.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}
	if len(store.tickets) != 0 {
		t.Errorf("tickets = %d, want none for a lost race", len(store.tickets))
	}
}

func TestBaseFee_Clamped(t *testing.T) {
	a, _, _ := newAssignHarness()

	tests := []struct {
		estimated int64
		want      int64
	}{
		{1_000_000, 50_000},   // inside the band
		{10_000, 5_000},       // round(500) clamped up to the floor
		{10_000_000, 250_000}, // round(500000) clamped down to the cap
	}
	for _, tt := range tests {
		if got := a.baseFee(tt.estimated); got != tt.want {
			t.Errorf("baseFee(%d) = %d, want %d", tt.estimated, got, tt.want)
		}
	}
}

func TestDecline_ReopensAndRetries(t *testing.T) {
	a, store, _ := newAssignHarness()
	decliner := store.addAuditor(readyAuditor("ann"))
	decliner.PendingAssignments = 1
	backup := store.addAuditor(readyAuditor("ben"))
	backup.Specializations = []string{"education"}
	req := store.addRequest(pendingRequest())
	req.PreferredSpecializations = []string{"education"}
	req.Status = models.RequestPendingAcceptance
	assignment := store.addAssignment(&models.AuditAssignment{
		AuditRequestID:     req.ID,
		AuditorID:          decliner.ID,
		Status:             models.AssignmentPendingAcceptance,
		AcceptanceDeadline: assignNow.Add(10 * time.Hour),
	})

	if err := a.Decline(context.Background(), assignment.ID, decliner.ID); err != nil {
		t.Fatalf("Decline: %v", err)
	}

	if assignment.Status != models.AssignmentDeclined {
		t.Errorf("assignment status = %s, want declined", assignment.Status)
	}
	if decliner.PendingAssignments != 0 || decliner.DeclinedAssignments != 1 {
		t.Errorf("counters = %d pending / %d declined, want 0/1",
			decliner.PendingAssignments, decliner.DeclinedAssignments)
	}
	if req.RejectionCount != 1 {
		t.Errorf("RejectionCount = %d, want 1", req.RejectionCount)
	}
	// The immediate retry re-offered the request to the next candidate.
	if req.Status != models.RequestPendingAcceptance {
		t.Errorf("request status = %s, want re-offered", req.Status)
	}
	if len(store.asgOrder) != 2 {
		t.Fatalf("assignments = %d, want a fresh offer after the decline", len(store.asgOrder))
	}
	if retry := store.assignments[store.asgOrder[1]]; retry.AuditorID != backup.ID {
		t.Errorf("retry offered to %s, want the specialized backup", retry.AuditorID.Hex())
	}
}

func TestDecline_TooManyRejectionsEscalates(t *testing.T) {
	a, store, _ := newAssignHarness()
	decliner := store.addAuditor(readyAuditor("ann"))
	req := store.addRequest(pendingRequest())
	req.Status = models.RequestPendingAcceptance
	req.RejectionCount = 2 // this decline is the third strike
	assignment := store.addAssignment(&models.AuditAssignment{
		AuditRequestID:     req.ID,
		AuditorID:          decliner.ID,
		Status:             models.AssignmentPendingAcceptance,
		AcceptanceDeadline: assignNow.Add(10 * time.Hour),
	})

	if err := a.Decline(context.Background(), assignment.ID, decliner.ID); err != nil {
		t.Fatalf("Decline: %v", err)
	}

	if req.Status != models.RequestEscalated {
		t.Errorf("request status = %s, want escalated", req.Status)
	}
	if len(store.tickets) != 1 || store.tickets[0].Reason != string(models.EscalationRepeatedRejections) {
		t.Fatalf("tickets = %+v, want repeated_rejections", store.tickets)
	}
	if len(store.asgOrder) != 1 {
		t.Errorf("assignments = %d, want no retry after escalation", len(store.asgOrder))
	}
}

// An expired offer reopens the request, and the same sweep places it again.
func TestSweep_ExpiresAndReassigns(t *testing.T) {
	a, store, notes := newAssignHarness()
	auditor := store.addAuditor(readyAuditor("ann"))
	auditor.PendingAssignments = 1
	req := store.addRequest(pendingRequest())
	req.Status = models.RequestPendingAcceptance
	stale := store.addAssignment(&models.AuditAssignment{
		AuditRequestID:     req.ID,
		AuditorID:          auditor.ID,
		Status:             models.AssignmentPendingAcceptance,
		AcceptanceDeadline: assignNow.Add(-time.Hour),
	})

	summary, err := a.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if summary.Expired != 1 || summary.Assigned != 1 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want 1 expired and 1 reassigned", summary)
	}
	if stale.Status != models.AssignmentExpired {
		t.Errorf("stale assignment status = %s, want expired", stale.Status)
	}
	if auditor.ExpiredAssignments != 1 {
		t.Errorf("ExpiredAssignments = %d, want 1", auditor.ExpiredAssignments)
	}
	if req.Status != models.RequestPendingAcceptance {
		t.Errorf("request status = %s, want re-offered", req.Status)
	}

	kinds := map[models.NotificationKind]int{}
	for _, n := range notes.notes {
		kinds[n.Kind]++
	}
	if kinds[models.NotifyAssignmentExpired] != 1 || kinds[models.NotifyAssignmentOffer] != 1 {
		t.Errorf("notifications = %v, want one expiry and one fresh offer", kinds)
	}
}

func TestSweep_SendsReminderExactlyOnce(t *testing.T) {
	a, store, notes := newAssignHarness()
	auditor := store.addAuditor(readyAuditor("ann"))
	req := store.addRequest(pendingRequest())
	req.Status = models.RequestPendingAcceptance
	assignment := store.addAssignment(&models.AuditAssignment{
		AuditRequestID:     req.ID,
		AuditorID:          auditor.ID,
		Status:             models.AssignmentPendingAcceptance,
		AcceptanceDeadline: assignNow.Add(3 * time.Hour),
	})

	first, err := a.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if first.RemindersSent != 1 {
		t.Fatalf("first sweep reminders = %d, want 1", first.RemindersSent)
	}
	if !assignment.ReminderSent {
		t.Error("ReminderSent flag not set")
	}

	second, err := a.Sweep(context.Background())
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if second.RemindersSent != 0 {
		t.Errorf("second sweep reminders = %d, want 0", second.RemindersSent)
	}

	reminders := 0
	for _, n := range notes.notes {
		if n.Kind == models.NotifyAssignmentReminder {
			reminders++
		}
	}
	if reminders != 1 {
		t.Errorf("reminder notifications = %d, want exactly 1", reminders)
	}
}

// Urgent requests too close to their deadline go straight to a person.
func TestSweep_UrgentNearDeadlineEscalates(t *testing.T) {
	a, store, _ := newAssignHarness()
	store.addAuditor(readyAuditor("ann")) // qualified, but too late for automation
	req := store.addRequest(pendingRequest())
	req.Priority = models.PriorityUrgent
	req.Deadline = assignNow.Add(24 * time.Hour)

	summary, err := a.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if summary.Escalated != 1 || summary.Assigned != 0 {
		t.Errorf("summary = %+v, want escalation instead of assignment", summary)
	}
	if len(store.tickets) != 1 || store.tickets[0].Reason != string(models.EscalationUrgentPriority) {
		t.Fatalf("tickets = %+v, want urgent_priority", store.tickets)
	}
	if store.tickets[0].Severity != models.SeverityHigh {
		t.Errorf("Severity = %s, want high", store.tickets[0].Severity)
	}
}

func TestSweep_StalledUrgentOfferIsPulled(t *testing.T) {
	a, store, _ := newAssignHarness()
	auditor := store.addAuditor(readyAuditor("ann"))
	auditor.PendingAssignments = 1
	req := store.addRequest(pendingRequest())
	assignment := store.addAssignment(&models.AuditAssignment{
		AuditRequestID:     req.ID,
		AuditorID:          auditor.ID,
		Status:             models.AssignmentPendingAcceptance,
		AcceptanceDeadline: assignNow.Add(20 * time.Hour),
	})
	req.Priority = models.PriorityUrgent
	req.Deadline = assignNow.Add(24 * time.Hour)
	req.Status = models.RequestPendingAcceptance
	req.AssignedAuditorID = &auditor.ID
	req.AssignmentID = &assignment.ID

	summary, err := a.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if summary.Escalated != 1 {
		t.Errorf("summary = %+v, want 1 escalated", summary)
	}
	if len(store.voided) != 1 || store.voided[0] != assignment.ID {
		t.Errorf("voided = %v, want the stalled offer", store.voided)
	}
	if auditor.PendingAssignments != 0 {
		t.Errorf("PendingAssignments = %d, want 0", auditor.PendingAssignments)
	}
	if req.Status != models.RequestEscalated {
		t.Errorf("request status = %s, want escalated", req.Status)
	}
}

func TestReassign_ResolvesTicketsAndRequeues(t *testing.T) {
	a, store, _ := newAssignHarness()
	store.addAuditor(readyAuditor("ann"))
	req := store.addRequest(pendingRequest())
	req.Status = models.RequestEscalated
	req.RejectionCount = 3

	outcome, err := a.Reassign(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("Reassign: %v", err)
	}
	if outcome != OutcomeAssigned {
		t.Fatalf("outcome = %s, want assigned", outcome)
	}
	if len(store.resolvedReqs) != 1 || store.resolvedReqs[0] != req.ID {
		t.Errorf("resolved tickets for %v, want the request", store.resolvedReqs)
	}
	if req.RejectionCount != 0 {
		t.Errorf("RejectionCount = %d, want reset to 0", req.RejectionCount)
	}
	if req.Status != models.RequestPendingAcceptance {
		t.Errorf("request status = %s, want re-offered", req.Status)
	}
}

func TestReassign_OnlyEscalatedRequests(t *testing.T) {
	a, store, _ := newAssignHarness()
	req := store.addRequest(pendingRequest()) // still pending_assignment

	_, err := a.Reassign(context.Background(), req.ID)
	if !models.IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}
	var ve *models.ValidationError
	errors.As(err, &ve)
	if ve.Rule != models.RuleRequestState {
		t.Errorf("rule = %s, want %s", ve.Rule, models.RuleRequestState)
	}
}
