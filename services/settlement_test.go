package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	config "github.com/phillip/impact-audit-go/config"
	models "github.com/phillip/impact-audit-go/models"
	utils "github.com/phillip/impact-audit-go/utils"
)

type releaseCall struct {
	contributionID primitive.ObjectID
	milestoneID    string
	amount         int64
	transferID     string
}

type fakeSettlementStore struct {
	mu sync.Mutex

	applyErr    error
	heldErr     error
	held        []models.Contribution
	releaseErrs map[primitive.ObjectID]error

	patches      []models.MilestoneAuditPatch
	auditPatches []models.AuditCompletionPatch
	released     []releaseCall
	closed       []primitive.ObjectID
}

func (f *fakeSettlementStore) ApplyMilestoneDecision(ctx context.Context, patch models.MilestoneAuditPatch, auditPatch models.AuditCompletionPatch) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, patch)
	f.auditPatches = append(f.auditPatches, auditPatch)
	return nil
}

func (f *fakeSettlementStore) HeldContributionsForMilestone(ctx context.Context, projectID primitive.ObjectID, milestoneID string) ([]models.Contribution, error) {
	return f.held, f.heldErr
}

func (f *fakeSettlementStore) MarkEntryReleased(ctx context.Context, contributionID primitive.ObjectID, milestoneID string, amount int64, transferID string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.releaseErrs[contributionID]; err != nil {
		return err
	}
	f.released = append(f.released, releaseCall{contributionID, milestoneID, amount, transferID})
	return nil
}

func (f *fakeSettlementStore) CloseSettledEscrow(ctx context.Context, contributionID primitive.ObjectID, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, contributionID)
	return nil
}

// countingTransfer succeeds unless the contribution id is listed in fail.
func countingTransfer(fail map[string]bool) (TransferFunc, *int32Counter) {
	counter := &int32Counter{}
	return func(ctx context.Context, req utils.TransferRequest) (*utils.TransferResult, error) {
		counter.inc()
		if fail[req.Metadata["contribution_id"]] {
			return nil, errors.New("provider unavailable")
		}
		return &utils.TransferResult{TransferID: "tr_" + req.Reference[:8], Status: "completed"}, nil
	}, counter
}

type int32Counter struct {
	mu sync.Mutex
	n  int
}

func (c *int32Counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *int32Counter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func settlementProject(autoRelease bool) *models.Project {
	score80 := 80.0
	return &models.Project{
		ID:                primitive.NewObjectID(),
		CreatorID:         primitive.NewObjectID(),
		Category:          "education",
		Version:           7,
		AutoRelease:       autoRelease,
		PayoutDestination: "acct_school",
		Milestones: []models.Milestone{
			{ID: "m0", Status: models.MilestoneApproved, AuditScore: &score80},
			{ID: "m1", Status: models.MilestoneSubmitted, AuditRequired: true},
		},
	}
}

func heldContribution(projectID primitive.ObjectID, amount int64, milestoneID string) models.Contribution {
	return models.Contribution{
		ID:            primitive.NewObjectID(),
		ProjectID:     projectID,
		ContributorID: primitive.NewObjectID(),
		Amount:        amount,
		Currency:      "USD",
		Status:        models.ContributionConfirmed,
		Escrow:        models.Escrow{Held: true, Principal: amount},
		ReleaseSchedule: []models.ReleaseScheduleEntry{
			{MilestoneID: milestoneID, Amount: amount},
		},
	}
}

func settlementAudit(projectID primitive.ObjectID) *models.Audit {
	return &models.Audit{
		ID:               primitive.NewObjectID(),
		ProjectID:        projectID,
		AuditorID:        primitive.NewObjectID(),
		Status:           models.AuditInProgress,
		CurrentMilestone: "m1",
	}
}

func approvedReport(score float64) models.AuditReport {
	return models.AuditReport{Decision: models.DecisionApproved, Score: score}
}

func newTestSettler(store *fakeSettlementStore, transfer TransferFunc) *Settler {
	s := NewSettler(store, transfer, config.SettlementConfig{BatchSize: 4})
	s.now = func() time.Time { return time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestDecisionStatus(t *testing.T) {
	tests := []struct {
		decision models.Decision
		want     models.MilestoneStatus
	}{
		{models.DecisionApproved, models.MilestoneApproved},
		{models.DecisionRejected, models.MilestoneRejected},
		{models.DecisionNeedsRevision, models.MilestoneNeedsRevision},
	}
	for _, tt := range tests {
		if got := decisionStatus(tt.decision); got != tt.want {
			t.Errorf("decisionStatus(%s) = %s, want %s", tt.decision, got, tt.want)
		}
	}
}

func TestApplyDecision_ApprovedReleasesEscrow(t *testing.T) {
	project := settlementProject(true)
	c1 := heldContribution(project.ID, 6_000, "m1")
	c2 := heldContribution(project.ID, 4_000, "m1")
	store := &fakeSettlementStore{held: []models.Contribution{c1, c2}}
	transfer, calls := countingTransfer(nil)
	s := newTestSettler(store, transfer)

	milestone, _ := project.FindMilestone("m1")
	result, err := s.ApplyDecision(context.Background(), project, milestone, settlementAudit(project.ID), approvedReport(92))
	if err != nil {
		t.Fatalf("ApplyDecision: %v", err)
	}

	if result.MilestoneStatus != models.MilestoneApproved {
		t.Errorf("MilestoneStatus = %s, want approved", result.MilestoneStatus)
	}
	if !result.AutoRelease {
		t.Error("AutoRelease = false, want true")
	}
	if result.FundsReleased != 10_000 {
		t.Errorf("FundsReleased = %d, want 10000", result.FundsReleased)
	}
	if result.TransfersIssued != 2 || result.TransferFailures != 0 {
		t.Errorf("transfers issued/failed = %d/%d, want 2/0", result.TransfersIssued, result.TransferFailures)
	}
	if calls.value() != 2 {
		t.Errorf("transfer calls = %d, want 2", calls.value())
	}
	if len(store.released) != 2 {
		t.Fatalf("released entries = %d, want 2", len(store.released))
	}
	for _, r := range store.released {
		if r.transferID == "" {
			t.Error("released entry missing transfer reference")
		}
	}
	if len(store.closed) != 2 {
		t.Errorf("close escrow calls = %d, want 2", len(store.closed))
	}

	if len(store.patches) != 1 {
		t.Fatalf("decision patches = %d, want 1", len(store.patches))
	}
	patch := store.patches[0]
	if patch.ExpectedVersion != 7 {
		t.Errorf("ExpectedVersion = %d, want 7", patch.ExpectedVersion)
	}
	if patch.MilestoneStatus != models.MilestoneApproved || patch.AuditScore != 92 {
		t.Errorf("patch = %+v, want approved milestone with score 92", patch)
	}
	// Project score averages the prior audited milestone (80) with this one (92).
	if patch.ProjectAuditScore != 86 {
		t.Errorf("ProjectAuditScore = %v, want 86", patch.ProjectAuditScore)
	}
	if store.auditPatches[0].Status != models.AuditCompleted || store.auditPatches[0].CompletedAt == nil {
		t.Errorf("audit patch = %+v, want completed with timestamp", store.auditPatches[0])
	}
}

// A zero-value settlement config must still run the release pass serially,
// not wedge on an unbuffered semaphore.
func TestApplyDecision_ZeroBatchSizeStillSettles(t *testing.T) {
	project := settlementProject(true)
	c1 := heldContribution(project.ID, 6_000, "m1")
	c2 := heldContribution(project.ID, 4_000, "m1")
	store := &fakeSettlementStore{held: []models.Contribution{c1, c2}}
	transfer, calls := countingTransfer(nil)
	s := NewSettler(store, transfer, config.SettlementConfig{})
	s.now = func() time.Time { return time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC) }

	if s.cfg.BatchSize != 1 {
		t.Fatalf("BatchSize = %d, want floor of 1", s.cfg.BatchSize)
	}

	milestone, _ := project.FindMilestone("m1")
	result, err := s.ApplyDecision(context.Background(), project, milestone, settlementAudit(project.ID), approvedReport(92))
	if err != nil {
		t.Fatalf("ApplyDecision: %v", err)
	}
	if result.TransfersIssued != 2 || result.FundsReleased != 10_000 {
		t.Errorf("issued/funds = %d/%d, want 2/10000", result.TransfersIssued, result.FundsReleased)
	}
	if calls.value() != 2 {
		t.Errorf("transfer calls = %d, want 2", calls.value())
	}
}

// A rejection settles nothing: milestone flips, zero transfers leave.
func TestApplyDecision_RejectedReleasesNothing(t *testing.T) {
	project := settlementProject(true)
	store := &fakeSettlementStore{held: []models.Contribution{heldContribution(project.ID, 6_000, "m1")}}
	transfer, calls := countingTransfer(nil)
	s := newTestSettler(store, transfer)

	milestone, _ := project.FindMilestone("m1")
	report := models.AuditReport{Decision: models.DecisionRejected, Score: 45}
	result, err := s.ApplyDecision(context.Background(), project, milestone, settlementAudit(project.ID), report)
	if err != nil {
		t.Fatalf("ApplyDecision: %v", err)
	}

	if result.MilestoneStatus != models.MilestoneRejected {
		t.Errorf("MilestoneStatus = %s, want rejected", result.MilestoneStatus)
	}
	if result.FundsReleased != 0 || result.TransfersIssued != 0 {
		t.Errorf("funds/transfers = %d/%d, want 0/0", result.FundsReleased, result.TransfersIssued)
	}
	if calls.value() != 0 {
		t.Errorf("transfer calls = %d, want 0", calls.value())
	}
}

func TestApplyDecision_NoAutoRelease(t *testing.T) {
	project := settlementProject(false)
	store := &fakeSettlementStore{held: []models.Contribution{heldContribution(project.ID, 6_000, "m1")}}
	transfer, calls := countingTransfer(nil)
	s := newTestSettler(store, transfer)

	milestone, _ := project.FindMilestone("m1")
	result, err := s.ApplyDecision(context.Background(), project, milestone, settlementAudit(project.ID), approvedReport(92))
	if err != nil {
		t.Fatalf("ApplyDecision: %v", err)
	}
	if result.AutoRelease {
		t.Error("AutoRelease = true, want false")
	}
	if calls.value() != 0 {
		t.Errorf("transfer calls = %d, want 0 when auto-release is off", calls.value())
	}
}

func TestApplyDecision_VersionConflict(t *testing.T) {
	project := settlementProject(true)
	store := &fakeSettlementStore{applyErr: models.ErrVersionConflict}
	transfer, calls := countingTransfer(nil)
	s := newTestSettler(store, transfer)

	milestone, _ := project.FindMilestone("m1")
	_, err := s.ApplyDecision(context.Background(), project, milestone, settlementAudit(project.ID), approvedReport(92))
	if !errors.Is(err, models.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}
	if calls.value() != 0 {
		t.Errorf("transfer calls = %d, want 0 after a conflict", calls.value())
	}
}

// One failing transfer must not block the others, and must never revert the
// committed approval.
func TestApplyDecision_TransferFailureIsIsolated(t *testing.T) {
	project := settlementProject(true)
	c1 := heldContribution(project.ID, 6_000, "m1")
	c2 := heldContribution(project.ID, 4_000, "m1")
	store := &fakeSettlementStore{held: []models.Contribution{c1, c2}}
	transfer, _ := countingTransfer(map[string]bool{c1.ID.Hex(): true})
	s := newTestSettler(store, transfer)

	milestone, _ := project.FindMilestone("m1")
	result, err := s.ApplyDecision(context.Background(), project, milestone, settlementAudit(project.ID), approvedReport(92))
	if err != nil {
		t.Fatalf("ApplyDecision: %v", err)
	}

	if result.TransferFailures != 1 {
		t.Errorf("TransferFailures = %d, want 1", result.TransferFailures)
	}
	if result.FundsReleased != 4_000 || result.TransfersIssued != 1 {
		t.Errorf("funds/issued = %d/%d, want 4000/1", result.FundsReleased, result.TransfersIssued)
	}
	if len(store.patches) != 1 {
		t.Errorf("decision patches = %d, want 1 (approval must stay committed)", len(store.patches))
	}
	if len(store.released) != 1 || store.released[0].contributionID != c2.ID {
		t.Errorf("released = %+v, want only the second contribution", store.released)
	}
}

// An entry another worker already released is skipped, not double-counted.
func TestApplyDecision_ConcurrentReleaseSkipped(t *testing.T) {
	project := settlementProject(true)
	c1 := heldContribution(project.ID, 6_000, "m1")
	c2 := heldContribution(project.ID, 4_000, "m1")
	store := &fakeSettlementStore{
		held:        []models.Contribution{c1, c2},
		releaseErrs: map[primitive.ObjectID]error{c1.ID: models.ErrVersionConflict},
	}
	transfer, _ := countingTransfer(nil)
	s := newTestSettler(store, transfer)

	milestone, _ := project.FindMilestone("m1")
	result, err := s.ApplyDecision(context.Background(), project, milestone, settlementAudit(project.ID), approvedReport(92))
	if err != nil {
		t.Fatalf("ApplyDecision: %v", err)
	}

	if result.EntriesSkipped != 1 {
		t.Errorf("EntriesSkipped = %d, want 1", result.EntriesSkipped)
	}
	if result.FundsReleased != 4_000 {
		t.Errorf("FundsReleased = %d, want 4000", result.FundsReleased)
	}
	if result.TransferFailures != 0 {
		t.Errorf("TransferFailures = %d, want 0", result.TransferFailures)
	}
}

func TestApplyDecision_NeedsRevisionKeepsAuditOpen(t *testing.T) {
	project := settlementProject(true)
	store := &fakeSettlementStore{}
	transfer, calls := countingTransfer(nil)
	s := newTestSettler(store, transfer)

	milestone, _ := project.FindMilestone("m1")
	report := models.AuditReport{Decision: models.DecisionNeedsRevision, Score: 60}
	result, err := s.ApplyDecision(context.Background(), project, milestone, settlementAudit(project.ID), report)
	if err != nil {
		t.Fatalf("ApplyDecision: %v", err)
	}

	if result.MilestoneStatus != models.MilestoneNeedsRevision {
		t.Errorf("MilestoneStatus = %s, want needs_revision", result.MilestoneStatus)
	}
	if calls.value() != 0 {
		t.Errorf("transfer calls = %d, want 0", calls.value())
	}
	ap := store.auditPatches[0]
	if ap.Status != models.AuditPendingFollowUp {
		t.Errorf("audit status = %s, want pending_follow_up", ap.Status)
	}
	if ap.CompletedAt != nil {
		t.Error("CompletedAt should stay nil for needs_revision")
	}
}
