package services

import (
	"context"
	"math"
	"sort"

	config "github.com/phillip/impact-audit-go/config"
	models "github.com/phillip/impact-audit-go/models"
)

// Match scoring weights. The relative sizes matter more than the absolute
// values: specialization and track record dominate, spare capacity breaks
// near-ties.
const (
	specializationPoints  = 10
	highScoreBonus        = 20
	goodScoreBonus        = 10
	highScoreThreshold    = 90
	goodScoreThreshold    = 80
	fastCompletionBonus   = 15
	steadyCompletionBonus = 10
	fastCompletionDays    = 7
	steadyCompletionDays  = 14
	capacityWeight        = 15
	maxCategoryExperience = 10
)

type matcherStore interface {
	EligibleAuditors(ctx context.Context) ([]models.Auditor, error)
}

// Matcher selects and ranks auditors for an audit request.
type Matcher struct {
	store matcherStore
	cfg   config.MatchingConfig
}

func NewMatcher(store matcherStore, cfg config.MatchingConfig) *Matcher {
	return &Matcher{store: store, cfg: cfg}
}

// ScoredAuditor pairs a candidate with its match score.
type ScoredAuditor struct {
	Auditor models.Auditor
	Score   int
}

// TopCandidates returns the best-matching auditors for the request, highest
// score first, at most cfg.TopCandidates entries. Ties keep their original
// order. An empty result is not an error; it means the request must
// escalate.
func (m *Matcher) TopCandidates(ctx context.Context, req *models.AuditRequest) ([]ScoredAuditor, error) {
	auditors, err := m.store.EligibleAuditors(ctx)
	if err != nil {
		return nil, err
	}

	var scored []ScoredAuditor
	for i := range auditors {
		a := &auditors[i]
		if !eligible(a, req) {
			continue
		}
		scored = append(scored, ScoredAuditor{Auditor: auditors[i], Score: matchScore(a, req)})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if len(scored) > m.cfg.TopCandidates {
		scored = scored[:m.cfg.TopCandidates]
	}
	return scored, nil
}

// eligible applies the hard filters: every required qualification present,
// a free concurrency slot, the fee inside the auditor's accepted range, and
// a compatible complexity preference.
func eligible(a *models.Auditor, req *models.AuditRequest) bool {
	quals := make(map[string]bool, len(a.Qualifications))
	for _, q := range a.Qualifications {
		quals[q] = true
	}
	for _, q := range req.RequiredQualifications {
		if !quals[q] {
			return false
		}
	}

	if a.ActiveAudits >= a.MaxConcurrentAudits {
		return false
	}

	if req.EstimatedAmount < a.FeeRangeMin || req.EstimatedAmount > a.FeeRangeMax {
		return false
	}

	if a.PreferredComplexity != "" && a.PreferredComplexity != "any" &&
		a.PreferredComplexity != req.Complexity {
		return false
	}

	return true
}

func matchScore(a *models.Auditor, req *models.AuditRequest) int {
	score := 0

	preferred := make(map[string]bool, len(req.PreferredSpecializations))
	for _, s := range req.PreferredSpecializations {
		preferred[s] = true
	}
	for _, s := range a.Specializations {
		if preferred[s] {
			score += specializationPoints
		}
	}

	if a.Stats.CompletedAudits > 0 {
		switch {
		case a.Stats.AverageScore >= highScoreThreshold:
			score += highScoreBonus
		case a.Stats.AverageScore >= goodScoreThreshold:
			score += goodScoreBonus
		}

		switch {
		case a.Stats.AverageCompletionDays <= fastCompletionDays:
			score += fastCompletionBonus
		case a.Stats.AverageCompletionDays <= steadyCompletionDays:
			score += steadyCompletionBonus
		}
	}

	score += int(math.Round(capacityWeight * (1 - a.Utilization())))

	exp := a.Stats.CategoryExperience[req.Category]
	if exp > maxCategoryExperience {
		exp = maxCategoryExperience
	}
	score += exp

	return score
}
