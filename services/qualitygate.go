// Package services holds the engine workflows: auditor matching, the
// assignment lifecycle, the report quality gate, settlement, compensation and
// interest accrual. Each service takes its tuning block from config and a
// narrow view of the store so tests can run against fakes.
package services

import (
	"math"
	"strings"

	config "github.com/phillip/impact-audit-go/config"
	models "github.com/phillip/impact-audit-go/models"
)

// ValidateReport is the quality gate: every consistency rule a submitted
// report must pass before anything is written. The first violated rule wins
// and is returned as a ValidationError; the caller must not settle on one.
func ValidateReport(cfg config.QualityConfig, audit *models.Audit, milestone models.Milestone, sub models.ReportSubmission) error {
	if !milestone.AuditRequired || milestone.Status != models.MilestoneSubmitted {
		return models.Validationf(models.RuleMilestoneState,
			"milestone %s is not awaiting audit (status %s)", milestone.ID, milestone.Status)
	}

	switch sub.Decision {
	case models.DecisionApproved, models.DecisionRejected, models.DecisionNeedsRevision:
	default:
		return models.Validationf(models.RuleInvalidDecision, "unknown decision %q", sub.Decision)
	}

	if len(sub.CriteriaResults) == 0 {
		return models.Validationf(models.RuleEmptyCriteria, "report has no criteria results")
	}

	if sub.Score < 0 || sub.Score > 100 {
		return models.Validationf(models.RuleScoreRange, "overall score %.1f out of range [0,100]", sub.Score)
	}
	for _, cr := range sub.CriteriaResults {
		if cr.Score < 0 || cr.Score > 100 {
			return models.Validationf(models.RuleScoreRange,
				"criterion %q score %.1f out of range [0,100]", cr.Name, cr.Score)
		}
	}

	var sum float64
	for _, cr := range sub.CriteriaResults {
		sum += cr.Score
	}
	avg := sum / float64(len(sub.CriteriaResults))
	if math.Abs(sub.Score-avg) > cfg.MaxScoreVariance {
		return models.Validationf(models.RuleScoreVariance,
			"overall score %.1f deviates from criteria average %.1f by more than %.1f",
			sub.Score, avg, cfg.MaxScoreVariance)
	}

	submitted := make(map[string]bool, len(sub.CriteriaResults))
	for _, cr := range sub.CriteriaResults {
		submitted[cr.Name] = true
	}
	var missing []string
	for _, c := range audit.Criteria {
		if c.Required && !submitted[c.Name] {
			missing = append(missing, c.Name)
		}
	}
	if len(missing) > 0 {
		return models.Validationf(models.RuleMissingCriteria,
			"missing required criteria: %s", strings.Join(missing, ", "))
	}

	switch sub.Decision {
	case models.DecisionApproved:
		if sub.Score < cfg.MinApprovalScore {
			return models.Validationf(models.RuleDecisionBounds,
				"approved requires score >= %.0f, got %.1f", cfg.MinApprovalScore, sub.Score)
		}
	case models.DecisionRejected:
		if sub.Score > cfg.MaxRejectionScore {
			return models.Validationf(models.RuleDecisionBounds,
				"rejected requires score <= %.0f, got %.1f", cfg.MaxRejectionScore, sub.Score)
		}
	case models.DecisionNeedsRevision:
		if len(sub.Recommendations) < cfg.MinRecommendations {
			return models.Validationf(models.RuleRecommendations,
				"needs_revision requires at least %d recommendations, got %d",
				cfg.MinRecommendations, len(sub.Recommendations))
		}
	}

	if sub.Score < cfg.WeaknessScoreThreshold && len(sub.Weaknesses) == 0 {
		return models.Validationf(models.RuleMissingWeaknesses,
			"score %.1f below %.0f requires documented weaknesses", sub.Score, cfg.WeaknessScoreThreshold)
	}

	if sub.Decision == models.DecisionApproved && len(sub.Documentation) < cfg.MinDocumentationRefs {
		return models.Validationf(models.RuleMissingDocumentation,
			"approved decision requires at least %d documentation reference(s)", cfg.MinDocumentationRefs)
	}

	return nil
}
