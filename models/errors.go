package models

import (
	"errors"
	"fmt"
)

// The engine distinguishes three error classes: validation errors are never
// retried and carry the violated rule; version conflicts are retryable after
// a fresh read; everything else is infrastructure and is isolated to the
// failing item by the owning workflow.

var (
	// ErrVersionConflict means an optimistic-concurrency write observed a
	// stale project version. The caller must re-fetch and resubmit.
	ErrVersionConflict = errors.New("stale project version")

	// ErrNotFound wraps a missing document.
	ErrNotFound = errors.New("not found")

	// ErrForbidden means the actor does not own the resource it is mutating.
	ErrForbidden = errors.New("forbidden")
)

// Validation rule codes carried on ValidationError.
const (
	RuleScoreVariance        = "score_variance"
	RuleMissingCriteria      = "missing_required_criteria"
	RuleDecisionBounds       = "decision_score_bounds"
	RuleMissingWeaknesses    = "missing_weaknesses"
	RuleRecommendations      = "insufficient_recommendations"
	RuleMissingDocumentation = "missing_documentation"
	RuleMilestoneState       = "milestone_not_auditable"
	RuleInvalidDecision      = "invalid_decision"
	RuleScoreRange           = "score_out_of_range"
	RuleEmptyCriteria        = "empty_criteria_results"
	RuleAuditState           = "audit_not_open"
	RuleAssignmentState      = "assignment_not_open"
	RuleRequestState         = "request_not_open"
)

// ValidationError is a quality-gate or input failure. It is terminal for the
// request: nothing is mutated and retrying the same payload cannot succeed.
type ValidationError struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string { return e.Message }

// Validationf builds a ValidationError for the given rule.
func Validationf(rule, format string, args ...any) *ValidationError {
	return &ValidationError{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
