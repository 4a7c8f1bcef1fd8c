package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	models "github.com/phillip/impact-audit-go/models"
)

// EngineConfig is the immutable tuning for the audit lifecycle and settlement
// engine. Components receive the relevant section at construction; nothing
// reads these values from package state. Compiled defaults can be overridden
// per deployment by a YAML file named in ENGINE_CONFIG_FILE.
type EngineConfig struct {
	Matching     MatchingConfig     `yaml:"matching"`
	Assignment   AssignmentConfig   `yaml:"assignment"`
	Quality      QualityConfig      `yaml:"quality"`
	Settlement   SettlementConfig   `yaml:"settlement"`
	Compensation CompensationConfig `yaml:"compensation"`
	Interest     InterestConfig     `yaml:"interest"`
}

// MatchingConfig tunes candidate selection. Scoring weights are fixed
// constants in the matching service; only the result width is tunable.
type MatchingConfig struct {
	TopCandidates int `yaml:"top_candidates"`
}

// AssignmentConfig tunes the assignment lifecycle state machine.
type AssignmentConfig struct {
	// AcceptanceWindowHours is H in acceptanceDeadline = now + H hours.
	AcceptanceWindowHours int `yaml:"acceptance_window_hours"`
	// ReminderWindowHours is how close to the acceptance deadline the sweep
	// sends the single reminder.
	ReminderWindowHours int `yaml:"reminder_window_hours"`
	// MaxRejections is how many declines a request tolerates before it is
	// escalated with reason repeated_rejections.
	MaxRejections int `yaml:"max_rejections"`
	// UrgentEscalationWindowHours: an urgent request still unassigned this
	// close to its deadline escalates with reason urgent_priority.
	UrgentEscalationWindowHours int `yaml:"urgent_escalation_window_hours"`
	// AuditDeadlineDays is how long an accepted audit gets by default when
	// the originating request carries no explicit deadline.
	AuditDeadlineDays int `yaml:"audit_deadline_days"`

	// Base compensation: clamp(round(estimatedAmount × FeeRate), MinBaseFee,
	// MaxBaseFee), in cents.
	FeeRate    float64 `yaml:"fee_rate"`
	MinBaseFee int64   `yaml:"min_base_fee"`
	MaxBaseFee int64   `yaml:"max_base_fee"`

	// DefaultQualifications are required of candidates when the request
	// names none; DefaultCriteria seed the audit when the request carries no
	// criteria of its own.
	DefaultQualifications []string                `yaml:"default_qualifications"`
	DefaultCriteria       []models.AuditCriterion `yaml:"default_criteria"`
}

// QualityConfig tunes the report quality gate.
type QualityConfig struct {
	// MaxScoreVariance bounds |overall − avg(criteria scores)|.
	MaxScoreVariance float64 `yaml:"max_score_variance"`
	// MinApprovalScore is the floor for decision=approved.
	MinApprovalScore float64 `yaml:"min_approval_score"`
	// MaxRejectionScore is the ceiling for decision=rejected.
	MaxRejectionScore float64 `yaml:"max_rejection_score"`
	// MinRecommendations is required for decision=needs_revision.
	MinRecommendations int `yaml:"min_recommendations"`
	// WeaknessScoreThreshold: below it, the weaknesses list must be non-empty.
	WeaknessScoreThreshold float64 `yaml:"weakness_score_threshold"`
	// MinDocumentationRefs is the documentation-completeness floor for
	// approvals.
	MinDocumentationRefs int `yaml:"min_documentation_refs"`
}

// SettlementConfig tunes the escrow release pass.
type SettlementConfig struct {
	// BatchSize caps concurrent payment-service calls.
	BatchSize int `yaml:"batch_size"`
}

// CompensationConfig tunes auditor pay adjustments.
type CompensationConfig struct {
	QualityBonusScore        float64 `yaml:"quality_bonus_score"`
	QualityBonusMultiplier   float64 `yaml:"quality_bonus_multiplier"`
	QualityPenaltyScore      float64 `yaml:"quality_penalty_score"`
	QualityPenaltyMultiplier float64 `yaml:"quality_penalty_multiplier"`
	// EarlyCompletionHours: finishing more than this many hours before the
	// audit deadline earns the early multiplier.
	EarlyCompletionHours      int     `yaml:"early_completion_hours"`
	EarlyCompletionMultiplier float64 `yaml:"early_completion_multiplier"`
}

// InterestConfig tunes escrow interest accrual and reconciliation.
type InterestConfig struct {
	// BaseRates is the annual rate per project category; DefaultRate covers
	// unknown categories. All rates are fractions (0.03 = 3%).
	BaseRates   map[string]float64 `yaml:"base_rates"`
	DefaultRate float64            `yaml:"default_rate"`
	MaxRate     float64            `yaml:"max_rate"`

	PerformanceBonusHighScore float64 `yaml:"performance_bonus_high_score"`
	PerformanceBonusHigh      float64 `yaml:"performance_bonus_high"`
	PerformanceBonusLowScore  float64 `yaml:"performance_bonus_low_score"`
	PerformanceBonusLow       float64 `yaml:"performance_bonus_low"`

	HoldingBonusLongDays  int     `yaml:"holding_bonus_long_days"`
	HoldingBonusLong      float64 `yaml:"holding_bonus_long"`
	HoldingBonusShortDays int     `yaml:"holding_bonus_short_days"`
	HoldingBonusShort     float64 `yaml:"holding_bonus_short"`

	// MinIntervalHours is the minimum gap between two accruals for the same
	// escrow record.
	MinIntervalHours int `yaml:"min_interval_hours"`
	// ToleranceCents is the reconciliation discrepancy allowed before a
	// critical ticket opens.
	ToleranceCents int64 `yaml:"tolerance_cents"`
}

// DefaultEngineConfig returns the compiled production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Matching: MatchingConfig{
			TopCandidates: 3,
		},
		Assignment: AssignmentConfig{
			AcceptanceWindowHours:       24,
			ReminderWindowHours:         6,
			MaxRejections:               3,
			UrgentEscalationWindowHours: 48,
			AuditDeadlineDays:           14,
			FeeRate:                     0.05,
			MinBaseFee:                  5_000,
			MaxBaseFee:                  250_000,
			DefaultQualifications:       []string{"certified_auditor"},
			DefaultCriteria: []models.AuditCriterion{
				{Name: "evidence_completeness", Description: "submitted evidence covers the milestone deliverables", Required: true},
				{Name: "fund_utilization", Description: "spend matches the milestone budget", Required: true},
				{Name: "impact_delivery", Description: "claimed social impact is supported", Required: false},
			},
		},
		Quality: QualityConfig{
			MaxScoreVariance:       10,
			MinApprovalScore:       70,
			MaxRejectionScore:      50,
			MinRecommendations:     2,
			WeaknessScoreThreshold: 75,
			MinDocumentationRefs:   1,
		},
		Settlement: SettlementConfig{
			BatchSize: 10,
		},
		Compensation: CompensationConfig{
			QualityBonusScore:         90,
			QualityBonusMultiplier:    1.1,
			QualityPenaltyScore:       75,
			QualityPenaltyMultiplier:  0.9,
			EarlyCompletionHours:      48,
			EarlyCompletionMultiplier: 1.05,
		},
		Interest: InterestConfig{
			BaseRates: map[string]float64{
				"education":   0.03,
				"healthcare":  0.035,
				"environment": 0.03,
				"community":   0.025,
			},
			DefaultRate:               0.02,
			MaxRate:                   0.06,
			PerformanceBonusHighScore: 90,
			PerformanceBonusHigh:      0.005,
			PerformanceBonusLowScore:  80,
			PerformanceBonusLow:       0.0025,
			HoldingBonusLongDays:      180,
			HoldingBonusLong:          0.005,
			HoldingBonusShortDays:     90,
			HoldingBonusShort:         0.0025,
			MinIntervalHours:          24,
			ToleranceCents:            100,
		},
	}
}

// LoadEngineConfig returns the defaults overlaid with the YAML file at path.
// An empty path or a missing file keeps the defaults.
func LoadEngineConfig(path string) (EngineConfig, error) {
	cfg := DefaultEngineConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("engine config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("engine config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("engine config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c EngineConfig) validate() error {
	if c.Matching.TopCandidates < 1 {
		return fmt.Errorf("matching.top_candidates must be >= 1")
	}
	if c.Assignment.AcceptanceWindowHours < 1 {
		return fmt.Errorf("assignment.acceptance_window_hours must be >= 1")
	}
	if c.Assignment.MaxRejections < 1 {
		return fmt.Errorf("assignment.max_rejections must be >= 1")
	}
	if c.Quality.MaxScoreVariance < 0 {
		return fmt.Errorf("quality.max_score_variance must be >= 0")
	}
	if c.Quality.MinApprovalScore <= c.Quality.MaxRejectionScore {
		return fmt.Errorf("quality.min_approval_score must exceed quality.max_rejection_score")
	}
	if c.Settlement.BatchSize < 1 {
		return fmt.Errorf("settlement.batch_size must be >= 1")
	}
	if c.Interest.MaxRate <= 0 {
		return fmt.Errorf("interest.max_rate must be > 0")
	}
	if c.Interest.MinIntervalHours < 1 {
		return fmt.Errorf("interest.min_interval_hours must be >= 1")
	}
	if c.Interest.ToleranceCents < 0 {
		return fmt.Errorf("interest.tolerance_cents must be >= 0")
	}
	return nil
}
