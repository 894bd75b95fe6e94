package service

import (
	"time"

	"github.com/prorroga-chain-server/internal/alert"
	"github.com/prorroga-chain-server/internal/chain"
	"github.com/prorroga-chain-server/internal/domain"
	"github.com/prorroga-chain-server/internal/reference"
)

// ScoreCorrelationParams are the inputs of a single pair score.
type ScoreCorrelationParams struct {
	CodeA       string `json:"code_a" validate:"required,max=16"`
	CodeB       string `json:"code_b" validate:"required,max=16"`
	DayGap      *int   `json:"day_gap,omitempty"`
	EarlierCode string `json:"earlier_code,omitempty" validate:"max=16"`
}

// CodeLookup is the resolved view of one diagnosis code.
type CodeLookup struct {
	Code         domain.DiagnosisCode `json:"code"`
	ChapterTitle string               `json:"chapter_title,omitempty"`
	Known        bool                 `json:"known"`
	TypicalDays  []int                `json:"typical_days,omitempty"`
	Groups       []string             `json:"groups,omitempty"`
}

// DayCountParams are the inputs of a day-count check.
type DayCountParams struct {
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required"`
	Days      int       `json:"days" validate:"gte=0"`
}

// DayCountResult reports whether the declared days match the calendar span,
// counting both the start and the end day.
type DayCountResult struct {
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
	DeclaredDays int       `json:"declared_days"`
	ComputedDays int       `json:"computed_days"`
	Correct      bool      `json:"correct"`
	Message      string    `json:"message"`
}

// TypicalDaysParams are the inputs of a typical-duration check.
type TypicalDaysParams struct {
	Code string `json:"code" validate:"required,max=16"`
	Days int    `json:"days" validate:"gte=0"`
}

// TypicalDaysResult is advisory; WithinRange is nil when the code has no reference range.
type TypicalDaysResult struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
	Days        int    `json:"days"`
	Range       []int  `json:"typical_range,omitempty"`
	WithinRange *bool  `json:"within_range"`
	Message     string `json:"message"`
}

// SubjectSummary condenses one subject's analysis.
type SubjectSummary struct {
	TotalCases        int           `json:"total_cases"`
	TotalChains       int           `json:"total_chains"`
	ProrrogaChains    int           `json:"prorroga_chains"`
	IsolatedCases     int           `json:"isolated_cases"`
	ExcludedCases     int           `json:"excluded_cases"`
	BridgedGaps       int           `json:"bridged_gaps"`
	TotalDays         int           `json:"total_days"`
	LongestChainDays  int           `json:"longest_chain_days"`
	LongestChainID    int           `json:"longest_chain_id,omitempty"`
	NearLimit         bool          `json:"near_limit"`
	OverLimit         bool          `json:"over_limit"`
	Alerts            alert.Summary `json:"alerts"`
	ReferenceVersion  string        `json:"reference_version"`
	ReferenceRevision uint64        `json:"reference_generation"`
}

// SubjectAnalysis is the full outcome of analyzing one subject.
type SubjectAnalysis struct {
	SubjectID  string         `json:"subject_id"`
	Result     *chain.Result  `json:"result"`
	Alerts     []domain.Alert `json:"alerts"`
	Summary    SubjectSummary `json:"summary"`
	AnalyzedAt time.Time      `json:"analyzed_at"`
}

// SubjectCases pairs a subject with its cases for batch analysis.
type SubjectCases struct {
	SubjectID string             `json:"subject_id" validate:"required"`
	Cases     []domain.LeaveCase `json:"cases"`
}

// SubjectFailure records a subject the batch could not analyze.
type SubjectFailure struct {
	SubjectID string `json:"subject_id"`
	Error     string `json:"error"`
}

// BatchAnalysis is the outcome of analyzing many subjects.
type BatchAnalysis struct {
	SubjectsAnalyzed int                `json:"subjects_analyzed"`
	Analyses         []*SubjectAnalysis `json:"analyses"`
	Alerts           []domain.Alert     `json:"alerts"`
	AlertSummary     alert.Summary      `json:"alert_summary"`
	Failures         []SubjectFailure   `json:"failures,omitempty"`
	Duration         time.Duration      `json:"duration_ns"`
}

// DetectExtensionParams asks whether Candidate extends one of PriorCases.
type DetectExtensionParams struct {
	SubjectID  string             `json:"subject_id" validate:"required"`
	Candidate  domain.LeaveCase   `json:"candidate"`
	PriorCases []domain.LeaveCase `json:"prior_cases"`
}

// DetectionResult reports the prior case a candidate extends, if any.
type DetectionResult struct {
	IsExtension bool                  `json:"is_extension"`
	Prior       *domain.LeaveCase     `json:"prior,omitempty"`
	Link        *domain.ExtensionLink `json:"link,omitempty"`
	Examined    int                   `json:"examined"`
	Explanation string                `json:"explanation"`
}

// RecordDecisionParams are the inputs of a reviewer decision.
type RecordDecisionParams struct {
	CodeA               string  `json:"code_a" validate:"required,max=16"`
	CodeB               string  `json:"code_b" validate:"required,max=16"`
	Outcome             string  `json:"outcome" validate:"required,oneof=confirmed rejected"`
	SubjectID           string  `json:"subject_id,omitempty"`
	CaseID              string  `json:"case_id,omitempty"`
	Reviewer            string  `json:"reviewer,omitempty" validate:"max=128"`
	SuggestedConfidence float64 `json:"suggested_confidence,omitempty" validate:"gte=0,lte=100"`
	Notes               string  `json:"notes,omitempty" validate:"max=2000"`
}

// ReferenceInfo describes the active reference data and windows.
type ReferenceInfo struct {
	Reference        reference.Stats        `json:"reference"`
	Path             string                 `json:"path,omitempty"`
	Thresholds       domain.LegalThresholds `json:"thresholds"`
	CutWindowDays    int                    `json:"cut_window_days"`
	ShortGapDays     int                    `json:"short_gap_days"`
	MaxCutSeparation int                    `json:"max_cut_separation_days"`
	PossibleScore    float64                `json:"possible_threshold"`
	ProrrogaScore    float64                `json:"prorroga_threshold"`
	LedgerPairs      int                    `json:"ledger_pairs"`
	LedgerMinSample  int                    `json:"ledger_min_samples"`
	CacheEntries     int                    `json:"score_cache_entries"`
}
