// Package domain contains the core entities for tracking medical-leave (incapacity) records
// and deciding which of them form a single continuous leave episode ("prórroga chain").
//
// Day accumulation is governed by legal tiers at 150, 170 and 180 days; once a chain of
// related leaves crosses them the employer or insurer must take administrative action.
package domain

import (
	"errors"
	"time"
)

// SeverityTier is the severity classification attached to a diagnosis code.
type SeverityTier string

const (
	SEVERITY_LOW           SeverityTier = "low"
	SEVERITY_MODERATE      SeverityTier = "moderate"
	SEVERITY_SEVERE        SeverityTier = "severe"
	SEVERITY_VERY_SEVERE   SeverityTier = "very_severe"
	SEVERITY_INDETERMINATE SeverityTier = "indeterminate"
)

// ConfidenceTier buckets a correlation score for human consumption.
type ConfidenceTier string

const (
	CONFIDENCE_VERY_HIGH ConfidenceTier = "very_high"
	CONFIDENCE_HIGH      ConfidenceTier = "high"
	CONFIDENCE_MEDIUM    ConfidenceTier = "medium"
	CONFIDENCE_LOW       ConfidenceTier = "low"
	CONFIDENCE_NONE      ConfidenceTier = "none"
)

// AlertTier is the administrative tier of an alert.
type AlertTier string

const (
	ALERT_INFORMATIONAL AlertTier = "informational"
	ALERT_HIGH          AlertTier = "high"
	ALERT_CRITICAL      AlertTier = "critical"
	ALERT_CHAIN_CUT     AlertTier = "chain_cut"
)

// LinkKind describes how a case was attached to a chain.
type LinkKind string

const (
	LINK_OVERLAP     LinkKind = "overlap"
	LINK_CORRELATION LinkKind = "correlation"
	LINK_BRIDGED     LinkKind = "bridged"
	LINK_DEGRADED    LinkKind = "degraded"
)

// Unknown is used for hierarchy fields that cannot be resolved.
const Unknown = "unknown"

// Common errors
var (
	ErrNotFound         = errors.New("not found")
	ErrUnsortedInput    = errors.New("cases are not sorted by start date")
	ErrInvalidReference = errors.New("invalid reference data")
	ErrInvalidDecision  = errors.New("invalid decision")
	ErrInvalidSeverity  = errors.New("invalid severity tier")
)

// IsValid reports whether the severity tier is one of the known values.
func (s SeverityTier) IsValid() bool {
	switch s {
	case SEVERITY_LOW, SEVERITY_MODERATE, SEVERITY_SEVERE, SEVERITY_VERY_SEVERE, SEVERITY_INDETERMINATE:
		return true
	default:
		return false
	}
}

// String returns the string representation of the severity tier
func (s SeverityTier) String() string {
	return string(s)
}

// String returns the string representation of the confidence tier
func (c ConfidenceTier) String() string {
	return string(c)
}

// TierFor maps a 0-100 confidence score to its tier.
func TierFor(confidence float64) ConfidenceTier {
	switch {
	case confidence >= 90:
		return CONFIDENCE_VERY_HIGH
	case confidence >= 75:
		return CONFIDENCE_HIGH
	case confidence >= 55:
		return CONFIDENCE_MEDIUM
	case confidence >= 30:
		return CONFIDENCE_LOW
	default:
		return CONFIDENCE_NONE
	}
}

// String returns the string representation of the alert tier
func (a AlertTier) String() string {
	return string(a)
}

// Rank orders alert tiers by severity, highest first when sorting descending.
func (a AlertTier) Rank() int {
	switch a {
	case ALERT_CRITICAL:
		return 4
	case ALERT_HIGH:
		return 3
	case ALERT_CHAIN_CUT:
		return 2
	case ALERT_INFORMATIONAL:
		return 1
	default:
		return 0
	}
}

// DiagnosisCode is a canonical ICD-10 category with its resolved hierarchy.
type DiagnosisCode struct {
	Canonical         string       `json:"canonical"`
	Raw               string       `json:"raw"`
	Valid             bool         `json:"valid"`
	Chapter           string       `json:"chapter"`
	ChapterID         string       `json:"chapter_id,omitempty"`
	Block             string       `json:"block"`
	System            string       `json:"system"`
	Severity          SeverityTier `json:"severity"`
	CausalExternal    bool         `json:"causal_external"`
	ExtensionEligible bool         `json:"extension_eligible"`
	Description       string       `json:"description,omitempty"`
}

// LogFields returns structured logging fields for the code
func (d DiagnosisCode) LogFields() map[string]any {
	return map[string]any{
		"code":       d.Canonical,
		"chapter":    d.Chapter,
		"chapter_id": d.ChapterID,
		"block":      d.Block,
		"system":     d.System,
	}
}

// LeaveCase is a single incapacity record as received from the source system.
// The core never mutates it.
type LeaveCase struct {
	CaseID    string     `json:"case_id" validate:"required"`
	SubjectID string     `json:"subject_id" validate:"required"`
	Code      string     `json:"code,omitempty"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Days      int        `json:"days" validate:"gte=0"`
}

// HasCode reports whether the case carries a diagnosis code at all.
func (c LeaveCase) HasCode() bool {
	return c.Code != ""
}

// EffectiveEnd returns the end date, deriving it from the start date and day count when absent.
func (c LeaveCase) EffectiveEnd() time.Time {
	if c.EndDate != nil {
		return truncateDay(*c.EndDate)
	}
	start := truncateDay(*c.StartDate)
	if c.Days <= 0 {
		return start
	}
	return start.AddDate(0, 0, c.Days-1)
}

// DaysBetween returns the number of calendar days from a to b (negative if b is before a).
func DaysBetween(a, b time.Time) int {
	a, b = truncateDay(a), truncateDay(b)
	return int(b.Sub(a).Hours() / 24)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ExtensionLink records why a case was attached to the chain's previous tail.
type ExtensionLink struct {
	Kind        LinkKind `json:"kind"`
	Brecha      int      `json:"brecha"`
	Confidence  float64  `json:"confidence"`
	Explanation string   `json:"explanation"`
}

// ChainMember is a case that contributes days to a chain.
type ChainMember struct {
	CaseIndex    int            `json:"case_index"`
	CaseID       string         `json:"case_id"`
	Code         string         `json:"code,omitempty"`
	StartDate    time.Time      `json:"start_date"`
	EndDate      time.Time      `json:"end_date"`
	Days         int            `json:"days"`
	OverlapDays  int            `json:"overlap_days"`
	Contribution int            `json:"contribution"`
	Link         *ExtensionLink `json:"link,omitempty"` // nil for the seed
}

// BridgedGap is an unrelated short case the chain was allowed to jump over.
type BridgedGap struct {
	CaseIndex  int     `json:"case_index"`
	CaseID     string  `json:"case_id"`
	Code       string  `json:"code,omitempty"`
	Days       int     `json:"days"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Chain is a maximal sequence of related leave cases for one subject.
type Chain struct {
	ID              int           `json:"id"`
	SubjectID       string        `json:"subject_id"`
	Members         []ChainMember `json:"members"`
	BridgedGaps     []BridgedGap  `json:"bridged_gaps,omitempty"`
	AccumulatedDays int           `json:"accumulated_days"`
	Codes           []string      `json:"codes"`
	StartDate       time.Time     `json:"start_date"`
	EndDate         time.Time     `json:"end_date"`
	IsProrroga      bool          `json:"is_prorroga"`
}

// Extensions returns the number of members attached after the seed.
func (c *Chain) Extensions() int {
	if len(c.Members) == 0 {
		return 0
	}
	return len(c.Members) - 1
}

// ExcludedCase is an input record the builder could not place in time.
type ExcludedCase struct {
	CaseIndex int    `json:"case_index"`
	CaseID    string `json:"case_id"`
	Reason    string `json:"reason"`
}

// ChainCutFinding flags two chains that look clinically related but are too far apart to merge.
type ChainCutFinding struct {
	EarlierChainID int     `json:"earlier_chain_id"`
	LaterChainID   int     `json:"later_chain_id"`
	SeparationDays int     `json:"separation_days"`
	Confidence     float64 `json:"confidence"`
	CodeA          string  `json:"code_a"`
	CodeB          string  `json:"code_b"`
	EarlierDays    int     `json:"earlier_days"`
	LaterDays      int     `json:"later_days"`
	CombinedDays   int     `json:"combined_days"`
	Explanation    string  `json:"explanation"`
}

// Alert is an administrative notification derived from accumulated leave days.
type Alert struct {
	Key             string    `json:"key"`
	Tier            AlertTier `json:"tier"`
	SubjectID       string    `json:"subject_id"`
	ChainIDs        []int     `json:"chain_ids"`
	AccumulatedDays int       `json:"accumulated_days"`
	DaysRemaining   int       `json:"days_remaining"`
	DaysExceeded    int       `json:"days_exceeded"`
	Codes           []string  `json:"codes"`
	Rationale       string    `json:"rationale"`
	LegalReference  string    `json:"legal_reference,omitempty"`
}

// LegalThresholds are the accumulation tiers in days.
type LegalThresholds struct {
	Informational int `json:"informational" mapstructure:"informational"`
	High          int `json:"high" mapstructure:"high"`
	Critical      int `json:"critical" mapstructure:"critical"`
}

// DefaultLegalThresholds returns the 150/170/180 day tiers.
func DefaultLegalThresholds() LegalThresholds {
	return LegalThresholds{Informational: 150, High: 170, Critical: 180}
}

// CodePair is an unordered pair of canonical diagnosis codes.
type CodePair struct {
	A string `json:"a"`
	B string `json:"b"`
}

// NewCodePair orders the two codes so that (a, b) and (b, a) produce the same key.
func NewCodePair(a, b string) CodePair {
	if b < a {
		a, b = b, a
	}
	return CodePair{A: a, B: b}
}

// String returns the "A|B" form used as a storage key.
func (p CodePair) String() string {
	return p.A + "|" + p.B
}
