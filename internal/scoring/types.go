// Package scoring computes the 0-100 correlation confidence between two
// diagnosis codes. A base score comes from the first matching hierarchy rule
// and is then passed through the modifier pipeline (exclusion, directional,
// temporal decay, historical learning) before clamping.
package scoring

import (
	"fmt"
	"strings"

	"github.com/prorroga-chain-server/internal/domain"
)

// Defaults used when the corresponding config value is zero.
const (
	DefaultPossibleThreshold = 40.0
	DefaultProrrogaThreshold = 60.0
	DefaultDegradedCeiling   = 50.0
	DefaultDegradedSlope     = 1.0
	DefaultCacheSize         = 8192
)

// Final scores outside a stopping rule are clamped to this range.
const (
	MinConfidence = 5.0
	MaxConfidence = 100.0
)

// Base rule identifiers reported in explanations.
const (
	BaseIdentical   = "identical_code"
	BaseGroup       = "correlation_group"
	BaseBlock       = "same_block"
	BaseSystem      = "same_system"
	BaseSystemLink  = "system_link"
	BaseChapter     = "same_chapter"
	BaseNoRelation  = "no_relation"
	BaseUnknownCode = "unknown_code"
	BaseDegraded    = "degraded"
)

const (
	sameBlockConfidence   = 90.0
	sameSystemConfidence  = 70.0
	sameChapterConfidence = 55.0

	directionalWeight = 0.3
	historicalWeight  = 0.2
)

// Request asks for the correlation between two raw codes. DayGap is the
// calendar-day separation between the two records, when known. EarlierCode
// names whichever of the two codes came first; empty means CodeA.
type Request struct {
	CodeA       string `json:"code_a" validate:"required"`
	CodeB       string `json:"code_b" validate:"required"`
	DayGap      *int   `json:"day_gap,omitempty"`
	EarlierCode string `json:"earlier_code,omitempty"`
}

// Gap is a convenience for building a Request with a day gap.
func Gap(days int) *int {
	return &days
}

// Step records one modifier that changed (or stopped) the running value.
type Step struct {
	Modifier ModifierKind `json:"modifier"`
	Before   float64      `json:"before"`
	After    float64      `json:"after"`
	Detail   string       `json:"detail"`
}

// Explanation is the audit trail of a score.
type Explanation struct {
	Base           string  `json:"base"`
	BaseSource     string  `json:"base_source,omitempty"` // group id, block id, system or chapter
	BaseConfidence float64 `json:"base_confidence"`
	RequiresReview bool    `json:"requires_review,omitempty"`
	Rationale      string  `json:"rationale,omitempty"`
	Steps          []Step  `json:"steps,omitempty"`
}

// String renders the explanation on one line.
func (e Explanation) String() string {
	var sb strings.Builder
	sb.WriteString(e.Base)
	if e.BaseSource != "" {
		sb.WriteString(" ")
		sb.WriteString(e.BaseSource)
	}
	fmt.Fprintf(&sb, " (%.1f)", e.BaseConfidence)
	for _, st := range e.Steps {
		fmt.Fprintf(&sb, "; %s %s: %.1f -> %.1f", st.Modifier, st.Detail, st.Before, st.After)
	}
	return sb.String()
}

// Result is the outcome of scoring one pair.
type Result struct {
	CodeA           string                `json:"code_a"`
	CodeB           string                `json:"code_b"`
	Confidence      float64               `json:"confidence"`
	Tier            domain.ConfidenceTier `json:"tier"`
	IsCorrelated    bool                  `json:"is_correlated"`
	IsProrrogaGrade bool                  `json:"is_prorroga_grade"`
	Explanation     Explanation           `json:"explanation"`
}

// Config holds the scorer thresholds.
type Config struct {
	PossibleThreshold float64
	ProrrogaThreshold float64
	DegradedCeiling   float64
	DegradedSlope     float64
	CacheSize         int
}

// ConfigFrom converts the application scoring config, filling defaults.
func ConfigFrom(c domain.ScoringConfig) Config {
	return Config{
		PossibleThreshold: c.PossibleThreshold,
		ProrrogaThreshold: c.ProrrogaThreshold,
		DegradedCeiling:   c.DegradedCeiling,
		DegradedSlope:     c.DegradedSlope,
		CacheSize:         c.CacheSize,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.PossibleThreshold <= 0 {
		c.PossibleThreshold = DefaultPossibleThreshold
	}
	if c.ProrrogaThreshold <= 0 {
		c.ProrrogaThreshold = DefaultProrrogaThreshold
	}
	if c.DegradedCeiling <= 0 {
		c.DegradedCeiling = DefaultDegradedCeiling
	}
	if c.DegradedSlope <= 0 {
		c.DegradedSlope = DefaultDegradedSlope
	}
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}
	return c
}
