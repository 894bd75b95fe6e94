// Package reference holds the static knowledge used to relate diagnosis codes:
// the ICD-10 hierarchy, correlation groups, exclusion and directional rules,
// temporal-decay tables and the inter-system linkage table.
//
// Reference data is loaded into an immutable Snapshot. A Repository publishes
// the current snapshot through an atomic pointer so readers never observe a
// partially loaded table set.
package reference

import (
	"github.com/prorroga-chain-server/internal/domain"
)

// DefaultDecayTable is the table used when a group does not name its own.
const DefaultDecayTable = "default"

// Chapter maps a contiguous code range to an ICD-10 chapter.
type Chapter struct {
	ID     string `json:"id"`
	From   string `json:"from"`
	To     string `json:"to"`
	Title  string `json:"title"`
	System string `json:"system,omitempty"`
}

// Block maps a contiguous code range to an ICD-10 block.
type Block struct {
	From     string              `json:"from"`
	To       string              `json:"to"`
	Title    string              `json:"title"`
	System   string              `json:"system"`
	Severity domain.SeverityTier `json:"severity,omitempty"`
}

// ID returns the conventional "A00-A09" block identifier.
func (b Block) ID() string {
	return b.From + "-" + b.To
}

// CodeInfo is the per-code entry of the reference table.
type CodeInfo struct {
	Description string              `json:"description"`
	System      string              `json:"system,omitempty"`
	Severity    domain.SeverityTier `json:"severity,omitempty"`
	TypicalDays []int               `json:"typical_days,omitempty"` // [min, max]
	Ineligible  bool                `json:"ineligible,omitempty"`
}

// CorrelationGroup is a curated set of codes treated as one clinical entity.
type CorrelationGroup struct {
	ID             string   `json:"id"`
	Codes          []string `json:"codes"`
	Confidence     float64  `json:"confidence"`
	RequiresReview bool     `json:"requires_review,omitempty"`
	Rationale      string   `json:"rationale"`
	DecayTable     string   `json:"decay_table,omitempty"`
}

// ExclusionRule caps or blocks the correlation between two codes.
type ExclusionRule struct {
	Codes     [2]string `json:"codes"`
	Blocking  bool      `json:"blocking"`
	Ceiling   float64   `json:"ceiling,omitempty"`
	Rationale string    `json:"rationale"`
}

// DirectionalRule carries a different weight depending on which code came first.
type DirectionalRule struct {
	Origin      string  `json:"origin"`
	Destination string  `json:"destination"`
	Forward     float64 `json:"forward"`
	Reverse     float64 `json:"reverse"`
	Rationale   string  `json:"rationale"`
}

// DecayRange applies Factor to gaps in [From, To]; a nil To is unbounded.
type DecayRange struct {
	From   int     `json:"from"`
	To     *int    `json:"to"`
	Factor float64 `json:"factor"`
}

// Contains reports whether the day gap falls inside the range.
func (r DecayRange) Contains(gap int) bool {
	return gap >= r.From && (r.To == nil || gap <= *r.To)
}

// DecayTable maps day gaps to multiplicative factors.
type DecayTable struct {
	ID     string       `json:"id"`
	Ranges []DecayRange `json:"ranges"`
}

// Factor returns the factor for the given gap. Negative gaps are treated as zero.
func (t DecayTable) Factor(gap int) float64 {
	if gap < 0 {
		gap = 0
	}
	for _, r := range t.Ranges {
		if r.Contains(gap) {
			return r.Factor
		}
	}
	return 1
}

// SystemLink relates two anatomical systems that commonly co-occur clinically.
type SystemLink struct {
	Systems    [2]string `json:"systems"`
	Confidence float64   `json:"confidence"`
	Rationale  string    `json:"rationale,omitempty"`
}

// Document is the serialized form of a full reference data set.
type Document struct {
	Version            string                  `json:"version"`
	Chapters           []Chapter               `json:"chapters"`
	Blocks             []Block                 `json:"blocks"`
	Codes              map[string]CodeInfo     `json:"codes"`
	Groups             []CorrelationGroup      `json:"groups"`
	Exclusions         []ExclusionRule         `json:"exclusions"`
	Directional        []DirectionalRule       `json:"directional"`
	DecayTables        []DecayTable            `json:"decay_tables"`
	SystemLinks        []SystemLink            `json:"system_links"`
	CausalChapters     []string                `json:"causal_chapters"`
	IneligibleChapters []string                `json:"ineligible_chapters"`
	Thresholds         *domain.LegalThresholds `json:"thresholds,omitempty"`
}
