// Package feedback provides the historical-adjustment ledger for code-pair correlations.
// Every time a human reviewer confirms or rejects a proposed link between two diagnosis
// codes the decision is appended, and the per-pair counts feed back into scoring.
package feedback

import (
	"context"
	"io"
	"time"

	"github.com/prorroga-chain-server/internal/domain"
)

// DefaultMinSamples is the number of decisions needed before a learned confidence is used.
const DefaultMinSamples = 5

// Outcome is a reviewer's verdict on a proposed correlation.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeRejected  Outcome = "rejected"
)

// IsValid reports whether the outcome is one of the known values.
func (o Outcome) IsValid() bool {
	return o == OutcomeConfirmed || o == OutcomeRejected
}

// Decision is one human confirm/reject event for a code pair.
type Decision struct {
	ID                  int64           `json:"id,omitempty"`
	Pair                domain.CodePair `json:"pair"`
	Outcome             Outcome         `json:"outcome"`
	SubjectID           string          `json:"subject_id,omitempty"` // Case context, optional
	CaseID              string          `json:"case_id,omitempty"`
	Reviewer            string          `json:"reviewer,omitempty"`
	SuggestedConfidence float64         `json:"suggested_confidence,omitempty"` // Score shown to the reviewer
	Notes               string          `json:"notes,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

// Adjustment aggregates all decisions recorded for one unordered code pair.
type Adjustment struct {
	Pair      domain.CodePair `json:"pair"`
	Confirmed int             `json:"confirmed"`
	Rejected  int             `json:"rejected"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Samples returns the total number of decisions.
func (a Adjustment) Samples() int {
	return a.Confirmed + a.Rejected
}

// LearnedConfidence returns confirmed/(confirmed+rejected) on a 0-100 scale once
// at least minSamples decisions exist.
func (a Adjustment) LearnedConfidence(minSamples int) (float64, bool) {
	n := a.Samples()
	if n == 0 || n < minSamples {
		return 0, false
	}
	return float64(a.Confirmed) / float64(n) * 100, true
}

// Store defines the interface for ledger storage operations.
type Store interface {
	// Append records a decision and returns the pair's updated aggregate.
	// The insert and the aggregate update happen atomically.
	Append(ctx context.Context, decision *Decision) (*Adjustment, error)

	// Get returns the aggregate for a pair, or nil if no decision exists.
	Get(ctx context.Context, pair domain.CodePair) (*Adjustment, error)

	// List returns aggregates ordered by most recently updated.
	List(ctx context.Context, limit, offset int) ([]*Adjustment, error)

	// Decisions returns the decisions for a pair, newest first.
	Decisions(ctx context.Context, pair domain.CodePair, limit int) ([]*Decision, error)

	// Count returns the total number of recorded decisions.
	Count(ctx context.Context) (int64, error)

	// ExportJSON writes every decision to a JSON writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON replays decisions from a JSON reader.
	// Returns the number of imported and skipped entries.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	// Close closes the store and releases resources.
	Close() error
}

// LedgerExport represents the JSON export format.
type LedgerExport struct {
	Version    string      `json:"version"`
	ExportedAt time.Time   `json:"exported_at"`
	Count      int         `json:"count"`
	Decisions  []*Decision `json:"decisions"`
}

// maxExportLimit is the maximum number of decisions to export at once.
const maxExportLimit = 1000000

// exportVersion is the current export format version.
const exportVersion = "1.0"
