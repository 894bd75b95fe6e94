package feedback

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"

	"github.com/prorroga-chain-server/internal/domain"
	"github.com/prorroga-chain-server/internal/reference"
)

// prepareDecision validates a decision and canonicalizes its pair in place.
func prepareDecision(d *Decision) error {
	if d == nil {
		return fmt.Errorf("%w: decision is required", domain.ErrInvalidDecision)
	}
	if !d.Outcome.IsValid() {
		return fmt.Errorf("%w: unknown outcome %q", domain.ErrInvalidDecision, d.Outcome)
	}
	a, okA := reference.Normalize(d.Pair.A)
	b, okB := reference.Normalize(d.Pair.B)
	if !okA || !okB {
		return fmt.Errorf("%w: pair %s/%s is not a pair of valid codes", domain.ErrInvalidDecision, d.Pair.A, d.Pair.B)
	}
	d.Pair = domain.NewCodePair(a, b)
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	return nil
}

func counts(o Outcome) (confirmed, rejected int) {
	if o == OutcomeConfirmed {
		return 1, 0
	}
	return 0, 1
}

func writeExport(writer io.Writer, decisions []*Decision) error {
	export := &LedgerExport{
		Version:    exportVersion,
		ExportedAt: time.Now(),
		Count:      len(decisions),
		Decisions:  decisions,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

// importDecisions decodes an export and appends every valid decision through the store.
func importDecisions(ctx context.Context, store Store, reader io.Reader) (imported int, skipped int, err error) {
	var export LedgerExport
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, d := range export.Decisions {
		if d == nil || !d.Outcome.IsValid() {
			skipped++
			continue
		}
		d.ID = 0
		if _, err := store.Append(ctx, d); err != nil {
			return imported, skipped, fmt.Errorf("failed to append decision: %w", err)
		}
		imported++
	}

	return imported, skipped, nil
}
