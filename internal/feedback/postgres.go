package feedback

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"

	"github.com/prorroga-chain-server/internal/domain"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL ledger store.
// It expects the schema to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL ledger store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Append records a decision and increments the pair aggregate in one transaction.
// The upsert increments counters in place, so concurrent writers never lose updates.
func (s *PostgresStore) Append(ctx context.Context, decision *Decision) (*Adjustment, error) {
	if err := prepareDecision(decision); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO correlation_decisions (
			code_a, code_b, outcome, subject_id, case_id, reviewer,
			suggested_confidence, notes, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`,
		decision.Pair.A,
		decision.Pair.B,
		string(decision.Outcome),
		decision.SubjectID,
		decision.CaseID,
		decision.Reviewer,
		decision.SuggestedConfidence,
		decision.Notes,
		decision.CreatedAt,
	).Scan(&decision.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert decision: %w", err)
	}

	confirmed, rejected := counts(decision.Outcome)
	adj := &Adjustment{}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO correlation_adjustments (code_a, code_b, confirmed, rejected, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code_a, code_b) DO UPDATE SET
			confirmed = correlation_adjustments.confirmed + EXCLUDED.confirmed,
			rejected = correlation_adjustments.rejected + EXCLUDED.rejected,
			updated_at = EXCLUDED.updated_at
		RETURNING code_a, code_b, confirmed, rejected, updated_at
	`, decision.Pair.A, decision.Pair.B, confirmed, rejected, time.Now().UTC()).Scan(
		&adj.Pair.A, &adj.Pair.B, &adj.Confirmed, &adj.Rejected, &adj.UpdatedAt,
	)
	if err != nil {
		decision.ID = 0
		return nil, fmt.Errorf("failed to update adjustment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		decision.ID = 0
		return nil, fmt.Errorf("failed to commit decision: %w", err)
	}
	return adj, nil
}

// Get returns the aggregate for a pair.
func (s *PostgresStore) Get(ctx context.Context, pair domain.CodePair) (*Adjustment, error) {
	pair = domain.NewCodePair(pair.A, pair.B)
	query := `
		SELECT code_a, code_b, confirmed, rejected, updated_at
		FROM correlation_adjustments
		WHERE code_a = $1 AND code_b = $2
	`

	adj, err := scanAdjustment(s.db.QueryRowContext(ctx, query, pair.A, pair.B))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get adjustment: %w", err)
	}
	return adj, nil
}

// List returns aggregates with pagination.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Adjustment, error) {
	query := `
		SELECT code_a, code_b, confirmed, rejected, updated_at
		FROM correlation_adjustments
		ORDER BY updated_at DESC, code_a, code_b
		LIMIT $1 OFFSET $2
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list adjustments: %w", err)
	}
	defer rows.Close()

	var result []*Adjustment
	for rows.Next() {
		adj, err := scanAdjustment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, adj)
	}
	return result, rows.Err()
}

// Decisions returns the decisions for a pair, newest first.
func (s *PostgresStore) Decisions(ctx context.Context, pair domain.CodePair, limit int) ([]*Decision, error) {
	pair = domain.NewCodePair(pair.A, pair.B)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code_a, code_b, outcome, subject_id, case_id, reviewer,
			suggested_confidence, notes, created_at
		FROM correlation_decisions
		WHERE code_a = $1 AND code_b = $2
		ORDER BY id DESC
		LIMIT $3
	`, pair.A, pair.B, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	return collectDecisions(rows)
}

// Count returns the total number of decisions.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM correlation_decisions").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count decisions: %w", err)
	}
	return count, nil
}

// ExportJSON exports all decisions to a JSON writer.
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code_a, code_b, outcome, subject_id, case_id, reviewer,
			suggested_confidence, notes, created_at
		FROM correlation_decisions
		ORDER BY id
		LIMIT $1
	`, maxExportLimit)
	if err != nil {
		return fmt.Errorf("failed to list decisions: %w", err)
	}
	all, err := collectDecisions(rows)
	if err != nil {
		return err
	}
	return writeExport(writer, all)
}

// ImportJSON imports decisions from a JSON reader.
func (s *PostgresStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	return importDecisions(ctx, s, reader)
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
