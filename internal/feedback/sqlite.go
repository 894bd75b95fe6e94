package feedback

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/prorroga-chain-server/internal/domain"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite ledger store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection keeps transactions serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAdjustment(s scanner) (*Adjustment, error) {
	adj := &Adjustment{}
	if err := s.Scan(&adj.Pair.A, &adj.Pair.B, &adj.Confirmed, &adj.Rejected, &adj.UpdatedAt); err != nil {
		return nil, err
	}
	return adj, nil
}

func scanDecision(s scanner) (*Decision, error) {
	d := &Decision{}
	var outcome string
	err := s.Scan(
		&d.ID, &d.Pair.A, &d.Pair.B, &outcome,
		&d.SubjectID, &d.CaseID, &d.Reviewer,
		&d.SuggestedConfidence, &d.Notes, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Outcome = Outcome(outcome)
	return d, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS correlation_decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code_a TEXT NOT NULL,
		code_b TEXT NOT NULL,
		outcome TEXT NOT NULL CHECK (outcome IN ('confirmed', 'rejected')),
		subject_id TEXT DEFAULT '',
		case_id TEXT DEFAULT '',
		reviewer TEXT DEFAULT '',
		suggested_confidence REAL DEFAULT 0,
		notes TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS correlation_adjustments (
		code_a TEXT NOT NULL,
		code_b TEXT NOT NULL,
		confirmed INTEGER NOT NULL DEFAULT 0,
		rejected INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (code_a, code_b)
	);

	CREATE INDEX IF NOT EXISTS idx_decisions_pair ON correlation_decisions(code_a, code_b);
	CREATE INDEX IF NOT EXISTS idx_decisions_created_at ON correlation_decisions(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Append records a decision and updates the pair aggregate in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, decision *Decision) (*Adjustment, error) {
	if err := prepareDecision(decision); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO correlation_decisions (
			code_a, code_b, outcome, subject_id, case_id, reviewer,
			suggested_confidence, notes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
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
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert decision: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get insert ID: %w", err)
	}

	confirmed, rejected := counts(decision.Outcome)
	now := time.Now().UTC()
	row := tx.QueryRowContext(ctx, `
		INSERT INTO correlation_adjustments (code_a, code_b, confirmed, rejected, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (code_a, code_b) DO UPDATE SET
			confirmed = confirmed + excluded.confirmed,
			rejected = rejected + excluded.rejected,
			updated_at = excluded.updated_at
		RETURNING confirmed, rejected
	`, decision.Pair.A, decision.Pair.B, confirmed, rejected, now)

	adj := &Adjustment{Pair: decision.Pair, UpdatedAt: now}
	if err := row.Scan(&adj.Confirmed, &adj.Rejected); err != nil {
		return nil, fmt.Errorf("failed to update adjustment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit decision: %w", err)
	}

	decision.ID = id
	return adj, nil
}

// Get returns the aggregate for a pair.
func (s *SQLiteStore) Get(ctx context.Context, pair domain.CodePair) (*Adjustment, error) {
	pair = domain.NewCodePair(pair.A, pair.B)
	row := s.db.QueryRowContext(ctx, `
		SELECT code_a, code_b, confirmed, rejected, updated_at
		FROM correlation_adjustments
		WHERE code_a = ? AND code_b = ?
	`, pair.A, pair.B)

	adj, err := scanAdjustment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return adj, nil
}

// List returns aggregates with pagination.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*Adjustment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code_a, code_b, confirmed, rejected, updated_at
		FROM correlation_adjustments
		ORDER BY updated_at DESC, code_a, code_b
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
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
func (s *SQLiteStore) Decisions(ctx context.Context, pair domain.CodePair, limit int) ([]*Decision, error) {
	pair = domain.NewCodePair(pair.A, pair.B)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code_a, code_b, outcome, subject_id, case_id, reviewer,
			suggested_confidence, notes, created_at
		FROM correlation_decisions
		WHERE code_a = ? AND code_b = ?
		ORDER BY id DESC
		LIMIT ?
	`, pair.A, pair.B, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	return collectDecisions(rows)
}

func collectDecisions(rows *sql.Rows) ([]*Decision, error) {
	defer rows.Close()

	var result []*Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// Count returns the total number of decisions.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM correlation_decisions").Scan(&count)
	return count, err
}

// ExportJSON exports all decisions to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code_a, code_b, outcome, subject_id, case_id, reviewer,
			suggested_confidence, notes, created_at
		FROM correlation_decisions
		ORDER BY id
		LIMIT ?
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
func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	return importDecisions(ctx, s, reader)
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
