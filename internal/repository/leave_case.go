package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/prorroga-chain-server/internal/domain"
)

// LeaveCaseRepository reads and writes leave cases in PostgreSQL. It is the
// system-of-record adapter behind domain.CaseSource.
type LeaveCaseRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewLeaveCaseRepository creates a new leave-case repository
func NewLeaveCaseRepository(db *pgxpool.Pool, logger *logrus.Logger) *LeaveCaseRepository {
	return &LeaveCaseRepository{
		db:  db,
		log: logger,
	}
}

// Upsert inserts or replaces a leave case.
func (r *LeaveCaseRepository) Upsert(ctx context.Context, c *domain.LeaveCase) error {
	query := `
		INSERT INTO leave_cases (case_id, subject_id, diagnosis_code, start_date, end_date, days)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (case_id) DO UPDATE SET
			subject_id = EXCLUDED.subject_id,
			diagnosis_code = EXCLUDED.diagnosis_code,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			days = EXCLUDED.days`

	_, err := r.db.Exec(ctx, query,
		c.CaseID,
		c.SubjectID,
		nullable(c.Code),
		c.StartDate,
		c.EndDate,
		c.Days,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"case_id":    c.CaseID,
			"subject_id": c.SubjectID,
			"error":      err,
		}).Error("Failed to upsert leave case")
		return fmt.Errorf("upserting leave case: %w", err)
	}
	return nil
}

// UpsertBatch writes many cases in one round trip.
func (r *LeaveCaseRepository) UpsertBatch(ctx context.Context, cases []domain.LeaveCase) error {
	batch := &pgx.Batch{}
	for _, c := range cases {
		batch.Queue(`
			INSERT INTO leave_cases (case_id, subject_id, diagnosis_code, start_date, end_date, days)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (case_id) DO UPDATE SET
				subject_id = EXCLUDED.subject_id,
				diagnosis_code = EXCLUDED.diagnosis_code,
				start_date = EXCLUDED.start_date,
				end_date = EXCLUDED.end_date,
				days = EXCLUDED.days`,
			c.CaseID, c.SubjectID, nullable(c.Code), c.StartDate, c.EndDate, c.Days)
	}

	if err := r.db.SendBatch(ctx, batch).Close(); err != nil {
		r.log.WithFields(logrus.Fields{
			"cases": len(cases),
			"error": err,
		}).Error("Failed to upsert leave case batch")
		return fmt.Errorf("upserting leave case batch: %w", err)
	}
	return nil
}

// GetByID retrieves a leave case by its ID
func (r *LeaveCaseRepository) GetByID(ctx context.Context, caseID string) (*domain.LeaveCase, error) {
	query := `
		SELECT case_id, subject_id, diagnosis_code, start_date, end_date, days
		FROM leave_cases
		WHERE case_id = $1`

	c, err := scanLeaveCase(r.db.QueryRow(ctx, query, caseID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("leave case not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting leave case by ID: %w", err)
	}
	return c, nil
}

// ListSubjects returns every subject with at least one case.
func (r *LeaveCaseRepository) ListSubjects(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT subject_id FROM leave_cases ORDER BY subject_id`)
	if err != nil {
		r.log.WithError(err).Error("Failed to list subjects")
		return nil, fmt.Errorf("listing subjects: %w", err)
	}
	defer rows.Close()

	subjects, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("iterating subject rows: %w", err)
	}
	return subjects, nil
}

// ListCases returns a subject's cases ordered by start date. Undated cases
// come last so the chain builder can report them.
func (r *LeaveCaseRepository) ListCases(ctx context.Context, subjectID string) ([]domain.LeaveCase, error) {
	query := `
		SELECT case_id, subject_id, diagnosis_code, start_date, end_date, days
		FROM leave_cases
		WHERE subject_id = $1
		ORDER BY start_date ASC NULLS LAST, case_id ASC`

	rows, err := r.db.Query(ctx, query, subjectID)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"subject_id": subjectID,
			"error":      err,
		}).Error("Failed to list leave cases")
		return nil, fmt.Errorf("listing leave cases: %w", err)
	}
	defer rows.Close()

	var cases []domain.LeaveCase
	for rows.Next() {
		c, err := scanLeaveCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning leave case row: %w", err)
		}
		cases = append(cases, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating leave case rows: %w", err)
	}
	return cases, nil
}

// Delete removes a leave case.
func (r *LeaveCaseRepository) Delete(ctx context.Context, caseID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM leave_cases WHERE case_id = $1`, caseID)
	if err != nil {
		return fmt.Errorf("deleting leave case: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("leave case not found: %w", domain.ErrNotFound)
	}
	return nil
}

func scanLeaveCase(row pgx.Row) (*domain.LeaveCase, error) {
	var (
		c          domain.LeaveCase
		code       *string
		start, end *time.Time
	)
	if err := row.Scan(&c.CaseID, &c.SubjectID, &code, &start, &end, &c.Days); err != nil {
		return nil, err
	}
	if code != nil {
		c.Code = *code
	}
	c.StartDate = utcDate(start)
	c.EndDate = utcDate(end)
	return &c, nil
}

func utcDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	y, m, d := t.Date()
	out := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &out
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
