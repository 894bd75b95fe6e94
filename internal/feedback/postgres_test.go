package feedback

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prorroga-chain-server/internal/domain"
)

func setupTestDB(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	mock.ExpectPing()
	store, err := NewPostgresStore(db)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return store, mock
}

func TestNewPostgresStore_NilDB(t *testing.T) {
	store, err := NewPostgresStore(nil)

	assert.Error(t, err)
	assert.Nil(t, store)
}

func TestPostgresStore_Append(t *testing.T) {
	store, mock := setupTestDB(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO correlation_decisions").
		WithArgs("A09", "K52", "confirmed", "subj-1", "", "auditor", 76.5, "", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	mock.ExpectQuery("INSERT INTO correlation_adjustments").
		WithArgs("A09", "K52", 1, 0, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"code_a", "code_b", "confirmed", "rejected", "updated_at"}).
			AddRow("A09", "K52", 4, 2, now))
	mock.ExpectCommit()

	decision := &Decision{
		Pair:                domain.CodePair{A: "K52", B: "a09"},
		Outcome:             OutcomeConfirmed,
		SubjectID:           "subj-1",
		Reviewer:            "auditor",
		SuggestedConfidence: 76.5,
	}

	// Act
	adj, err := store.Append(context.Background(), decision)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, int64(42), decision.ID)
	assert.Equal(t, domain.CodePair{A: "A09", B: "K52"}, adj.Pair)
	assert.Equal(t, 4, adj.Confirmed)
	assert.Equal(t, 2, adj.Rejected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendRollsBackOnUpsertFailure(t *testing.T) {
	store, mock := setupTestDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO correlation_decisions").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectQuery("INSERT INTO correlation_adjustments").
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	decision := &Decision{Pair: domain.CodePair{A: "A09", B: "K52"}, Outcome: OutcomeRejected}
	adj, err := store.Append(context.Background(), decision)

	require.Error(t, err)
	assert.Nil(t, adj)
	assert.Contains(t, err.Error(), "failed to update adjustment")
	assert.Zero(t, decision.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendInvalidDecision(t *testing.T) {
	store, mock := setupTestDB(t)

	_, err := store.Append(context.Background(), &Decision{Pair: domain.CodePair{A: "A09", B: "K52"}, Outcome: "unsure"})

	assert.ErrorIs(t, err, domain.ErrInvalidDecision)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	store, mock := setupTestDB(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT code_a, code_b, confirmed, rejected, updated_at FROM correlation_adjustments").
		WithArgs("M51", "M54").
		WillReturnRows(sqlmock.NewRows([]string{"code_a", "code_b", "confirmed", "rejected", "updated_at"}).
			AddRow("M51", "M54", 9, 1, now))

	adj, err := store.Get(context.Background(), domain.CodePair{A: "M54", B: "M51"})

	require.NoError(t, err)
	require.NotNil(t, adj)
	assert.Equal(t, 9, adj.Confirmed)
	assert.Equal(t, 1, adj.Rejected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	store, mock := setupTestDB(t)

	mock.ExpectQuery("SELECT code_a, code_b, confirmed, rejected, updated_at FROM correlation_adjustments").
		WithArgs("A09", "K52").
		WillReturnError(sql.ErrNoRows)

	adj, err := store.Get(context.Background(), domain.NewCodePair("A09", "K52"))

	require.NoError(t, err)
	assert.Nil(t, adj)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_List(t *testing.T) {
	store, mock := setupTestDB(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT code_a, code_b, confirmed, rejected, updated_at FROM correlation_adjustments").
		WithArgs(10, 0).
		WillReturnRows(sqlmock.NewRows([]string{"code_a", "code_b", "confirmed", "rejected", "updated_at"}).
			AddRow("A09", "K52", 3, 0, now).
			AddRow("F32", "F41", 1, 4, now.Add(-time.Hour)))

	list, err := store.List(context.Background(), 10, 0)

	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "F32", list[1].Pair.A)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Decisions(t *testing.T) {
	store, mock := setupTestDB(t)
	now := time.Now().UTC()

	mock.ExpectQuery("FROM correlation_decisions").
		WithArgs("A09", "K52", 5).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "code_a", "code_b", "outcome", "subject_id", "case_id", "reviewer",
			"suggested_confidence", "notes", "created_at",
		}).AddRow(2, "A09", "K52", "rejected", "s1", "c2", "auditor", 76.5, "", now))

	decisions, err := store.Decisions(context.Background(), domain.NewCodePair("K52", "A09"), 5)

	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, OutcomeRejected, decisions[0].Outcome)
	assert.Equal(t, "c2", decisions[0].CaseID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Count(t *testing.T) {
	store, mock := setupTestDB(t)

	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	count, err := store.Count(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(12), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
