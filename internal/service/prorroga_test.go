package service

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prorroga-chain-server/internal/chain"
	"github.com/prorroga-chain-server/internal/domain"
	"github.com/prorroga-chain-server/internal/feedback"
	"github.com/prorroga-chain-server/internal/reference"
	"github.com/prorroga-chain-server/internal/scoring"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeSource struct {
	cases map[string][]domain.LeaveCase
	err   error
}

func (f *fakeSource) ListSubjects(context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	ids := make([]string, 0, len(f.cases))
	for id := range f.cases {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeSource) ListCases(_ context.Context, subjectID string) ([]domain.LeaveCase, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.cases[subjectID], nil
}

func newTestService(t *testing.T, repo *reference.Repository, opts ...Option) *ProrrogaService {
	t.Helper()
	if repo == nil {
		var err error
		repo, err = reference.NewRepository("", testLogger())
		require.NoError(t, err)
	}
	ledger := feedback.NewLedger(feedback.NewMemoryStore(), 0, testLogger())
	scorer, err := scoring.NewScorer(repo, ledger, scoring.Config{}, testLogger())
	require.NoError(t, err)
	builder := chain.NewBuilder(scorer, chain.Config{}, testLogger())
	return NewProrrogaService(testLogger(), repo, scorer, builder, ledger, opts...)
}

// day returns the n-th day of 2026, starting at 1.
func day(n int) *time.Time {
	d := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n-1)
	return &d
}

func leave(subject, id, code string, start, days int) domain.LeaveCase {
	return domain.LeaveCase{CaseID: id, SubjectID: subject, Code: code, StartDate: day(start), Days: days}
}

// overLimit is a 185-day lumbar chain.
func overLimit(subject string) []domain.LeaveCase {
	return []domain.LeaveCase{
		leave(subject, "c1", "M54", 1, 60),
		leave(subject, "c2", "M54.5", 61, 60),
		leave(subject, "c3", "M51", 121, 65),
	}
}

func TestScoreCorrelation(t *testing.T) {
	svc := newTestService(t, nil)

	result, err := svc.ScoreCorrelation(context.Background(), &ScoreCorrelationParams{
		CodeA:  "A09",
		CodeB:  "k52.9",
		DayGap: scoring.Gap(5),
	})

	require.NoError(t, err)
	assert.Equal(t, 76.5, result.Confidence)
	assert.True(t, result.IsProrrogaGrade)
}

func TestScoreCorrelation_Validation(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.ScoreCorrelation(context.Background(), &ScoreCorrelationParams{CodeA: "A09"})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Field, "CodeB")

	_, err = svc.ScoreCorrelation(context.Background(), &ScoreCorrelationParams{CodeA: "A09", CodeB: "K52", DayGap: scoring.Gap(-3)})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "day_gap", verr.Field)
}

func TestLookupCode(t *testing.T) {
	svc := newTestService(t, nil)

	lookup, err := svc.LookupCode("a09.0")
	require.NoError(t, err)
	assert.Equal(t, "A09", lookup.Code.Canonical)
	assert.True(t, lookup.Known)
	assert.Equal(t, []int{1, 5}, lookup.TypicalDays)
	assert.Contains(t, lookup.Groups, "gastrointestinal_infectious")
	assert.Equal(t, "Certain infectious and parasitic diseases", lookup.ChapterTitle)

	unlisted, err := svc.LookupCode("B99")
	require.NoError(t, err)
	assert.False(t, unlisted.Known)
	assert.NotEmpty(t, unlisted.Code.Chapter)

	_, err = svc.LookupCode("??")
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRelatedCodes(t *testing.T) {
	svc := newTestService(t, nil)

	related, err := svc.RelatedCodes("M54")
	require.NoError(t, err)
	assert.Contains(t, related, "M51")
	assert.NotContains(t, related, "M54")

	none, err := svc.RelatedCodes("B99")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestValidateDayCount(t *testing.T) {
	svc := newTestService(t, nil)

	tests := []struct {
		name     string
		start    int
		end      int
		days     int
		correct  bool
		computed int
	}{
		{"same day", 1, 1, 1, true, 1},
		{"ten days", 1, 10, 10, true, 10},
		{"one short", 1, 10, 9, false, 10},
		{"across months", 25, 40, 16, true, 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := svc.ValidateDayCount(&DayCountParams{StartDate: *day(tt.start), EndDate: *day(tt.end), Days: tt.days})
			require.NoError(t, err)
			assert.Equal(t, tt.correct, result.Correct)
			assert.Equal(t, tt.computed, result.ComputedDays)
		})
	}

	_, err := svc.ValidateDayCount(&DayCountParams{StartDate: *day(10), EndDate: *day(1), Days: 1})
	assert.Error(t, err)
}

func TestValidateTypicalDays(t *testing.T) {
	svc := newTestService(t, nil)

	within, err := svc.ValidateTypicalDays(&TypicalDaysParams{Code: "A09", Days: 3})
	require.NoError(t, err)
	require.NotNil(t, within.WithinRange)
	assert.True(t, *within.WithinRange)

	outside, err := svc.ValidateTypicalDays(&TypicalDaysParams{Code: "A09", Days: 12})
	require.NoError(t, err)
	require.NotNil(t, outside.WithinRange)
	assert.False(t, *outside.WithinRange)
	assert.Equal(t, []int{1, 5}, outside.Range)

	unknown, err := svc.ValidateTypicalDays(&TypicalDaysParams{Code: "B99", Days: 3})
	require.NoError(t, err)
	assert.Nil(t, unknown.WithinRange)
}

func TestAnalyzeSubject_OverLimit(t *testing.T) {
	svc := newTestService(t, nil)

	// Act
	analysis, err := svc.AnalyzeSubject(context.Background(), "subj-1", overLimit("subj-1"))

	// Assert
	require.NoError(t, err)
	require.Len(t, analysis.Result.Chains, 1)
	assert.Equal(t, 185, analysis.Summary.LongestChainDays)
	assert.Equal(t, 1, analysis.Summary.ProrrogaChains)
	assert.Zero(t, analysis.Summary.IsolatedCases)
	assert.True(t, analysis.Summary.OverLimit)
	assert.False(t, analysis.Summary.NearLimit)
	assert.Equal(t, reference.DefaultVersion, analysis.Summary.ReferenceVersion)

	require.Len(t, analysis.Alerts, 1)
	assert.Equal(t, domain.ALERT_CRITICAL, analysis.Alerts[0].Tier)
	assert.Equal(t, "subj-1:c1:critical", analysis.Alerts[0].Key)
	assert.Equal(t, 5, analysis.Alerts[0].DaysExceeded)
	assert.Equal(t, 1, analysis.Summary.Alerts.Critical)
}

func TestAnalyzeSubject_FillsMissingSubject(t *testing.T) {
	svc := newTestService(t, nil)
	cases := overLimit("")

	analysis, err := svc.AnalyzeSubject(context.Background(), "subj-9", cases)

	require.NoError(t, err)
	assert.Equal(t, "subj-9", analysis.SubjectID)
	assert.Empty(t, cases[0].SubjectID, "input must not be mutated")
}

func TestAnalyzeSubject_Errors(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	var verr *domain.ValidationError

	_, err := svc.AnalyzeSubject(ctx, "", nil)
	assert.ErrorAs(t, err, &verr)

	_, err = svc.AnalyzeSubject(ctx, "subj-1", []domain.LeaveCase{leave("subj-2", "c1", "M54", 1, 5)})
	assert.ErrorAs(t, err, &verr)

	_, err = svc.AnalyzeSubject(ctx, "subj-1", []domain.LeaveCase{leave("subj-1", "c1", "M54", 1, -5)})
	assert.ErrorAs(t, err, &verr)

	unsorted := []domain.LeaveCase{leave("subj-1", "c1", "M54", 10, 5), leave("subj-1", "c2", "M54", 1, 5)}
	_, err = svc.AnalyzeSubject(ctx, "subj-1", unsorted)
	assert.True(t, errors.Is(err, domain.ErrUnsortedInput))
	var perr *domain.PreconditionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, perr.Index)
}

func TestAnalyzeSubject_NearLimitWithConfiguredThresholds(t *testing.T) {
	svc := newTestService(t, nil, WithThresholds(domain.LegalThresholds{Informational: 100, High: 190, Critical: 200}))

	analysis, err := svc.AnalyzeSubject(context.Background(), "subj-1", overLimit("subj-1"))

	require.NoError(t, err)
	assert.True(t, analysis.Summary.NearLimit)
	assert.False(t, analysis.Summary.OverLimit)
	require.Len(t, analysis.Alerts, 1)
	assert.Equal(t, domain.ALERT_INFORMATIONAL, analysis.Alerts[0].Tier)
}

func TestAnalyzeAll(t *testing.T) {
	svc := newTestService(t, nil, WithAnalysisConfig(domain.AnalysisConfig{MaxConcurrency: 2}))
	subjects := []SubjectCases{
		{SubjectID: "short", Cases: []domain.LeaveCase{leave("short", "s1", "J00", 1, 3)}},
		{SubjectID: "long", Cases: overLimit("long")},
		{SubjectID: "broken", Cases: []domain.LeaveCase{leave("broken", "b1", "M54", 9, 3), leave("broken", "b2", "M54", 2, 3)}},
		{SubjectID: "medium", Cases: []domain.LeaveCase{leave("medium", "m1", "A09", 1, 5), leave("medium", "m2", "K52", 6, 5)}},
	}

	// Act
	batch, err := svc.AnalyzeAll(context.Background(), subjects)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 3, batch.SubjectsAnalyzed)
	require.Len(t, batch.Failures, 1)
	assert.Equal(t, "broken", batch.Failures[0].SubjectID)

	ids := []string{batch.Analyses[0].SubjectID, batch.Analyses[1].SubjectID, batch.Analyses[2].SubjectID}
	assert.Equal(t, []string{"long", "medium", "short"}, ids)
	require.Len(t, batch.Alerts, 1)
	assert.Equal(t, 1, batch.AlertSummary.Critical)
}

func TestAnalyzeAll_Cancelled(t *testing.T) {
	svc := newTestService(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.AnalyzeAll(ctx, []SubjectCases{{SubjectID: "a", Cases: overLimit("a")}})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzeFromSource(t *testing.T) {
	ctx := context.Background()

	without := newTestService(t, nil)
	_, err := without.AnalyzeSubjectFromSource(ctx, "subj-1")
	assert.ErrorIs(t, err, ErrNoCaseSource)
	_, err = without.AnalyzeSource(ctx)
	assert.ErrorIs(t, err, ErrNoCaseSource)

	source := &fakeSource{cases: map[string][]domain.LeaveCase{
		"subj-1": overLimit("subj-1"),
		"subj-2": {leave("subj-2", "x1", "J00", 1, 2)},
	}}
	svc := newTestService(t, nil, WithCaseSource(source))

	analysis, err := svc.AnalyzeSubjectFromSource(ctx, "subj-1")
	require.NoError(t, err)
	assert.Equal(t, 185, analysis.Summary.LongestChainDays)

	_, err = svc.AnalyzeSubjectFromSource(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	batch, err := svc.AnalyzeSource(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, batch.SubjectsAnalyzed)
	assert.Equal(t, "subj-1", batch.Analyses[0].SubjectID)

	source.err = errors.New("connection refused")
	_, err = svc.AnalyzeSource(ctx)
	assert.ErrorContains(t, err, "connection refused")
}

func TestDetectExtension(t *testing.T) {
	svc := newTestService(t, nil)

	result, err := svc.DetectExtension(context.Background(), &DetectExtensionParams{
		SubjectID: "subj-1",
		Candidate: domain.LeaveCase{CaseID: "new", Code: "M51", StartDate: day(45), Days: 5},
		PriorCases: []domain.LeaveCase{
			leave("subj-1", "back", "M54", 20, 10),
			leave("subj-1", "cold", "J00", 40, 3),
			leave("subj-1", "future", "M54", 60, 3),
			{CaseID: "undated", SubjectID: "subj-1", Code: "M54", Days: 3},
		},
	})

	require.NoError(t, err)
	assert.True(t, result.IsExtension)
	require.NotNil(t, result.Prior)
	assert.Equal(t, "back", result.Prior.CaseID)
	assert.Equal(t, 2, result.Examined)
	require.NotNil(t, result.Link)
	assert.Equal(t, domain.LINK_CORRELATION, result.Link.Kind)
}

func TestDetectExtension_NoMatch(t *testing.T) {
	svc := newTestService(t, nil, WithAnalysisConfig(domain.AnalysisConfig{DetectLookback: 1}))

	result, err := svc.DetectExtension(context.Background(), &DetectExtensionParams{
		SubjectID: "subj-1",
		Candidate: domain.LeaveCase{CaseID: "new", Code: "M51", StartDate: day(45), Days: 5},
		PriorCases: []domain.LeaveCase{
			leave("subj-1", "back", "M54", 20, 10),
			leave("subj-1", "cold", "J00", 40, 3),
		},
	})

	require.NoError(t, err)
	assert.False(t, result.IsExtension)
	assert.Equal(t, 1, result.Examined)

	undated, err := svc.DetectExtension(context.Background(), &DetectExtensionParams{
		SubjectID: "subj-1",
		Candidate: domain.LeaveCase{CaseID: "new", Code: "M51", Days: 5},
	})
	require.NoError(t, err)
	assert.False(t, undated.IsExtension)
	assert.Zero(t, undated.Examined)
}

func TestRecordDecision(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := svc.RecordDecision(ctx, &RecordDecisionParams{CodeA: "K52", CodeB: "a09", Outcome: "confirmed", Reviewer: "auditor"})
		require.NoError(t, err)
	}
	adj, err := svc.RecordDecision(ctx, &RecordDecisionParams{CodeA: "A09", CodeB: "K52", Outcome: "rejected"})
	require.NoError(t, err)
	assert.Equal(t, domain.CodePair{A: "A09", B: "K52"}, adj.Pair)
	assert.Equal(t, 4, adj.Confirmed)
	assert.Equal(t, 1, adj.Rejected)

	stored, err := svc.GetAdjustment(ctx, "k52", "A09")
	require.NoError(t, err)
	assert.Equal(t, 5, stored.Samples())

	// the learned 80% now blends into the score
	result, err := svc.ScoreCorrelation(ctx, &ScoreCorrelationParams{CodeA: "A09", CodeB: "K52", DayGap: scoring.Gap(5)})
	require.NoError(t, err)
	assert.Equal(t, 77.2, result.Confidence)
}

func TestRecordDecision_Errors(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	var verr *domain.ValidationError

	_, err := svc.RecordDecision(ctx, &RecordDecisionParams{CodeA: "A09", CodeB: "K52", Outcome: "maybe"})
	assert.ErrorAs(t, err, &verr)

	_, err = svc.RecordDecision(ctx, &RecordDecisionParams{CodeA: "??", CodeB: "K52", Outcome: "confirmed"})
	assert.ErrorAs(t, err, &verr)

	_, err = svc.GetAdjustment(ctx, "A09", "K52")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	noLedger := NewProrrogaService(testLogger(), svc.repo, svc.scorer, svc.builder, nil)
	_, err = noLedger.RecordDecision(ctx, &RecordDecisionParams{CodeA: "A09", CodeB: "K52", Outcome: "confirmed"})
	assert.ErrorIs(t, err, ErrNoLedger)
}

func TestInfoAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reference.json")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, reference.Encode(f, reference.DefaultDocument()))
	require.NoError(t, f.Close())

	repo, err := reference.NewRepository(path, testLogger())
	require.NoError(t, err)
	svc := newTestService(t, repo)

	info := svc.Info()
	assert.Equal(t, path, info.Path)
	assert.Equal(t, 180, info.Thresholds.Critical)
	assert.Equal(t, 30, info.CutWindowDays)
	assert.Equal(t, feedback.DefaultMinSamples, info.LedgerMinSample)
	generation := info.Reference.Generation

	reloaded, err := svc.ReloadReference()
	require.NoError(t, err)
	assert.Equal(t, generation+1, reloaded.Reference.Generation)

	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	kept, err := svc.ReloadReference()
	assert.Error(t, err)
	assert.Equal(t, generation+1, kept.Reference.Generation)
}
