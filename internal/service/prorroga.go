package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/prorroga-chain-server/internal/alert"
	"github.com/prorroga-chain-server/internal/chain"
	"github.com/prorroga-chain-server/internal/domain"
	"github.com/prorroga-chain-server/internal/feedback"
	"github.com/prorroga-chain-server/internal/monitoring"
	"github.com/prorroga-chain-server/internal/reference"
	"github.com/prorroga-chain-server/internal/scoring"
)

const (
	// DefaultMaxConcurrency bounds parallel subject analyses in a batch.
	DefaultMaxConcurrency = 4
	// DefaultDetectLookback is how many prior cases DetectExtension examines.
	DefaultDetectLookback = 10
)

var (
	ErrNoCaseSource = errors.New("no leave-case source configured")
	ErrNoLedger     = errors.New("correlation ledger is not configured")
)

// ProrrogaService is the application facade over scoring, chain building,
// alert generation and the correlation ledger.
type ProrrogaService struct {
	logger     *logrus.Logger
	repo       *reference.Repository
	scorer     *scoring.Scorer
	builder    *chain.Builder
	ledger     *feedback.Ledger
	source     domain.CaseSource
	metrics    *monitoring.Metrics
	validate   *validator.Validate
	thresholds domain.LegalThresholds
	analysis   domain.AnalysisConfig
}

// Option configures optional collaborators of the service.
type Option func(*ProrrogaService)

// WithCaseSource enables analyses that read cases from a system of record.
func WithCaseSource(source domain.CaseSource) Option {
	return func(s *ProrrogaService) { s.source = source }
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(s *ProrrogaService) { s.metrics = m }
}

// WithThresholds overrides the thresholds carried by the reference data.
func WithThresholds(t domain.LegalThresholds) Option {
	return func(s *ProrrogaService) { s.thresholds = t }
}

// WithAnalysisConfig sets batch concurrency and the detection lookback.
func WithAnalysisConfig(c domain.AnalysisConfig) Option {
	return func(s *ProrrogaService) { s.analysis = c }
}

// NewProrrogaService creates the service. The ledger may be nil, in which
// case decisions cannot be recorded.
func NewProrrogaService(
	logger *logrus.Logger,
	repo *reference.Repository,
	scorer *scoring.Scorer,
	builder *chain.Builder,
	ledger *feedback.Ledger,
	opts ...Option,
) *ProrrogaService {
	s := &ProrrogaService{
		logger:   logger,
		repo:     repo,
		scorer:   scorer,
		builder:  builder,
		ledger:   ledger,
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.analysis.MaxConcurrency <= 0 {
		s.analysis.MaxConcurrency = DefaultMaxConcurrency
	}
	if s.analysis.DetectLookback <= 0 {
		s.analysis.DetectLookback = DefaultDetectLookback
	}
	return s
}

// ScoreCorrelation scores one code pair.
func (s *ProrrogaService) ScoreCorrelation(ctx context.Context, params *ScoreCorrelationParams) (*scoring.Result, error) {
	if err := s.validateParams(params); err != nil {
		return nil, err
	}
	if params.DayGap != nil && *params.DayGap < 0 {
		return nil, domain.NewValidationError("day_gap", "must not be negative", *params.DayGap)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	started := time.Now()
	result := s.scorer.Score(scoring.Request{
		CodeA:       params.CodeA,
		CodeB:       params.CodeB,
		DayGap:      params.DayGap,
		EarlierCode: params.EarlierCode,
	})
	s.metrics.ObserveScore(result.Tier.String(), time.Since(started))

	s.logger.WithFields(logrus.Fields{
		"code_a":     result.CodeA,
		"code_b":     result.CodeB,
		"confidence": result.Confidence,
		"base":       result.Explanation.Base,
	}).Debug("Scored code pair")

	return &result, nil
}

// LookupCode resolves a code against the current reference data. Codes
// outside the curated table still report their chapter and block.
func (s *ProrrogaService) LookupCode(code string) (*CodeLookup, error) {
	if _, ok := reference.Normalize(code); !ok {
		return nil, domain.NewValidationError("code", "not a valid diagnosis code", code)
	}
	snap := s.scorer.Snapshot()
	resolved := s.scorer.Resolver().Resolve(snap, code)

	lookup := &CodeLookup{
		Code:         resolved,
		ChapterTitle: snap.ChapterTitle(resolved.ChapterID),
	}
	if info, ok := snap.CodeInfo(resolved.Canonical); ok {
		lookup.Known = true
		lookup.TypicalDays = info.TypicalDays
	}
	for _, g := range snap.GroupsFor(resolved.Canonical) {
		lookup.Groups = append(lookup.Groups, g.ID)
	}
	return lookup, nil
}

// RelatedCodes returns every code sharing a correlation group with code.
func (s *ProrrogaService) RelatedCodes(code string) ([]string, error) {
	canonical, ok := reference.Normalize(code)
	if !ok {
		return nil, domain.NewValidationError("code", "not a valid diagnosis code", code)
	}
	related := s.scorer.Snapshot().RelatedCodes(canonical)
	if related == nil {
		related = []string{}
	}
	return related, nil
}

// ValidateDayCount checks that end - start + 1 equals the declared days.
func (s *ProrrogaService) ValidateDayCount(params *DayCountParams) (*DayCountResult, error) {
	if err := s.validateParams(params); err != nil {
		return nil, err
	}
	if params.EndDate.Before(params.StartDate) {
		return nil, domain.NewValidationError("end_date", "must not precede start_date", params.EndDate)
	}

	computed := domain.DaysBetween(params.StartDate, params.EndDate) + 1
	result := &DayCountResult{
		StartDate:    params.StartDate,
		EndDate:      params.EndDate,
		DeclaredDays: params.Days,
		ComputedDays: computed,
		Correct:      computed == params.Days,
	}
	span := fmt.Sprintf("%s to %s", params.StartDate.Format(time.DateOnly), params.EndDate.Format(time.DateOnly))
	if result.Correct {
		result.Message = fmt.Sprintf("day count is correct: %d days (%s)", computed, span)
	} else {
		result.Message = fmt.Sprintf("declared %d days but the span covers %d (%s)", params.Days, computed, span)
	}
	return result, nil
}

// ValidateTypicalDays compares a leave length against the code's typical range.
func (s *ProrrogaService) ValidateTypicalDays(params *TypicalDaysParams) (*TypicalDaysResult, error) {
	if err := s.validateParams(params); err != nil {
		return nil, err
	}
	canonical, ok := reference.Normalize(params.Code)
	if !ok {
		return nil, domain.NewValidationError("code", "not a valid diagnosis code", params.Code)
	}

	result := &TypicalDaysResult{Code: canonical, Days: params.Days}
	info, known := s.scorer.Snapshot().CodeInfo(canonical)
	if !known || len(info.TypicalDays) < 2 {
		result.Message = "no typical range is known for this code"
		return result, nil
	}

	lo, hi := info.TypicalDays[0], info.TypicalDays[1]
	within := params.Days >= lo && params.Days <= hi
	result.Description = info.Description
	result.Range = []int{lo, hi}
	result.WithinRange = &within
	if within {
		result.Message = fmt.Sprintf("within the typical range (%d-%d days)", lo, hi)
	} else {
		result.Message = fmt.Sprintf("outside the typical range (%d-%d days); may need review", lo, hi)
	}
	return result, nil
}

// AnalyzeSubject builds chains for one subject's cases, generates alerts and
// summarizes the outcome. Cases must be sorted by start date.
func (s *ProrrogaService) AnalyzeSubject(ctx context.Context, subjectID string, cases []domain.LeaveCase) (*SubjectAnalysis, error) {
	if subjectID == "" {
		return nil, domain.NewValidationError("subject_id", "is required", subjectID)
	}
	prepared, err := s.prepareCases(subjectID, cases)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	started := time.Now()
	snap := s.scorer.Snapshot()
	result, err := s.builder.BuildWith(snap, subjectID, prepared)
	if err != nil {
		return nil, fmt.Errorf("failed to build chains for subject %s: %w", subjectID, err)
	}

	thresholds := s.Thresholds()
	alerts := alert.Generate(subjectID, result.Chains, result.CutFindings, thresholds)
	analysis := &SubjectAnalysis{
		SubjectID:  subjectID,
		Result:     result,
		Alerts:     alerts,
		Summary:    summarize(snap, len(prepared), result, alerts, thresholds),
		AnalyzedAt: time.Now().UTC(),
	}

	s.metrics.ObserveChains(analysis.Summary.ProrrogaChains, analysis.Summary.TotalChains-analysis.Summary.ProrrogaChains)
	for _, a := range alerts {
		s.metrics.ObserveAlert(a.Tier.String())
	}
	s.metrics.ObserveAnalysis(time.Since(started))

	s.logger.WithFields(logrus.Fields{
		"subject_id":      subjectID,
		"cases":           len(prepared),
		"chains":          analysis.Summary.TotalChains,
		"prorroga_chains": analysis.Summary.ProrrogaChains,
		"longest_days":    analysis.Summary.LongestChainDays,
		"alerts":          len(alerts),
		"duration":        time.Since(started),
	}).Info("Subject analysis completed")

	return analysis, nil
}

// AnalyzeSubjectFromSource loads a subject's cases from the configured source and analyzes them.
func (s *ProrrogaService) AnalyzeSubjectFromSource(ctx context.Context, subjectID string) (*SubjectAnalysis, error) {
	if s.source == nil {
		return nil, ErrNoCaseSource
	}
	cases, err := s.source.ListCases(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cases for subject %s: %w", subjectID, err)
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("subject %s: %w", subjectID, domain.ErrNotFound)
	}
	return s.AnalyzeSubject(ctx, subjectID, cases)
}

// AnalyzeAll analyzes many subjects in parallel. Subjects that fail are
// reported in Failures; the analyses are ordered by longest chain.
func (s *ProrrogaService) AnalyzeAll(ctx context.Context, subjects []SubjectCases) (*BatchAnalysis, error) {
	started := time.Now()
	analyses := make([]*SubjectAnalysis, len(subjects))
	errs := make([]error, len(subjects))

	sem := make(chan struct{}, s.analysis.MaxConcurrency)
	var wg sync.WaitGroup
	for i := range subjects {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				errs[i] = ctx.Err()
				return
			}
			defer func() { <-sem }()
			analyses[i], errs[i] = s.AnalyzeSubject(ctx, subjects[i].SubjectID, subjects[i].Cases)
		}(i)
	}
	wg.Wait()

	batch := &BatchAnalysis{
		Analyses: make([]*SubjectAnalysis, 0, len(subjects)),
		Alerts:   []domain.Alert{},
	}
	for i, a := range analyses {
		if errs[i] != nil {
			batch.Failures = append(batch.Failures, SubjectFailure{SubjectID: subjects[i].SubjectID, Error: errs[i].Error()})
			continue
		}
		batch.Analyses = append(batch.Analyses, a)
		batch.Alerts = append(batch.Alerts, a.Alerts...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(batch.Analyses, func(i, j int) bool {
		a, b := batch.Analyses[i], batch.Analyses[j]
		if a.Summary.LongestChainDays != b.Summary.LongestChainDays {
			return a.Summary.LongestChainDays > b.Summary.LongestChainDays
		}
		return a.SubjectID < b.SubjectID
	})
	alert.SortBySeverity(batch.Alerts)
	batch.SubjectsAnalyzed = len(batch.Analyses)
	batch.AlertSummary = alert.Summarize(batch.Alerts)
	batch.Duration = time.Since(started)

	s.logger.WithFields(logrus.Fields{
		"subjects": batch.SubjectsAnalyzed,
		"failures": len(batch.Failures),
		"alerts":   len(batch.Alerts),
		"duration": batch.Duration,
	}).Info("Batch analysis completed")

	return batch, nil
}

// AnalyzeSource analyzes every subject known to the case source.
func (s *ProrrogaService) AnalyzeSource(ctx context.Context) (*BatchAnalysis, error) {
	if s.source == nil {
		return nil, ErrNoCaseSource
	}
	ids, err := s.source.ListSubjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}

	subjects := make([]SubjectCases, 0, len(ids))
	for _, id := range ids {
		cases, err := s.source.ListCases(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load cases for subject %s: %w", id, err)
		}
		subjects = append(subjects, SubjectCases{SubjectID: id, Cases: cases})
	}
	return s.AnalyzeAll(ctx, subjects)
}

// DetectExtension reports the first of the most recent prior cases that the
// candidate extends under the chain building rules.
func (s *ProrrogaService) DetectExtension(ctx context.Context, params *DetectExtensionParams) (*DetectionResult, error) {
	if params == nil {
		return nil, domain.NewValidationError("params", "are required", nil)
	}
	candidate := params.Candidate
	if candidate.SubjectID == "" {
		candidate.SubjectID = params.SubjectID
	}
	checked := *params
	checked.Candidate = candidate
	if err := s.validateParams(&checked); err != nil {
		return nil, err
	}
	if candidate.StartDate == nil {
		return &DetectionResult{Explanation: "candidate has no start date"}, nil
	}

	priors := make([]domain.LeaveCase, 0, len(params.PriorCases))
	for _, p := range params.PriorCases {
		if p.StartDate == nil || !p.StartDate.Before(*candidate.StartDate) {
			continue
		}
		if candidate.CaseID != "" && p.CaseID == candidate.CaseID {
			continue
		}
		if p.SubjectID == "" {
			p.SubjectID = params.SubjectID
		}
		priors = append(priors, p)
	}
	sort.SliceStable(priors, func(i, j int) bool { return priors[i].StartDate.After(*priors[j].StartDate) })
	if len(priors) > s.analysis.DetectLookback {
		priors = priors[:s.analysis.DetectLookback]
	}

	snap := s.scorer.Snapshot()
	for i := range priors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := s.builder.BuildWith(snap, params.SubjectID, []domain.LeaveCase{priors[i], candidate})
		if err != nil {
			return nil, fmt.Errorf("failed to relate candidate to prior case %s: %w", priors[i].CaseID, err)
		}
		for _, c := range result.Chains {
			if len(c.Members) == 2 && c.Members[1].CaseIndex == 1 {
				prior := priors[i]
				return &DetectionResult{
					IsExtension: true,
					Prior:       &prior,
					Link:        c.Members[1].Link,
					Examined:    i + 1,
					Explanation: c.Members[1].Link.Explanation,
				}, nil
			}
		}
	}
	return &DetectionResult{
		Examined:    len(priors),
		Explanation: "no correlated prior case found",
	}, nil
}

// RecordDecision appends a reviewer's verdict to the correlation ledger.
func (s *ProrrogaService) RecordDecision(ctx context.Context, params *RecordDecisionParams) (*feedback.Adjustment, error) {
	if s.ledger == nil {
		return nil, ErrNoLedger
	}
	if err := s.validateParams(params); err != nil {
		return nil, err
	}

	decision := &feedback.Decision{
		Pair:                domain.CodePair{A: params.CodeA, B: params.CodeB},
		Outcome:             feedback.Outcome(params.Outcome),
		SubjectID:           params.SubjectID,
		CaseID:              params.CaseID,
		Reviewer:            params.Reviewer,
		SuggestedConfidence: params.SuggestedConfidence,
		Notes:               params.Notes,
	}
	adj, err := s.ledger.Record(ctx, decision)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidDecision) {
			return nil, domain.NewValidationError("pair", err.Error(), params.CodeA+"/"+params.CodeB)
		}
		return nil, fmt.Errorf("failed to record decision: %w", err)
	}
	s.metrics.ObserveDecision(params.Outcome)
	return adj, nil
}

// GetAdjustment returns the ledger aggregate for a pair.
func (s *ProrrogaService) GetAdjustment(ctx context.Context, codeA, codeB string) (*feedback.Adjustment, error) {
	if s.ledger == nil {
		return nil, ErrNoLedger
	}
	a, okA := reference.Normalize(codeA)
	b, okB := reference.Normalize(codeB)
	if !okA || !okB {
		return nil, domain.NewValidationError("pair", "both codes must be valid", codeA+"/"+codeB)
	}
	adj, err := s.ledger.Get(ctx, domain.NewCodePair(a, b))
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger entry: %w", err)
	}
	if adj == nil {
		return nil, fmt.Errorf("pair %s/%s: %w", a, b, domain.ErrNotFound)
	}
	return adj, nil
}

// Info describes the active reference data, windows and thresholds.
func (s *ProrrogaService) Info() ReferenceInfo {
	snap := s.scorer.Snapshot()
	chainCfg := s.builder.Config()
	scoreCfg := s.scorer.Config()

	info := ReferenceInfo{
		Reference:        snap.Stats(),
		Thresholds:       s.Thresholds(),
		CutWindowDays:    chainCfg.CutWindowDays,
		ShortGapDays:     chainCfg.ShortGapDays,
		MaxCutSeparation: chainCfg.MaxCutSeparationDays,
		PossibleScore:    scoreCfg.PossibleThreshold,
		ProrrogaScore:    scoreCfg.ProrrogaThreshold,
		CacheEntries:     s.scorer.CacheLen(),
	}
	if s.repo != nil {
		info.Path = s.repo.Path()
	}
	if s.ledger != nil {
		info.LedgerPairs = s.ledger.Size()
		info.LedgerMinSample = s.ledger.MinSamples()
	}
	return info
}

// ReloadReference re-reads the reference data. On failure the previous
// snapshot stays active.
func (s *ProrrogaService) ReloadReference() (ReferenceInfo, error) {
	if s.repo == nil {
		return ReferenceInfo{}, fmt.Errorf("%w: no repository configured", domain.ErrInvalidReference)
	}
	_, err := s.repo.Reload()
	s.metrics.ObserveReload(err)
	if err != nil {
		return s.Info(), fmt.Errorf("failed to reload reference data: %w", err)
	}
	return s.Info(), nil
}

// Thresholds returns the configured legal thresholds, falling back to the
// reference data's.
func (s *ProrrogaService) Thresholds() domain.LegalThresholds {
	if s.thresholds.Critical > 0 {
		return s.thresholds
	}
	return s.scorer.Snapshot().Thresholds()
}

// prepareCases copies the cases, fills a missing subject id and validates each one.
func (s *ProrrogaService) prepareCases(subjectID string, cases []domain.LeaveCase) ([]domain.LeaveCase, error) {
	prepared := make([]domain.LeaveCase, len(cases))
	copy(prepared, cases)
	for i := range prepared {
		if prepared[i].SubjectID == "" {
			prepared[i].SubjectID = subjectID
		}
		if prepared[i].SubjectID != subjectID {
			return nil, domain.NewValidationError(fmt.Sprintf("cases[%d].subject_id", i), "belongs to a different subject", prepared[i].SubjectID)
		}
		if err := s.validateParams(&prepared[i]); err != nil {
			return nil, err
		}
	}
	return prepared, nil
}

func (s *ProrrogaService) validateParams(params interface{}) error {
	if err := s.validate.Struct(params); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return domain.NewValidationError(fe.Namespace(), fmt.Sprintf("failed on the '%s' rule", fe.Tag()), fe.Value())
		}
		return domain.NewValidationError("params", err.Error(), nil)
	}
	return nil
}

func summarize(snap *reference.Snapshot, totalCases int, result *chain.Result, alerts []domain.Alert, t domain.LegalThresholds) SubjectSummary {
	summary := SubjectSummary{
		TotalCases:        totalCases,
		TotalChains:       len(result.Chains),
		ExcludedCases:     len(result.Excluded),
		Alerts:            alert.Summarize(alerts),
		ReferenceVersion:  snap.Version(),
		ReferenceRevision: snap.Generation(),
	}
	for _, c := range result.Chains {
		if c.IsProrroga {
			summary.ProrrogaChains++
		} else {
			summary.IsolatedCases++
		}
		summary.BridgedGaps += len(c.BridgedGaps)
		summary.TotalDays += c.AccumulatedDays
		if c.AccumulatedDays > summary.LongestChainDays {
			summary.LongestChainDays = c.AccumulatedDays
			summary.LongestChainID = c.ID
		}
	}
	summary.OverLimit = summary.LongestChainDays >= t.Critical
	summary.NearLimit = !summary.OverLimit && summary.LongestChainDays >= t.Informational
	return summary
}
