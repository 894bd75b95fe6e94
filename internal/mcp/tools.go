package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/prorroga-chain-server/internal/domain"
	"github.com/prorroga-chain-server/internal/feedback"
	"github.com/prorroga-chain-server/internal/service"
)

// Tool inputs carry dates as strings so clients can send plain YYYY-MM-DD.

type scoreCorrelationInput struct {
	CodeA       string `json:"code_a" jsonschema:"first diagnosis code, e.g. A09"`
	CodeB       string `json:"code_b" jsonschema:"second diagnosis code"`
	DayGap      *int   `json:"day_gap,omitempty" jsonschema:"days between the end of one leave and the start of the next"`
	EarlierCode string `json:"earlier_code,omitempty" jsonschema:"which of the two codes came first in time"`
}

type caseInput struct {
	CaseID    string `json:"case_id" jsonschema:"unique case identifier"`
	SubjectID string `json:"subject_id,omitempty"`
	Code      string `json:"code,omitempty" jsonschema:"diagnosis code; omit when unknown"`
	StartDate string `json:"start_date,omitempty" jsonschema:"start date, YYYY-MM-DD"`
	EndDate   string `json:"end_date,omitempty" jsonschema:"end date, YYYY-MM-DD"`
	Days      int    `json:"days" jsonschema:"declared leave days"`
}

type analyzeSubjectInput struct {
	SubjectID string      `json:"subject_id"`
	Cases     []caseInput `json:"cases" jsonschema:"the subject's cases sorted by start date"`
}

type detectExtensionInput struct {
	SubjectID  string      `json:"subject_id"`
	Candidate  caseInput   `json:"candidate" jsonschema:"the new case to test"`
	PriorCases []caseInput `json:"prior_cases,omitempty"`
}

type recordDecisionInput struct {
	CodeA               string  `json:"code_a"`
	CodeB               string  `json:"code_b"`
	Outcome             string  `json:"outcome" jsonschema:"confirmed or rejected"`
	SubjectID           string  `json:"subject_id,omitempty"`
	CaseID              string  `json:"case_id,omitempty"`
	Reviewer            string  `json:"reviewer,omitempty"`
	SuggestedConfidence float64 `json:"suggested_confidence,omitempty"`
	Notes               string  `json:"notes,omitempty"`
}

type lookupCodeInput struct {
	Code string `json:"code"`
}

type dayCountInput struct {
	StartDate string `json:"start_date" jsonschema:"YYYY-MM-DD"`
	EndDate   string `json:"end_date" jsonschema:"YYYY-MM-DD"`
	Days      int    `json:"days"`
}

type importLedgerInput struct {
	Path string `json:"path" jsonschema:"path of a JSON export to replay"`
}

type emptyInput struct{}

type lookupCodeOutput struct {
	*service.CodeLookup
	Related []string `json:"related"`
}

type exportLedgerOutput struct {
	Path      string    `json:"path"`
	Decisions int64     `json:"decisions"`
	WrittenAt time.Time `json:"written_at"`
}

type importLedgerOutput struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Pairs    int `json:"pairs"`
}

// toolSet binds MCP tool handlers to the service.
type toolSet struct {
	service   *service.ProrrogaService
	ledger    *feedback.Ledger
	exportDir string
	logger    *logrus.Logger
}

func newToolSet(svc *service.ProrrogaService, ledger *feedback.Ledger, exportDir string, logger *logrus.Logger) *toolSet {
	return &toolSet{service: svc, ledger: ledger, exportDir: exportDir, logger: logger}
}

// Output types are left as any so no output schema is inferred; results are
// still returned as structured content.
func (t *toolSet) register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "score_correlation",
		Description: "Score how likely two diagnosis codes describe the same underlying condition (0-100).",
	}, t.scoreCorrelation)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "analyze_subject",
		Description: "Build prórroga chains for one subject's leave cases and raise accumulation alerts.",
	}, t.analyzeSubject)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "detect_extension",
		Description: "Decide whether a new leave case extends one of the subject's prior cases.",
	}, t.detectExtension)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "record_decision",
		Description: "Record a reviewer's confirmation or rejection of a code pair correlation.",
	}, t.recordDecision)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "lookup_code",
		Description: "Normalize a diagnosis code and show its chapter, block, groups and related codes.",
	}, t.lookupCode)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "validate_day_count",
		Description: "Check that declared leave days match the inclusive calendar span.",
	}, t.validateDayCount)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reference_info",
		Description: "Describe the active reference data, windows and legal thresholds.",
	}, t.referenceInfo)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "export_ledger",
		Description: "Export every recorded correlation decision to a JSON file.",
	}, t.exportLedger)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "import_ledger",
		Description: "Replay decisions from a JSON export into the correlation ledger.",
	}, t.importLedger)

	t.logger.WithField("tool_count", 9).Debug("Registered MCP tools")
}

func (t *toolSet) scoreCorrelation(ctx context.Context, _ *mcp.CallToolRequest, in scoreCorrelationInput) (*mcp.CallToolResult, any, error) {
	result, err := t.service.ScoreCorrelation(ctx, &service.ScoreCorrelationParams{
		CodeA:       in.CodeA,
		CodeB:       in.CodeB,
		DayGap:      in.DayGap,
		EarlierCode: in.EarlierCode,
	})
	if err != nil {
		return nil, nil, err
	}
	return nil, result, nil
}

func (t *toolSet) analyzeSubject(ctx context.Context, _ *mcp.CallToolRequest, in analyzeSubjectInput) (*mcp.CallToolResult, any, error) {
	cases, err := toLeaveCases(in.Cases)
	if err != nil {
		return nil, nil, err
	}
	analysis, err := t.service.AnalyzeSubject(ctx, in.SubjectID, cases)
	if err != nil {
		return nil, nil, err
	}
	return nil, analysis, nil
}

func (t *toolSet) detectExtension(ctx context.Context, _ *mcp.CallToolRequest, in detectExtensionInput) (*mcp.CallToolResult, any, error) {
	candidate, err := in.Candidate.toLeaveCase()
	if err != nil {
		return nil, nil, err
	}
	prior, err := toLeaveCases(in.PriorCases)
	if err != nil {
		return nil, nil, err
	}
	result, err := t.service.DetectExtension(ctx, &service.DetectExtensionParams{
		SubjectID:  in.SubjectID,
		Candidate:  candidate,
		PriorCases: prior,
	})
	if err != nil {
		return nil, nil, err
	}
	return nil, result, nil
}

func (t *toolSet) recordDecision(ctx context.Context, _ *mcp.CallToolRequest, in recordDecisionInput) (*mcp.CallToolResult, any, error) {
	adj, err := t.service.RecordDecision(ctx, &service.RecordDecisionParams{
		CodeA:               in.CodeA,
		CodeB:               in.CodeB,
		Outcome:             strings.ToLower(in.Outcome),
		SubjectID:           in.SubjectID,
		CaseID:              in.CaseID,
		Reviewer:            in.Reviewer,
		SuggestedConfidence: in.SuggestedConfidence,
		Notes:               in.Notes,
	})
	if err != nil {
		return nil, nil, err
	}
	return nil, adj, nil
}

func (t *toolSet) lookupCode(_ context.Context, _ *mcp.CallToolRequest, in lookupCodeInput) (*mcp.CallToolResult, any, error) {
	lookup, err := t.service.LookupCode(in.Code)
	if err != nil {
		return nil, nil, err
	}
	related, err := t.service.RelatedCodes(in.Code)
	if err != nil {
		return nil, nil, err
	}
	return nil, lookupCodeOutput{CodeLookup: lookup, Related: related}, nil
}

func (t *toolSet) validateDayCount(_ context.Context, _ *mcp.CallToolRequest, in dayCountInput) (*mcp.CallToolResult, any, error) {
	start, err := parseDate("start_date", in.StartDate)
	if err != nil {
		return nil, nil, err
	}
	end, err := parseDate("end_date", in.EndDate)
	if err != nil {
		return nil, nil, err
	}
	if start == nil || end == nil {
		return nil, nil, domain.NewValidationError("dates", "start_date and end_date are required", nil)
	}
	result, err := t.service.ValidateDayCount(&service.DayCountParams{StartDate: *start, EndDate: *end, Days: in.Days})
	if err != nil {
		return nil, nil, err
	}
	return nil, result, nil
}

func (t *toolSet) referenceInfo(_ context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	return nil, t.service.Info(), nil
}

func (t *toolSet) exportLedger(ctx context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	if err := os.MkdirAll(t.exportDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	now := time.Now().UTC()
	path := filepath.Join(t.exportDir, fmt.Sprintf("ledger-%s.json", now.Format("20060102-150405")))

	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	store := t.ledger.Store()
	if err := store.ExportJSON(ctx, f); err != nil {
		return nil, nil, fmt.Errorf("failed to export ledger: %w", err)
	}
	count, err := store.Count(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to count decisions: %w", err)
	}

	t.logger.WithFields(logrus.Fields{"path": path, "decisions": count}).Info("Exported correlation ledger")
	return nil, exportLedgerOutput{Path: path, Decisions: count, WrittenAt: now}, nil
}

func (t *toolSet) importLedger(ctx context.Context, _ *mcp.CallToolRequest, in importLedgerInput) (*mcp.CallToolResult, any, error) {
	f, err := os.Open(in.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()

	imported, skipped, err := t.ledger.Store().ImportJSON(ctx, f)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to import ledger: %w", err)
	}
	// Imports bypass the ledger's in-memory view
	if err := t.ledger.Load(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to refresh ledger: %w", err)
	}

	t.logger.WithFields(logrus.Fields{"imported": imported, "skipped": skipped}).Info("Imported correlation ledger")
	return nil, importLedgerOutput{Imported: imported, Skipped: skipped, Pairs: t.ledger.Size()}, nil
}

func toLeaveCases(in []caseInput) ([]domain.LeaveCase, error) {
	out := make([]domain.LeaveCase, 0, len(in))
	for i, c := range in {
		lc, err := c.toLeaveCase()
		if err != nil {
			return nil, fmt.Errorf("case %d: %w", i, err)
		}
		out = append(out, lc)
	}
	return out, nil
}

func (c caseInput) toLeaveCase() (domain.LeaveCase, error) {
	start, err := parseDate("start_date", c.StartDate)
	if err != nil {
		return domain.LeaveCase{}, err
	}
	end, err := parseDate("end_date", c.EndDate)
	if err != nil {
		return domain.LeaveCase{}, err
	}
	return domain.LeaveCase{
		CaseID:    c.CaseID,
		SubjectID: c.SubjectID,
		Code:      c.Code,
		StartDate: start,
		EndDate:   end,
		Days:      c.Days,
	}, nil
}

// parseDate accepts YYYY-MM-DD or RFC 3339; empty means absent.
func parseDate(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
			return &day, nil
		}
	}
	return nil, domain.NewValidationError(field, "expected YYYY-MM-DD", s)
}
