package mcp

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	litecfg "github.com/prorroga-chain-server/internal/config"
	"github.com/prorroga-chain-server/internal/feedback"
	"github.com/prorroga-chain-server/internal/service"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestConfig(t *testing.T) *litecfg.LiteConfig {
	cfg := litecfg.DefaultLiteConfig()
	cfg.DataDir = t.TempDir()
	return cfg
}

// connect starts a lite server and returns a client session wired to it in memory.
func connect(t *testing.T, server *LiteServer) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	serverSession, err := server.Connect(ctx, serverTransport)
	require.NoError(t, err)
	t.Cleanup(func() { serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any, out any) *mcp.CallToolResult {
	t.Helper()
	if args == nil {
		args = map[string]any{}
	}
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)
	if out != nil && !result.IsError {
		text, ok := result.Content[0].(*mcp.TextContent)
		require.True(t, ok)
		require.NoError(t, json.Unmarshal([]byte(text.Text), out), text.Text)
	}
	return result
}

func newMemoryServer(t *testing.T) *LiteServer {
	t.Helper()
	server, err := NewLiteServer(newTestConfig(t),
		WithLedgerStore(feedback.NewMemoryStore()),
		WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { server.Close() })
	return server
}

func TestNewLiteServer_SQLiteLedger(t *testing.T) {
	cfg := newTestConfig(t)

	server, err := NewLiteServer(cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer server.Close()

	_, err = os.Stat(cfg.LedgerDBPath())
	assert.NoError(t, err)
	assert.NotNil(t, server.Service())
}

func TestNewLiteServer_BadReference(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.ReferencePath = filepath.Join(cfg.DataDir, "missing.json")

	_, err := NewLiteServer(cfg, WithLedgerStore(feedback.NewMemoryStore()), WithLogger(quietLogger()))

	assert.Error(t, err)
}

func TestListTools(t *testing.T) {
	session := connect(t, newMemoryServer(t))

	result, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	names := make([]string, 0, len(result.Tools))
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"score_correlation", "analyze_subject", "detect_extension", "record_decision",
		"lookup_code", "validate_day_count", "reference_info", "export_ledger", "import_ledger",
	}, names)
}

func TestScoreCorrelationTool(t *testing.T) {
	session := connect(t, newMemoryServer(t))

	var out struct {
		Confidence      float64 `json:"confidence"`
		IsProrrogaGrade bool    `json:"is_prorroga_grade"`
	}
	result := callTool(t, session, "score_correlation", map[string]any{
		"code_a": "A09", "code_b": "k52.9", "day_gap": 5,
	}, &out)

	assert.False(t, result.IsError)
	assert.Equal(t, 76.5, out.Confidence)
	assert.True(t, out.IsProrrogaGrade)
}

func TestScoreCorrelationTool_ValidationError(t *testing.T) {
	session := connect(t, newMemoryServer(t))

	result := callTool(t, session, "score_correlation", map[string]any{
		"code_a": "A09", "code_b": "K52", "day_gap": -2,
	}, nil)

	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].(*mcp.TextContent).Text, "day_gap")
}

func TestAnalyzeSubjectTool(t *testing.T) {
	session := connect(t, newMemoryServer(t))

	var out service.SubjectAnalysis
	result := callTool(t, session, "analyze_subject", map[string]any{
		"subject_id": "subj-1",
		"cases": []map[string]any{
			{"case_id": "c1", "code": "M54", "start_date": "2026-01-01", "days": 60},
			{"case_id": "c2", "code": "M54.5", "start_date": "2026-03-02", "days": 60},
			{"case_id": "c3", "code": "M51", "start_date": "2026-05-01", "days": 65},
		},
	}, &out)

	require.False(t, result.IsError, result.Content[0].(*mcp.TextContent).Text)
	assert.Equal(t, 185, out.Summary.LongestChainDays)
	require.Len(t, out.Alerts, 1)
	assert.Equal(t, "subj-1:c1:critical", out.Alerts[0].Key)
}

func TestAnalyzeSubjectTool_BadDate(t *testing.T) {
	session := connect(t, newMemoryServer(t))

	result := callTool(t, session, "analyze_subject", map[string]any{
		"subject_id": "subj-1",
		"cases":      []map[string]any{{"case_id": "c1", "start_date": "01/02/2026", "days": 3}},
	}, nil)

	assert.True(t, result.IsError)
}

func TestDetectExtensionTool(t *testing.T) {
	session := connect(t, newMemoryServer(t))

	var out service.DetectionResult
	callTool(t, session, "detect_extension", map[string]any{
		"subject_id": "subj-1",
		"candidate":  map[string]any{"case_id": "new", "code": "M51", "start_date": "2026-02-14", "days": 5},
		"prior_cases": []map[string]any{
			{"case_id": "back", "code": "M54", "start_date": "2026-01-20", "days": 10},
		},
	}, &out)

	assert.True(t, out.IsExtension)
	require.NotNil(t, out.Prior)
	assert.Equal(t, "back", out.Prior.CaseID)
}

func TestRecordDecisionAndLedgerExport(t *testing.T) {
	server := newMemoryServer(t)
	session := connect(t, server)

	var adj feedback.Adjustment
	callTool(t, session, "record_decision", map[string]any{
		"code_a": "K52", "code_b": "A09", "outcome": "Confirmed", "reviewer": "auditor",
	}, &adj)
	assert.Equal(t, 1, adj.Confirmed)
	assert.Equal(t, "A09", adj.Pair.A)

	var exported exportLedgerOutput
	callTool(t, session, "export_ledger", nil, &exported)
	assert.EqualValues(t, 1, exported.Decisions)
	_, err := os.Stat(exported.Path)
	require.NoError(t, err)

	// Replaying into a fresh server restores the aggregate
	other := newMemoryServer(t)
	otherSession := connect(t, other)
	var imported importLedgerOutput
	callTool(t, otherSession, "import_ledger", map[string]any{"path": exported.Path}, &imported)
	assert.Equal(t, 1, imported.Imported)
	assert.Equal(t, 1, imported.Pairs)
}

func TestLookupCodeTool(t *testing.T) {
	session := connect(t, newMemoryServer(t))

	var out struct {
		Code struct {
			Canonical string `json:"canonical"`
			Chapter   string `json:"chapter"`
		} `json:"code"`
		Related []string `json:"related"`
	}
	callTool(t, session, "lookup_code", map[string]any{"code": "m54.5"}, &out)

	assert.Equal(t, "M54.5", out.Code.Canonical)
	assert.NotEmpty(t, out.Code.Chapter)
	assert.NotNil(t, out.Related)
}

func TestValidateDayCountTool(t *testing.T) {
	session := connect(t, newMemoryServer(t))

	var out service.DayCountResult
	callTool(t, session, "validate_day_count", map[string]any{
		"start_date": "2026-01-01", "end_date": "2026-01-10", "days": 9,
	}, &out)

	assert.False(t, out.Correct)
	assert.Equal(t, 10, out.ComputedDays)
}

func TestReferenceInfoTool(t *testing.T) {
	session := connect(t, newMemoryServer(t))

	var out service.ReferenceInfo
	callTool(t, session, "reference_info", nil, &out)

	assert.Equal(t, 180, out.Thresholds.Critical)
	assert.Equal(t, 150, out.Thresholds.Informational)
}

func TestStart_UnsupportedTransport(t *testing.T) {
	server := newMemoryServer(t)
	server.config.Transport = "carrier-pigeon"

	err := server.Start(context.Background())

	assert.ErrorContains(t, err, "unsupported transport")
}
