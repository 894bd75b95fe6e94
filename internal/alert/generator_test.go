package alert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prorroga-chain-server/internal/domain"
)

func prorroga(id, days int, codes ...string) domain.Chain {
	return domain.Chain{
		ID:              id,
		SubjectID:       "subj-1",
		Members:         []domain.ChainMember{{CaseID: "seed-" + string(rune('a'+id))}, {CaseID: "ext"}},
		AccumulatedDays: days,
		Codes:           codes,
		IsProrroga:      true,
	}
}

func TestGenerate_TierBoundaries(t *testing.T) {
	thresholds := domain.DefaultLegalThresholds()

	tests := []struct {
		days      int
		want      domain.AlertTier
		remaining int
		exceeded  int
	}{
		{149, "", 0, 0},
		{150, domain.ALERT_INFORMATIONAL, 30, 0},
		{169, domain.ALERT_INFORMATIONAL, 11, 0},
		{170, domain.ALERT_HIGH, 10, 0},
		{179, domain.ALERT_HIGH, 1, 0},
		{180, domain.ALERT_CRITICAL, 0, 0},
		{215, domain.ALERT_CRITICAL, 0, 35},
	}

	for _, tt := range tests {
		alerts := Generate("subj-1", []domain.Chain{prorroga(1, tt.days, "M54")}, nil, thresholds)

		if tt.want == "" {
			assert.Empty(t, alerts, "%d days", tt.days)
			continue
		}
		require.Len(t, alerts, 1, "%d days", tt.days)
		assert.Equal(t, tt.want, alerts[0].Tier, "%d days", tt.days)
		assert.Equal(t, tt.remaining, alerts[0].DaysRemaining)
		assert.Equal(t, tt.exceeded, alerts[0].DaysExceeded)
		assert.Equal(t, []int{1}, alerts[0].ChainIDs)
		assert.NotEmpty(t, alerts[0].LegalReference)
	}
}

func TestGenerate_ExactlyOneCriticalAt180(t *testing.T) {
	alerts := Generate("subj-1", []domain.Chain{prorroga(1, 180, "A09", "K52")}, nil, domain.DefaultLegalThresholds())

	require.Len(t, alerts, 1)
	assert.Equal(t, domain.ALERT_CRITICAL, alerts[0].Tier)
	assert.Equal(t, []string{"A09", "K52"}, alerts[0].Codes)
	assert.Equal(t, "subj-1:seed-b:critical", alerts[0].Key)
}

func TestGenerate_IgnoresSingleCaseChains(t *testing.T) {
	lone := domain.Chain{ID: 1, AccumulatedDays: 200, Members: []domain.ChainMember{{CaseID: "c1"}}}

	alerts := Generate("subj-1", []domain.Chain{lone}, nil, domain.DefaultLegalThresholds())

	assert.Empty(t, alerts)
}

func TestGenerate_ChainCutAlwaysEmitted(t *testing.T) {
	chains := []domain.Chain{
		prorroga(1, 20, "M54"),
		{ID: 2, AccumulatedDays: 10, Codes: []string{"M51"}, Members: []domain.ChainMember{{CaseID: "c9"}}},
	}
	findings := []domain.ChainCutFinding{{
		EarlierChainID: 1,
		LaterChainID:   2,
		SeparationDays: 45,
		Confidence:     76.5,
		CodeA:          "M54",
		CodeB:          "M51",
		EarlierDays:    20,
		LaterDays:      10,
		CombinedDays:   30,
	}}

	alerts := Generate("subj-1", chains, findings, domain.DefaultLegalThresholds())

	require.Len(t, alerts, 1)
	cut := alerts[0]
	assert.Equal(t, domain.ALERT_CHAIN_CUT, cut.Tier)
	assert.Equal(t, 30, cut.AccumulatedDays)
	assert.Equal(t, []int{1, 2}, cut.ChainIDs)
	assert.Equal(t, []string{"M51", "M54"}, cut.Codes)
	assert.Contains(t, cut.Rationale, "20 days")
	assert.Contains(t, cut.Rationale, "10 days")
	assert.Contains(t, cut.Rationale, "combined total would be 30 days")
}

func TestGenerate_OrderingAndDeterminism(t *testing.T) {
	chains := []domain.Chain{
		prorroga(3, 175, "F32"),
		prorroga(1, 190, "M54"),
		prorroga(2, 100, "A09"),
	}
	findings := []domain.ChainCutFinding{{EarlierChainID: 1, LaterChainID: 3, CombinedDays: 365}}

	first := Generate("subj-1", chains, findings, domain.DefaultLegalThresholds())
	second := Generate("subj-1", chains, findings, domain.DefaultLegalThresholds())

	require.Len(t, first, 3)
	assert.Equal(t, first, second)
	assert.Equal(t, []int{1}, first[0].ChainIDs)
	assert.Equal(t, []int{3}, first[1].ChainIDs)
	assert.Equal(t, domain.ALERT_CHAIN_CUT, first[2].Tier)
	assert.Equal(t, 185, first[2].DaysExceeded)
}

func TestGenerate_CustomThresholds(t *testing.T) {
	thresholds := domain.LegalThresholds{Informational: 90, High: 120, Critical: 150}

	alerts := Generate("subj-1", []domain.Chain{prorroga(1, 150, "M54")}, nil, thresholds)

	require.Len(t, alerts, 1)
	assert.Equal(t, domain.ALERT_CRITICAL, alerts[0].Tier)
}

func TestSummarizeAndSort(t *testing.T) {
	alerts := []domain.Alert{
		{Tier: domain.ALERT_INFORMATIONAL, AccumulatedDays: 150},
		{Tier: domain.ALERT_CHAIN_CUT, AccumulatedDays: 300},
		{Tier: domain.ALERT_CRITICAL, AccumulatedDays: 181},
		{Tier: domain.ALERT_CRITICAL, AccumulatedDays: 200},
		{Tier: domain.ALERT_HIGH, AccumulatedDays: 172},
	}

	s := Summarize(alerts)
	assert.Equal(t, Summary{Critical: 2, High: 1, Informational: 1, ChainCut: 1}, s)

	SortBySeverity(alerts)
	assert.Equal(t, 200, alerts[0].AccumulatedDays)
	assert.Equal(t, 181, alerts[1].AccumulatedDays)
	assert.Equal(t, domain.ALERT_HIGH, alerts[2].Tier)
	assert.Equal(t, domain.ALERT_CHAIN_CUT, alerts[3].Tier)
	assert.Equal(t, domain.ALERT_INFORMATIONAL, alerts[4].Tier)
}
