// Package alert turns built chains and chain-cut findings into administrative
// alerts. Generation is a pure function of its inputs.
package alert

import (
	"fmt"
	"sort"

	"github.com/prorroga-chain-server/internal/domain"
)

// Legal references attached to alerts.
const (
	LegalCritical = "Ley 776/2002 Art. 3: after 180 days the pension fund assumes the benefit at 50%"
	LegalHigh     = "Art. 142 Decreto 019/2012: prepare the pension fund procedure before day 180"
	LegalEarly    = "Decreto 1427/2022: incapacity extension procedure"
	LegalChainCut = "Art. 142 Decreto 019/2012: related leave must be accumulated as an extension"
)

// Generate returns at most one tier alert per prórroga chain (the highest
// tier reached) followed by one chain-cut alert per finding. Tier alerts are
// ordered by chain id; chain-cut alerts keep the order of findings.
func Generate(subjectID string, chains []domain.Chain, findings []domain.ChainCutFinding, thresholds domain.LegalThresholds) []domain.Alert {
	if thresholds.Critical <= 0 {
		thresholds = domain.DefaultLegalThresholds()
	}

	ordered := make([]domain.Chain, len(chains))
	copy(ordered, chains)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	alerts := make([]domain.Alert, 0)
	byID := make(map[int]domain.Chain, len(ordered))
	for _, c := range ordered {
		byID[c.ID] = c
		if !c.IsProrroga {
			continue
		}
		tier, ok := TierFor(c.AccumulatedDays, thresholds)
		if !ok {
			continue
		}
		alerts = append(alerts, tierAlert(subjectID, c, tier, thresholds))
	}

	for _, f := range findings {
		alerts = append(alerts, cutAlert(subjectID, f, byID, thresholds))
	}
	return alerts
}

// TierFor returns the highest tier reached by an accumulated total.
func TierFor(days int, t domain.LegalThresholds) (domain.AlertTier, bool) {
	switch {
	case days >= t.Critical:
		return domain.ALERT_CRITICAL, true
	case days >= t.High:
		return domain.ALERT_HIGH, true
	case days >= t.Informational:
		return domain.ALERT_INFORMATIONAL, true
	default:
		return "", false
	}
}

func tierAlert(subjectID string, c domain.Chain, tier domain.AlertTier, t domain.LegalThresholds) domain.Alert {
	remaining, exceeded := limits(c.AccumulatedDays, t.Critical)

	a := domain.Alert{
		Key:             fmt.Sprintf("%s:%s:%s", subjectID, chainKey(c), tier),
		Tier:            tier,
		SubjectID:       subjectID,
		ChainIDs:        []int{c.ID},
		AccumulatedDays: c.AccumulatedDays,
		DaysRemaining:   remaining,
		DaysExceeded:    exceeded,
		Codes:           append([]string(nil), c.Codes...),
	}
	switch tier {
	case domain.ALERT_CRITICAL:
		a.Rationale = fmt.Sprintf("%d accumulated days, %d beyond the %d-day limit", c.AccumulatedDays, exceeded, t.Critical)
		a.LegalReference = LegalCritical
	case domain.ALERT_HIGH:
		a.Rationale = fmt.Sprintf("%d accumulated days, %d days left before the %d-day limit", c.AccumulatedDays, remaining, t.Critical)
		a.LegalReference = LegalHigh
	default:
		a.Rationale = fmt.Sprintf("%d accumulated days, approaching the %d-day limit (%d remaining)", c.AccumulatedDays, t.Critical, remaining)
		a.LegalReference = LegalEarly
	}
	return a
}

func cutAlert(subjectID string, f domain.ChainCutFinding, chains map[int]domain.Chain, t domain.LegalThresholds) domain.Alert {
	remaining, exceeded := limits(f.CombinedDays, t.Critical)

	earlier, later := chains[f.EarlierChainID], chains[f.LaterChainID]
	codes := mergeCodes(earlier.Codes, later.Codes)
	if len(codes) == 0 {
		codes = mergeCodes([]string{f.CodeA}, []string{f.CodeB})
	}

	return domain.Alert{
		Key:             fmt.Sprintf("%s:%s+%s:%s", subjectID, chainKey(earlier), chainKey(later), domain.ALERT_CHAIN_CUT),
		Tier:            domain.ALERT_CHAIN_CUT,
		SubjectID:       subjectID,
		ChainIDs:        []int{f.EarlierChainID, f.LaterChainID},
		AccumulatedDays: f.CombinedDays,
		DaysRemaining:   remaining,
		DaysExceeded:    exceeded,
		Codes:           codes,
		Rationale: fmt.Sprintf("chains %d (%d days) and %d (%d days) are %d days apart but %s and %s correlate at %.1f; combined total would be %d days",
			f.EarlierChainID, f.EarlierDays, f.LaterChainID, f.LaterDays, f.SeparationDays, f.CodeA, f.CodeB, f.Confidence, f.CombinedDays),
		LegalReference: LegalChainCut,
	}
}

// chainKey identifies a chain by its seed case so keys survive renumbering.
func chainKey(c domain.Chain) string {
	if len(c.Members) > 0 && c.Members[0].CaseID != "" {
		return c.Members[0].CaseID
	}
	return fmt.Sprintf("chain-%d", c.ID)
}

func limits(days, critical int) (remaining, exceeded int) {
	if days >= critical {
		return 0, days - critical
	}
	return critical - days, 0
}

func mergeCodes(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, c := range list {
			if c != "" && !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Summary counts alerts per tier.
type Summary struct {
	Critical      int `json:"critical"`
	High          int `json:"high"`
	Informational int `json:"informational"`
	ChainCut      int `json:"chain_cut"`
}

// Summarize counts alerts by tier.
func Summarize(alerts []domain.Alert) Summary {
	var s Summary
	for _, a := range alerts {
		switch a.Tier {
		case domain.ALERT_CRITICAL:
			s.Critical++
		case domain.ALERT_HIGH:
			s.High++
		case domain.ALERT_INFORMATIONAL:
			s.Informational++
		case domain.ALERT_CHAIN_CUT:
			s.ChainCut++
		}
	}
	return s
}

// SortBySeverity orders alerts by tier rank, then accumulated days, both descending.
func SortBySeverity(alerts []domain.Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		ri, rj := alerts[i].Tier.Rank(), alerts[j].Tier.Rank()
		if ri != rj {
			return ri > rj
		}
		return alerts[i].AccumulatedDays > alerts[j].AccumulatedDays
	})
}
