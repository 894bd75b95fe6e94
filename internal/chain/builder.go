// Package chain partitions a subject's leave cases into prórroga chains.
//
// Cases are walked in start-date order. Each unassigned case seeds a chain
// that is extended by overlapping cases and by correlated cases within the
// cut window. Short unrelated cases may be held and later bridged when a
// correlated case appears behind them.
package chain

import (
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/prorroga-chain-server/internal/domain"
	"github.com/prorroga-chain-server/internal/reference"
	"github.com/prorroga-chain-server/internal/scoring"
)

// Defaults used when the corresponding config value is zero.
const (
	DefaultCutWindowDays        = 30
	DefaultShortGapDays         = 30
	DefaultOverlapConfidence    = 98.0
	DefaultMaxCutSeparationDays = 180
)

// Reasons reported for excluded cases and bridged gaps.
const (
	ReasonMissingStartDate = "missing_start_date"
	ReasonBridgedShortGap  = "uncorrelated_short_gap"
)

// Config holds the chain building windows.
type Config struct {
	CutWindowDays        int
	ShortGapDays         int
	OverlapConfidence    float64
	MaxCutSeparationDays int
}

// ConfigFrom converts the application chain config, filling defaults.
func ConfigFrom(c domain.ChainConfig) Config {
	return Config{
		CutWindowDays:        c.CutWindowDays,
		ShortGapDays:         c.ShortGapDays,
		OverlapConfidence:    c.OverlapConfidence,
		MaxCutSeparationDays: c.MaxCutSeparationDays,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.CutWindowDays <= 0 {
		c.CutWindowDays = DefaultCutWindowDays
	}
	if c.ShortGapDays <= 0 {
		c.ShortGapDays = DefaultShortGapDays
	}
	if c.OverlapConfidence <= 0 {
		c.OverlapConfidence = DefaultOverlapConfidence
	}
	if c.MaxCutSeparationDays <= 0 {
		c.MaxCutSeparationDays = DefaultMaxCutSeparationDays
	}
	return c
}

// Result is the outcome of building chains for one subject.
type Result struct {
	SubjectID   string                   `json:"subject_id"`
	Chains      []domain.Chain           `json:"chains"`
	GapsIgnored []domain.BridgedGap      `json:"gaps_ignored"`
	Excluded    []domain.ExcludedCase    `json:"excluded,omitempty"`
	CutFindings []domain.ChainCutFinding `json:"cut_findings,omitempty"`
}

// ProrrogaChains returns the chains with at least one extension.
func (r *Result) ProrrogaChains() []domain.Chain {
	var out []domain.Chain
	for _, c := range r.Chains {
		if c.IsProrroga {
			out = append(out, c)
		}
	}
	return out
}

// Builder builds chains. It holds no per-subject state and is safe for
// concurrent use.
type Builder struct {
	scorer *scoring.Scorer
	cfg    Config
	logger *logrus.Logger
}

// NewBuilder creates a chain builder around a scorer.
func NewBuilder(scorer *scoring.Scorer, cfg Config, logger *logrus.Logger) *Builder {
	if logger == nil {
		logger = logrus.New()
	}
	return &Builder{scorer: scorer, cfg: cfg.withDefaults(), logger: logger}
}

// Config returns the effective builder configuration.
func (b *Builder) Config() Config {
	return b.cfg
}

// Build partitions cases using the scorer's current snapshot.
func (b *Builder) Build(subjectID string, cases []domain.LeaveCase) (*Result, error) {
	return b.BuildWith(b.scorer.Snapshot(), subjectID, cases)
}

// span is a dated case with its resolved end date.
type span struct {
	index int
	c     domain.LeaveCase
	start time.Time
	end   time.Time
}

// BuildWith partitions cases against a fixed snapshot. Cases must be sorted
// by start date; cases without one are excluded and reported.
func (b *Builder) BuildWith(snap *reference.Snapshot, subjectID string, cases []domain.LeaveCase) (*Result, error) {
	result := &Result{
		SubjectID:   subjectID,
		Chains:      []domain.Chain{},
		GapsIgnored: []domain.BridgedGap{},
	}

	spans := make([]span, 0, len(cases))
	for i, c := range cases {
		if c.StartDate == nil {
			result.Excluded = append(result.Excluded, domain.ExcludedCase{
				CaseIndex: i,
				CaseID:    c.CaseID,
				Reason:    ReasonMissingStartDate,
			})
			continue
		}
		// Negative reported days count as zero so no member can shrink its chain.
		if c.Days < 0 {
			c.Days = 0
		}
		s := span{index: i, c: c, start: truncate(*c.StartDate), end: c.EffectiveEnd()}
		if n := len(spans); n > 0 && s.start.Before(spans[n-1].start) {
			return nil, domain.NewUnsortedError(subjectID, i)
		}
		spans = append(spans, s)
	}

	assigned := make([]bool, len(spans))
	for seed := range spans {
		if assigned[seed] {
			continue
		}
		chain := b.grow(snap, subjectID, spans, assigned, seed)
		chain.ID = len(result.Chains) + 1
		result.Chains = append(result.Chains, chain)
		result.GapsIgnored = append(result.GapsIgnored, chain.BridgedGaps...)
	}

	result.CutFindings = b.findCuts(snap, result.Chains)

	b.logger.WithFields(logrus.Fields{
		"subject_id":   subjectID,
		"cases":        len(cases),
		"chains":       len(result.Chains),
		"bridged_gaps": len(result.GapsIgnored),
		"excluded":     len(result.Excluded),
		"cut_findings": len(result.CutFindings),
	}).Debug("Built chains")

	return result, nil
}

// grow builds one chain starting at seed, marking every member and bridged
// gap as assigned.
func (b *Builder) grow(snap *reference.Snapshot, subjectID string, spans []span, assigned []bool, seed int) domain.Chain {
	first := spans[seed]
	assigned[seed] = true

	chain := domain.Chain{
		SubjectID: subjectID,
		Members:   []domain.ChainMember{member(first, 0, nil)},
		StartDate: first.start,
	}
	tail := first
	frontier := first.end

	type heldGap struct {
		pos        int
		confidence float64
	}
	var held []heldGap
	heldDays := 0

	for j := seed + 1; j < len(spans); j++ {
		if assigned[j] {
			continue
		}
		cand := spans[j]
		brecha := domain.DaysBetween(frontier, cand.start)

		if brecha < 0 {
			link := &domain.ExtensionLink{
				Kind:        domain.LINK_OVERLAP,
				Brecha:      brecha,
				Confidence:  b.cfg.OverlapConfidence,
				Explanation: fmt.Sprintf("overlaps the chain by %d days", -brecha),
			}
			chain.Members = append(chain.Members, member(cand, overlapDays(cand, tail.start, frontier), link))
			assigned[j] = true
			tail = cand
			frontier = later(frontier, cand.end)
			held, heldDays = nil, 0
			continue
		}

		effective := brecha - heldDays
		if effective > b.cfg.CutWindowDays {
			break
		}

		res := b.score(snap, tail.c.Code, cand.c.Code, effective)
		if res.IsCorrelated {
			kind := domain.LINK_CORRELATION
			if res.Explanation.Base == scoring.BaseDegraded {
				kind = domain.LINK_DEGRADED
			}
			if len(held) > 0 {
				kind = domain.LINK_BRIDGED
			}
			link := &domain.ExtensionLink{
				Kind:        kind,
				Brecha:      brecha,
				Confidence:  res.Confidence,
				Explanation: res.Explanation.String(),
			}
			for _, h := range held {
				g := spans[h.pos]
				assigned[h.pos] = true
				chain.BridgedGaps = append(chain.BridgedGaps, domain.BridgedGap{
					CaseIndex:  g.index,
					CaseID:     g.c.CaseID,
					Code:       g.c.Code,
					Days:       g.c.Days,
					Confidence: h.confidence,
					Reason:     ReasonBridgedShortGap,
				})
			}
			chain.Members = append(chain.Members, member(cand, overlapDays(cand, tail.start, frontier), link))
			assigned[j] = true
			tail = cand
			frontier = later(frontier, cand.end)
			held, heldDays = nil, 0
			continue
		}

		if cand.c.Days < b.cfg.ShortGapDays {
			held = append(held, heldGap{pos: j, confidence: res.Confidence})
			heldDays += cand.c.Days
		}
	}

	chain.EndDate = frontier
	chain.IsProrroga = len(chain.Members) > 1
	seen := map[string]bool{}
	for _, m := range chain.Members {
		chain.AccumulatedDays += m.Contribution
		if _, ok := reference.Normalize(m.Code); ok && !seen[m.Code] {
			seen[m.Code] = true
			chain.Codes = append(chain.Codes, m.Code)
		}
	}
	sort.Strings(chain.Codes)
	return chain
}

// score relates the tail to a candidate, degrading when either code is unusable.
func (b *Builder) score(snap *reference.Snapshot, tailCode, candCode string, gap int) scoring.Result {
	if gap < 0 {
		gap = 0
	}
	_, okA := reference.Normalize(tailCode)
	_, okB := reference.Normalize(candCode)
	if !okA || !okB {
		return b.scorer.Degraded(tailCode, candCode, gap)
	}
	return b.scorer.ScoreWith(snap, scoring.Request{
		CodeA:       tailCode,
		CodeB:       candCode,
		DayGap:      scoring.Gap(gap),
		EarlierCode: tailCode,
	})
}

// findCuts reports chain pairs beyond the cut window whose codes still correlate.
// Pairs separated by more than MaxCutSeparationDays (180 by default) are never
// reported, however strongly their codes correlate; a separation of exactly
// MaxCutSeparationDays is still checked.
func (b *Builder) findCuts(snap *reference.Snapshot, chains []domain.Chain) []domain.ChainCutFinding {
	var findings []domain.ChainCutFinding
	for i := range chains {
		for j := i + 1; j < len(chains); j++ {
			earlier, later := &chains[i], &chains[j]
			sep := domain.DaysBetween(earlier.EndDate, later.StartDate)
			if sep <= b.cfg.CutWindowDays || sep > b.cfg.MaxCutSeparationDays {
				continue
			}

			var best scoring.Result
			found := false
			for _, ca := range earlier.Codes {
				for _, cb := range later.Codes {
					r := b.scorer.ScoreWith(snap, scoring.Request{CodeA: ca, CodeB: cb, DayGap: scoring.Gap(sep), EarlierCode: ca})
					if !found || r.Confidence > best.Confidence {
						best, found = r, true
					}
				}
			}
			if !found || !best.IsCorrelated {
				continue
			}

			findings = append(findings, domain.ChainCutFinding{
				EarlierChainID: earlier.ID,
				LaterChainID:   later.ID,
				SeparationDays: sep,
				Confidence:     best.Confidence,
				CodeA:          best.CodeA,
				CodeB:          best.CodeB,
				EarlierDays:    earlier.AccumulatedDays,
				LaterDays:      later.AccumulatedDays,
				CombinedDays:   earlier.AccumulatedDays + later.AccumulatedDays,
				Explanation:    best.Explanation.String(),
			})
		}
	}
	return findings
}

func member(s span, overlap int, link *domain.ExtensionLink) domain.ChainMember {
	code := s.c.Code
	if canonical, ok := reference.Normalize(code); ok {
		code = canonical
	}
	return domain.ChainMember{
		CaseIndex:    s.index,
		CaseID:       s.c.CaseID,
		Code:         code,
		StartDate:    s.start,
		EndDate:      s.end,
		Days:         s.c.Days,
		OverlapDays:  overlap,
		Contribution: s.c.Days - overlap,
		Link:         link,
	}
}

// overlapDays is the inclusive intersection of the candidate with
// [tailStart, frontier], bounded by the candidate's reported days.
func overlapDays(cand span, tailStart, frontier time.Time) int {
	from := cand.start
	if from.Before(tailStart) {
		from = tailStart
	}
	to := cand.end
	if frontier.Before(to) {
		to = frontier
	}
	n := domain.DaysBetween(from, to) + 1
	if n < 0 {
		n = 0
	}
	if n > cand.c.Days {
		n = cand.c.Days
	}
	return n
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
