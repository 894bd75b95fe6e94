package scoring

import (
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/prorroga-chain-server/internal/domain"
	"github.com/prorroga-chain-server/internal/reference"
)

// SnapshotSource provides the current reference snapshot.
type SnapshotSource interface {
	Snapshot() *reference.Snapshot
}

// HistoricalSource provides learned confidences for code pairs. The third
// return value reports whether enough decisions exist for the blend to apply.
type HistoricalSource interface {
	LearnedConfidence(a, b string) (learned float64, samples int, ok bool)
}

// Scorer evaluates code pairs against the reference snapshot. It is safe for
// concurrent use.
type Scorer struct {
	source   SnapshotSource
	history  HistoricalSource
	resolver *reference.Resolver
	cfg      Config
	logger   *logrus.Logger
	cache    *lru.Cache[cacheKey, cachedScore]
}

type cacheKey struct {
	generation uint64
	a, b       string
	gap        int
	hasGap     bool
	earlierB   bool
}

// cachedScore is everything computed before the historical blend.
type cachedScore struct {
	value       float64
	terminal    bool
	explanation Explanation
}

// NewScorer creates a scorer. history may be nil.
func NewScorer(source SnapshotSource, history HistoricalSource, cfg Config, logger *logrus.Logger) (*Scorer, error) {
	if source == nil {
		return nil, fmt.Errorf("snapshot source is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	cfg = cfg.withDefaults()

	cache, err := lru.New[cacheKey, cachedScore](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create score cache: %w", err)
	}
	resolver, err := reference.NewResolver(0)
	if err != nil {
		return nil, err
	}

	return &Scorer{
		source:   source,
		history:  history,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger,
		cache:    cache,
	}, nil
}

// Config returns the effective scorer configuration.
func (s *Scorer) Config() Config {
	return s.cfg
}

// Resolver returns the code resolver shared by this scorer.
func (s *Scorer) Resolver() *reference.Resolver {
	return s.resolver
}

// Snapshot returns the snapshot the next Score call would use.
func (s *Scorer) Snapshot() *reference.Snapshot {
	return s.source.Snapshot()
}

// Score evaluates a pair against the current snapshot.
func (s *Scorer) Score(req Request) Result {
	return s.ScoreWith(s.source.Snapshot(), req)
}

// ScoreWith evaluates a pair against a specific snapshot, so that a caller
// scoring many pairs sees one consistent rule set.
func (s *Scorer) ScoreWith(snap *reference.Snapshot, req Request) Result {
	a := s.resolver.Resolve(snap, req.CodeA)
	b := s.resolver.Resolve(snap, req.CodeB)

	if !a.Valid || !b.Valid {
		return s.finish(a.Canonical, b.Canonical, 0, Explanation{
			Base:      BaseUnknownCode,
			Rationale: fmt.Sprintf("code %q or %q is not a valid diagnosis code", req.CodeA, req.CodeB),
		})
	}

	earlierB := false
	if req.EarlierCode != "" {
		if e, ok := reference.Normalize(req.EarlierCode); ok && e == b.Canonical && e != a.Canonical {
			earlierB = true
		}
	}
	key := cacheKey{generation: snap.Generation(), a: a.Canonical, b: b.Canonical, earlierB: earlierB}
	if req.DayGap != nil {
		key.gap, key.hasGap = *req.DayGap, true
		if key.gap < 0 {
			key.gap = 0
		}
	}

	cached, ok := s.cache.Get(key)
	if !ok {
		cached = s.evaluate(snap, a, b, key)
		s.cache.Add(key, cached)
	}

	expl := cached.explanation
	expl.Steps = append([]Step(nil), cached.explanation.Steps...)
	if cached.terminal {
		return s.finish(a.Canonical, b.Canonical, cached.value, expl)
	}

	value := cached.value
	if s.history != nil {
		if learned, samples, ok := s.history.LearnedConfidence(a.Canonical, b.Canonical); ok {
			value, _, expl.Steps = run(value, []Modifier{historicalModifier{learned: learned, samples: samples}}, expl.Steps)
		}
	}

	clamped := math.Min(MaxConfidence, math.Max(MinConfidence, value))
	if round1(clamped) != round1(value) {
		expl.Steps = append(expl.Steps, Step{Modifier: ModifierClamp, Before: round1(value), After: round1(clamped), Detail: "range [5,100]"})
	}
	return s.finish(a.Canonical, b.Canonical, clamped, expl)
}

// evaluate computes the base score and the cacheable modifiers.
func (s *Scorer) evaluate(snap *reference.Snapshot, a, b domain.DiagnosisCode, key cacheKey) cachedScore {
	if a.Canonical == b.Canonical {
		return cachedScore{value: MaxConfidence, terminal: true, explanation: Explanation{
			Base:           BaseIdentical,
			BaseSource:     a.Canonical,
			BaseConfidence: MaxConfidence,
		}}
	}

	expl, decayTable, ok := s.base(snap, a, b)
	if !ok {
		return cachedScore{value: 0, terminal: true, explanation: expl}
	}

	var mods []Modifier
	if rule, ok := snap.Exclusion(a.Canonical, b.Canonical); ok {
		mods = append(mods, exclusionModifier{rule: rule})
	}
	if rule, ok := snap.Directional(a.Canonical, b.Canonical); ok {
		earlier := a.Canonical
		if key.earlierB {
			earlier = b.Canonical
		}
		mods = append(mods, directionalModifier{rule: rule, forward: earlier == rule.Origin})
	}
	if key.hasGap {
		mods = append(mods, decayModifier{table: snap.DecayTable(decayTable), gap: key.gap})
	}

	value, stopped, steps := run(expl.BaseConfidence, mods, nil)
	expl.Steps = steps

	s.logger.WithFields(logrus.Fields{
		"code_a": a.Canonical,
		"code_b": b.Canonical,
		"base":   expl.Base,
		"value":  round1(value),
	}).Debug("Evaluated correlation pair")

	return cachedScore{value: value, terminal: stopped, explanation: expl}
}

// base finds the first matching hierarchy rule. It returns the decay table
// to use and false when nothing relates the two codes.
func (s *Scorer) base(snap *reference.Snapshot, a, b domain.DiagnosisCode) (Explanation, string, bool) {
	if g, ok := snap.BestCommonGroup(a.Canonical, b.Canonical); ok {
		return Explanation{
			Base:           BaseGroup,
			BaseSource:     g.ID,
			BaseConfidence: g.Confidence,
			RequiresReview: g.RequiresReview,
			Rationale:      g.Rationale,
		}, g.DecayTable, true
	}

	if a.Block != domain.Unknown && a.Block == b.Block {
		return Explanation{Base: BaseBlock, BaseSource: a.Block, BaseConfidence: sameBlockConfidence}, reference.DefaultDecayTable, true
	}

	if a.System != domain.Unknown && a.System == b.System {
		return Explanation{Base: BaseSystem, BaseSource: a.System, BaseConfidence: sameSystemConfidence}, reference.DefaultDecayTable, true
	}

	if link, ok := snap.SystemLink(a.System, b.System); ok {
		return Explanation{
			Base:           BaseSystemLink,
			BaseSource:     link.Systems[0] + "-" + link.Systems[1],
			BaseConfidence: link.Confidence,
			Rationale:      link.Rationale,
		}, reference.DefaultDecayTable, true
	}

	if a.Chapter != domain.Unknown && a.Chapter == b.Chapter {
		return Explanation{Base: BaseChapter, BaseSource: a.Chapter, BaseConfidence: sameChapterConfidence}, reference.DefaultDecayTable, true
	}

	return Explanation{Base: BaseNoRelation}, "", false
}

// Degraded scores a pair where at least one record has no usable code. The
// confidence falls linearly with the gap from a low ceiling.
func (s *Scorer) Degraded(codeA, codeB string, gap int) Result {
	if gap < 0 {
		gap = 0
	}
	value := math.Max(0, s.cfg.DegradedCeiling-s.cfg.DegradedSlope*float64(gap))
	return s.finish(codeA, codeB, value, Explanation{
		Base:           BaseDegraded,
		BaseConfidence: round1(s.cfg.DegradedCeiling),
		Rationale:      fmt.Sprintf("missing diagnosis code, linear decay over %d days", gap),
	})
}

// Purge drops all cached scores and resolutions.
func (s *Scorer) Purge() {
	s.cache.Purge()
	s.resolver.Purge()
}

// CacheLen returns the number of cached score entries.
func (s *Scorer) CacheLen() int {
	return s.cache.Len()
}

func (s *Scorer) finish(a, b string, value float64, expl Explanation) Result {
	conf := round1(value)
	return Result{
		CodeA:           a,
		CodeB:           b,
		Confidence:      conf,
		Tier:            domain.TierFor(conf),
		IsCorrelated:    conf >= s.cfg.PossibleThreshold,
		IsProrrogaGrade: conf >= s.cfg.ProrrogaThreshold,
		Explanation:     expl,
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
