package reference

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prorroga-chain-server/internal/domain"
)

// Snapshot is an immutable, indexed view of one reference document.
// All methods are safe for concurrent use.
type Snapshot struct {
	version    string
	generation uint64
	loadedAt   time.Time

	chapters    []Chapter
	blocks      []Block
	codes       map[string]CodeInfo
	groups      []CorrelationGroup
	codeGroups  map[string][]int
	exclusions  map[domain.CodePair]ExclusionRule
	directional map[domain.CodePair]DirectionalRule
	decay       map[string]DecayTable
	systemLinks map[[2]string]SystemLink
	causal      map[string]bool
	ineligible  map[string]bool
	thresholds  domain.LegalThresholds
}

// Compile validates a document and builds the lookup indexes.
func Compile(doc *Document) (*Snapshot, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: empty document", domain.ErrInvalidReference)
	}

	s := &Snapshot{
		version:     doc.Version,
		loadedAt:    time.Now().UTC(),
		codes:       make(map[string]CodeInfo, len(doc.Codes)),
		codeGroups:  make(map[string][]int),
		exclusions:  make(map[domain.CodePair]ExclusionRule, len(doc.Exclusions)),
		directional: make(map[domain.CodePair]DirectionalRule, len(doc.Directional)),
		decay:       make(map[string]DecayTable, len(doc.DecayTables)),
		systemLinks: make(map[[2]string]SystemLink, len(doc.SystemLinks)),
		causal:      toSet(doc.CausalChapters),
		ineligible:  toSet(doc.IneligibleChapters),
		thresholds:  domain.DefaultLegalThresholds(),
	}
	if s.version == "" {
		s.version = "unversioned"
	}

	for _, ch := range doc.Chapters {
		from, okFrom := Normalize(ch.From)
		to, okTo := Normalize(ch.To)
		if !okFrom || !okTo || from > to {
			return nil, fmt.Errorf("%w: chapter %s has invalid range %s-%s", domain.ErrInvalidReference, ch.ID, ch.From, ch.To)
		}
		ch.From, ch.To = from, to
		s.chapters = append(s.chapters, ch)
	}

	for _, b := range doc.Blocks {
		from, okFrom := Normalize(b.From)
		to, okTo := Normalize(b.To)
		if !okFrom || !okTo || from > to {
			return nil, fmt.Errorf("%w: block has invalid range %s-%s", domain.ErrInvalidReference, b.From, b.To)
		}
		if b.Severity != "" && !b.Severity.IsValid() {
			return nil, fmt.Errorf("%w: block %s: %v", domain.ErrInvalidReference, b.ID(), domain.ErrInvalidSeverity)
		}
		b.From, b.To = from, to
		s.blocks = append(s.blocks, b)
	}
	// Narrowest block first so nested ranges resolve to the most specific one.
	sort.SliceStable(s.blocks, func(i, j int) bool {
		return blockWidth(s.blocks[i]) < blockWidth(s.blocks[j])
	})

	for raw, info := range doc.Codes {
		code, ok := Normalize(raw)
		if !ok {
			return nil, fmt.Errorf("%w: code %q is not a valid category", domain.ErrInvalidReference, raw)
		}
		if info.Severity != "" && !info.Severity.IsValid() {
			return nil, fmt.Errorf("%w: code %s: %v", domain.ErrInvalidReference, code, domain.ErrInvalidSeverity)
		}
		if len(info.TypicalDays) != 0 && (len(info.TypicalDays) != 2 || info.TypicalDays[0] > info.TypicalDays[1]) {
			return nil, fmt.Errorf("%w: code %s has invalid typical day range", domain.ErrInvalidReference, code)
		}
		s.codes[code] = info
	}

	for _, t := range doc.DecayTables {
		if err := validateDecayTable(t); err != nil {
			return nil, err
		}
		s.decay[t.ID] = t
	}
	if _, ok := s.decay[DefaultDecayTable]; !ok {
		s.decay[DefaultDecayTable] = defaultDecayTable()
	}

	seenGroups := make(map[string]bool, len(doc.Groups))
	for _, g := range doc.Groups {
		if g.ID == "" || seenGroups[g.ID] {
			return nil, fmt.Errorf("%w: group id %q is empty or duplicated", domain.ErrInvalidReference, g.ID)
		}
		seenGroups[g.ID] = true
		if g.Confidence < 0 || g.Confidence > 100 {
			return nil, fmt.Errorf("%w: group %s confidence %.1f outside 0-100", domain.ErrInvalidReference, g.ID, g.Confidence)
		}
		if g.DecayTable != "" {
			if _, ok := s.decay[g.DecayTable]; !ok {
				return nil, fmt.Errorf("%w: group %s references unknown decay table %s", domain.ErrInvalidReference, g.ID, g.DecayTable)
			}
		}
		codes := make([]string, 0, len(g.Codes))
		for _, raw := range g.Codes {
			code, ok := Normalize(raw)
			if !ok {
				return nil, fmt.Errorf("%w: group %s contains invalid code %q", domain.ErrInvalidReference, g.ID, raw)
			}
			codes = append(codes, code)
		}
		g.Codes = codes
		idx := len(s.groups)
		s.groups = append(s.groups, g)
		for _, code := range codes {
			s.codeGroups[code] = append(s.codeGroups[code], idx)
		}
	}

	for _, r := range doc.Exclusions {
		a, okA := Normalize(r.Codes[0])
		b, okB := Normalize(r.Codes[1])
		if !okA || !okB {
			return nil, fmt.Errorf("%w: exclusion %v has invalid codes", domain.ErrInvalidReference, r.Codes)
		}
		if !r.Blocking && (r.Ceiling < 0 || r.Ceiling > 100) {
			return nil, fmt.Errorf("%w: exclusion %s/%s ceiling outside 0-100", domain.ErrInvalidReference, a, b)
		}
		r.Codes = [2]string{a, b}
		s.exclusions[domain.NewCodePair(a, b)] = r
	}

	for _, r := range doc.Directional {
		origin, okO := Normalize(r.Origin)
		dest, okD := Normalize(r.Destination)
		if !okO || !okD || origin == dest {
			return nil, fmt.Errorf("%w: directional rule %s->%s is invalid", domain.ErrInvalidReference, r.Origin, r.Destination)
		}
		r.Origin, r.Destination = origin, dest
		s.directional[domain.NewCodePair(origin, dest)] = r
	}

	for _, l := range doc.SystemLinks {
		if l.Confidence < 0 || l.Confidence > 100 {
			return nil, fmt.Errorf("%w: system link %v confidence outside 0-100", domain.ErrInvalidReference, l.Systems)
		}
		s.systemLinks[systemKey(l.Systems[0], l.Systems[1])] = l
	}

	if doc.Thresholds != nil {
		t := *doc.Thresholds
		if t.Informational <= 0 || t.Informational > t.High || t.High > t.Critical {
			return nil, fmt.Errorf("%w: thresholds must satisfy 0 < informational <= high <= critical", domain.ErrInvalidReference)
		}
		s.thresholds = t
	}

	return s, nil
}

func validateDecayTable(t DecayTable) error {
	if t.ID == "" || len(t.Ranges) == 0 {
		return fmt.Errorf("%w: decay table %q has no ranges", domain.ErrInvalidReference, t.ID)
	}
	next := 0
	prevFactor := 1.0
	for i, r := range t.Ranges {
		if r.From != next {
			return fmt.Errorf("%w: decay table %s range %d starts at %d, expected %d", domain.ErrInvalidReference, t.ID, i, r.From, next)
		}
		if r.Factor <= 0 || r.Factor > 1 {
			return fmt.Errorf("%w: decay table %s range %d factor %.2f outside (0,1]", domain.ErrInvalidReference, t.ID, i, r.Factor)
		}
		if r.Factor > prevFactor {
			return fmt.Errorf("%w: decay table %s factors must not increase with the gap", domain.ErrInvalidReference, t.ID)
		}
		prevFactor = r.Factor
		if r.To == nil {
			if i != len(t.Ranges)-1 {
				return fmt.Errorf("%w: decay table %s has an unbounded range before the last one", domain.ErrInvalidReference, t.ID)
			}
			return nil
		}
		if *r.To < r.From {
			return fmt.Errorf("%w: decay table %s range %d ends before it starts", domain.ErrInvalidReference, t.ID, i)
		}
		next = *r.To + 1
	}
	return fmt.Errorf("%w: decay table %s must end with an unbounded range", domain.ErrInvalidReference, t.ID)
}

// Version returns the document version string.
func (s *Snapshot) Version() string { return s.version }

// Generation increases by one on every successful load in a Repository.
func (s *Snapshot) Generation() uint64 { return s.generation }

// LoadedAt returns when the snapshot was compiled.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Thresholds returns the legal accumulation tiers.
func (s *Snapshot) Thresholds() domain.LegalThresholds { return s.thresholds }

// Resolve computes the hierarchy of a canonical code. Every valid code gets its
// letter as chapter; the titled chapter range is attached when one matches.
func (s *Snapshot) Resolve(canonical string) domain.DiagnosisCode {
	dc := domain.DiagnosisCode{
		Canonical: canonical,
		Raw:       canonical,
		Valid:     categoryPattern.MatchString(canonical) && len(canonical) == 3,
		Chapter:   domain.Unknown,
		Block:     domain.Unknown,
		System:    domain.Unknown,
		Severity:  domain.SEVERITY_INDETERMINATE,
	}
	if !dc.Valid {
		return dc
	}

	// Chapter is the category letter; ChapterID is the titled range it falls in.
	dc.Chapter = canonical[:1]
	dc.ExtensionEligible = true
	if ch, ok := s.chapterFor(canonical); ok {
		dc.ChapterID = ch.ID
		if ch.System != "" {
			dc.System = ch.System
		}
		dc.CausalExternal = s.causal[ch.ID]
		dc.ExtensionEligible = !s.ineligible[ch.ID]
	}

	if b, ok := s.blockFor(canonical); ok {
		dc.Block = b.ID()
		if b.System != "" {
			dc.System = b.System
		}
		if b.Severity != "" {
			dc.Severity = b.Severity
		}
	}

	if info, ok := s.codes[canonical]; ok {
		dc.Description = info.Description
		if info.System != "" {
			dc.System = info.System
		}
		if info.Severity != "" {
			dc.Severity = info.Severity
		}
		if info.Ineligible {
			dc.ExtensionEligible = false
		}
	}
	return dc
}

func (s *Snapshot) chapterFor(code string) (Chapter, bool) {
	for _, ch := range s.chapters {
		if code >= ch.From && code <= ch.To {
			return ch, true
		}
	}
	return Chapter{}, false
}

func (s *Snapshot) blockFor(code string) (Block, bool) {
	for _, b := range s.blocks {
		if code >= b.From && code <= b.To {
			return b, true
		}
	}
	return Block{}, false
}

// CodeInfo returns the reference entry for a canonical code.
func (s *Snapshot) CodeInfo(canonical string) (CodeInfo, bool) {
	info, ok := s.codes[canonical]
	return info, ok
}

// ChapterTitle returns the title of the chapter with the given id.
func (s *Snapshot) ChapterTitle(id string) string {
	for _, ch := range s.chapters {
		if ch.ID == id {
			return ch.Title
		}
	}
	return ""
}

// GroupsFor returns every correlation group containing the code.
func (s *Snapshot) GroupsFor(canonical string) []CorrelationGroup {
	idx := s.codeGroups[canonical]
	out := make([]CorrelationGroup, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.groups[i])
	}
	return out
}

// BestCommonGroup returns the highest-confidence group containing both codes.
// Ties resolve to the group declared first.
func (s *Snapshot) BestCommonGroup(a, b string) (CorrelationGroup, bool) {
	var best CorrelationGroup
	found := false
	for _, i := range s.codeGroups[a] {
		g := s.groups[i]
		if !containsCode(g.Codes, b) {
			continue
		}
		if !found || g.Confidence > best.Confidence {
			best = g
			found = true
		}
	}
	return best, found
}

// Exclusion returns the exclusion rule for the unordered pair.
func (s *Snapshot) Exclusion(a, b string) (ExclusionRule, bool) {
	r, ok := s.exclusions[domain.NewCodePair(a, b)]
	return r, ok
}

// Directional returns the directional rule for the unordered pair.
func (s *Snapshot) Directional(a, b string) (DirectionalRule, bool) {
	r, ok := s.directional[domain.NewCodePair(a, b)]
	return r, ok
}

// DecayTable returns the named table, falling back to the default table.
func (s *Snapshot) DecayTable(id string) DecayTable {
	if t, ok := s.decay[id]; ok {
		return t
	}
	return s.decay[DefaultDecayTable]
}

// SystemLink returns the linkage entry between two anatomical systems.
func (s *Snapshot) SystemLink(a, b string) (SystemLink, bool) {
	l, ok := s.systemLinks[systemKey(a, b)]
	return l, ok
}

// RelatedCodes returns every code sharing at least one group with the given code,
// sorted, excluding the code itself.
func (s *Snapshot) RelatedCodes(canonical string) []string {
	seen := map[string]bool{canonical: true}
	var out []string
	for _, i := range s.codeGroups[canonical] {
		for _, c := range s.groups[i].Codes {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Stats summarizes the snapshot contents.
type Stats struct {
	Version     string                 `json:"version"`
	Generation  uint64                 `json:"generation"`
	LoadedAt    time.Time              `json:"loaded_at"`
	Chapters    int                    `json:"chapters"`
	Blocks      int                    `json:"blocks"`
	Codes       int                    `json:"codes"`
	Groups      int                    `json:"groups"`
	Exclusions  int                    `json:"exclusions"`
	Directional int                    `json:"directional"`
	DecayTables int                    `json:"decay_tables"`
	SystemLinks int                    `json:"system_links"`
	Thresholds  domain.LegalThresholds `json:"thresholds"`
}

// Stats returns counts of every table in the snapshot.
func (s *Snapshot) Stats() Stats {
	return Stats{
		Version:     s.version,
		Generation:  s.generation,
		LoadedAt:    s.loadedAt,
		Chapters:    len(s.chapters),
		Blocks:      len(s.blocks),
		Codes:       len(s.codes),
		Groups:      len(s.groups),
		Exclusions:  len(s.exclusions),
		Directional: len(s.directional),
		DecayTables: len(s.decay),
		SystemLinks: len(s.systemLinks),
		Thresholds:  s.thresholds,
	}
}

func systemKey(a, b string) [2]string {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}

func blockWidth(b Block) int {
	return codeOrdinal(b.To) - codeOrdinal(b.From)
}

func codeOrdinal(code string) int {
	return int(code[0]-'A')*100 + int(code[1]-'0')*10 + int(code[2]-'0')
}

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
