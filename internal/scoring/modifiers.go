package scoring

import (
	"fmt"

	"github.com/prorroga-chain-server/internal/reference"
)

// ModifierKind names a step of the modifier pipeline.
type ModifierKind string

const (
	ModifierExclusion   ModifierKind = "exclusion"
	ModifierDirectional ModifierKind = "directional"
	ModifierDecay       ModifierKind = "decay"
	ModifierHistorical  ModifierKind = "historical"
	ModifierClamp       ModifierKind = "clamp"
)

// Modifier transforms the running confidence. Apply returns the new value,
// whether evaluation stops there, and a short detail for the explanation.
type Modifier interface {
	Kind() ModifierKind
	Apply(value float64) (next float64, stop bool, detail string)
}

type exclusionModifier struct {
	rule reference.ExclusionRule
}

func (m exclusionModifier) Kind() ModifierKind { return ModifierExclusion }

func (m exclusionModifier) Apply(value float64) (float64, bool, string) {
	pair := m.rule.Codes[0] + "/" + m.rule.Codes[1]
	if m.rule.Blocking {
		return 0, true, "blocking " + pair
	}
	if value > m.rule.Ceiling {
		value = m.rule.Ceiling
	}
	return value, false, fmt.Sprintf("ceiling %.1f %s", m.rule.Ceiling, pair)
}

type directionalModifier struct {
	rule    reference.DirectionalRule
	forward bool
}

func (m directionalModifier) Kind() ModifierKind { return ModifierDirectional }

func (m directionalModifier) Apply(value float64) (float64, bool, string) {
	weight, dir := m.rule.Reverse, "reverse"
	if m.forward {
		weight, dir = m.rule.Forward, "forward"
	}
	next := (1-directionalWeight)*value + directionalWeight*weight
	return next, false, fmt.Sprintf("%s %s->%s (%.1f)", dir, m.rule.Origin, m.rule.Destination, weight)
}

type decayModifier struct {
	table reference.DecayTable
	gap   int
}

func (m decayModifier) Kind() ModifierKind { return ModifierDecay }

func (m decayModifier) Apply(value float64) (float64, bool, string) {
	factor := m.table.Factor(m.gap)
	return value * factor, false, fmt.Sprintf("table %s gap %d factor %.2f", m.table.ID, m.gap, factor)
}

type historicalModifier struct {
	learned float64
	samples int
}

func (m historicalModifier) Kind() ModifierKind { return ModifierHistorical }

func (m historicalModifier) Apply(value float64) (float64, bool, string) {
	next := (1-historicalWeight)*value + historicalWeight*m.learned
	return next, false, fmt.Sprintf("learned %.1f from %d decisions", m.learned, m.samples)
}

// run applies modifiers in order, appending a step for each one.
func run(value float64, mods []Modifier, steps []Step) (float64, bool, []Step) {
	for _, m := range mods {
		next, stop, detail := m.Apply(value)
		steps = append(steps, Step{Modifier: m.Kind(), Before: round1(value), After: round1(next), Detail: detail})
		value = next
		if stop {
			return value, true, steps
		}
	}
	return value, false, steps
}
