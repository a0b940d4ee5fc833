package auditchain

import (
	"sort"
	"sync/atomic"
)

type actionSet map[Action]struct{}

// ExclusionPolicy holds the set of action kinds that are not written to the chain.
// Reads take an atomic snapshot; SetExcluded swaps the whole set.
type ExclusionPolicy struct {
	set atomic.Pointer[actionSet]
}

// NewExclusionPolicy creates a policy excluding the given actions.
func NewExclusionPolicy(actions ...Action) *ExclusionPolicy {
	p := &ExclusionPolicy{}
	p.SetExcluded(actions)
	return p
}

// IsExcluded reports whether records of action a are skipped.
func (p *ExclusionPolicy) IsExcluded(a Action) bool {
	s := p.set.Load()
	if s == nil {
		return false
	}
	_, ok := (*s)[a]
	return ok
}

// SetExcluded replaces the excluded set. CHAIN_GENESIS is never excluded.
func (p *ExclusionPolicy) SetExcluded(actions []Action) {
	s := make(actionSet, len(actions))
	for _, a := range actions {
		if a == ActionChainGenesis {
			continue
		}
		s[a] = struct{}{}
	}
	p.set.Store(&s)
}

// Excluded returns the current set in lexical order.
func (p *ExclusionPolicy) Excluded() []Action {
	s := p.set.Load()
	out := []Action{}
	if s == nil {
		return out
	}
	for a := range *s {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
