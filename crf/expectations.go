package crf

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Expectations accumulates per-parameter feature counts. A worker builds one
// from its share of instances; shares combine with Merge.
type Expectations struct {
	Values []float64
}

// NewExpectations allocates a zero accumulator over n parameters.
func NewExpectations(n int) *Expectations {
	return &Expectations{Values: make([]float64, n)}
}

// Len returns the number of parameters covered.
func (x *Expectations) Len() int {
	return len(x.Values)
}

// Zero resets every owned dimension.
func (x *Expectations) Zero() {
	clear(x.Values)
}

// Merge adds other into x element-wise.
func (x *Expectations) Merge(other *Expectations) {
	if len(other.Values) != len(x.Values) {
		panic(fmt.Sprintf("crf: merging expectations of size %d into %d", len(other.Values), len(x.Values)))
	}
	floats.Add(x.Values, other.Values)
}

// MergeAll returns the element-wise sum of parts, leaving them untouched.
func MergeAll(parts ...*Expectations) *Expectations {
	if len(parts) == 0 {
		return NewExpectations(0)
	}
	out := NewExpectations(parts[0].Len())
	for _, p := range parts {
		out.Merge(p)
	}
	return out
}

// AddLattice adds scale × marginal(e, pos) × feature value for every
// transition the lattice's paths may take.
func (x *Expectations) AddLattice(lat *SumLattice, scale float64) {
	t, inst := lat.t, lat.inst
	lat.EachTransitionMarginal(func(pos, e int, p float64) {
		x.addTransition(t, e, inst.Features[pos], scale*p)
	})
}

// AddPath adds scale × feature value for every transition on p.
func (x *Expectations) AddPath(t *Transducer, inst *Instance, p Path, scale float64) {
	for pos, e := range p.Edges {
		x.addTransition(t, e, inst.Features[pos], scale)
	}
}

func (x *Expectations) addTransition(t *Transducer, e int, fv FeatureVector, amount float64) {
	tr := &t.trans[e]
	if tr.Kind != LinearWeight {
		return
	}
	if tr.Group >= 0 {
		off := t.params.GroupOffset(tr.Group)
		for i, idx := range fv.Indices {
			x.Values[off+idx] += amount * fv.Values[i]
		}
	}
	if tr.Bias >= 0 {
		x.Values[t.params.BiasIndex(tr.Bias)] += amount
	}
}
