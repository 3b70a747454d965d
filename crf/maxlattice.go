package crf

import "fmt"

// Path is a complete path through a transducer: n+1 states joined by n
// transitions, with the labels those transitions emit.
type Path struct {
	States []int
	Edges  []int
	Labels []int
	Weight float64
}

// Len returns the number of positions the path covers.
func (p Path) Len() int {
	return len(p.Edges)
}

// LabelStrings maps the path's labels through the alphabet.
func (p Path) LabelStrings(labels *Alphabet) []string {
	out := make([]string, len(p.Labels))
	for i, y := range p.Labels {
		out[i] = labels.Lookup(y)
	}
	return out
}

// MaxLattice holds Viterbi scores and back-pointers for one instance.
type MaxLattice struct {
	t       *Transducer
	inst    *Instance
	n       int
	weights [][]float64 // [n][E]
	delta   [][]float64 // [n+1][S] best prefix weight ending in state s
	back    [][]int     // [n+1][S] transition into s on the best prefix, -1 if none
}

// NewMaxLattice runs Viterbi over inst. A nil constraint leaves every path
// available.
func NewMaxLattice(t *Transducer, inst *Instance, c *Constraint) (*MaxLattice, error) {
	weights, err := prepare(t, inst, c)
	if err != nil {
		return nil, err
	}
	n, S := inst.Len(), t.NumStates()
	lat := &MaxLattice{
		t:       t,
		inst:    inst,
		n:       n,
		weights: weights,
		delta:   newTable(n+1, S),
		back:    make([][]int, n+1),
	}
	for pos := range n + 1 {
		lat.back[pos] = make([]int, S)
		for s := range S {
			lat.back[pos][s] = -1
		}
	}
	for s := range S {
		lat.delta[0][s] = t.states[s].Initial
	}

	for pos := 1; pos <= n; pos++ {
		prev, w := lat.delta[pos-1], weights[pos-1]
		for s := range S {
			best, bestEdge := negInf, -1
			for _, e := range t.states[s].In {
				score := prev[t.trans[e].From] + w[e]
				// strict > keeps the first transition found on ties
				if score > best {
					best, bestEdge = score, e
				}
			}
			lat.delta[pos][s] = best
			lat.back[pos][s] = bestEdge
		}
	}
	return lat, nil
}

// Len returns the input length.
func (l *MaxLattice) Len() int { return l.n }

// Score returns the best prefix log weight ending in state s at pos.
func (l *MaxLattice) Score(pos, s int) float64 { return l.delta[pos][s] }

// BestWeight returns the weight of the best complete path, or -Inf.
func (l *MaxLattice) BestWeight() float64 {
	_, w := l.bestFinal()
	return w
}

func (l *MaxLattice) bestFinal() (int, float64) {
	best, bestState := negInf, -1
	for s := range l.t.NumStates() {
		if score := l.delta[l.n][s] + l.t.states[s].Final; score > best {
			best, bestState = score, s
		}
	}
	return bestState, best
}

// BestPath returns the highest-weight path. It returns ErrNoPath when no
// final state is reachable.
func (l *MaxLattice) BestPath() (Path, error) {
	s, w := l.bestFinal()
	if s < 0 {
		return Path{}, fmt.Errorf("%w: no final state reachable after %d positions", ErrNoPath, l.n)
	}
	p := Path{
		States: make([]int, l.n+1),
		Edges:  make([]int, l.n),
		Labels: make([]int, l.n),
		Weight: w,
	}
	p.States[l.n] = s
	for pos := l.n; pos > 0; pos-- {
		e := l.back[pos][s]
		tr := &l.t.trans[e]
		p.Edges[pos-1] = e
		p.Labels[pos-1] = tr.Label
		s = tr.From
		p.States[pos-1] = s
	}
	return p, nil
}
