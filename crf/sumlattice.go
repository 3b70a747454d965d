package crf

import "math"

// SumLattice holds log-domain forward (alpha) and backward (beta) tables over
// (position, state) for one instance. Position pos in [0, n] sits between
// inputs: transitions at position pos consume input pos and move from
// column pos to column pos+1.
type SumLattice struct {
	t       *Transducer
	inst    *Instance
	n       int
	weights [][]float64 // [n][E]
	alpha   [][]float64 // [n+1][S]
	beta    [][]float64 // [n+1][S]
	total   float64
}

// NewSumLattice runs forward-backward over inst. A nil constraint leaves
// every path available. A total weight of -Inf is a valid result meaning no
// path exists.
func NewSumLattice(t *Transducer, inst *Instance, c *Constraint) (*SumLattice, error) {
	weights, err := prepare(t, inst, c)
	if err != nil {
		return nil, err
	}
	lat := &SumLattice{
		t:       t,
		inst:    inst,
		n:       inst.Len(),
		weights: weights,
	}
	if err := lat.forward(); err != nil {
		return nil, err
	}
	if err := lat.backward(); err != nil {
		return nil, err
	}

	S := t.NumStates()
	terms := make([]float64, S)
	for s := range S {
		terms[s] = lat.alpha[lat.n][s] + t.states[s].Final
	}
	lat.total = logSumExp(terms)
	if err := checkWeight(lat.total, "total", lat.n, 0); err != nil {
		return nil, err
	}
	return lat, nil
}

func newTable(rows, cols int) [][]float64 {
	flat := make([]float64, rows*cols)
	for i := range flat {
		flat[i] = negInf
	}
	table := make([][]float64, rows)
	for r := range rows {
		table[r] = flat[r*cols : (r+1)*cols]
	}
	return table
}

func (l *SumLattice) forward() error {
	S := l.t.NumStates()
	l.alpha = newTable(l.n+1, S)
	for s := range S {
		l.alpha[0][s] = l.t.states[s].Initial
	}
	for pos := 1; pos <= l.n; pos++ {
		prev, cur, w := l.alpha[pos-1], l.alpha[pos], l.weights[pos-1]
		for s := range S {
			acc := negInf
			for _, e := range l.t.states[s].In {
				from := l.t.trans[e].From
				if isNegInf(prev[from]) || isNegInf(w[e]) {
					continue
				}
				acc = logAdd(acc, prev[from]+w[e])
			}
			if err := checkWeight(acc, "alpha state", pos, s); err != nil {
				return err
			}
			cur[s] = acc
		}
	}
	return nil
}

func (l *SumLattice) backward() error {
	S := l.t.NumStates()
	l.beta = newTable(l.n+1, S)
	for s := range S {
		l.beta[l.n][s] = l.t.states[s].Final
	}
	for pos := l.n - 1; pos >= 0; pos-- {
		next, cur, w := l.beta[pos+1], l.beta[pos], l.weights[pos]
		for s := range S {
			acc := negInf
			for _, e := range l.t.states[s].Out {
				to := l.t.trans[e].To
				if isNegInf(next[to]) || isNegInf(w[e]) {
					continue
				}
				acc = logAdd(acc, w[e]+next[to])
			}
			if err := checkWeight(acc, "beta state", pos, s); err != nil {
				return err
			}
			cur[s] = acc
		}
	}
	return nil
}

// Transducer returns the transducer the lattice was built over.
func (l *SumLattice) Transducer() *Transducer { return l.t }

// Instance returns the input the lattice was built over.
func (l *SumLattice) Instance() *Instance { return l.inst }

// Len returns the input length.
func (l *SumLattice) Len() int { return l.n }

// Total returns the log of the summed weight of all permitted paths.
func (l *SumLattice) Total() float64 { return l.total }

// Alpha returns the forward log weight of reaching state s at position pos.
func (l *SumLattice) Alpha(pos, s int) float64 { return l.alpha[pos][s] }

// Beta returns the backward log weight of finishing from state s at position pos.
func (l *SumLattice) Beta(pos, s int) float64 { return l.beta[pos][s] }

// TransitionWeight returns the cached log weight of transition e at pos.
func (l *SumLattice) TransitionWeight(pos, e int) float64 { return l.weights[pos][e] }

// StateMarginal returns the probability that a path is in state s at pos.
func (l *SumLattice) StateMarginal(pos, s int) float64 {
	if isNegInf(l.total) {
		return 0
	}
	return math.Exp(l.alpha[pos][s] + l.beta[pos][s] - l.total)
}

// TransitionMarginal returns the probability that a path takes transition e
// at position pos.
func (l *SumLattice) TransitionMarginal(pos, e int) float64 {
	if isNegInf(l.total) {
		return 0
	}
	tr := &l.t.trans[e]
	lp := l.alpha[pos][tr.From] + l.weights[pos][e] + l.beta[pos+1][tr.To]
	if isNegInf(lp) {
		return 0
	}
	return math.Exp(lp - l.total)
}

// EachTransitionMarginal calls fn for every transition with non-zero
// marginal probability, position by position.
func (l *SumLattice) EachTransitionMarginal(fn func(pos, e int, p float64)) {
	if isNegInf(l.total) {
		return
	}
	for pos := range l.n {
		for e := range l.t.trans {
			if p := l.TransitionMarginal(pos, e); p > 0 {
				fn(pos, e, p)
			}
		}
	}
}

// LabelMarginals returns P(label at pos = y) for every label y.
func (l *SumLattice) LabelMarginals(pos int) []float64 {
	m := make([]float64, l.t.labels.Size())
	for e := range l.t.trans {
		m[l.t.trans[e].Label] += l.TransitionMarginal(pos, e)
	}
	return m
}
