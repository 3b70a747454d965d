package crf

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"sort"
	"testing"
)

func randomChain(rng *rand.Rand, numLabels, numFeatures int) *Transducer {
	labels := NewAlphabet()
	for y := range numLabels {
		labels.Add(fmt.Sprintf("L%d", y))
	}
	t := LinearChain(labels, numFeatures, nil)
	for i := range t.params.Values {
		t.params.Values[i] = rng.NormFloat64()
	}
	return t
}

func randomInstance(rng *rand.Rand, n, numFeatures, numLabels int) *Instance {
	inst := &Instance{Features: make([]FeatureVector, n), Labels: make([]int, n)}
	for pos := range n {
		m := make(map[int]float64)
		for k := range numFeatures {
			if rng.Float64() < 0.6 {
				m[k] = rng.Float64()*2 - 1
			}
		}
		inst.Features[pos] = NewFeatureVector(m)
		inst.Labels[pos] = rng.Intn(numLabels)
	}
	return inst
}

// enumeratePaths lists every complete path permitted by c with its weight.
func enumeratePaths(t *Transducer, inst *Instance, c *Constraint) []Path {
	n := inst.Len()
	states := make([]int, n+1)
	edges := make([]int, n)
	labels := make([]int, n)
	var out []Path
	var walk func(pos int, w float64)
	walk = func(pos int, w float64) {
		s := states[pos]
		if pos == n {
			if fw := w + t.Final(s); !isNegInf(fw) {
				out = append(out, Path{
					States: slices.Clone(states),
					Edges:  slices.Clone(edges),
					Labels: slices.Clone(labels),
					Weight: fw,
				})
			}
			return
		}
		for _, e := range t.Outgoing(s) {
			tr := t.Transition(e)
			if !c.Permits(pos, tr.Label) {
				continue
			}
			edges[pos], labels[pos], states[pos+1] = e, tr.Label, tr.To
			walk(pos+1, w+t.Weight(e, inst.Features[pos]))
		}
	}
	for s := range t.NumStates() {
		if isNegInf(t.Initial(s)) {
			continue
		}
		states[0] = s
		walk(0, t.Initial(s))
	}
	return out
}

func bruteTotal(paths []Path) float64 {
	ws := make([]float64, len(paths))
	for i, p := range paths {
		ws[i] = p.Weight
	}
	return logSumExp(ws)
}

func closeRel(a, b, tol float64) bool {
	if isNegInf(a) || isNegInf(b) {
		return a == b
	}
	return math.Abs(a-b) <= tol*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

// partialConstraint pins roughly half the instance's labels.
func partialConstraint(rng *rand.Rand, inst *Instance) *Constraint {
	labels := slices.Clone(inst.Labels)
	for pos := range labels {
		if rng.Float64() < 0.5 {
			labels[pos] = -1
		}
	}
	return NewExactConstraint(labels)
}

type latticeCase struct {
	name string
	t    *Transducer
	inst *Instance
}

func latticeCases() []latticeCase {
	rng := rand.New(rand.NewSource(7))
	var cases []latticeCase
	for labels := 1; labels <= 3; labels++ {
		for n := 0; n <= 5; n++ {
			cases = append(cases, latticeCase{
				name: fmt.Sprintf("L%d_n%d", labels, n),
				t:    randomChain(rng, labels, 3),
				inst: randomInstance(rng, n, 3, labels),
			})
		}
	}
	return cases
}

func TestSumLatticeBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, tc := range latticeCases() {
		t.Run(tc.name, func(t *testing.T) {
			for _, c := range []*Constraint{nil, partialConstraint(rng, tc.inst)} {
				lat, err := NewSumLattice(tc.t, tc.inst, c)
				if err != nil {
					t.Fatal(err)
				}
				want := bruteTotal(enumeratePaths(tc.t, tc.inst, c))
				if !closeRel(lat.Total(), want, 1e-9) {
					t.Errorf("Total = %v, brute force %v", lat.Total(), want)
				}
			}
		})
	}
}

func TestSumLatticeMarginals(t *testing.T) {
	for _, tc := range latticeCases() {
		t.Run(tc.name, func(t *testing.T) {
			lat, err := NewSumLattice(tc.t, tc.inst, nil)
			if err != nil {
				t.Fatal(err)
			}
			paths := enumeratePaths(tc.t, tc.inst, nil)
			n := tc.inst.Len()
			for pos := 0; pos <= n; pos++ {
				terms := make([]float64, tc.t.NumStates())
				var sum float64
				for s := range terms {
					terms[s] = lat.Alpha(pos, s) + lat.Beta(pos, s)
					sum += lat.StateMarginal(pos, s)
				}
				if !closeRel(logSumExp(terms), lat.Total(), 1e-9) {
					t.Errorf("pos %d: logsumexp(alpha+beta) = %v, total %v", pos, logSumExp(terms), lat.Total())
				}
				if math.Abs(sum-1) > 1e-9 {
					t.Errorf("pos %d: state marginals sum to %v", pos, sum)
				}
			}
			for pos := range n {
				var sum float64
				for e := range tc.t.NumTransitions() {
					got := lat.TransitionMarginal(pos, e)
					if got < 0 || got > 1+1e-12 {
						t.Errorf("pos %d edge %d: marginal %v outside [0,1]", pos, e, got)
					}
					var want float64
					for _, p := range paths {
						if p.Edges[pos] == e {
							want += math.Exp(p.Weight - lat.Total())
						}
					}
					if math.Abs(got-want) > 1e-9 {
						t.Errorf("pos %d edge %d: marginal %v, brute force %v", pos, e, got, want)
					}
					sum += got
				}
				if math.Abs(sum-1) > 1e-9 {
					t.Errorf("pos %d: transition marginals sum to %v", pos, sum)
				}
			}
		})
	}
}

func TestUnconstrainedDominatesConstrained(t *testing.T) {
	for _, tc := range latticeCases() {
		free, err := NewSumLattice(tc.t, tc.inst, nil)
		if err != nil {
			t.Fatal(err)
		}
		pinned, err := NewSumLattice(tc.t, tc.inst, NewExactConstraint(tc.inst.Labels))
		if err != nil {
			t.Fatal(err)
		}
		if pinned.Total() > free.Total()+1e-12 {
			t.Errorf("%s: constrained %v > unconstrained %v", tc.name, pinned.Total(), free.Total())
		}
	}
}

func TestExactConstraintIdentity(t *testing.T) {
	for _, tc := range latticeCases() {
		t.Run(tc.name, func(t *testing.T) {
			c := NewExactConstraint(tc.inst.Labels)
			paths := enumeratePaths(tc.t, tc.inst, c)
			if len(paths) != 1 {
				t.Fatalf("%d paths satisfy an exact constraint, want 1", len(paths))
			}
			direct := tc.t.PathWeight(tc.inst, paths[0])
			lat, err := NewSumLattice(tc.t, tc.inst, c)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(lat.Total()-direct) > 1e-12 {
				t.Errorf("constrained total %v, path weight %v", lat.Total(), direct)
			}
			vit, err := NewMaxLattice(tc.t, tc.inst, c)
			if err != nil {
				t.Fatal(err)
			}
			best, err := vit.BestPath()
			if err != nil {
				t.Fatal(err)
			}
			if !slices.Equal(best.Labels, tc.inst.Labels) {
				t.Errorf("constrained best labels %v, want %v", best.Labels, tc.inst.Labels)
			}
		})
	}
}

func TestViterbiOptimal(t *testing.T) {
	for _, tc := range latticeCases() {
		t.Run(tc.name, func(t *testing.T) {
			lat, err := NewMaxLattice(tc.t, tc.inst, nil)
			if err != nil {
				t.Fatal(err)
			}
			best, err := lat.BestPath()
			if err != nil {
				t.Fatal(err)
			}
			want := negInf
			for _, p := range enumeratePaths(tc.t, tc.inst, nil) {
				want = math.Max(want, p.Weight)
			}
			if !closeRel(best.Weight, want, 1e-12) {
				t.Errorf("best weight %v, brute force %v", best.Weight, want)
			}
			if w := tc.t.PathWeight(tc.inst, best); !closeRel(w, best.Weight, 1e-12) {
				t.Errorf("PathWeight(best) = %v, reported %v", w, best.Weight)
			}
		})
	}
}

func TestKBest(t *testing.T) {
	for _, tc := range latticeCases() {
		t.Run(tc.name, func(t *testing.T) {
			lat, err := NewMaxLattice(tc.t, tc.inst, nil)
			if err != nil {
				t.Fatal(err)
			}
			all := enumeratePaths(tc.t, tc.inst, nil)
			want := make([]float64, len(all))
			for i, p := range all {
				want[i] = p.Weight
			}
			sort.Sort(sort.Reverse(sort.Float64Slice(want)))

			got, err := lat.KBest(len(all) + 3)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(all) {
				t.Fatalf("KBest returned %d paths, %d exist", len(got), len(all))
			}
			seen := make(map[string]bool)
			for i, p := range got {
				if i > 0 && p.Weight > got[i-1].Weight {
					t.Errorf("path %d weight %v exceeds path %d weight %v", i, p.Weight, i-1, got[i-1].Weight)
				}
				if !closeRel(p.Weight, want[i], 1e-12) {
					t.Errorf("path %d weight %v, brute force %v", i, p.Weight, want[i])
				}
				if w := tc.t.PathWeight(tc.inst, p); !closeRel(w, p.Weight, 1e-12) {
					t.Errorf("path %d: PathWeight %v, reported %v", i, w, p.Weight)
				}
				key := fmt.Sprint(p.States, p.Edges)
				if seen[key] {
					t.Errorf("path %d repeated: %s", i, key)
				}
				seen[key] = true
			}

			top, err := lat.KBest(1)
			if err != nil {
				t.Fatal(err)
			}
			best, _ := lat.BestPath()
			if len(top) != 1 || !closeRel(top[0].Weight, best.Weight, 1e-12) {
				t.Errorf("KBest(1) = %v, best %v", top, best.Weight)
			}
		})
	}
}

func TestKBestNonPositive(t *testing.T) {
	tc := latticeCases()[3]
	lat, err := NewMaxLattice(tc.t, tc.inst, nil)
	if err != nil {
		t.Fatal(err)
	}
	paths, err := lat.KBest(0)
	if err != nil || paths != nil {
		t.Errorf("KBest(0) = %v, %v", paths, err)
	}
}

// twoStateTransducer is state 0 (initial 0) → state 1 (final 0) through one
// fixed-weight transition.
func twoStateTransducer(w float64) *Transducer {
	tr := NewTransducer(NewAlphabetOf("x"), nil)
	tr.AddState("s0", 0, negInf)
	tr.AddState("s1", negInf, 0)
	tr.AddTransition(Transition{From: 0, To: 1, Label: 0, Kind: FixedWeight, Fixed: w, Group: -1, Bias: -1})
	return tr
}

func TestTwoStateScenario(t *testing.T) {
	tr := twoStateTransducer(2.0)
	inst := &Instance{Features: []FeatureVector{{}}}

	sum, err := NewSumLattice(tr, inst, nil)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total() != 2.0 {
		t.Errorf("Total = %v, want 2.0", sum.Total())
	}
	if m := sum.TransitionMarginal(0, 0); m != 1.0 {
		t.Errorf("marginal = %v, want 1.0", m)
	}

	vit, err := NewMaxLattice(tr, inst, nil)
	if err != nil {
		t.Fatal(err)
	}
	best, err := vit.BestPath()
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(best.States, []int{0, 1}) || !slices.Equal(best.Edges, []int{0}) || best.Weight != 2.0 {
		t.Errorf("best = %+v, want states [0 1] edges [0] weight 2", best)
	}
}

func TestEmptySequence(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	tr := randomChain(rng, 3, 2)
	inst := &Instance{}

	sum, err := NewSumLattice(tr, inst, nil)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total() != 0 {
		t.Errorf("Total = %v, want 0", sum.Total())
	}
	vit, err := NewMaxLattice(tr, inst, nil)
	if err != nil {
		t.Fatal(err)
	}
	best, err := vit.BestPath()
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(best.States, []int{0}) || best.Len() != 0 || best.Weight != 0 {
		t.Errorf("best = %+v, want the start state alone", best)
	}
	paths, err := vit.KBest(5)
	if err != nil || len(paths) != 1 {
		t.Errorf("KBest = %v, %v; want one path", paths, err)
	}
}

func TestNoPath(t *testing.T) {
	// Every label may only follow itself, so A then B is impossible.
	labels := NewAlphabetOf("A", "B")
	tr := LinearChain(labels, 1, func(from, to int) bool { return from == -1 || from == to })
	inst := &Instance{Features: make([]FeatureVector, 2)}
	c := NewExactConstraint([]int{0, 1})

	sum, err := NewSumLattice(tr, inst, c)
	if err != nil {
		t.Fatal(err)
	}
	if !isNegInf(sum.Total()) {
		t.Errorf("Total = %v, want -Inf", sum.Total())
	}
	if m := sum.StateMarginal(1, 1); m != 0 {
		t.Errorf("StateMarginal = %v, want 0", m)
	}
	vit, err := NewMaxLattice(tr, inst, c)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := vit.BestPath(); !errors.Is(err, ErrNoPath) {
		t.Errorf("BestPath err = %v, want ErrNoPath", err)
	}
	if _, err := vit.KBest(3); !errors.Is(err, ErrNoPath) {
		t.Errorf("KBest err = %v, want ErrNoPath", err)
	}
}

func TestLatticeContractErrors(t *testing.T) {
	labels := NewAlphabetOf("A", "B")
	tr := LinearChain(labels, 2, nil)
	ok := &Instance{Features: []FeatureVector{NewFeatureVector(map[int]float64{1: 1})}}

	tests := []struct {
		name string
		inst *Instance
		c    *Constraint
		want error
	}{
		{"feature out of range", &Instance{Features: []FeatureVector{NewFeatureVector(map[int]float64{2: 1})}}, nil, ErrFeatureRange},
		{"labels too short", &Instance{Features: ok.Features, Labels: []int{}}, nil, ErrLengthMismatch},
		{"label out of range", &Instance{Features: ok.Features, Labels: []int{2}}, nil, ErrLabelRange},
		{"constraint too long", ok, NewExactConstraint([]int{0, 1}), ErrLengthMismatch},
		{"constraint label", ok, NewExactConstraint([]int{5}), ErrLabelRange},
		{"ragged vector", &Instance{Features: []FeatureVector{{Indices: []int{0}}}}, nil, ErrLengthMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSumLattice(tr, tt.inst, tt.c); !errors.Is(err, tt.want) {
				t.Errorf("NewSumLattice err = %v, want %v", err, tt.want)
			}
			if _, err := NewMaxLattice(tr, tt.inst, tt.c); !errors.Is(err, tt.want) {
				t.Errorf("NewMaxLattice err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNumericCorruption(t *testing.T) {
	labels := NewAlphabetOf("A")
	tr := LinearChain(labels, 1, nil)
	tr.Parameters().Values[0] = math.NaN()
	inst := &Instance{Features: []FeatureVector{NewFeatureVector(map[int]float64{0: 1})}}
	if _, err := NewSumLattice(tr, inst, nil); !errors.Is(err, ErrNumeric) {
		t.Errorf("err = %v, want ErrNumeric", err)
	}

	tr.Parameters().Values[0] = math.Inf(1)
	if _, err := NewMaxLattice(tr, inst, nil); !errors.Is(err, ErrNumeric) {
		t.Errorf("err = %v, want ErrNumeric", err)
	}
}

func TestTransducerPanicsOutOfRange(t *testing.T) {
	tr := twoStateTransducer(1)
	for name, fn := range map[string]func(){
		"state":      func() { tr.State(2) },
		"initial":    func() { tr.Initial(-1) },
		"outgoing":   func() { tr.Outgoing(5) },
		"transition": func() { tr.Transition(1) },
		"weight":     func() { tr.Weight(3, FeatureVector{}) },
	} {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			fn()
		})
	}
}

func TestLinearChainLayout(t *testing.T) {
	labels := NewAlphabetOf("A", "B", "C")
	tr := LinearChain(labels, 4, nil)
	if tr.NumStates() != 4 || tr.NumTransitions() != 12 {
		t.Fatalf("states %d transitions %d, want 4 and 12", tr.NumStates(), tr.NumTransitions())
	}
	p := tr.Parameters()
	if p.Len() != 3*4+12 {
		t.Errorf("Len = %d, want 24", p.Len())
	}
	seen := make(map[int]bool)
	for e := range tr.NumTransitions() {
		x := tr.Transition(e)
		if LabelState(x.Label) != x.To || x.Group != x.Label {
			t.Errorf("transition %d = %+v: label, destination, and group disagree", e, x)
		}
		if seen[x.Bias] {
			t.Errorf("bias %d shared", x.Bias)
		}
		seen[x.Bias] = true
	}
	if tr.State(0).Name != StartState || tr.Initial(0) != 0 || !isNegInf(tr.Initial(1)) {
		t.Errorf("start state = %+v", tr.State(0))
	}
}
