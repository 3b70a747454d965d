package crf

import (
	"fmt"
	"math"
)

// WeightKind selects how a transition computes its weight.
type WeightKind uint8

const (
	// FixedWeight transitions carry a constant log weight.
	FixedWeight WeightKind = iota
	// LinearWeight transitions score a feature group dot product plus a bias.
	LinearWeight
)

// Transition is a labeled arc between two states.
type Transition struct {
	From  int
	To    int
	Label int
	Kind  WeightKind
	Fixed float64 // FixedWeight only
	Group int     // LinearWeight feature group, -1 for none
	Bias  int     // LinearWeight bias index, -1 for none
}

// State is a transducer state. Initial and Final are log weights;
// -Inf marks a state that cannot start or end a path.
type State struct {
	Index   int
	Name    string
	Initial float64
	Final   float64
	Out     []int
	In      []int
}

// Parameters is the flat weight vector behind LinearWeight transitions.
//
// Layout: [group 0 features | group 1 features | ... | biases].
type Parameters struct {
	NumFeatures int       `json:"num_features"`
	NumGroups   int       `json:"num_groups"`
	NumBiases   int       `json:"num_biases"`
	Values      []float64 `json:"values"`
}

// NewParameters allocates a zero parameter vector.
func NewParameters(numFeatures, numGroups, numBiases int) *Parameters {
	p := &Parameters{
		NumFeatures: numFeatures,
		NumGroups:   numGroups,
		NumBiases:   numBiases,
	}
	p.Values = make([]float64, p.Len())
	return p
}

// Len returns the number of parameters the layout requires.
func (p *Parameters) Len() int {
	return p.NumGroups*p.NumFeatures + p.NumBiases
}

// GroupOffset returns the index of feature 0 of group g.
func (p *Parameters) GroupOffset(g int) int {
	return g * p.NumFeatures
}

// BiasIndex returns the index of bias b.
func (p *Parameters) BiasIndex(b int) int {
	return p.NumGroups*p.NumFeatures + b
}

// Group returns the feature weights of group g.
func (p *Parameters) Group(g int) []float64 {
	off := p.GroupOffset(g)
	return p.Values[off : off+p.NumFeatures]
}

// Transducer is a weighted finite-state automaton whose transitions emit
// labels. Topology is fixed after construction; weights follow the shared
// Parameters, which must not change while a lattice is being computed.
type Transducer struct {
	labels *Alphabet
	params *Parameters
	states []State
	trans  []Transition
}

// NewTransducer creates an empty transducer over the given labels.
func NewTransducer(labels *Alphabet, params *Parameters) *Transducer {
	if params == nil {
		params = NewParameters(0, 0, 0)
	}
	return &Transducer{labels: labels, params: params}
}

// AddState appends a state and returns its index.
func (t *Transducer) AddState(name string, initial, final float64) int {
	if math.IsNaN(initial) || math.IsInf(initial, 1) || math.IsNaN(final) || math.IsInf(final, 1) {
		panic(fmt.Sprintf("crf: state %q has invalid weights %v/%v", name, initial, final))
	}
	idx := len(t.states)
	t.states = append(t.states, State{Index: idx, Name: name, Initial: initial, Final: final})
	return idx
}

// AddTransition appends a transition and returns its index.
func (t *Transducer) AddTransition(tr Transition) int {
	t.checkState(tr.From)
	t.checkState(tr.To)
	if tr.Label < 0 || tr.Label >= t.labels.Size() {
		panic(fmt.Sprintf("crf: transition label %d out of range [0,%d)", tr.Label, t.labels.Size()))
	}
	if tr.Kind == LinearWeight {
		if tr.Group >= t.params.NumGroups || tr.Bias >= t.params.NumBiases {
			panic(fmt.Sprintf("crf: transition group %d / bias %d outside parameters", tr.Group, tr.Bias))
		}
	}
	idx := len(t.trans)
	t.trans = append(t.trans, tr)
	t.states[tr.From].Out = append(t.states[tr.From].Out, idx)
	t.states[tr.To].In = append(t.states[tr.To].In, idx)
	return idx
}

func (t *Transducer) checkState(s int) {
	if s < 0 || s >= len(t.states) {
		panic(fmt.Sprintf("crf: state %d out of range [0,%d)", s, len(t.states)))
	}
}

func (t *Transducer) checkTransition(e int) {
	if e < 0 || e >= len(t.trans) {
		panic(fmt.Sprintf("crf: transition %d out of range [0,%d)", e, len(t.trans)))
	}
}

// WithParameters returns a transducer sharing this topology but reading
// weights from p.
func (t *Transducer) WithParameters(p *Parameters) *Transducer {
	cp := *t
	cp.params = p
	return &cp
}

// Labels returns the label alphabet.
func (t *Transducer) Labels() *Alphabet { return t.labels }

// Parameters returns the weight vector.
func (t *Transducer) Parameters() *Parameters { return t.params }

// NumFeatures returns the size of the input feature space.
func (t *Transducer) NumFeatures() int { return t.params.NumFeatures }

// NumStates returns the number of states.
func (t *Transducer) NumStates() int { return len(t.states) }

// NumTransitions returns the number of transitions.
func (t *Transducer) NumTransitions() int { return len(t.trans) }

// State returns state s.
func (t *Transducer) State(s int) *State {
	t.checkState(s)
	return &t.states[s]
}

// Initial returns the initial log weight of state s.
func (t *Transducer) Initial(s int) float64 {
	t.checkState(s)
	return t.states[s].Initial
}

// Final returns the final log weight of state s.
func (t *Transducer) Final(s int) float64 {
	t.checkState(s)
	return t.states[s].Final
}

// Outgoing returns the indices of transitions leaving s.
func (t *Transducer) Outgoing(s int) []int {
	t.checkState(s)
	return t.states[s].Out
}

// Incoming returns the indices of transitions entering s.
func (t *Transducer) Incoming(s int) []int {
	t.checkState(s)
	return t.states[s].In
}

// Transition returns transition e.
func (t *Transducer) Transition(e int) Transition {
	t.checkTransition(e)
	return t.trans[e]
}

// Weight returns the log weight of transition e for feature vector fv.
func (t *Transducer) Weight(e int, fv FeatureVector) float64 {
	t.checkTransition(e)
	return t.weight(&t.trans[e], fv)
}

func (t *Transducer) weight(tr *Transition, fv FeatureVector) float64 {
	if tr.Kind == FixedWeight {
		return tr.Fixed
	}
	var w float64
	if tr.Group >= 0 {
		w += fv.Dot(t.params.Group(tr.Group))
	}
	if tr.Bias >= 0 {
		w += t.params.Values[t.params.BiasIndex(tr.Bias)]
	}
	return w
}

// Validate checks that an instance fits this transducer.
func (t *Transducer) Validate(inst *Instance) error {
	if inst.Labels != nil && len(inst.Labels) != len(inst.Features) {
		return fmt.Errorf("%w: %d labels for %d positions", ErrLengthMismatch, len(inst.Labels), len(inst.Features))
	}
	for pos, y := range inst.Labels {
		if y < -1 || y >= t.labels.Size() {
			return fmt.Errorf("%w: label %d at position %d", ErrLabelRange, y, pos)
		}
	}
	for pos, fv := range inst.Features {
		if len(fv.Indices) != len(fv.Values) {
			return fmt.Errorf("%w: feature vector at position %d has %d indices and %d values",
				ErrLengthMismatch, pos, len(fv.Indices), len(fv.Values))
		}
		for _, idx := range fv.Indices {
			if idx < 0 || idx >= t.params.NumFeatures {
				return fmt.Errorf("%w: feature %d at position %d", ErrFeatureRange, idx, pos)
			}
		}
	}
	return nil
}

// PathWeight sums initial, transition, and final weights along p.
func (t *Transducer) PathWeight(inst *Instance, p Path) float64 {
	if len(p.States) != inst.Len()+1 || len(p.Edges) != inst.Len() {
		panic(fmt.Sprintf("crf: path of %d states does not fit %d positions", len(p.States), inst.Len()))
	}
	w := t.Initial(p.States[0])
	for pos, e := range p.Edges {
		tr := t.Transition(e)
		if tr.From != p.States[pos] || tr.To != p.States[pos+1] {
			panic(fmt.Sprintf("crf: transition %d does not connect states at position %d", e, pos))
		}
		w += t.weight(&tr, inst.Features[pos])
	}
	return w + t.Final(p.States[len(p.States)-1])
}

// StartState names the state every linear-chain path begins in.
const StartState = "<start>"

// LabelState returns the linear-chain state reached after emitting label y.
func LabelState(y int) int {
	return y + 1
}

// LinearChain builds the first-order CRF topology over labels: a start
// state plus one state per label, where state j is entered by emitting
// label j. The transition into j scores feature group j plus one bias per
// (previous label, j) pair. allowed restricts which pairs get a transition
// (from is -1 for the start state); nil allows every pair.
func LinearChain(labels *Alphabet, numFeatures int, allowed func(from, to int) bool) *Transducer {
	L := labels.Size()
	params := NewParameters(numFeatures, L, (L+1)*L)
	t := NewTransducer(labels, params)
	start := t.AddState(StartState, 0, 0)
	for y := range L {
		t.AddState(labels.ToStr[y], negInf, 0)
	}
	for j := range L {
		if allowed == nil || allowed(-1, j) {
			t.AddTransition(Transition{From: start, To: LabelState(j), Label: j, Kind: LinearWeight, Group: j, Bias: j})
		}
	}
	for i := range L {
		for j := range L {
			if allowed == nil || allowed(i, j) {
				t.AddTransition(Transition{
					From:  LabelState(i),
					To:    LabelState(j),
					Label: j,
					Kind:  LinearWeight,
					Group: j,
					Bias:  L + i*L + j,
				})
			}
		}
	}
	return t
}
