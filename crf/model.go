package crf

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
)

// Edge is a permitted label pair; From is -1 for the start of a sequence.
type Edge struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Model holds a linear-chain model: label and attribute alphabets, the
// parameter vector, and the permitted label transitions.
type Model struct {
	Labels     *Alphabet   `json:"labels"`
	Attributes *Alphabet   `json:"attributes"`
	Params     *Parameters `json:"params"`
	// Transitions lists permitted label pairs; nil permits every pair and
	// an empty list none.
	Transitions []Edge `json:"transitions"`

	once       sync.Once
	transducer *Transducer
}

// NewModel creates a zero-weight model over the given alphabets.
func NewModel(labels, attributes *Alphabet, transitions []Edge) *Model {
	L := labels.Size()
	return &Model{
		Labels:      labels,
		Attributes:  attributes,
		Params:      NewParameters(attributes.Size(), L, (L+1)*L),
		Transitions: transitions,
	}
}

// NewModelFor builds alphabets from training sequences and creates a
// zero-weight model. Unless allTransitions is set, only label pairs observed
// in the sequences get a transition.
func NewModelFor(sequences []TrainingSequence, allTransitions bool) *Model {
	labels := BuildLabelAlphabet(sequences)
	attrs := BuildAttributeAlphabet(sequences)
	var edges []Edge
	if !allTransitions {
		edges = ObservedTransitions(sequences, labels)
	}
	return NewModel(labels, attrs, edges)
}

// ObservedTransitions lists the label pairs adjacent in any sequence, in
// sorted order. Unknown labels break adjacency.
func ObservedTransitions(sequences []TrainingSequence, labels *Alphabet) []Edge {
	seen := make(map[Edge]bool)
	for _, seq := range sequences {
		prev := -1
		for pos, label := range seq.Labels {
			y := labels.Get(label)
			if y >= 0 && (pos == 0 || prev >= 0) {
				seen[Edge{From: prev, To: y}] = true
			}
			prev = y
		}
	}
	edges := make([]Edge, 0, len(seen))
	for e := range seen {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return edges
}

// NumLabels returns the number of labels.
func (m *Model) NumLabels() int {
	return m.Labels.Size()
}

// Transducer returns the linear-chain transducer over the model's
// parameters, building it on first use.
func (m *Model) Transducer() *Transducer {
	m.once.Do(func() {
		var allowed func(from, to int) bool
		if m.Transitions != nil {
			set := make(map[Edge]bool, len(m.Transitions))
			for _, e := range m.Transitions {
				set[e] = true
			}
			allowed = func(from, to int) bool { return set[Edge{From: from, To: to}] }
		}
		t := LinearChain(m.Labels, m.Attributes.Size(), allowed)
		m.transducer = t.WithParameters(m.Params)
	})
	return m.transducer
}

// Input converts per-position attribute dicts into an unlabeled instance.
// Unknown attributes are dropped.
func (m *Model) Input(features []map[string]float64) *Instance {
	inst := &Instance{Features: make([]FeatureVector, len(features))}
	for t, attrs := range features {
		inst.Features[t] = AttributesToVector(attrs, m.Attributes)
	}
	return inst
}

// Instance converts a training sequence. Empty labels become -1 (free);
// labels missing from the alphabet are an error.
func (m *Model) Instance(seq TrainingSequence) (*Instance, error) {
	inst := m.Input(seq.Features)
	inst.Name, inst.Source = seq.Name, seq.Source
	if seq.Labels == nil {
		return inst, nil
	}
	if len(seq.Labels) != len(seq.Features) {
		return nil, fmt.Errorf("%w: %d labels for %d positions", ErrLengthMismatch, len(seq.Labels), len(seq.Features))
	}
	inst.Labels = make([]int, len(seq.Labels))
	for t, label := range seq.Labels {
		if label == "" {
			inst.Labels[t] = -1
			continue
		}
		y := m.Labels.Get(label)
		if y < 0 {
			return nil, fmt.Errorf("%w: unknown label %q at position %d", ErrLabelRange, label, t)
		}
		inst.Labels[t] = y
	}
	return inst, nil
}

// Instances converts every training sequence.
func (m *Model) Instances(sequences []TrainingSequence) ([]*Instance, error) {
	out := make([]*Instance, len(sequences))
	for i, seq := range sequences {
		inst, err := m.Instance(seq)
		if err != nil {
			return nil, &InstanceError{Index: i, Name: seq.Name, Err: err}
		}
		out[i] = inst
	}
	return out, nil
}

// Prediction is one decoded label sequence.
type Prediction struct {
	Labels      []string `json:"labels"`
	Weight      float64  `json:"weight"`
	Probability float64  `json:"probability"`
}

// Predict returns the best label sequence as strings.
func (m *Model) Predict(features []map[string]float64) ([]string, error) {
	lat, err := NewMaxLattice(m.Transducer(), m.Input(features), nil)
	if err != nil {
		return nil, err
	}
	path, err := lat.BestPath()
	if err != nil {
		return nil, err
	}
	return path.LabelStrings(m.Labels), nil
}

// PredictKBest returns the k best label sequences with their probabilities.
func (m *Model) PredictKBest(features []map[string]float64, k int) ([]Prediction, error) {
	t := m.Transducer()
	inst := m.Input(features)
	sum, err := NewSumLattice(t, inst, nil)
	if err != nil {
		return nil, err
	}
	lat, err := NewMaxLattice(t, inst, nil)
	if err != nil {
		return nil, err
	}
	paths, err := lat.KBest(k)
	if err != nil {
		return nil, err
	}
	out := make([]Prediction, len(paths))
	for i, p := range paths {
		out[i] = Prediction{
			Labels:      p.LabelStrings(m.Labels),
			Weight:      p.Weight,
			Probability: math.Exp(p.Weight - sum.Total()),
		}
	}
	return out, nil
}

// PredictMarginals returns marginal probabilities for each position.
func (m *Model) PredictMarginals(features []map[string]float64) ([]map[string]float64, error) {
	lat, err := NewSumLattice(m.Transducer(), m.Input(features), nil)
	if err != nil {
		return nil, err
	}
	result := make([]map[string]float64, len(features))
	for t := range features {
		marg := lat.LabelMarginals(t)
		result[t] = make(map[string]float64, len(marg))
		for y, p := range marg {
			result[t][m.Labels.Lookup(y)] = p
		}
	}
	return result, nil
}

// Validate checks that the alphabets, parameter layout, and transitions agree.
func (m *Model) Validate() error {
	if m.Labels == nil || m.Attributes == nil || m.Params == nil {
		return fmt.Errorf("crf: model is missing labels, attributes, or parameters")
	}
	L := m.Labels.Size()
	want := NewParameters(m.Attributes.Size(), L, (L+1)*L)
	if m.Params.NumFeatures != want.NumFeatures || m.Params.NumGroups != want.NumGroups ||
		m.Params.NumBiases != want.NumBiases || len(m.Params.Values) != want.Len() {
		return fmt.Errorf("crf: parameter layout %d/%d/%d with %d values does not match %d labels and %d attributes",
			m.Params.NumFeatures, m.Params.NumGroups, m.Params.NumBiases, len(m.Params.Values), L, m.Attributes.Size())
	}
	for _, e := range m.Transitions {
		if e.From < -1 || e.From >= L || e.To < 0 || e.To >= L {
			return fmt.Errorf("%w: transition %d→%d", ErrLabelRange, e.From, e.To)
		}
	}
	return nil
}

// SaveModel serializes the model to JSON.
func SaveModel(model *Model, path string) error {
	data, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadModel deserializes a model from JSON.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return UnmarshalModel(data)
}

// MarshalModel serializes the model to JSON bytes.
func MarshalModel(model *Model) ([]byte, error) {
	return json.Marshal(model)
}

// UnmarshalModel deserializes a model from JSON bytes.
func UnmarshalModel(data []byte) (*Model, error) {
	var model Model
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, err
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	return &model, nil
}
