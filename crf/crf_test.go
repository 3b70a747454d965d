package crf

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestAlphabet(t *testing.T) {
	a := NewAlphabet()
	id0 := a.Add("hello")
	id1 := a.Add("world")
	id2 := a.Add("hello") // duplicate

	if id0 != 0 || id1 != 1 || id2 != 0 {
		t.Errorf("IDs: %d, %d, %d; want 0, 1, 0", id0, id1, id2)
	}
	if a.Size() != 2 {
		t.Errorf("Size = %d, want 2", a.Size())
	}
	if a.Get("missing") != -1 {
		t.Error("Get missing should return -1")
	}
	if a.Lookup(1) != "world" || a.Lookup(2) != "" || a.Lookup(-1) != "" {
		t.Errorf("Lookup: %q, %q, %q", a.Lookup(1), a.Lookup(2), a.Lookup(-1))
	}
}

// scoreChain builds a 2-label chain where input position pos has the single
// feature pos, so state and transition scores can be set directly.
func scoreChain(stateScores, transScores [][]float64) (*Transducer, *Instance) {
	L := len(transScores)
	labels := NewAlphabet()
	for y := range L {
		labels.Add(string(rune('A' + y)))
	}
	tr := LinearChain(labels, len(stateScores), nil)
	p := tr.Parameters()
	inst := &Instance{Features: make([]FeatureVector, len(stateScores))}
	for pos, row := range stateScores {
		inst.Features[pos] = NewFeatureVector(map[int]float64{pos: 1})
		for y, v := range row {
			p.Values[p.GroupOffset(y)+pos] = v
		}
	}
	for i := range L {
		for j := range L {
			p.Values[p.BiasIndex(L+i*L+j)] = transScores[i][j]
		}
	}
	return tr, inst
}

func TestViterbiSimple(t *testing.T) {
	// 2 positions, 2 labels
	stateScores := [][]float64{
		{1.0, 0.5},
		{0.3, 2.0},
	}
	transScores := [][]float64{
		{0.1, 0.2},
		{0.3, 0.1},
	}
	tr, inst := scoreChain(stateScores, transScores)

	lat, err := NewMaxLattice(tr, inst, nil)
	if err != nil {
		t.Fatal(err)
	}
	path, err := lat.BestPath()
	if err != nil {
		t.Fatal(err)
	}
	if path.Len() != 2 {
		t.Fatalf("path length = %d, want 2", path.Len())
	}

	// Verify: best path should be [0, 1]
	// Score: 1.0 + 0.2 + 2.0 = 3.2
	// vs [0,0]: 1.0 + 0.1 + 0.3 = 1.4
	// vs [1,0]: 0.5 + 0.3 + 0.3 = 1.1
	// vs [1,1]: 0.5 + 0.1 + 2.0 = 2.6
	if path.Labels[0] != 0 || path.Labels[1] != 1 {
		t.Errorf("path = %v, want [0, 1]", path.Labels)
	}
	if math.Abs(path.Weight-3.2) > 1e-10 {
		t.Errorf("score = %v, want 3.2", path.Weight)
	}
	if w := tr.PathWeight(inst, path); math.Abs(w-path.Weight) > 1e-12 {
		t.Errorf("PathWeight = %v, want %v", w, path.Weight)
	}
}

func TestForwardBackward(t *testing.T) {
	stateScores := [][]float64{
		{1.0, 0.5},
		{0.3, 2.0},
	}
	transScores := [][]float64{
		{0.1, 0.2},
		{0.3, 0.1},
	}
	tr, inst := scoreChain(stateScores, transScores)

	lat, err := NewSumLattice(tr, inst, nil)
	if err != nil {
		t.Fatal(err)
	}
	if math.IsNaN(lat.Total()) || math.IsInf(lat.Total(), 0) {
		t.Errorf("Total = %v, expected finite", lat.Total())
	}

	// Marginals should sum to 1 at each position
	for pos := range 2 {
		m := lat.LabelMarginals(pos)
		if sum := m[0] + m[1]; math.Abs(sum-1.0) > 1e-9 {
			t.Errorf("marginals at pos=%d sum to %v, want 1.0", pos, sum)
		}
	}

	paths := [][]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	Z := 0.0
	for _, p := range paths {
		s := stateScores[0][p[0]] + stateScores[1][p[1]] + transScores[p[0]][p[1]]
		Z += math.Exp(s)
	}
	if want := math.Log(Z); math.Abs(lat.Total()-want) > 1e-9 {
		t.Errorf("Total = %v, expected %v", lat.Total(), want)
	}
}

func TestTrainSimple(t *testing.T) {
	// Simple toy training: predict A->B or B->A
	sequences := []TrainingSequence{
		{
			Features: []map[string]float64{
				{"word=hello": 1.0, "bias": 1.0},
				{"word=world": 1.0, "bias": 1.0},
			},
			Labels: []string{"A", "B"},
		},
		{
			Features: []map[string]float64{
				{"word=world": 1.0, "bias": 1.0},
				{"word=hello": 1.0, "bias": 1.0},
			},
			Labels: []string{"B", "A"},
		},
	}

	config := DefaultTrainerConfig()
	config.MaxIterations = 50
	config.C1 = 0.01
	config.C2 = 0.01

	model, err := Train(context.Background(), sequences, config)
	if err != nil {
		t.Fatal(err)
	}

	for _, seq := range sequences {
		pred, err := model.Predict(seq.Features)
		if err != nil {
			t.Fatal(err)
		}
		if len(pred) != 2 {
			t.Fatalf("prediction length = %d, want 2", len(pred))
		}
		if pred[0] != seq.Labels[0] || pred[1] != seq.Labels[1] {
			t.Errorf("prediction %v, want %v", pred, seq.Labels)
		}
	}
}

func TestTrainSimpleMEMM(t *testing.T) {
	sequences := []TrainingSequence{
		{
			Features: []map[string]float64{{"word=hello": 1}, {"word=world": 1}},
			Labels:   []string{"A", "B"},
		},
		{
			Features: []map[string]float64{{"word=world": 1}, {"word=hello": 1}},
			Labels:   []string{"B", "A"},
		},
	}
	config := DefaultTrainerConfig()
	config.Objective = ObjectiveMEMM
	config.MaxIterations = 50
	config.C1 = 0
	config.C2 = 0.01

	model, err := Train(context.Background(), sequences, config)
	if err != nil {
		t.Fatal(err)
	}
	pred, err := model.Predict(sequences[1].Features)
	if err != nil {
		t.Fatal(err)
	}
	if pred[0] != "B" || pred[1] != "A" {
		t.Errorf("prediction %v, want [B A]", pred)
	}
}

func TestTrainCanceled(t *testing.T) {
	sequences := []TrainingSequence{{
		Features: []map[string]float64{{"x": 1}},
		Labels:   []string{"A"},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Train(ctx, sequences, DefaultTrainerConfig()); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestTrainerConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(*TrainerConfig)
		ok   bool
	}{
		{"default", func(*TrainerConfig) {}, true},
		{"memm", func(c *TrainerConfig) { c.Objective = ObjectiveMEMM }, true},
		{"unknown objective", func(c *TrainerConfig) { c.Objective = "hmm" }, false},
		{"negative c1", func(c *TrainerConfig) { c.C1 = -1 }, false},
		{"negative c2", func(c *TrainerConfig) { c.C2 = -1 }, false},
		{"negative iterations", func(c *TrainerConfig) { c.MaxIterations = -1 }, false},
		{"negative workers", func(c *TrainerConfig) { c.Workers = -2 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultTrainerConfig()
			tt.edit(&c)
			if err := c.Validate(); (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestModelSaveLoad(t *testing.T) {
	model := NewModel(NewAlphabetOf("A", "B"), NewAlphabetOf("bias"), []Edge{{From: -1, To: 0}, {From: 0, To: 1}})
	for i := range model.Params.Values {
		model.Params.Values[i] = float64(i)/4 - 1
	}

	data, err := MarshalModel(model)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := UnmarshalModel(data)
	if err != nil {
		t.Fatal(err)
	}

	if loaded.NumLabels() != model.NumLabels() {
		t.Errorf("NumLabels mismatch: %d vs %d", loaded.NumLabels(), model.NumLabels())
	}
	if len(loaded.Params.Values) != len(model.Params.Values) {
		t.Fatalf("Values length mismatch: %d vs %d", len(loaded.Params.Values), len(model.Params.Values))
	}
	for i := range model.Params.Values {
		if loaded.Params.Values[i] != model.Params.Values[i] {
			t.Errorf("Values[%d] mismatch: %v vs %v", i, loaded.Params.Values[i], model.Params.Values[i])
		}
	}
	if len(loaded.Transitions) != 2 || loaded.Transducer().NumTransitions() != 2 {
		t.Errorf("transitions = %v (%d in transducer), want 2", loaded.Transitions, loaded.Transducer().NumTransitions())
	}

	path := t.TempDir() + "/model.json"
	if err := SaveModel(model, path); err != nil {
		t.Fatal(err)
	}
	fromFile, err := LoadModel(path)
	if err != nil {
		t.Fatal(err)
	}
	if fromFile.Labels.Lookup(1) != "B" || fromFile.Attributes.Get("bias") != 0 {
		t.Errorf("alphabets not restored: %v %v", fromFile.Labels.ToStr, fromFile.Attributes.ToStr)
	}
}

func TestModelTransitionsRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		edges []Edge
		want  int
	}{
		{"all pairs", nil, 6},
		{"none", []Edge{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := MarshalModel(NewModel(NewAlphabetOf("A", "B"), NewAlphabetOf("bias"), tt.edges))
			if err != nil {
				t.Fatal(err)
			}
			loaded, err := UnmarshalModel(data)
			if err != nil {
				t.Fatal(err)
			}
			if (loaded.Transitions == nil) != (tt.edges == nil) {
				t.Errorf("Transitions = %#v, want %#v", loaded.Transitions, tt.edges)
			}
			if got := loaded.Transducer().NumTransitions(); got != tt.want {
				t.Errorf("%d transitions in transducer, want %d", got, tt.want)
			}
		})
	}
}

func TestUnmarshalModelRejectsBadLayout(t *testing.T) {
	model := NewModel(NewAlphabetOf("A", "B"), NewAlphabetOf("bias"), nil)
	model.Params.Values = model.Params.Values[:3]
	data, err := MarshalModel(model)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := UnmarshalModel(data); err == nil {
		t.Error("expected layout error")
	}
}

func TestModelInstance(t *testing.T) {
	model := NewModel(NewAlphabetOf("A", "B"), NewAlphabetOf("x", "y"), nil)
	inst, err := model.Instance(TrainingSequence{
		Name:     "s1",
		Features: []map[string]float64{{"x": 1, "unknown": 5}, {"y": 2}},
		Labels:   []string{"B", ""},
	})
	if err != nil {
		t.Fatal(err)
	}
	if inst.Labels[0] != 1 || inst.Labels[1] != -1 {
		t.Errorf("labels = %v, want [1 -1]", inst.Labels)
	}
	if inst.Features[0].Nnz() != 1 || inst.Features[1].Indices[0] != 1 || inst.Features[1].Values[0] != 2 {
		t.Errorf("features = %+v", inst.Features)
	}

	_, err = model.Instance(TrainingSequence{Features: []map[string]float64{{"x": 1}}, Labels: []string{"C"}})
	if !errors.Is(err, ErrLabelRange) {
		t.Errorf("unknown label: err = %v, want ErrLabelRange", err)
	}
	_, err = model.Instances([]TrainingSequence{{Name: "bad", Features: []map[string]float64{{"x": 1}}, Labels: []string{"A", "B"}}})
	var ie *InstanceError
	if !errors.As(err, &ie) || ie.Name != "bad" || !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("length mismatch: err = %v", err)
	}
}

func TestObservedTransitions(t *testing.T) {
	sequences := []TrainingSequence{
		{Labels: []string{"A", "B", "B"}},
		{Labels: []string{"B", "", "A"}},
	}
	labels := BuildLabelAlphabet(sequences)
	got := ObservedTransitions(sequences, labels)
	want := []Edge{{-1, 0}, {-1, 1}, {0, 1}, {1, 1}}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transitions[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
