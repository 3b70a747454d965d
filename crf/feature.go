package crf

import "sort"

// FeatureVector is a sparse feature vector with indices in ascending order.
type FeatureVector struct {
	Indices []int
	Values  []float64
}

// NewFeatureVector builds a feature vector from an index→value map.
func NewFeatureVector(m map[int]float64) FeatureVector {
	fv := FeatureVector{
		Indices: make([]int, 0, len(m)),
		Values:  make([]float64, 0, len(m)),
	}
	for idx := range m {
		fv.Indices = append(fv.Indices, idx)
	}
	sort.Ints(fv.Indices)
	for _, idx := range fv.Indices {
		fv.Values = append(fv.Values, m[idx])
	}
	return fv
}

// Dot computes the dot product with a dense vector.
func (fv FeatureVector) Dot(dense []float64) float64 {
	var sum float64
	for i, idx := range fv.Indices {
		sum += fv.Values[i] * dense[idx]
	}
	return sum
}

// Nnz returns the number of non-zero entries.
func (fv FeatureVector) Nnz() int {
	return len(fv.Indices)
}

// Instance is an input sequence with optional aligned labels.
// A label of -1 leaves that position unconstrained.
type Instance struct {
	Name     string
	Source   string
	Features []FeatureVector
	Labels   []int
}

// Len returns the sequence length.
func (in *Instance) Len() int {
	return len(in.Features)
}

// Labeled reports whether the instance carries a label sequence.
func (in *Instance) Labeled() bool {
	return in.Labels != nil
}

// TrainingSequence represents a labeled sequence for training.
type TrainingSequence struct {
	Name     string               // identifier used in error reports
	Source   string               // origin URL, used for grouped cross-validation
	Features []map[string]float64 // per-position feature dicts
	Labels   []string             // gold labels, "" where unknown
	Group    int                  // for grouped cross-validation
}

// AttributesToVector maps attribute names through the alphabet.
// Attributes missing from the alphabet are dropped.
func AttributesToVector(attrs map[string]float64, alpha *Alphabet) FeatureVector {
	m := make(map[int]float64, len(attrs))
	for attr, val := range attrs {
		if id := alpha.Get(attr); id >= 0 {
			m[id] += val
		}
	}
	return NewFeatureVector(m)
}

// BuildAttributeAlphabet builds the attribute alphabet from training sequences.
func BuildAttributeAlphabet(sequences []TrainingSequence) *Alphabet {
	alpha := NewAlphabet()
	for _, seq := range sequences {
		for _, feats := range seq.Features {
			attrs := make([]string, 0, len(feats))
			for attr := range feats {
				attrs = append(attrs, attr)
			}
			sort.Strings(attrs)
			for _, attr := range attrs {
				alpha.Add(attr)
			}
		}
	}
	return alpha
}

// BuildLabelAlphabet builds the label alphabet from training sequences.
func BuildLabelAlphabet(sequences []TrainingSequence) *Alphabet {
	alpha := NewAlphabet()
	for _, seq := range sequences {
		for _, label := range seq.Labels {
			if label != "" {
				alpha.Add(label)
			}
		}
	}
	return alpha
}
